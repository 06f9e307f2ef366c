// Package application provides application initialization and dependency
// wiring. It encapsulates opening the configuration store and building the
// admin HTTP surface, keeping the main package focused on CLI parsing and
// orchestration.
package application
