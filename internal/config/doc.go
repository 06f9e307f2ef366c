// Package config owns the persistent configuration store for the tunnel.
// It loads the YAML document from disk, overlays static defaults for any
// missing keys, resolves role-dependent tunnel identifiers at read time, and
// writes the whole document back with owner-only permissions on every
// mutation.
package config
