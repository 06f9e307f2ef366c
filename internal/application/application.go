package application

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parsnet/l2link/internal/api"
	"github.com/parsnet/l2link/internal/config"
)

// Options controls the admin surface built by New.
type Options struct {
	ConfigPath           string
	ListenAddr           string
	EnableRequestLogging bool
	RateLimitRPS         float64
	RateLimitBurst       int
	StrictLoad           bool
}

// App encapsulates the application dependencies and the admin HTTP server.
type App struct {
	store   *config.Store
	handler *api.Handler
	router  http.Handler
	logger  *zap.Logger
	server  *http.Server
}

// New opens the configuration store and wires the admin surface around it.
func New(opts Options, logger *zap.Logger) (*App, error) {
	var storeOpts []config.Option
	if opts.StrictLoad {
		storeOpts = append(storeOpts, config.Strict())
	}

	store, err := config.Open(opts.ConfigPath, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open configuration store: %w", err)
	}

	handler := api.NewHandler(store)
	router := api.NewRouter(handler, logger,
		api.WithLogging(opts.EnableRequestLogging),
		api.WithRateLimit(opts.RateLimitRPS, opts.RateLimitBurst),
	)

	addr := opts.ListenAddr
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &App{
		store:   store,
		handler: handler,
		router:  router,
		logger:  logger,
		server:  server,
	}, nil
}

// Store returns the configuration store instance.
func (a *App) Store() *config.Store {
	return a.store
}

// Start starts the admin HTTP server in a goroutine and logs the listening
// address.
func (a *App) Start() error {
	go func() {
		a.logger.Info("admin surface listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}
