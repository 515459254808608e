package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresync/internal/auth"
	"github.com/vovakirdan/wiresync/internal/config"
	"github.com/vovakirdan/wiresync/internal/core"
	"github.com/vovakirdan/wiresync/internal/relay"
	"github.com/vovakirdan/wiresync/internal/store"
	"github.com/vovakirdan/wiresync/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wiresync/internal/transport/http"
)

const relayBuffer = 1024

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	relay           relay.Publisher
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	var st store.Store
	if cfg.DatabasePath != "" {
		db, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		st = db
		logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")
	}

	var pub relay.Publisher = relay.Nop{}
	if cfg.RedisAddr != "" {
		r, err := relay.NewRedis(ctx, cfg.RedisAddr, relay.DefaultPrefix)
		if err != nil {
			if st != nil {
				_ = st.Close()
			}
			return nil, fmt.Errorf("init relay: %w", err)
		}
		pub = relay.NewAsync(r, relayBuffer, logger)
		logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("event relay enabled")
	}

	var authService *auth.Service
	if cfg.AuthEnabled() {
		authService = auth.NewService(&auth.JWTConfig{
			Secret:   []byte(cfg.JWTSecret),
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
			TTL:      cfg.TokenTTL,
		})
		logger.Info().Msg("token authentication enabled")
	}

	hub := core.NewHub(core.HubConfig{
		MaxMessages:   cfg.Rooms.MaxMessages,
		HistoryLimit:  cfg.Rooms.HistoryLimit,
		SyncHistory:   cfg.Rooms.SyncHistory,
		JoinHistory:   cfg.Rooms.JoinHistory,
		IdleTTL:       cfg.Rooms.IdleTTL,
		SweepInterval: cfg.Rooms.SweepInterval,
	}, st, pub, logger)

	return &App{
		server:          transporthttp.NewServer(hub, authService, cfg, logger),
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		relay:           pub,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	hubCtx, cancelHub := context.WithCancel(context.WithoutCancel(ctx))
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		a.hub.Run(hubCtx)
	}()
	// The hub archives messages, so it must be idle before the store closes.
	stopHub := func() {
		cancelHub()
		<-hubDone
	}

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		stopHub()
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		err := a.server.Shutdown(shutdownCtx)
		stopHub()
		a.cleanup()
		if err != nil {
			return err
		}
		return <-serverErr
	}
}

// cleanup closes the relay and the database.
func (a *App) cleanup() {
	if err := a.relay.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close relay")
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
