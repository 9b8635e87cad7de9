package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fenggwsx/RoomChat/internal/auth"
	"github.com/fenggwsx/RoomChat/internal/chat"
	"github.com/fenggwsx/RoomChat/internal/config"
	"github.com/fenggwsx/RoomChat/internal/storage"
)

// App coordinates the HTTP listener, the chat hub and message persistence.
type App struct {
	cfg       config.ServerConfig
	store     storage.MessageStore
	authn     auth.Authenticator
	hub       *chat.Hub
	persister *chat.Persister
	upgrader  websocket.Upgrader
	logger    zerolog.Logger
	closeOnce sync.Once
}

// NewApp constructs a server instance using the provided dependencies.
func NewApp(cfg config.ServerConfig, store storage.MessageStore, authn auth.Authenticator, logger zerolog.Logger) *App {
	persister := chat.NewPersister(store, cfg.Persist, logger)
	hub := chat.NewHub(chat.Options{
		MaxMessageBytes: cfg.Chat.MaxMessageBytes,
		GracePeriod:     cfg.Chat.GracePeriod,
		Scheduler:       chat.SystemScheduler{},
		Archiver:        persister,
		Logger:          logger,
	})

	a := &App{
		cfg:       cfg,
		store:     store,
		authn:     authn,
		hub:       hub,
		persister: persister,
		logger:    logger,
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     newOriginChecker(cfg.AllowedOrigins, logger),
	}
	return a
}

// Handler returns the HTTP routes served by the app.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	// Websocket upgrades bypass request logging; sessions log their own lifecycle.
	r.Get("/ws", a.handleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(requestMetrics)
		r.Use(requestLogger(a.logger))

		r.Get("/healthz", a.handleHealth)
		r.Get("/presence/{userID}", a.handlePresence)
		r.Handle("/metrics", promhttp.Handler())
	})
	return r
}

// Run starts serving until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	if err := a.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	listener, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, listener)
}

// Serve runs the hub and HTTP server on listener until ctx is canceled.
func (a *App) Serve(ctx context.Context, listener net.Listener) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	// Persistence outlives the hub so accepted messages still drain on shutdown.
	a.persister.Start(context.Background())
	go func() {
		if err := a.hub.Run(hubCtx); err != nil {
			a.logger.Error().Err(err).Msg("hub stopped")
		}
	}()

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", listener.Addr().String()).Msg("server listening")
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	a.closeOnce.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn().Err(err).Msg("http shutdown")
		}
		stopHub()
		<-a.hub.Done()
		a.persister.Close()
		a.logger.Info().Msg("server stopped")
	})
	return serveErr
}

// Hub exposes the chat hub, mainly for tests and embedding.
func (a *App) Hub() *chat.Hub {
	return a.hub
}
