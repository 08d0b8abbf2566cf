package devserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"smartparking/internal/config"
)

// Server is the development backend: REST API, checkout page and live tick broadcaster.
type Server struct {
	server *http.Server
	hub    *Hub
	store  *Store
	logger *zap.Logger
}

// New builds the server graph from configuration.
func New(cfg *config.DevServerConfig, logger *zap.Logger) *Server {
	store := NewStore(cfg.PricePerHourCents, cfg.Currency, time.Now, nil)
	tokens := NewTokenService(cfg.JWT.Secret, cfg.JWT.TokenTTL)
	hub := NewHub(store, cfg.TickInterval, logger)
	handlers := NewHandlers(store, tokens, hub, cfg.PublicURL, cfg.ReturnScheme, logger)

	var handler http.Handler = NewRouter(handlers, AuthMiddleware(tokens))
	handler = LoggingMiddleware(logger)(handler)
	handler = RecoveryMiddleware(logger)(handler)

	return &Server{
		server: &http.Server{
			Addr:        cfg.HTTPAddress(),
			Handler:     handler,
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
		hub:    hub,
		store:  store,
		logger: logger,
	}
}

// Handler exposes the HTTP handler, used by tests with httptest.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Store exposes the backing store.
func (s *Server) Store() *Store {
	return s.store
}

// Hub exposes the live broadcaster.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run starts the tick broadcaster and the HTTP server.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting parking dev server", zap.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
