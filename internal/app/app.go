package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"smartparking/internal/auth"
	"smartparking/internal/clients"
	"smartparking/internal/config"
	redisstore "smartparking/internal/redis"
	"smartparking/internal/repository"
	"smartparking/internal/service"
	"smartparking/internal/ws"
	libdb "smartparking/libs/db"
	libredis "smartparking/libs/redis"
)

// App wires the parking client dependencies.
type App struct {
	cfg         *config.Config
	logger      *zap.Logger
	credentials auth.Credentials
	expired     bool

	client    *clients.ParkingClient
	login     *service.LoginService
	lifecycle *service.LifecycleController
	fetcher   *service.SnapshotFetcher
	viewer    *service.SessionViewer
	payments  *service.PaymentWatcher
	lots      *service.LotsService
	history   *service.HistoryService
	starter   *service.StartService

	db          *sql.DB
	redisClient *redis.Client
}

// New constructs the application graph. The stored token is read once here and stays fixed
// for the lifetime of the App.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	vaultPath := cfg.Vault.Path
	if vaultPath == "" {
		vaultPath = auth.DefaultVaultPath()
	}
	vault, err := auth.NewVault(vaultPath, cfg.Vault.Passphrase)
	if err != nil {
		return nil, err
	}

	httpClient := clients.NewDefaultHTTPClient(cfg.API.Timeout)
	anonymous := clients.NewParkingClient(cfg.API.BaseURL, httpClient, auth.NewCredentials(""))
	login := service.NewLoginService(anonymous, vault, logger)

	a := &App{cfg: cfg, logger: logger, login: login}

	creds, err := login.Credentials()
	switch {
	case errors.Is(err, service.ErrTokenExpired):
		logger.Warn("stored login expired, run login again")
		a.expired = true
		creds = auth.Credentials{}
	case err != nil:
		return nil, err
	}
	a.credentials = creds
	a.client = clients.NewParkingClient(cfg.API.BaseURL, httpClient, creds)

	var store service.SnapshotStore
	if cfg.CacheEnabled() {
		a.redisClient, err = libredis.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("connect snapshot cache: %w", err)
		}
		store = redisstore.NewSnapshotStore(a.redisClient, cfg.Redis.TTL)
	}

	var archive service.HistoryArchive
	if cfg.ArchiveEnabled() {
		a.db, err = libdb.NewPostgresDB(cfg.History.DSN)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect history archive: %w", err)
		}
		if err := repository.Migrate(a.db, logger); err != nil {
			a.Close()
			return nil, err
		}
		archive = repository.NewHistoryRepository(a.db)
	}

	listener := ws.NewListener(ws.ListenerConfig{
		BaseURL:     cfg.API.WSURL,
		IdleTimeout: cfg.Live.IdleTimeout,
	}, creds, logger)

	a.fetcher = service.NewSnapshotFetcher(a.client, store, logger)
	a.lifecycle = service.NewLifecycleController(listener, logger)
	actions := service.NewActionCoordinator(a.client, a.fetcher, a.lifecycle, cfg.Live.ExitCloseDelay, logger)
	a.viewer = service.NewSessionViewer(a.fetcher, a.lifecycle, actions, service.ViewConfig{
		PollInterval:        cfg.Poll.Interval,
		PaymentPollInterval: cfg.Poll.PaymentInterval,
	}, logger)
	a.payments = service.NewPaymentWatcher(a.fetcher, cfg.Poll.PaymentInterval, logger)
	a.lots = service.NewLotsService(a.client)
	a.history = service.NewHistoryService(a.client, archive, logger)
	a.starter = service.NewStartService(a.client, logger)
	return a, nil
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Credentials returns the token captured at startup.
func (a *App) Credentials() auth.Credentials { return a.credentials }

// RequireLogin fails when no usable token was stored.
func (a *App) RequireLogin() error {
	if a.expired {
		return service.ErrTokenExpired
	}
	if !a.credentials.Present() {
		return auth.ErrNoToken
	}
	return nil
}

// Login stores a new token. It takes effect for the next App.
func (a *App) Login(ctx context.Context, phone string) error {
	_, err := a.login.Login(ctx, phone)
	return err
}

// Logout deletes the stored token.
func (a *App) Logout() error { return a.login.Logout() }

// Viewer mounts session views.
func (a *App) Viewer() *service.SessionViewer { return a.viewer }

// Payments waits for checkout results.
func (a *App) Payments() *service.PaymentWatcher { return a.payments }

// Lots finds lots.
func (a *App) Lots() *service.LotsService { return a.lots }

// History lists past sessions.
func (a *App) History() *service.HistoryService { return a.history }

// Starter starts sessions.
func (a *App) Starter() *service.StartService { return a.starter }

// Fetcher reads session snapshots.
func (a *App) Fetcher() *service.SnapshotFetcher { return a.fetcher }

// Close releases resources.
func (a *App) Close() {
	if a.lifecycle != nil {
		a.lifecycle.Shutdown()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
