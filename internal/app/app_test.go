package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartparking/internal/auth"
	"smartparking/internal/config"
	"smartparking/internal/devserver"
	"smartparking/internal/models"
	"smartparking/internal/service"
	"smartparking/internal/ws"
)

func startDevServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.DevServerConfig{}
	cfg.JWT.Secret = "e2e-secret"
	cfg.JWT.TokenTTL = time.Hour
	cfg.TickInterval = 20 * time.Millisecond
	cfg.PricePerHourCents = 3600000
	cfg.Currency = "RWF"
	cfg.ReturnScheme = "smartparking"

	srv := devserver.New(cfg, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Hub().Run(ctx)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return ts
}

func clientConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.API.BaseURL = baseURL
	cfg.API.WSURL = config.WebSocketURL(baseURL)
	cfg.API.Timeout = 2 * time.Second
	cfg.Live.ExitCloseDelay = 10 * time.Millisecond
	cfg.Poll.Interval = 50 * time.Millisecond
	cfg.Poll.PaymentInterval = 20 * time.Millisecond
	cfg.Vault.Path = filepath.Join(t.TempDir(), "vault.bin")
	cfg.Vault.Passphrase = "e2e"
	cfg.Currency = "RWF"
	cfg.DeepLinkScheme = "smartparking"
	return cfg
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestNewWithoutLogin(t *testing.T) {
	ts := startDevServer(t)
	a := newApp(t, clientConfig(t, ts.URL))
	assert.ErrorIs(t, a.RequireLogin(), auth.ErrNoToken)

	lots, err := a.Lots().Nearby(context.Background(), &models.Coords{Lat: -1.9441, Lng: 30.0619})
	require.NoError(t, err)
	require.NotEmpty(t, lots)
	assert.Equal(t, "lot-cbd", lots[0].Lot.ID)
}

func TestLoginRejectsInvalidPhone(t *testing.T) {
	ts := startDevServer(t)
	a := newApp(t, clientConfig(t, ts.URL))
	assert.ErrorIs(t, a.Login(context.Background(), "12"), auth.ErrInvalidPhone)
}

func TestParkExitAndPayEndToEnd(t *testing.T) {
	ts := startDevServer(t)
	cfg := clientConfig(t, ts.URL)
	ctx := context.Background()

	require.NoError(t, newApp(t, cfg).Login(ctx, "+250788123456"))
	a := newApp(t, cfg)
	require.NoError(t, a.RequireLogin())

	session, err := a.Starter().Start(ctx, service.StartParams{LotID: "lot-cbd", Plate: "rab 123c"})
	require.NoError(t, err)
	assert.Equal(t, "RAB 123C", session.Plate)

	active, err := a.Starter().Active(ctx, "RAB 123C")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, session.ID, active.ID)

	m := a.Viewer().Mount(ctx, session.ID)
	defer m.Unmount()

	waitFor(t, 3*time.Second, func() bool { return m.State().Live == ws.StateOpen })
	first := m.State().AmountCents
	waitFor(t, 3*time.Second, func() bool {
		st := m.State()
		return st.AmountKnown && st.AmountCents > first
	})

	exited, err := m.Exit(ctx)
	require.NoError(t, err)
	assert.True(t, exited.Completed())
	waitFor(t, 3*time.Second, func() bool {
		st := m.State()
		return st.Finalized && st.Live == ws.StateClosed
	})
	final := m.State().AmountCents
	assert.Equal(t, exited.BilledCents(), final)

	link, err := m.RequestPayment(ctx)
	require.NoError(t, err)
	waitFor(t, time.Second, func() bool { return m.State().PaymentOutstanding })

	resp, err := http.Get(link)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	waitFor(t, 3*time.Second, func() bool {
		st := m.State()
		return st.Paid && !st.PaymentOutstanding
	})
	assert.Equal(t, final, m.State().AmountCents)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	paid, err := a.Payments().Wait(waitCtx, session.ID)
	require.NoError(t, err)
	assert.True(t, paid.Paid())

	history, err := a.History().Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, session.ID, history[0].ID)

	require.NoError(t, a.Logout())
	assert.ErrorIs(t, newApp(t, cfg).RequireLogin(), auth.ErrNoToken)
}
