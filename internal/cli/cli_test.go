package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartparking/internal/config"
	"smartparking/internal/devserver"
	"smartparking/internal/terminal"
)

type cliHarness struct {
	t       *testing.T
	server  *devserver.Server
	cfg     *config.Config
	opened  []string
	copied  []string
	baseURL string
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	devCfg := &config.DevServerConfig{}
	devCfg.JWT.Secret = "cli-secret"
	devCfg.JWT.TokenTTL = time.Hour
	devCfg.TickInterval = 20 * time.Millisecond
	devCfg.PricePerHourCents = 360000
	devCfg.Currency = "RWF"
	devCfg.ReturnScheme = "smartparking"
	srv := devserver.New(devCfg, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Hub().Close()
		ts.Close()
	})

	cfg := &config.Config{}
	cfg.API.BaseURL = ts.URL
	cfg.API.WSURL = config.WebSocketURL(ts.URL)
	cfg.API.Timeout = 2 * time.Second
	cfg.Live.ExitCloseDelay = 10 * time.Millisecond
	cfg.Poll.Interval = 50 * time.Millisecond
	cfg.Poll.PaymentInterval = 20 * time.Millisecond
	cfg.Vault.Path = filepath.Join(t.TempDir(), "vault.bin")
	cfg.Vault.Passphrase = "cli"
	cfg.Currency = "RWF"
	cfg.DeepLinkScheme = "smartparking"

	return &cliHarness{t: t, server: srv, cfg: cfg, baseURL: ts.URL}
}

func (h *cliHarness) run(args ...string) (string, error) {
	h.t.Helper()
	var out bytes.Buffer
	root := NewRootCommand(Options{
		LoadConfig: func() (*config.Config, error) { return h.cfg, nil },
		NewLogger:  func(string) (*zap.Logger, error) { return zap.NewNop(), nil },
		OpenURL: func(u string) error {
			h.opened = append(h.opened, u)
			return nil
		},
		CopyText: func(text string) (terminal.ClipboardMethod, error) {
			h.copied = append(h.copied, text)
			return terminal.ClipboardSystem, nil
		},
	})
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

var sessionIDPattern = regexp.MustCompile(`Session (\S+) started`)

func TestCommandsRequireLogin(t *testing.T) {
	h := newCLIHarness(t)
	_, err := h.run("history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parking login")
}

func TestLotsWithoutLogin(t *testing.T) {
	h := newCLIHarness(t)
	out, err := h.run("lots", "--lat", "-1.9441", "--lng", "30.0619")
	require.NoError(t, err)
	assert.Contains(t, out, "CBD Plaza")
	assert.Contains(t, out, " m")
}

func TestStartExitPayFlow(t *testing.T) {
	h := newCLIHarness(t)

	out, err := h.run("login", "+250788123456")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in.")

	out, err = h.run("start", "--lot", "lot-cbd", "--plate", "rab123c")
	require.NoError(t, err)
	match := sessionIDPattern.FindStringSubmatch(out)
	require.Len(t, match, 2)
	sessionID := match[1]

	out, err = h.run("active", "--plate", "RAB123C")
	require.NoError(t, err)
	assert.Contains(t, out, sessionID)

	_, err = h.run("pay", sessionID)
	require.Error(t, err, "cannot pay an active session")

	out, err = h.run("exit", sessionID)
	require.NoError(t, err)
	assert.Contains(t, out, "Amount due:")

	out, err = h.run("pay", sessionID, "--open", "--copy")
	require.NoError(t, err)
	link := strings.TrimSpace(strings.Split(out, "\n")[0])
	assert.Equal(t, h.baseURL+"/checkout/"+sessionID, link)
	assert.Equal(t, []string{link}, h.opened)
	assert.Equal(t, []string{link}, h.copied)

	resp, err := http.Get(link)
	require.NoError(t, err)
	resp.Body.Close()

	out, err = h.run("return", "smartparking://paid?session_id="+sessionID, "--timeout", "2s")
	require.NoError(t, err)
	assert.Contains(t, out, "Payment confirmed")

	out, err = h.run("history", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "RAB123C")
	assert.Contains(t, out, "paid")

	out, err = h.run("logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out.")
}

func TestReturnRejectsForeignLink(t *testing.T) {
	h := newCLIHarness(t)
	_, err := h.run("login", "+250788123456")
	require.NoError(t, err)

	_, err = h.run("return", "otherapp://paid?session_id=x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected scheme")
}
