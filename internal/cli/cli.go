package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"smartparking/internal/app"
	"smartparking/internal/config"
	"smartparking/internal/models"
	"smartparking/internal/service"
	"smartparking/internal/terminal"
	"smartparking/libs/logging"
)

// Options lets tests replace configuration and logging.
type Options struct {
	LoadConfig func() (*config.Config, error)
	NewLogger  func(level string) (*zap.Logger, error)
	// OpenURL and CopyText default to the terminal package helpers.
	OpenURL  func(string) error
	CopyText func(string) (terminal.ClipboardMethod, error)
}

type runtime struct {
	opts     Options
	logLevel string
	app      *app.App
	logger   *zap.Logger
}

// NewRootCommand builds the parking command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.LoadConfig == nil {
		opts.LoadConfig = config.Load
	}
	if opts.NewLogger == nil {
		opts.NewLogger = logging.NewLoggerWithLevel
	}
	if opts.OpenURL == nil {
		opts.OpenURL = terminal.OpenURL
	}
	if opts.CopyText == nil {
		opts.CopyText = terminal.CopyText
	}
	rt := &runtime{opts: opts}

	root := &cobra.Command{
		Use:           "parking",
		Short:         "Smart parking client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&rt.logLevel, "log-level", "warn", "Log level written to stderr")

	root.AddCommand(
		rt.loginCmd(),
		rt.logoutCmd(),
		rt.lotsCmd(),
		rt.startCmd(),
		rt.activeCmd(),
		rt.watchCmd(),
		rt.exitCmd(),
		rt.payCmd(),
		rt.returnCmd(),
		rt.historyCmd(),
	)
	return root
}

// Execute runs the command tree and prints the error, if any, to stderr.
func Execute(ctx context.Context, opts Options) int {
	root := NewRootCommand(opts)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func (rt *runtime) build() (*app.App, error) {
	if rt.app != nil {
		return rt.app, nil
	}
	cfg, err := rt.opts.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := rt.opts.NewLogger(rt.logLevel)
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	rt.app, rt.logger = a, logger
	return a, nil
}

// authed builds the app and requires a stored login.
func (rt *runtime) authed() (*app.App, error) {
	a, err := rt.build()
	if err != nil {
		return nil, err
	}
	if err := a.RequireLogin(); err != nil {
		return nil, fmt.Errorf("%w (run `parking login <phone>`)", err)
	}
	return a, nil
}

// run closes the app once the command finishes, successful or not.
func (rt *runtime) run(fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer rt.close()
		return fn(cmd, args)
	}
}

func (rt *runtime) close() {
	if rt.app != nil {
		rt.app.Close()
		rt.app = nil
	}
	if rt.logger != nil {
		_ = rt.logger.Sync()
		rt.logger = nil
	}
}

func (rt *runtime) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <phone>",
		Short: "Log in with a phone number",
		Args:  cobra.ExactArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			a, err := rt.build()
			if err != nil {
				return err
			}
			if err := a.Login(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged in.")
			return nil
		}),
	}
}

func (rt *runtime) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored login",
		Args:  cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			a, err := rt.build()
			if err != nil {
				return err
			}
			if err := a.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		}),
	}
}

func (rt *runtime) lotsCmd() *cobra.Command {
	var lat, lng float64
	cmd := &cobra.Command{
		Use:   "lots",
		Short: "List parking lots, nearest first when a position is given",
		Args:  cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			a, err := rt.build()
			if err != nil {
				return err
			}
			var near *models.Coords
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
				near = &models.Coords{Lat: lat, Lng: lng}
			}
			lots, err := a.Lots().Nearby(cmd.Context(), near)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), terminal.RenderLots(lots, a.Config().Currency))
			return nil
		}),
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude of the current position")
	cmd.Flags().Float64Var(&lng, "lng", 0, "Longitude of the current position")
	return cmd
}

func (rt *runtime) startCmd() *cobra.Command {
	var lotID, plate, photoPath string
	var watch bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a parking session",
		Args:  cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			a, err := rt.authed()
			if err != nil {
				return err
			}
			params := service.StartParams{LotID: lotID, Plate: plate}
			if photoPath != "" {
				f, err := os.Open(photoPath)
				if err != nil {
					return fmt.Errorf("open photo: %w", err)
				}
				defer f.Close()
				params.Photo = &service.Photo{Filename: filepath.Base(photoPath), Body: f}
			}
			session, err := a.Starter().Start(cmd.Context(), params)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s started in %s.\n", session.ID, session.LotID)
			if watch {
				return watchSession(cmd.Context(), a, session.ID, cmd.OutOrStdout())
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&lotID, "lot", "", "Lot id")
	cmd.Flags().StringVar(&plate, "plate", "", "Vehicle plate")
	cmd.Flags().StringVar(&photoPath, "photo", "", "Plate photo to upload")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep watching the session after starting")
	_ = cmd.MarkFlagRequired("lot")
	return cmd
}

func (rt *runtime) activeCmd() *cobra.Command {
	var plate string
	cmd := &cobra.Command{
		Use:   "active",
		Short: "Show the active session for a plate",
		Args:  cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			a, err := rt.authed()
			if err != nil {
				return err
			}
			session, err := a.Starter().Active(cmd.Context(), plate)
			if err != nil {
				return err
			}
			if session == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No active session.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", session.ID, session.Plate, terminal.FormatAmount(session.BilledCents(), currencyOf(session, a)))
			return nil
		}),
	}
	cmd.Flags().StringVar(&plate, "plate", "", "Vehicle plate")
	return cmd
}

func (rt *runtime) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Follow the live cost of a session until it is paid or interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			a, err := rt.authed()
			if err != nil {
				return err
			}
			return watchSession(cmd.Context(), a, args[0], cmd.OutOrStdout())
		}),
	}
}

func (rt *runtime) exitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exit <session-id>",
		Short: "End a parking session",
		Args:  cobra.ExactArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			a, err := rt.authed()
			if err != nil {
				return err
			}
			m := a.Viewer().Mount(cmd.Context(), args[0])
			defer m.Unmount()

			session, err := m.Exit(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s ended. Amount due: %s\n",
				session.ID, terminal.FormatAmount(session.BilledCents(), currencyOf(session, a)))
			return nil
		}),
	}
}

func (rt *runtime) payCmd() *cobra.Command {
	var open, copyLink, wait bool
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "pay <session-id>",
		Short: "Get a checkout link for a completed session",
		Args:  cobra.ExactArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			a, err := rt.authed()
			if err != nil {
				return err
			}
			m := a.Viewer().Mount(cmd.Context(), args[0])
			link, err := m.RequestPayment(cmd.Context())
			m.Unmount()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, link)

			if copyLink {
				if _, err := rt.opts.CopyText(link); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "copy failed:", err)
				} else {
					fmt.Fprintln(out, "Link copied.")
				}
			}
			if open {
				if err := rt.opts.OpenURL(link); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "open failed:", err)
				}
			}
			if wait {
				return waitPaid(cmd.Context(), a, args[0], timeout, out)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&open, "open", false, "Open the checkout page in the browser")
	cmd.Flags().BoolVar(&copyLink, "copy", false, "Copy the checkout link to the clipboard")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the payment is confirmed")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "How long --wait waits")
	return cmd
}

func (rt *runtime) returnCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "return <link>",
		Short: "Handle a checkout return link and confirm the payment",
		Args:  cobra.ExactArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			a, err := rt.authed()
			if err != nil {
				return err
			}
			sessionID, err := service.ParseReturnLink(args[0], a.Config().DeepLinkScheme)
			if err != nil {
				return err
			}
			return waitPaid(cmd.Context(), a, sessionID, timeout, cmd.OutOrStdout())
		}),
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "How long to wait for confirmation")
	return cmd
}

func (rt *runtime) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sessions",
		Args:  cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			a, err := rt.authed()
			if err != nil {
				return err
			}
			if err := a.History().PruneArchive(cmd.Context(), a.Config().History.Retention); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "archive prune failed:", err)
			}
			sessions, err := a.History().Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), terminal.RenderHistory(sessions, a.Config().Currency))
			return nil
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Number of sessions to show")
	return cmd
}

// watchSession renders every view update until the session is paid or ctx ends.
func watchSession(ctx context.Context, a *app.App, sessionID string, out io.Writer) error {
	m := a.Viewer().Mount(ctx, sessionID)
	defer m.Unmount()

	currency := a.Config().Currency
	fmt.Fprintln(out, terminal.RenderSession(m.State(), currency))
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-m.Updates():
			if !ok {
				return nil
			}
			fmt.Fprintln(out, terminal.RenderSession(st, currency))
			if st.Paid {
				return nil
			}
		}
	}
}

func waitPaid(ctx context.Context, a *app.App, sessionID string, timeout time.Duration, out io.Writer) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	fmt.Fprintln(out, "Waiting for payment confirmation...")
	session, err := a.Payments().Wait(ctx, sessionID)
	switch {
	case errors.Is(err, service.ErrPaymentFailed):
		return fmt.Errorf("payment for session %s failed, request a new link with `parking pay %s`", sessionID, sessionID)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("payment for session %s not confirmed yet", sessionID)
	case err != nil:
		return err
	}
	fmt.Fprintf(out, "Payment confirmed for session %s (%s).\n", session.ID, terminal.FormatAmount(session.BilledCents(), currencyOf(session, a)))
	return nil
}

func currencyOf(s *models.Session, a *app.App) string {
	if s != nil && s.Currency != "" {
		return s.Currency
	}
	return a.Config().Currency
}
