// CareLink CLI - terminal client for the CareLink portal
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/eldtechnologies/carelink/clients/go/carelink"
	"github.com/eldtechnologies/carelink/internal/config"
	"github.com/eldtechnologies/carelink/internal/crypto"
	"github.com/eldtechnologies/carelink/internal/notify"
	"github.com/eldtechnologies/carelink/internal/session"
	"github.com/eldtechnologies/carelink/internal/store"
)

var version = "dev"

var verbose bool

var rootCmd = &cobra.Command{
	Use:           "carelink",
	Short:         "CareLink portal client",
	Long:          "CareLink signs in to the portal backend, chats with doctors and pharmacies, and manages notifications.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(loginCmd(), registerCmd(), logoutCmd(), whoamiCmd(), chatCmd(), notificationsCmd(), healthCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the client-side services one command needs.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	kv       store.Store
	client   *carelink.Client
	sealer   *crypto.Sealer
	sessions *session.Store
	notices  *notify.Surface
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()

	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()

	kv, err := store.Open(ctx, cfg.StorageURL)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	var sealer *crypto.Sealer
	if cfg.StorageKey != "" {
		if sealer, err = crypto.NewSealer(cfg.StorageKey); err != nil {
			kv.Close()
			return nil, err
		}
	}

	client := carelink.NewClient(cfg.APIURL)
	sessions := session.New(kv, client, sealer, logger)
	client.TokenSource = sessions.Token

	if err := sessions.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("session restore failed")
	}

	notices := notify.NewSurface(kv, termToaster{out: os.Stderr}, logger)
	if err := notices.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("notifications unavailable")
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		kv:       kv,
		client:   client,
		sealer:   sealer,
		sessions: sessions,
		notices:  notices,
	}, nil
}

func (a *app) Close() {
	a.kv.Close()
}

// withApp wraps a command body with app setup and teardown.
func withApp(run func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		return run(ctx, a, args)
	}
}
