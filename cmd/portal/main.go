package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/carelink/clients/go/carelink"
	"github.com/eldtechnologies/carelink/internal/api"
	"github.com/eldtechnologies/carelink/internal/config"
	"github.com/eldtechnologies/carelink/internal/crypto"
	"github.com/eldtechnologies/carelink/internal/handlers"
	"github.com/eldtechnologies/carelink/internal/notify"
	"github.com/eldtechnologies/carelink/internal/realtime"
	"github.com/eldtechnologies/carelink/internal/routing"
	"github.com/eldtechnologies/carelink/internal/session"
	"github.com/eldtechnologies/carelink/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Open durable client storage
	kv, err := store.Open(ctx, cfg.StorageURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage connection failed")
	}
	defer kv.Close()
	logger.Info().Str("storage", store.Redact(cfg.StorageURL)).Msg("storage opened")

	var sealer *crypto.Sealer
	if cfg.StorageKey != "" {
		sealer, err = crypto.NewSealer(cfg.StorageKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid storage key")
		}
	} else {
		logger.Warn().Msg("CARELINK_STORAGE_KEY not set, credential stored unsealed")
	}

	// Backend client and client-side services
	client := carelink.NewClient(cfg.APIURL)
	sessions := session.New(kv, client, sealer, logger)
	client.TokenSource = sessions.Token

	notices := notify.NewSurface(kv, notify.NewLogToaster(logger), logger)
	if err := notices.Load(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to load notifications")
	}

	channel := realtime.NewManager(realtime.NewWebsocketDialer(cfg.SocketURL, logger), logger)
	sessions.Subscribe(func(st session.State) {
		channel.Update(st.Identity, st.Credential)
	})

	// Restore before serving so no route resolves against a stale session.
	// Requests that arrive earlier would get the loading view.
	if err := sessions.Restore(ctx); err != nil {
		logger.Error().Err(err).Msg("session restore failed")
	}

	routes := routing.PortalRoutes()
	h := handlers.NewHandler(handlers.Deps{
		Sessions:      sessions,
		Channel:       channel,
		Notifications: notices,
		Storage:       kv,
		Backend:       client,
		Routes:        routes,
		Logger:        logger,
	})

	router := api.NewRouter(logger, h, api.Options{
		Sessions:    sessions,
		Routes:      routes,
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("api", cfg.APIURL).
			Str("socket", cfg.SocketURL).
			Msg("starting CareLink portal")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down portal...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	channel.Close()

	logger.Info().Msg("portal stopped")
}
