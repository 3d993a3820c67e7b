package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/echoes-blog/echoes/internal/auth"
	"github.com/echoes-blog/echoes/internal/config"
	"github.com/echoes-blog/echoes/internal/httpclient"
	"github.com/echoes-blog/echoes/internal/logging"
	"github.com/echoes-blog/echoes/internal/messaging"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("server failed")
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	broker, err := messaging.NewBroker(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create message broker: %w", err)
	}
	defer broker.Close() //nolint:errcheck // best-effort cleanup on shutdown

	tokens, err := auth.NewStore(cfg.TokenFile, cfg.TokenKey)
	if err != nil {
		return err
	}
	client := httpclient.NewFromConfig(cfg, tokens, log)

	a, err := newApp(cfg, client, broker, log)
	if err != nil {
		return err
	}

	// The manager stays usable after a failed start: it serves the error
	// page until the backend recovers and the step is set again.
	if err := a.manager.Start(ctx); err != nil {
		log.WithError(err).Warn("initial theme resolution failed")
	}
	if err := a.engine.Restore(ctx); err != nil {
		log.WithError(err).Warn("failed to restore enabled plugins")
	}

	go a.hub.Run(ctx)
	stopForward, err := a.hub.Forward(broker)
	if err != nil {
		log.WithError(err).Warn("live updates disabled")
	} else {
		defer stopForward()
	}

	// CORS wraps the entire router so OPTIONS preflight requests are
	// handled before mux routing (which would 404 on OPTIONS).
	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        corsMiddleware(cfg.AllowedOrigins, a.router(ctx)),
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
