package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/custseg/internal/adapters/http/api"
	"github.com/okian/custseg/internal/adapters/http/swagger"
	"github.com/okian/custseg/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	writeSlack        = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// runServe starts the HTTP API and blocks until ctx is cancelled.
func runServe(ctx context.Context, e env, _ []string) error {
	store, err := openStore(e)
	if err != nil {
		return err
	}
	svc := newService(e, store)
	if err := svc.Start(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("start service: %w", err)
	}

	// HTTP mux and routes.
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc,
		api.WithRequestTimeout(e.cfg.RequestTimeout()),
		api.WithLogger(e.log),
	).Register(ctx, mux)

	srv := &http.Server{
		Addr:              e.cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      e.cfg.RequestTimeout() + writeSlack,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		e.log.Info(ctx, "starting HTTP server", logger.String("addr", e.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		e.log.Info(ctx, "shutting down server...")
	case serveErr = <-errc:
		e.log.Error(ctx, "HTTP server failed", logger.Error(serveErr))
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		e.log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		e.log.Error(ctx, "service stop failed", logger.Error(err))
	}
	e.log.Info(ctx, "server stopped")
	return serveErr
}
