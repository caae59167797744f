package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/osvaldoandrade/reportq/internal/plugins/issuestats" // Register the issue density measure computer
	"github.com/osvaldoandrade/reportq/pkg/app"
	_ "github.com/osvaldoandrade/reportq/pkg/auth/jwks"   // Register default JWKS auth provider
	_ "github.com/osvaldoandrade/reportq/pkg/auth/static" // Register static token auth provider (dev/local)
	"github.com/osvaldoandrade/reportq/pkg/config"
	_ "github.com/osvaldoandrade/reportq/pkg/reportstore/fs"
	_ "github.com/osvaldoandrade/reportq/pkg/reportstore/memory"
	_ "github.com/osvaldoandrade/reportq/pkg/reportstore/redis"

	"github.com/joho/godotenv"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load(getenv("REPORTQ_ENV_FILE", ".env"))

	cfg, err := config.LoadConfigOptional(getenv("REPORTQ_CONFIG_PATH", ""))
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] load config:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] invalid config:", err)
		os.Exit(1)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] init app:", err)
		os.Exit(1)
	}
	app.SetupMappings(application)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	application.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           application.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		application.Logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintln(os.Stderr, "[ERROR] http server:", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	// Waits for in-flight tasks, then flushes traces.
	if err := application.Close(shutdownCtx); err != nil {
		application.Logger.Warn("shutdown incomplete", "err", err)
	}
}
