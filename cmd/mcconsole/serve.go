package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/mcconsole/internal/auth"
	"github.com/loykin/mcconsole/internal/config"
	hfactory "github.com/loykin/mcconsole/internal/history/factory"
	"github.com/loykin/mcconsole/internal/logger"
	"github.com/loykin/mcconsole/internal/manager"
	"github.com/loykin/mcconsole/internal/metrics"
	"github.com/loykin/mcconsole/internal/server"
	sfactory "github.com/loykin/mcconsole/internal/store/factory"
	itls "github.com/loykin/mcconsole/internal/tls"
)

func createServeCommand(flags *GlobalFlags) *cobra.Command {
	var noAuth bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the console API daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flags.ConfigPath, noAuth)
		},
	}
	cmd.Flags().BoolVar(&noAuth, "no-auth", false, "disable API key authentication (development only)")
	return cmd
}

func runServe(configPath string, noAuth bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.Setup(cfg.General.LogLevel)

	st, err := sfactory.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	sinks, err := hfactory.NewSinks(cfg.Analytics.Sinks)
	if err != nil {
		return fmt.Errorf("analytics sinks: %w", err)
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	mgr := manager.New(cfg, st, sinks)
	mgr.StartAutostart(ctx)

	authSvc := auth.NewService(st)
	router := server.NewRouter(mgr, st, authSvc, !noAuth, cfg.General.BasePath)

	tlsCfg, err := itls.Setup(cfg.TLS)
	if err != nil {
		return fmt.Errorf("tls setup: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.General.Host, cfg.General.Port)
	srv := server.NewServer(addr, router, tlsCfg)
	log.Info("api listening", "addr", addr, "base_path", cfg.General.BasePath, "tls", tlsCfg != nil)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	mgr.StopAll(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
		slog.Warn("http shutdown", "error", err)
	}
	return nil
}
