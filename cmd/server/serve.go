package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/auth"
	httpapi "github.com/dkerobean/StockFlowBackend-sub000/internal/http"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/jobs"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, event stream and alert sweep",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		return serve(ctx, a)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, a *app) error {
	cfg, log := a.cfg, a.log
	tokens, err := auth.NewTokens(cfg.SigningKey, cfg.CredentialTTL)
	if err != nil {
		return err
	}
	svc := a.service()
	handler := httpapi.NewHandler(svc, tokens, a.hub, a.metrics, log.Named("http"))
	router := httpapi.NewRouter(handler, httpapi.RouterOptions{
		AllowedOrigins: cfg.ClientOrigins,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		ExposeMetrics:  cfg.Metrics,
	})

	// No server-wide write timeout: the event stream is long-lived and the
	// router bounds every other request itself.
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.relay != nil {
		g.Go(func() error { return a.relay.Run(gctx) })
	}
	if cfg.AlertSchedule != "" {
		sched := jobs.NewScheduler(log.Named("jobs"))
		if err := sched.AddAlertSweep(cfg.AlertSchedule, svc); err != nil {
			return err
		}
		g.Go(func() error { return sched.Run(gctx) })
	}
	g.Go(func() error {
		log.Info("listening", zap.String("addr", server.Addr), zap.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("graceful shutdown failed", zap.Error(err))
			return server.Close()
		}
		log.Info("server stopped")
		return nil
	})
	return g.Wait()
}
