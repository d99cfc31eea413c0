package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"rdrelay/internal/broker"
	"rdrelay/internal/config"
	"rdrelay/internal/liveness"
	"rdrelay/internal/logger"
	"rdrelay/internal/metrics"
	"rdrelay/internal/registry"
	"rdrelay/internal/server"
	"rdrelay/internal/session"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	m := metrics.New()
	reg := registry.New()
	sessions := session.NewManager(cfg.Users, cfg.SessionTTL)
	b := broker.New(reg, sessions, m, log, cfg.PendingRequestTimeout)

	// Disconnect cascade: the session dies first so a half-gone
	// connection can never authenticate anything, then the broker tears
	// down any control pair the connection was part of.
	reg.OnUnregister(sessions.Invalidate)
	reg.OnUnregister(b.HandleDisconnect)

	monitor := liveness.New(reg, m, log, cfg.HeartbeatInterval, cfg.HeartbeatMissed)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go monitor.Run(ctx)

	if cfg.MetricsListen != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", m.Handler())
			srv := server.NewHTTPServer(cfg.MetricsListen, mux)
			log.Info("metrics listening", zap.String("addr", cfg.MetricsListen))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server", zap.Error(err))
			}
		}()
	}

	router := server.NewRouter(server.Deps{
		Config:   cfg,
		Registry: reg,
		Sessions: sessions,
		Broker:   b,
		Metrics:  m,
		Log:      log,
	})

	log.Info("relay listening", zap.String("addr", cfg.Listen))
	if err := server.Run(ctx, cfg, router); err != nil && err != http.ErrServerClosed {
		log.Fatal("server", zap.Error(err))
	}
	log.Info("shutdown complete")
}
