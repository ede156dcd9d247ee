package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaostunnel/chaostunnel/internal/agent"
	chaosconfig "github.com/chaostunnel/chaostunnel/internal/config"
	"github.com/chaostunnel/chaostunnel/internal/restapi"
	"github.com/chaostunnel/chaostunnel/internal/ruleset"
)

func main() {
	configPath := flag.String("config", "configs/agent.yaml", "path to agent configuration file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := agent.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := agent.New(cfg)
	if err != nil {
		slog.Error("failed to create agent", "err", err)
		os.Exit(1)
	}

	rest := restapi.New(a.Store())
	a.SetLogSink(rest.BroadcastLogEntry)

	if cfg.Rules.SeedPath != "" {
		watcher, err := chaosconfig.NewWatcher(cfg.Rules.SeedPath, func() {
			if err := ruleset.LoadSeed(a.Store(), cfg.Rules.SeedPath); err != nil {
				slog.Error("failed to reload rule seed", "err", err)
			}
		})
		if err != nil {
			slog.Error("failed to start rule seed watcher", "err", err)
			os.Exit(1)
		}
		defer watcher.Close()
	}

	if cfg.RestAPI.ListenAddr != "" {
		restSrv := &http.Server{Addr: cfg.RestAPI.ListenAddr, Handler: rest.Mux()}
		go func() {
			slog.Info("rule editing REST API listening", "addr", cfg.RestAPI.ListenAddr)
			if err := restSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("REST API server exited with error", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			restSrv.Close()
		}()
	}

	slog.Info("agent starting")
	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("agent exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("agent stopped")
}
