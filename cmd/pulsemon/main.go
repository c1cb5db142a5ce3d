package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pulsemon/internal/config"
	"pulsemon/internal/heartbeat"
	"pulsemon/internal/monitor"
	"pulsemon/internal/notify"
	"pulsemon/internal/server"
	"pulsemon/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to configuration file (YAML)")
		addr       = flag.String("addr", ":8080", "address for the web server")
		noCron     = flag.Bool("no-cron", false, "disable the in-process evaluation schedule (trigger rounds via POST /api/evaluate)")
	)
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}
	log.Info("configuration loaded",
		zap.Int("services", len(cfg.Services)),
		zap.Int("groups", len(cfg.Groups)),
		zap.Int("channels", len(cfg.Channels)))

	var st store.Store
	if cfg.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pg, err := store.NewPGStore(ctx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			log.Fatal("initialise postgres store", zap.Error(err))
		}
		defer pg.Close()
		st = pg
	} else {
		fs, err := store.NewFileStore(cfg.DataDirectory)
		if err != nil {
			log.Fatal("initialise file store", zap.Error(err))
		}
		st = fs
	}

	effective := config.Merge(cfg.Services, cfg.Groups)
	router := notify.NewRouter(cfg.Channels, os.Getenv, time.Duration(cfg.CooldownMinutes)*time.Minute, log)
	runner := monitor.NewRunner(st, cfg, effective, router, log)
	ingestor := heartbeat.NewIngestor(st, cfg.APIKeys, effective)

	if !*noCron {
		c, err := runner.StartCron(cfg.EvaluateSchedule)
		if err != nil {
			log.Fatal("start schedule", zap.Error(err))
		}
		defer c.Stop()
	}

	srv := server.New(*addr, runner, ingestor, router, cfg.AlertSecret, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("server shutdown", zap.Error(err))
		}
	}()

	log.Info("pulsemon listening", zap.String("addr", *addr), zap.String("schedule", cfg.EvaluateSchedule))
	if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server error", zap.Error(err))
	}
}
