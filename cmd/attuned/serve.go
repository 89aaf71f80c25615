package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"attune/internal/api"
	"attune/internal/config"
	"attune/internal/engine"
	"attune/internal/history"
	"attune/internal/ingest"
	"attune/internal/logging"
	"attune/internal/model"
	"attune/internal/profile"
	"attune/internal/reasoning"
	"attune/internal/session"
	"attune/internal/state"
	"attune/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the classification service",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	var manager *config.Manager
	if path := config.ResolvePath(configPath()); path != "" {
		m, err := config.NewManager(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		manager = m
	} else {
		manager = config.NewStaticManager(config.DefaultConfig())
	}
	cfg := manager.Get()
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	profiles := profile.NewStore(logging.Component(logger, "profiles"))
	if cfg.Profiles.Path != "" {
		if err := profiles.LoadFile(cfg.Profiles.Path); err != nil {
			return fmt.Errorf("load profiles: %w", err)
		}
	}

	stateStore := state.NewStore(cfg.State.StoreLimit)
	historyStore := history.NewStore(cfg.History.StoreLimit)

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		initCtx, initCancel := context.WithTimeout(ctx, 10*time.Second)
		err := store.Init(initCtx)
		initCancel()
		if err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		defer store.Close()
	}

	var publisher *state.Publisher
	if cfg.State.Redis.Enabled {
		p, err := state.NewPublisher(ctx, cfg.State.Redis, logging.Component(logger, "redis"))
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		publisher = p
		defer publisher.Close()
	}

	var reasoner engine.Reasoner
	if cfg.Reasoning.Enabled {
		reasoner = reasoning.NewClient(cfg.Reasoning, logging.Component(logger, "reasoning"))
	}

	sessions := session.NewManager(cfg, logging.Component(logger, "session"), profiles, stateStore, historyStore, store, publisher, reasoner)

	frames := make(chan model.FeatureFrame, cfg.Ingest.ChannelBuffer)
	sessions.Start(ctx, frames)

	ingest.StartREST(ctx, manager, frames, logging.Component(logger, "ingest.rest"))
	ingest.StartKafka(ctx, manager, frames, logging.Component(logger, "ingest.kafka"))
	if err := ingest.StartMQTT(ctx, manager, frames, logging.Component(logger, "ingest.mqtt")); err != nil {
		return fmt.Errorf("start mqtt ingest: %w", err)
	}

	api.Start(ctx, manager, stateStore, historyStore, profiles, sessions, logging.Component(logger, "api"), version)

	if manager.Path() != "" {
		go manager.Watch(3*time.Second,
			func(next *config.Config) {
				logger.Info("config reloaded", "path", manager.Path())
				sessions.UpdateConfig(next)
			},
			func(err error) {
				logger.Warn("config reload failed", "err", err)
			},
			ctx.Done(),
		)
	}

	logger.Info("attuned started", "version", version, "config", manager.Path())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
	cancel()
	time.Sleep(200 * time.Millisecond)
	return nil
}
