package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/blockedby/channel-archiver/internal/config"
	"github.com/blockedby/channel-archiver/internal/logger"
	"github.com/blockedby/channel-archiver/internal/store"
	"github.com/blockedby/channel-archiver/internal/telegram"
)

func main() {
	// .env is optional, real env vars win
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log := logger.Get()
	log.Info().Msg("starting channel archiver")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	for _, dir := range []string{cfg.DataDir, cfg.MediaDir, cfg.ExportDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("failed to create data directory")
		}
	}

	st := store.Load(cfg.SnapshotPath())

	manager := telegram.NewManager(cfg)
	sessionFile := ""
	if _, sess := st.ActiveSession(); sess != nil {
		sessionFile = sess.SessionFile
	}
	if err := manager.Init(sessionFile); err != nil {
		log.Error().Err(err).Msg("telegram manager init failed")
	}
	defer manager.Stop()

	client := telegram.NewClient(manager, cfg.RequestsPerSecond)
	defer client.Close()

	m := newMenu(cfg, st, manager, client)
	m.run(ctx)

	if err := st.Save(); err != nil {
		log.Error().Err(err).Msg("failed to save snapshot on exit")
	}
	log.Info().Msg("shutdown complete")
}
