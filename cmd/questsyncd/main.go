// Quest Tracker sync daemon - the offline-first synchronization core
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Georgexzy/quest-tracker/internal/cache"
	"github.com/Georgexzy/quest-tracker/internal/clients"
	"github.com/Georgexzy/quest-tracker/internal/config"
	"github.com/Georgexzy/quest-tracker/internal/coordinator"
	"github.com/Georgexzy/quest-tracker/internal/logging"
	"github.com/Georgexzy/quest-tracker/internal/router"
	"github.com/Georgexzy/quest-tracker/internal/storage"
)

var (
	dataDir   string
	port      int
	upstream  string
	assetsDir string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "questsyncd",
		Short: "Quest Tracker sync daemon - offline-first quest and activity sync",
		RunE:  runDaemon,
	}

	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "Data directory (default ~/.quest-tracker)")
	rootCmd.Flags().IntVar(&port, "port", 0, "HTTP server port")
	rootCmd.Flags().StringVar(&upstream, "upstream", "", "Upstream application base URL")
	rootCmd.Flags().StringVar(&assetsDir, "assets-dir", "", "App shell assets directory")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if upstream != "" {
		cfg.Upstream = upstream
	}
	if assetsDir != "" {
		cfg.Assets.Dir = assetsDir
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	db, err := storage.Open(storage.Config{Path: filepath.Join(cfg.DataDir, "quest-tracker.db")})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	cacheStore, err := cache.Open(filepath.Join(cfg.DataDir, "cache"))
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}

	hub := clients.NewHub()

	coord := coordinator.New(coordinator.Config{
		Cfg:   cfg,
		DB:    db,
		Cache: cacheStore,
		Hub:   hub,
	})

	if err := coord.Install(); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	if err := coord.Activate(); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	if err := coord.Start(); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}

	// Re-precache the shell when an asset changes on disk.
	watcher, err := cache.WatchAssets(cacheStore, cfg.Cache.ShellGeneration, cfg.Assets.Dir, cfg.Assets.Shell)
	if err != nil {
		logging.Warn("asset watcher unavailable: %v", err)
	} else {
		defer watcher.Close()
	}

	server := router.New(router.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Upstream:        cfg.Upstream,
		Ingestor:        coord.Ingestor(),
		StepsStore:      coord.StepsStore(),
		HealthStore:     coord.HealthStore(),
		Cache:           cacheStore,
		Notifier:        coord,
		Network:         coord,
		WSHandler:       coord.WSHandler(),
		APIGeneration:   cfg.Cache.APIGeneration,
		ShellGeneration: cfg.Cache.ShellGeneration,
	})

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		logging.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Stop(shutdownCtx)
		if err := coord.Shutdown(shutdownCtx); err != nil {
			logging.Warn("deferred work did not drain: %v", err)
		}
		hub.Close()
	}()

	logging.Info("quest tracker sync core on http://%s:%d (upstream %s)",
		cfg.Server.Host, cfg.Server.Port, cfg.Upstream)
	if err := server.Start(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
