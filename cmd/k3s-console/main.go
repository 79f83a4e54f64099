package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/dik654/k3s-console/internal/api"
	"github.com/dik654/k3s-console/internal/cache"
	"github.com/dik654/k3s-console/internal/config"
	"github.com/dik654/k3s-console/internal/dispatch"
	"github.com/dik654/k3s-console/internal/genjob"
	"github.com/dik654/k3s-console/internal/logger"
	"github.com/dik654/k3s-console/internal/notify"
	"github.com/dik654/k3s-console/internal/reconcile"
	"github.com/dik654/k3s-console/internal/registry"
	"github.com/dik654/k3s-console/internal/repository"
	"github.com/dik654/k3s-console/pkg/httpserver"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// Initialize logger
	log := logger.FromFlags(*debug)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load configuration",
			"error", err.Error(),
		)
		os.Exit(1)
	}

	log.Info("configuration loaded",
		"cluster", cfg.Cluster.Address,
	)

	// Create cluster client
	repo, err := repository.NewClusterRepository(cfg.Cluster, log)
	if err != nil {
		log.Error("failed to create cluster client",
			"error", err.Error(),
		)
		os.Exit(1)
	}

	// Create optional etcd snapshot store
	var snapshots repository.SnapshotRepository
	if cfg.Etcd.Enabled {
		snapshots, err = repository.NewSnapshotRepository(cfg.Etcd, log)
		if err != nil {
			log.Error("failed to create etcd snapshot store",
				"error", err.Error(),
			)
			os.Exit(1)
		}
		defer snapshots.Close()
	}

	// Create registry and notification sinks
	reg := registry.New(log)
	defer reg.Close()

	feed := notify.NewFeed(200)
	sink := notify.Multi{notify.NewLogSink(log), feed}

	// Create dispatcher and job manager
	dispatcher := dispatch.New(repo, reg, sink, cfg.Actions.PollInterval, cfg.Actions.MaxAttempts, log)

	jobArchive := cache.New(cfg.Cache.TTL)
	jobs := genjob.New(repo, sink, jobArchive, snapshots,
		cfg.Jobs.PollInterval, cfg.Jobs.MaxAttempts, cfg.Cache.TTL, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs.RestoreArchive(ctx)

	// Create and start the periodic reconciler
	reconciler := reconcile.New(repo, reg, snapshots, cfg.Reconcile.Interval, log)
	reconciler.Start(ctx)

	// Create HTTP handler
	handler := api.NewHandler(reg, dispatcher, jobs, reconciler, feed,
		cfg.Server.BasePath, cfg.Etcd.Enabled, log)

	// Setup signal handling for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	// Create HTTP server
	srv := httpserver.New(
		cfg.Server.Addr,
		handler.Router(),
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
		log,
	)

	log.Info("starting k3s-console service")

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			serverErrors <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		log.Error("server error",
			"error", err.Error(),
		)
	case sig := <-quit:
		log.Info("received shutdown signal",
			"signal", sig.String(),
		)
	}

	// Graceful shutdown: stop accepting requests, then tear down the
	// pollers so no further remote calls are issued.
	if err := srv.Shutdown(); err != nil {
		log.Error("failed to shut down http server",
			"error", err.Error(),
		)
	}

	log.Info("shutting down reconciler")
	cancel()
	reconciler.Stop()

	log.Info("cancelling in-flight sessions")
	dispatcher.Stop()
	jobs.Stop()

	log.Info("shutdown complete")
}
