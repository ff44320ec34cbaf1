// Package main implements the entry point for the cadenza background
// runtime: the process that owns task queues, worker pools, autoscalers and
// the shared coordination state for a fleet of stateless containers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/cadenza/internal/api"
	"github.com/phrazzld/cadenza/internal/config"
	"github.com/phrazzld/cadenza/internal/platform/logger"
	"github.com/phrazzld/cadenza/internal/platform/redisstore"
	"github.com/phrazzld/cadenza/internal/prep"
	"github.com/phrazzld/cadenza/internal/progress"
	"github.com/phrazzld/cadenza/internal/scale"
	"github.com/phrazzld/cadenza/internal/state"
	"github.com/phrazzld/cadenza/internal/sysmon"
	"github.com/phrazzld/cadenza/internal/task"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logg := logger.Setup(cfg.Server)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	containerID := uuid.NewString()
	logg.Info("starting cadenza runtime",
		"container", containerID,
		"port", cfg.Server.Port,
		"domains", len(cfg.Domains))

	store, err := redisstore.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logg.Warn("failed to close store client", "error", closeErr)
		}
	}()

	manager := state.NewManager(cfg.Redis.Namespace, store, logg)
	broadcaster := progress.NewBroadcaster(logg)
	runtime := task.NewRuntime(
		cfg.Domains,
		cfg.Scaling.GlobalWorkerCeiling,
		manager.Status,
		broadcaster,
		containerID,
		logg,
	)

	// Domains configured with an external prepare command get it as their
	// handler; anything else must be registered by the embedding
	// application before submission.
	for name, dom := range cfg.Domains {
		if len(dom.Command) == 0 {
			logg.Warn("domain has no prepare command; register a handler before submitting",
				"domain", name)
			continue
		}
		h := task.Handler{Run: prep.Command(dom.Command, logg.With("domain", name))}
		if err := runtime.RegisterHandler(name, h); err != nil {
			return err
		}
	}

	if err := runtime.Start(ctx); err != nil {
		return err
	}
	defer runtime.Stop()

	sampler := sysmon.New()
	group, gctx := errgroup.WithContext(ctx)

	for name := range cfg.Domains {
		pool, _ := runtime.Pool(name)
		scaler := scale.New(pool, cfg.Domains[name], cfg.Scaling, runtime.Ceiling(), sampler, logg)
		group.Go(func() error {
			scaler.Run(gctx)
			return nil
		})
	}

	group.Go(func() error {
		manager.RunCleanup(gctx, cfg.Scaling.CleanupInterval, cfg.Scaling.CleanupMaxAge)
		return nil
	})

	handler := api.NewHandler(runtime, manager, logg)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group.Go(func() error {
		logg.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		return err
	}
	logg.Info("shutdown complete")
	return nil
}
