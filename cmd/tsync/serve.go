package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/trackersync/trackersync/internal/bulk"
	"github.com/trackersync/trackersync/internal/reconcile"
	"github.com/trackersync/trackersync/internal/rpc"
	"github.com/trackersync/trackersync/internal/telemetry"
	"github.com/trackersync/trackersync/internal/webhook"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook listener, admin API, and reconciliation scanner",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := telemetry.Init(ctx, "trackersync", version); err != nil {
		log.Printf("telemetry disabled: %v", err)
	}
	defer telemetry.Shutdown(context.Background())

	runner := &bulk.Runner{Engine: a.engine, Delay: a.cfg.Sync.IssueDelay}

	hooks := &webhook.Server{
		Engine: a.engine,
		Secret: a.cfg.Webhook.Secret,
		Addr:   a.cfg.Webhook.Addr,
	}
	admin := &rpc.Server{
		Engine:   a.engine,
		Bulk:     runner,
		Mappings: a.mappings,
		KV:       a.kv,
		Token:    a.cfg.Admin.Token,
		Addr:     a.cfg.Admin.Addr,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := hooks.ListenAndServe(); err != nil {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := admin.ListenAndServe(); err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// Drain both listeners once the signal context (or a failing
		// sibling) cancels, so g.Wait can return.
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hooks.Shutdown(sctx); err != nil {
			log.Printf("webhook shutdown: %v", err)
		}
		if err := admin.Shutdown(sctx); err != nil {
			log.Printf("admin shutdown: %v", err)
		}
		return nil
	})
	if a.cfg.Reconcile.Enabled {
		scanner := &reconcile.Scanner{
			Engine:    a.engine,
			Mappings:  a.mappings,
			Interval:  a.cfg.Reconcile.Interval,
			Projects:  a.cfg.Reconcile.Projects,
			Window:    a.cfg.Reconcile.Window,
			Delay:     a.cfg.Sync.IssueDelay,
			OnMessage: func(msg string) { log.Printf("reconcile: %s", msg) },
		}
		g.Go(func() error {
			return scanner.Run(ctx)
		})
	}

	log.Printf("tsync %s: webhook on %s, admin on %s, reconcile enabled=%v",
		version, a.cfg.Webhook.Addr, a.cfg.Admin.Addr, a.cfg.Reconcile.Enabled)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Printf("shutting down")
	return nil
}
