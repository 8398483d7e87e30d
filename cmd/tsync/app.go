package main

import (
	"context"
	"fmt"
	"log"

	"github.com/trackersync/trackersync/internal/config"
	"github.com/trackersync/trackersync/internal/guard"
	"github.com/trackersync/trackersync/internal/jira"
	"github.com/trackersync/trackersync/internal/mapping"
	"github.com/trackersync/trackersync/internal/retry"
	"github.com/trackersync/trackersync/internal/storage"
	"github.com/trackersync/trackersync/internal/storage/memory"
	"github.com/trackersync/trackersync/internal/storage/sqlite"
	"github.com/trackersync/trackersync/internal/sync"
	"github.com/trackersync/trackersync/internal/translate"
)

// app bundles the wired components every subcommand needs.
type app struct {
	cfg      *config.Config
	kv       storage.Store
	mappings *mapping.Store
	engine   *sync.Engine
}

// buildApp loads config and constructs the storage, guard, translation, and
// engine stack shared by all subcommands.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var kv storage.Store
	switch cfg.Storage.Driver {
	case "memory":
		kv, err = memory.New()
	default:
		kv, err = sqlite.Open(cfg.Storage.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}

	mappings := mapping.New(kv)
	tables, err := translate.Load(ctx, kv)
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("load translation tables: %w", err)
	}

	exec := retry.New(cfg.Sync.RetryMaxAttempts, cfg.Sync.RetryBaseDelay, cfg.Sync.RateLimitCooldown)
	exec.IsRateLimit = jira.IsRateLimited

	engine := &sync.Engine{
		Local:  jira.NewClient("local", cfg.Local.BaseURL, cfg.Local.Username, cfg.Local.APIToken),
		Remote: jira.NewClient("remote", cfg.Remote.BaseURL, cfg.Remote.Username, cfg.Remote.APIToken),

		Mappings: mappings,
		Guard:    guard.New(kv, mappings, cfg.Sync.FlagTTL, cfg.Sync.CreateRaceWindow),
		Tables:   tables,
		Retry:    exec,
		Limits: sync.Limits{
			MaxAttachmentSize:      cfg.Sync.MaxAttachmentSize,
			DefaultStatus:          cfg.Sync.DefaultStatus,
			MaxPendingLinkAttempts: cfg.Sync.MaxPendingLinkAttempts,
		},

		LocalProject:  cfg.Local.ProjectKey,
		RemoteProject: cfg.Remote.ProjectKey,

		OnMessage: func(msg string) { log.Printf("sync: %s", msg) },
		OnWarning: func(msg string) { log.Printf("sync: warning: %s", msg) },
	}

	return &app{cfg: cfg, kv: kv, mappings: mappings, engine: engine}, nil
}

func (a *app) Close() error {
	return a.kv.Close()
}
