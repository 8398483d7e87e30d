package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trackersync/trackersync/internal/reconcile"
	"github.com/trackersync/trackersync/internal/types"
)

func newSyncCmd() *cobra.Command {
	var fromRemote bool
	cmd := &cobra.Command{
		Use:   "sync KEY",
		Short: "Sync a single issue to its counterpart now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			origin := types.OriginLocal
			if fromRemote {
				origin = types.OriginRemote
			}
			key := args[0]

			var src = a.engine.Local
			if origin == types.OriginRemote {
				src = a.engine.Remote
			}
			issue, err := src.GetIssue(ctx, key)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", key, err)
			}
			if issue == nil {
				return fmt.Errorf("issue %s not found on the %s tracker", key, origin)
			}

			result, err := a.engine.SyncIssue(ctx, origin, issue, nil)
			printJSON(result)
			return err
		},
	}
	cmd.Flags().BoolVar(&fromRemote, "from-remote", false, "treat KEY as a remote issue and sync it to the local tracker")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			scanner := &reconcile.Scanner{
				Engine:   a.engine,
				Mappings: a.mappings,
				Projects: a.cfg.Reconcile.Projects,
				Window:   a.cfg.Reconcile.Window,
				Delay:    a.cfg.Sync.IssueDelay,
			}
			stats, err := scanner.ScanOnce(ctx)
			printJSON(stats)
			return err
		},
	}
}

func newPendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Inspect and retry deferred issue links",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List links waiting for their target to be mapped",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			pending, err := a.mappings.PendingLinks(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(pending)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "retry",
		Short: "Retry every pending link whose target has since been mapped",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			stats, err := a.engine.RetryPendingLinks(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(stats)
			return nil
		},
	})
	return cmd
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "tsync: encode output: %v\n", err)
	}
}
