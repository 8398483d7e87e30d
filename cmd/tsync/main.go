// Command tsync runs the bidirectional tracker synchronizer: a webhook
// listener, an admin API, and a reconciliation scanner over two Jira-style
// instances.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trackersync/trackersync/internal/debug"
)

var (
	version = "dev"

	cfgPath string
	verbose bool
)

func main() {
	root := &cobra.Command{
		Use:     "tsync",
		Short:   "Bidirectional issue tracker synchronization",
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				debug.SetVerbose(true)
			}
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(newServeCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newReconcileCmd())
	root.AddCommand(newPendingCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tsync: %v\n", err)
		os.Exit(1)
	}
}
