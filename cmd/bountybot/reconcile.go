package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-bounty-bot/internal/workers"
)

var reconcileJSON bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one repeat-reconciliation pass and exit",
	Long: `Spawn due occurrences of every active repeat template, delete stale
unclaimed ones and retire exhausted templates, then exit.

Useful from cron when the long-running scheduler is disabled.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		chat, err := newChat(cfg)
		if err != nil {
			return err
		}
		svc := newServices(cfg, db, chat.transport)

		rep := (&workers.Scheduler{Reconciler: svc.Reconciler}).RunOnce(cmd.Context())
		if rep == nil {
			return errors.New("reconcile pass did not run")
		}
		if reconcileJSON {
			errs := make([]string, 0, len(rep.Errors))
			for _, e := range rep.Errors {
				errs = append(errs, e.Error())
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"templates": rep.Templates,
				"spawned":   rep.Spawned,
				"deleted":   rep.Deleted,
				"exhausted": rep.Exhausted,
				"errors":    errs,
			})
		}
		fmt.Printf("templates=%d spawned=%d deleted=%d exhausted=%d errors=%d\n",
			rep.Templates, len(rep.Spawned), len(rep.Deleted), len(rep.Exhausted), len(rep.Errors))
		return nil
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileJSON, "json", false, "Print the report as JSON")
}
