// Command bountybot runs the bounty lifecycle bot: the chat gateway, the
// HTTP API, the change feed that applies web board writes, and the repeat
// reconciler.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-bounty-bot/internal/config"
	"github.com/tbourn/go-bounty-bot/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Global flags
var (
	envFile  string
	logLevel string
)

// cfg is loaded once by the root command before any subcommand runs.
var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "bountybot",
	Short: "Bounty lifecycle bot for chat workspaces",
	Long: `bountybot manages bounties in chat workspaces and keeps them in sync with
the web bounty board.

Configuration comes from the environment (optionally a .env file).

Examples:
  bountybot serve                 # API, chat gateway and background workers
  bountybot serve --no-workers    # API and gateway only
  bountybot reconcile --json      # one repeat-reconciliation pass
  bountybot migrate               # create or update the schema`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		sysutil.SetupLogging(os.Stderr, sysutil.FirstNonEmpty(logLevel, cfg.LogLevel), cfg.LogPretty, cfg.OTEL.ServiceName)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(1)
	}
}
