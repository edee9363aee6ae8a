package main

import (
	"os"
	"path/filepath"
	"testing"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(dir, "bounties.db"))
	t.Setenv("TRANSPORT", "memory")
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	return rootCmd.Execute()
}

func TestRootCommand_Subcommands(t *testing.T) {
	want := map[string]bool{"serve": false, "reconcile": false, "migrate": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("subcommand %q not registered", name)
		}
	}
}

func TestMigrateThenReconcile(t *testing.T) {
	dir := setupEnv(t)
	envFile := filepath.Join(dir, "missing.env")

	if err := execute(t, "migrate", "--env-file", envFile); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "bounties.db")); err != nil {
		t.Fatalf("database file not created: %v", err)
	}
	if err := execute(t, "reconcile", "--env-file", envFile); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
}

func TestEnvFileIsLoaded(t *testing.T) {
	dir := setupEnv(t)
	envFile := filepath.Join(dir, "bot.env")
	if err := os.WriteFile(envFile, []byte("BOUNTY_BOARD_URL=https://board.example/\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("BOUNTY_BOARD_URL") })

	if err := execute(t, "migrate", "--env-file", envFile); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if cfg.BountyBoardURL != "https://board.example/" {
		t.Fatalf("env file not applied, BountyBoardURL=%q", cfg.BountyBoardURL)
	}
}

func TestInvalidConfigFails(t *testing.T) {
	dir := setupEnv(t)
	t.Setenv("TRANSPORT", "carrier-pigeon")
	if err := execute(t, "migrate", "--env-file", filepath.Join(dir, "missing.env")); err == nil {
		t.Fatalf("expected config validation error")
	}
}
