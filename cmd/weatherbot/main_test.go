package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestMigrateRejectsUnknownDirection(t *testing.T) {
	if _, err := execute(t, "migrate", "sideways"); err == nil {
		t.Fatal("expected error for unknown migrate direction")
	}
	if _, err := execute(t, "migrate"); err == nil {
		t.Fatal("expected error when direction is missing")
	}
}

func TestMigrateNeedsDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte("storage:\n  driver: postgres\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := execute(t, "migrate", "up", "-c", p)
	if err == nil || !strings.Contains(err.Error(), "dsn") {
		t.Fatalf("err = %v, want missing dsn", err)
	}
}

func TestBroadcastRejectsInvalidConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(p, []byte(`{"telegram":{"token":""}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TELEGRAM_TOKEN", "")
	if _, err := execute(t, "broadcast", "-c", p); err == nil {
		t.Fatal("expected validation error")
	}
}
