package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParse_Defaults(t *testing.T) {
	// WHAT: An empty document yields the documented defaults.
	// WHY: The CLI runs without a config file and relies on these budgets.
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
	if cfg.Poll.Rows.Attempts != 10 || cfg.Poll.Rows.Interval != 300*time.Millisecond {
		t.Fatalf("rows budget: %+v", cfg.Poll.Rows)
	}
	if cfg.Browser.Mode != "headless" || cfg.API.Burst != 1 {
		t.Fatalf("got %+v", cfg)
	}
}

func TestLoadFile_OverridesKeepOtherDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triage.yaml")
	src := `
browser:
  remote: ws://127.0.0.1:9222/devtools/browser/x
  resource_blocking: [images, fonts]
host:
  saas_domain: sentry.io
poll:
  rows:
    attempts: 4
api:
  rate_per_second: 2.5
journal:
  path: /tmp/triage.db
  retention_days: 14
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Poll.Rows.Attempts != 4 || cfg.Poll.Rows.Interval != 300*time.Millisecond {
		t.Fatalf("rows budget: %+v", cfg.Poll.Rows)
	}
	if diff := cmp.Diff([]string{"images", "fonts"}, cfg.Browser.ResourceBlocking); diff != "" {
		t.Fatalf("resource blocking (-want +got):\n%s", diff)
	}
	if cfg.Host.SaaSDomain != "sentry.io" || cfg.API.RatePerSecond != 2.5 || cfg.Journal.Path != "/tmp/triage.db" {
		t.Fatalf("got %+v", cfg)
	}
	if cfg.Journal.RetentionDays != 14 {
		t.Fatalf("retention: got %d, want 14", cfg.Journal.RetentionDays)
	}
}

func TestParse_RejectsNegativeRetention(t *testing.T) {
	if _, err := Parse([]byte("journal:\n  retention_days: -1\n")); err == nil {
		t.Fatal("expected an error for negative retention")
	}
}

func TestParse_RejectsUnknownMode(t *testing.T) {
	if _, err := Parse([]byte("browser:\n  mode: kiosk\n")); err == nil {
		t.Fatal("expected an error for an unknown browser mode")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
