package main

import (
	"context"
	"io/fs"
	"testing"
	"time"

	"github.com/aqms/aqms/internal/config"
)

func TestParseRange(t *testing.T) {
	from, to, err := parseRange("2030-01-07", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !from.Equal(to) {
		t.Errorf("expected a single-day range, got %v..%v", from, to)
	}

	_, to, err = parseRange("2030-01-07", "2030-01-09")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if to.Day() != 9 {
		t.Errorf("expected to = 9th, got %v", to)
	}

	if _, _, err := parseRange("07/01/2030", ""); err == nil {
		t.Error("expected error for bad --from")
	}
	if _, _, err := parseRange("2030-01-07", "tomorrow"); err == nil {
		t.Error("expected error for bad --to")
	}
}

func TestPolicyFrom(t *testing.T) {
	p := policyFrom(&config.Config{MinAdvanceHoursForChange: 6, ReopenCancelledSlots: false})
	if p.MinAdvance != 6*time.Hour {
		t.Errorf("expected 6h, got %v", p.MinAdvance)
	}
	if p.ReopenCancelled {
		t.Error("expected ReopenCancelled=false")
	}
}

func TestMigrationsFS_PrefersDirectory(t *testing.T) {
	if _, err := fs.ReadFile(migrationsFS(&config.Config{}), "001_calendar.sql"); err != nil {
		t.Fatalf("expected embedded migrations by default: %v", err)
	}
	dir := t.TempDir()
	fsys := migrationsFS(&config.Config{MigrationsDir: dir})
	if _, err := fsys.Open("."); err != nil {
		t.Errorf("expected directory fs to open, got %v", err)
	}
}

func TestNewApp_MemoryStore(t *testing.T) {
	a, err := newApp(context.Background(), &config.Config{Store: config.StoreMemory, MinAdvanceHoursForChange: 24}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Close()
	if a.calendar == nil || a.appointments == nil || a.generator == nil || a.queue == nil {
		t.Fatal("expected every service to be wired")
	}
	if err := a.pinger.Ping(context.Background()); err != nil {
		t.Errorf("memory store ping: %v", err)
	}
}
