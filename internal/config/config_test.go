package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Withdraw.HoldHours != 48 || cfg.Withdraw.MinTasks != 50 {
		t.Fatalf("withdraw defaults = %+v", cfg.Withdraw)
	}
	if cfg.Fraud.LockThreshold != 0.8 {
		t.Fatalf("fraud lock threshold = %v", cfg.Fraud.LockThreshold)
	}
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("database defaults = %+v", cfg.Database)
	}
	if cfg.JobPeriods.PurgeStaleLogsSec != 86400 {
		t.Fatalf("purge period = %d", cfg.JobPeriods.PurgeStaleLogsSec)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("WITHDRAW_HOLD_HOURS", "24")
	t.Setenv("RATE_GAP_MS", "500")
	t.Setenv("SUSPICION_TASK_THRESHOLD", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Withdraw.Hold(); got != 24*time.Hour {
		t.Fatalf("hold = %v", got)
	}
	if got := cfg.Remote.RateGap(); got != 500*time.Millisecond {
		t.Fatalf("rate gap = %v", got)
	}
	if cfg.Suspicion.TaskThreshold != 5 {
		t.Fatalf("task threshold = %d", cfg.Suspicion.TaskThreshold)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	if cfg.Withdraw.Lock() != 96*time.Hour {
		t.Fatalf("lock = %v", cfg.Withdraw.Lock())
	}
	if cfg.Suspicion.Window() != time.Hour {
		t.Fatalf("window = %v", cfg.Suspicion.Window())
	}
}
