// Package fraud scores withdrawal requests on behavioural signals. The score
// is a clamped sum of independent factors in [0, 1]; a request scoring above
// the configured threshold is locked for manual review instead of entering
// the normal settlement queue.
package fraud

import (
	"context"
	"time"

	"github.com/engagehub/maintenance-core/internal/config"
	"github.com/engagehub/maintenance-core/internal/domain/ledger"
	"github.com/engagehub/maintenance-core/internal/domain/user"
	"github.com/engagehub/maintenance-core/internal/storage"
)

// Signals are the per-user observations the scorer weighs. The scorer is a
// pure function of a Signals value; collection is separate so tests can feed
// synthetic histories.
type Signals struct {
	AccountAge     time.Duration
	Completions24h int
	// Durations between assignment and completion for the last day's
	// completed tasks.
	CompletionDurations []time.Duration
	DistinctIPs7d       int
	DistinctDevices7d   int
	EarnTotal           int64
	CompletedTasks      int
}

// Factor is one contribution to the final score.
type Factor struct {
	Name   string
	Weight float64
}

// Score sums the triggered factors and clamps to [0, 1].
func Score(cfg config.FraudConfig, s Signals) (float64, []Factor) {
	var factors []Factor
	add := func(name string, w float64) {
		factors = append(factors, Factor{Name: name, Weight: w})
	}

	switch {
	case s.AccountAge < 24*time.Hour:
		add("account_under_1d", 0.4)
	case s.AccountAge < 7*24*time.Hour:
		add("account_under_7d", 0.2)
	case s.AccountAge < 30*24*time.Hour:
		add("account_under_30d", 0.1)
	}

	if s.Completions24h > cfg.VolumeThreshold {
		add("volume_24h", 0.3)
	}

	if n := len(s.CompletionDurations); n >= cfg.VelocityMinN {
		var total time.Duration
		for _, d := range s.CompletionDurations {
			total += d
		}
		if total/time.Duration(n) < time.Duration(cfg.VelocitySeconds)*time.Second {
			add("completion_velocity", 0.3)
		}
	}

	if s.DistinctIPs7d > cfg.IPChurn {
		add("ip_churn", 0.2)
	}
	if s.DistinctDevices7d > cfg.DeviceChurn {
		add("device_churn", 0.2)
	}

	// Earnings per completed task far above the ordinary reward range.
	if s.CompletedTasks > 0 && float64(s.EarnTotal)/float64(s.CompletedTasks) > cfg.YieldRatio {
		add("yield_anomaly", 0.2)
	}

	total := 0.0
	for _, f := range factors {
		total += f.Weight
	}
	if total > 1 {
		total = 1
	}
	return total, factors
}

// Collector gathers Signals from storage.
type Collector struct {
	tasks     storage.TaskStore
	ledgers   storage.LedgerStore
	forensics storage.ForensicsStore
}

// NewCollector wires a collector over the store.
func NewCollector(tasks storage.TaskStore, ledgers storage.LedgerStore, fs storage.ForensicsStore) *Collector {
	return &Collector{tasks: tasks, ledgers: ledgers, forensics: fs}
}

// Collect assembles the scorer's inputs for one user as of now.
func (c *Collector) Collect(ctx context.Context, u user.User, now time.Time) (Signals, error) {
	s := Signals{AccountAge: now.Sub(u.CreatedAt)}

	recent, err := c.tasks.CompletionsSince(ctx, u.ID, now.Add(-24*time.Hour))
	if err != nil {
		return Signals{}, err
	}
	s.Completions24h = len(recent)
	for _, t := range recent {
		if !t.CompletedAt.IsZero() && !t.AssignedAt.IsZero() {
			s.CompletionDurations = append(s.CompletionDurations, t.CompletedAt.Sub(t.AssignedAt))
		}
	}

	weekAgo := now.Add(-7 * 24 * time.Hour)
	if s.DistinctIPs7d, err = c.forensics.DistinctIPsSince(ctx, u.ID, weekAgo); err != nil {
		return Signals{}, err
	}
	if s.DistinctDevices7d, err = c.forensics.DistinctDevicesSince(ctx, u.ID, weekAgo); err != nil {
		return Signals{}, err
	}

	if s.EarnTotal, err = c.ledgers.TotalByKind(ctx, u.ID, ledger.KindEarn); err != nil {
		return Signals{}, err
	}
	if s.CompletedTasks, err = c.tasks.CompletedTaskCount(ctx, u.ID); err != nil {
		return Signals{}, err
	}
	return s, nil
}
