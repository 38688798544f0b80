// Package eligibility enforces the preconditions a user must meet before a
// withdrawal request is accepted. Gates run in a fixed order and the first
// failing gate decides the rejection reason.
package eligibility

import (
	"context"
	"fmt"
	"time"

	"github.com/engagehub/maintenance-core/internal/config"
	"github.com/engagehub/maintenance-core/internal/domain/user"
	apperrors "github.com/engagehub/maintenance-core/internal/errors"
	"github.com/engagehub/maintenance-core/internal/storage"
)

// Rejection reasons, stable identifiers surfaced to callers.
const (
	ReasonAccountTooYoung      = "account_too_young"
	ReasonInsufficientActivity = "insufficient_activity"
	ReasonHourlyCapExceeded    = "hourly_cap_exceeded"
	ReasonDailyCapExceeded     = "daily_cap_exceeded"
	ReasonTooFrequent          = "too_frequent"
)

// Gate checks withdrawal eligibility against account history.
type Gate struct {
	cfg         config.WithdrawConfig
	tasks       storage.TaskStore
	ledgers     storage.LedgerStore
	withdrawals storage.WithdrawalStore
}

// NewGate builds a gate over the store.
func NewGate(cfg config.WithdrawConfig, tasks storage.TaskStore, ledgers storage.LedgerStore, withdrawals storage.WithdrawalStore) *Gate {
	return &Gate{cfg: cfg, tasks: tasks, ledgers: ledgers, withdrawals: withdrawals}
}

// Check runs every gate in order and returns an eligibility error carrying
// the first failure's reason, or nil when the user may withdraw.
func (g *Gate) Check(ctx context.Context, u user.User, now time.Time) error {
	minAge := time.Duration(g.cfg.MinAccountDays) * 24 * time.Hour
	if now.Sub(u.CreatedAt) < minAge {
		return apperrors.Eligibility(ReasonAccountTooYoung, fmt.Sprintf("account younger than %d days", g.cfg.MinAccountDays))
	}

	completed, err := g.tasks.CompletedTaskCount(ctx, u.ID)
	if err != nil {
		return err
	}
	if completed < g.cfg.MinTasks {
		return apperrors.Eligibility(ReasonInsufficientActivity, fmt.Sprintf("%d of %d required task completions", completed, g.cfg.MinTasks))
	}

	hourly, err := g.ledgers.EarnSumSince(ctx, u.ID, now.Add(-time.Hour))
	if err != nil {
		return err
	}
	if hourly > g.cfg.EarnCapHourly {
		return apperrors.Eligibility(ReasonHourlyCapExceeded, fmt.Sprintf("earned %d in the last hour, cap %d", hourly, g.cfg.EarnCapHourly))
	}

	daily, err := g.ledgers.EarnSumSince(ctx, u.ID, now.Add(-24*time.Hour))
	if err != nil {
		return err
	}
	if daily > g.cfg.EarnCapDaily {
		return apperrors.Eligibility(ReasonDailyCapExceeded, fmt.Sprintf("earned %d in the last day, cap %d", daily, g.cfg.EarnCapDaily))
	}

	requests, err := g.withdrawals.CountWithdrawalsSince(ctx, u.ID, now.Add(-24*time.Hour))
	if err != nil {
		return err
	}
	if requests >= g.cfg.MaxPerDay {
		return apperrors.Eligibility(ReasonTooFrequent, fmt.Sprintf("%d withdrawal requests in the last day, limit %d", requests, g.cfg.MaxPerDay))
	}
	return nil
}
