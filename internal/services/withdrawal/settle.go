package withdrawal

import (
	"context"
	"fmt"
	"time"

	"github.com/engagehub/maintenance-core/internal/domain/notification"
	"github.com/engagehub/maintenance-core/internal/domain/withdrawal"
	apperrors "github.com/engagehub/maintenance-core/internal/errors"
	"github.com/engagehub/maintenance-core/internal/metrics"
	"github.com/engagehub/maintenance-core/internal/storage"
)

// Settle approves pending requests whose hold has elapsed. Rows flagged
// suspicious never reach this path; a fresh suspicious trace in the forensics
// log relocks the request instead of approving it.
func (e *Engine) Settle(ctx context.Context) error {
	now := e.clock.Now()
	due, err := e.store.PendingWithdrawalsRequestedBefore(ctx, now.Add(-e.cfg.Hold()))
	if err != nil {
		return err
	}

	recheck := time.Duration(e.suspicion.RecheckDays) * 24 * time.Hour
	for _, req := range due {
		if err := ctx.Err(); err != nil {
			return err
		}

		suspicious, err := e.store.HasSuspiciousLogSince(ctx, req.UserID, now.Add(-recheck))
		if err != nil {
			e.log.WithError(err).Warnf("suspicion recheck for request %d failed", req.ID)
			continue
		}

		if suspicious {
			flag := true
			if _, err := e.store.TransitionWithdrawal(ctx, req.ID,
				withdrawal.StatusPending, withdrawal.StatusLocked,
				storage.WithdrawalChange{LockedUntil: now.Add(recheck), Suspicious: &flag}); err != nil {
				e.logTransitionErr(req.ID, err)
				continue
			}
			metrics.ObserveWithdrawalDecision("relocked")
			e.emit(notification.Intent{
				UserID:   req.UserID,
				Kind:     notification.KindWithdrawalLocked,
				Priority: notification.PriorityHigh,
				Title:    "Withdrawal under review",
				Body:     "Your withdrawal request was placed under manual review.",
				Payload:  map[string]string{"request_id": fmt.Sprint(req.ID)},
			})
			continue
		}

		if _, err := e.store.TransitionWithdrawal(ctx, req.ID,
			withdrawal.StatusPending, withdrawal.StatusApproved,
			storage.WithdrawalChange{ProcessedAt: now}); err != nil {
			e.logTransitionErr(req.ID, err)
			continue
		}
		if err := e.store.VerifyBalance(ctx, req.UserID); err != nil {
			e.log.WithError(err).Errorf("balance invariant violated for user %d", req.UserID)
			return err
		}
		metrics.ObserveWithdrawalDecision("approved")
		e.emit(notification.Intent{
			UserID:   req.UserID,
			Kind:     notification.KindWithdrawalApproved,
			Priority: notification.PriorityMedium,
			Title:    "Withdrawal approved",
			Body:     "Your withdrawal request was approved for payout.",
			Payload:  map[string]string{"request_id": fmt.Sprint(req.ID)},
		})
	}
	return nil
}

// logTransitionErr downgrades lost races to debug noise; something else moved
// the row first and that outcome stands.
func (e *Engine) logTransitionErr(id int64, err error) {
	if apperrors.IsKind(err, apperrors.KindConflict) {
		e.log.Debugf("request %d changed state concurrently", id)
		return
	}
	e.log.WithError(err).Warnf("transition for request %d failed", id)
}
