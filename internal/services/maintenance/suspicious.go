package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/engagehub/maintenance-core/internal/domain/forensics"
	"github.com/engagehub/maintenance-core/internal/domain/notification"
	"github.com/engagehub/maintenance-core/internal/domain/withdrawal"
	apperrors "github.com/engagehub/maintenance-core/internal/errors"
	"github.com/engagehub/maintenance-core/internal/storage"
)

// DetectSuspicious finds users completing tasks faster than the configured
// threshold inside the window, records a suspicious trace, locks their
// pending withdrawals and alerts every admin. Earning continues; only cashing
// out is gated behind review.
func (s *Service) DetectSuspicious(ctx context.Context) error {
	now := s.clock.Now()
	stats, err := s.store.UsersWithCompletionsSince(ctx, now.Add(-s.suspicion.Window()))
	if err != nil {
		return err
	}

	relock := time.Duration(s.suspicion.RelockHours) * time.Hour
	for _, stat := range stats {
		if err := ctx.Err(); err != nil {
			return err
		}
		if stat.Completed <= s.suspicion.TaskThreshold {
			continue
		}

		if _, err := s.store.AppendDeviceIPLog(ctx, forensics.DeviceIPLog{
			UserID: stat.UserID,
			Action: forensics.ActionSuspiciousRapidCompletion,
		}); err != nil {
			s.log.WithError(err).Warnf("suspicious trace for user %d failed", stat.UserID)
			continue
		}

		locked, err := s.lockPendingWithdrawals(ctx, stat.UserID, now.Add(relock))
		if err != nil {
			s.log.WithError(err).Warnf("lock withdrawals for user %d failed", stat.UserID)
		}

		s.log.WithField("user_id", stat.UserID).
			Warnf("rapid completion: %d tasks in window, %d withdrawals locked", stat.Completed, locked)
		s.alertAdmins(ctx, fmt.Sprintf("user %d completed %d tasks within %s", stat.UserID, stat.Completed, s.suspicion.Window()))
	}
	return nil
}

func (s *Service) lockPendingWithdrawals(ctx context.Context, userID int64, until time.Time) (int, error) {
	pending, err := s.store.PendingWithdrawalsByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	locked := 0
	flag := true
	for _, req := range pending {
		_, err := s.store.TransitionWithdrawal(ctx, req.ID,
			withdrawal.StatusPending, withdrawal.StatusLocked,
			storage.WithdrawalChange{LockedUntil: until, Suspicious: &flag})
		if err != nil {
			if apperrors.IsKind(err, apperrors.KindConflict) {
				continue
			}
			return locked, err
		}
		locked++
	}
	return locked, nil
}

func (s *Service) alertAdmins(ctx context.Context, body string) {
	admins, err := s.store.ListAdmins(ctx)
	if err != nil {
		s.log.WithError(err).Warn("list admins failed")
		return
	}
	for _, admin := range admins {
		s.emit(notification.Intent{
			UserID:   admin.ID,
			Kind:     notification.KindSecurityAlert,
			Priority: notification.PriorityUrgent,
			Title:    "Security alert",
			Body:     body,
		})
	}
}
