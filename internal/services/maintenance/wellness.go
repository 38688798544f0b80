package maintenance

import (
	"context"
	"time"

	"github.com/engagehub/maintenance-core/internal/domain/notification"
)

// nudgeMessages rotate round-robin so heavy users don't see the same text on
// every nudge.
var nudgeMessages = []string{
	"You've been on a roll today. A short break can do wonders.",
	"Long stretch of tasks behind you. Time to stretch your legs?",
	"Great pace today. Remember to step away from the screen now and then.",
	"You've earned a breather. The tasks will still be here later.",
}

// WellnessNudges sends a low-priority break reminder to users who completed
// more than the threshold in the last day. A persisted nudge trace suppresses
// repeats inside the quiet window, across restarts.
func (s *Service) WellnessNudges(ctx context.Context) error {
	now := s.clock.Now()
	stats, err := s.store.UsersWithCompletionsSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return err
	}

	quiet := time.Duration(s.wellness.SuppressHours) * time.Hour
	for _, stat := range stats {
		if err := ctx.Err(); err != nil {
			return err
		}
		if stat.Completed <= s.wellness.TaskThreshold {
			continue
		}

		last, ok, err := s.store.LastNudgeAt(ctx, stat.UserID, notification.KindMentalHealth)
		if err != nil {
			s.log.WithError(err).Warnf("nudge lookup for user %d failed", stat.UserID)
			continue
		}
		if ok && now.Sub(last) < quiet {
			continue
		}

		msg := nudgeMessages[s.nudgeCursor%len(nudgeMessages)]
		s.nudgeCursor++

		if _, err := s.store.RecordNudge(ctx, notification.NudgeRecord{
			UserID: stat.UserID,
			Kind:   notification.KindMentalHealth,
			SentAt: now,
		}); err != nil {
			s.log.WithError(err).Warnf("nudge trace for user %d failed", stat.UserID)
			continue
		}
		s.emit(notification.Intent{
			UserID:   stat.UserID,
			Kind:     notification.KindMentalHealth,
			Priority: notification.PriorityLow,
			Title:    "Take a break",
			Body:     msg,
		})
	}
	return nil
}
