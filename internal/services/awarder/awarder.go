// Package awarder evaluates the badge catalogue for a user and books every
// newly satisfied award. Event producers call it after task completions and
// referral applications; period champions are handled by the leaderboard
// rebuilder instead.
package awarder

import (
	"context"
	"fmt"

	"github.com/engagehub/maintenance-core/internal/clock"
	"github.com/engagehub/maintenance-core/internal/domain/badge"
	"github.com/engagehub/maintenance-core/internal/domain/ledger"
	"github.com/engagehub/maintenance-core/internal/domain/notification"
	"github.com/engagehub/maintenance-core/internal/notify"
	"github.com/engagehub/maintenance-core/internal/policy/badges"
	"github.com/engagehub/maintenance-core/internal/storage"
	"github.com/engagehub/maintenance-core/pkg/logger"
)

// Awarder turns store state into badge awards.
type Awarder struct {
	store storage.Store
	sink  notify.Sink
	clock clock.Clock
	log   *logger.Logger
}

// New wires an awarder.
func New(store storage.Store, sink notify.Sink, clk clock.Clock, log *logger.Logger) *Awarder {
	if log == nil {
		log = logger.NewDefault("awarder")
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Awarder{store: store, sink: sink, clock: clk, log: log}
}

// EvaluateForUser awards every threshold badge the user's current counters
// satisfy and returns the freshly awarded definitions. Re-awards are silent
// no-ops at the store.
func (a *Awarder) EvaluateForUser(ctx context.Context, userID int64) ([]badge.Badge, error) {
	u, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := badges.Stats{DailyStreak: u.DailyStreak}
	if stats.CompletedTasks, err = a.store.CompletedTaskCount(ctx, userID); err != nil {
		return nil, err
	}
	if stats.EarnTotal, err = a.store.TotalByKind(ctx, userID, ledger.KindEarn); err != nil {
		return nil, err
	}
	if stats.Referrals, err = a.store.CountReferrals(ctx, userID); err != nil {
		return nil, err
	}

	var awarded []badge.Badge
	for _, def := range badges.Evaluate(stats) {
		fresh, err := a.store.AwardBadgeIfMissing(ctx, badge.UserBadge{
			UserID:    userID,
			BadgeID:   def.ID,
			AwardedAt: a.clock.Now(),
		})
		if err != nil {
			return awarded, err
		}
		if !fresh {
			continue
		}
		awarded = append(awarded, def)
		if a.sink != nil {
			a.sink.Emit(notification.Intent{
				UserID:   userID,
				Kind:     notification.KindBadgeEarned,
				Priority: notification.PriorityLow,
				Title:    "Badge earned",
				Body:     "You earned the " + def.Name + " badge.",
				Payload:  map[string]string{"badge_id": fmt.Sprint(def.ID)},
			})
		}
	}
	if len(awarded) > 0 {
		a.log.WithField("user_id", userID).Infof("awarded %d badges", len(awarded))
	}
	return awarded, nil
}
