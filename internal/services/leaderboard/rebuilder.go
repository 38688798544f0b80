// Package leaderboard rebuilds the per-period rankings from the earn trail.
// Rebuilds are deterministic: the same ledger state always produces the same
// board, ties broken by earlier first earn then smaller user id.
package leaderboard

import (
	"context"
	"fmt"
	"sort"

	"github.com/engagehub/maintenance-core/internal/clock"
	"github.com/engagehub/maintenance-core/internal/domain/badge"
	lb "github.com/engagehub/maintenance-core/internal/domain/leaderboard"
	"github.com/engagehub/maintenance-core/internal/domain/notification"
	"github.com/engagehub/maintenance-core/internal/notify"
	"github.com/engagehub/maintenance-core/internal/policy/badges"
	"github.com/engagehub/maintenance-core/internal/storage"
	"github.com/engagehub/maintenance-core/pkg/logger"
)

// boardSize caps how many ranks a board carries.
const boardSize = 100

// Rebuilder recomputes the weekly and monthly boards.
type Rebuilder struct {
	store storage.Store
	sink  notify.Sink
	clock clock.Clock
	log   *logger.Logger
}

// NewRebuilder wires the rebuilder.
func NewRebuilder(store storage.Store, sink notify.Sink, clk clock.Clock, log *logger.Logger) *Rebuilder {
	if log == nil {
		log = logger.NewDefault("leaderboard")
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Rebuilder{store: store, sink: sink, clock: clk, log: log}
}

// Rebuild recomputes both boards and awards the champion badges.
func (r *Rebuilder) Rebuild(ctx context.Context) error {
	for _, period := range []lb.Period{lb.PeriodWeekly, lb.PeriodMonthly} {
		if err := r.rebuildPeriod(ctx, period); err != nil {
			return fmt.Errorf("rebuild %s board: %w", period, err)
		}
	}
	return nil
}

func (r *Rebuilder) rebuildPeriod(ctx context.Context, period lb.Period) error {
	now := r.clock.Now()
	earnings, err := r.store.EarningsInWindow(ctx, now.Add(-period.Window()))
	if err != nil {
		return err
	}

	sort.Slice(earnings, func(i, j int) bool {
		a, b := earnings[i], earnings[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		if !a.FirstEarn.Equal(b.FirstEarn) {
			return a.FirstEarn.Before(b.FirstEarn)
		}
		return a.UserID < b.UserID
	})
	if len(earnings) > boardSize {
		earnings = earnings[:boardSize]
	}

	entries := make([]lb.Entry, len(earnings))
	for i, e := range earnings {
		entries[i] = lb.Entry{Period: period, UserID: e.UserID, Score: e.Total, Rank: i + 1}
	}
	if err := r.store.ReplaceLeaderboard(ctx, period, entries); err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.Rank > 3 {
			break
		}
		def, ok := badges.Champion(period, entry.Rank)
		if !ok {
			continue
		}
		if err := r.award(ctx, entry.UserID, def); err != nil {
			r.log.WithError(err).Warnf("champion badge for user %d failed", entry.UserID)
		}
	}

	r.log.Infof("%s board rebuilt with %d entries", period, len(entries))
	return nil
}

func (r *Rebuilder) award(ctx context.Context, userID int64, def badge.Badge) error {
	fresh, err := r.store.AwardBadgeIfMissing(ctx, badge.UserBadge{
		UserID:    userID,
		BadgeID:   def.ID,
		AwardedAt: r.clock.Now(),
	})
	if err != nil || !fresh {
		return err
	}
	if r.sink != nil {
		r.sink.Emit(notification.Intent{
			UserID:   userID,
			Kind:     notification.KindBadgeEarned,
			Priority: notification.PriorityLow,
			Title:    "Badge earned",
			Body:     "You earned the " + def.Name + " badge.",
			Payload:  map[string]string{"badge_id": fmt.Sprint(def.ID)},
		})
	}
	return nil
}
