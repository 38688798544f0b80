package awarder

import (
	"context"
	"testing"
	"time"

	"github.com/engagehub/maintenance-core/internal/clock"
	"github.com/engagehub/maintenance-core/internal/domain/ledger"
	"github.com/engagehub/maintenance-core/internal/domain/notification"
	"github.com/engagehub/maintenance-core/internal/domain/order"
	"github.com/engagehub/maintenance-core/internal/domain/task"
	"github.com/engagehub/maintenance-core/internal/domain/user"
	"github.com/engagehub/maintenance-core/internal/notify"
	"github.com/engagehub/maintenance-core/internal/storage/memory"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestEvaluateForUserAwardsSatisfiedTiers(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	rec := notify.NewRecorder()
	a := New(s, rec, clock.NewManual(start), nil)

	u, _ := s.CreateUser(ctx, user.User{Username: "earner", DailyStreak: 7})
	o, _ := s.CreateOrder(ctx, order.Order{
		OwnerID: u.ID, Kind: order.KindLike, TargetURL: "https://example.com/p/1",
		TargetCount: 10, Status: order.StatusActive,
	})
	for i := 0; i < 5; i++ {
		s.CreateTask(ctx, task.Task{
			OrderID: o.ID, AssigneeID: u.ID, Status: task.StatusCompleted,
			AssignedAt: start.Add(-2 * time.Hour), CompletedAt: start.Add(-time.Hour),
		})
	}
	s.AppendLedgerAndAdjustBalance(ctx, ledger.Entry{UserID: u.ID, Amount: 150, Kind: ledger.KindEarn})
	ref, _ := s.CreateUser(ctx, user.User{Username: "referred"})
	s.CreateReferral(ctx, user.Referral{ReferrerID: u.ID, ReferredID: ref.ID})

	awarded, err := a.EvaluateForUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	// 5 completions, 150 earned, 7-day streak: task tiers 1 and 5, earn
	// tier 100, streak tier 7. One referral crosses nothing.
	want := map[int64]bool{1: true, 2: true, 10: true, 20: true}
	if len(awarded) != len(want) {
		t.Fatalf("awarded %d badges: %+v", len(awarded), awarded)
	}
	for _, b := range awarded {
		if !want[b.ID] {
			t.Fatalf("unexpected badge %d", b.ID)
		}
	}
	if got := len(rec.ByKind(notification.KindBadgeEarned)); got != len(want) {
		t.Fatalf("intents = %d, want %d", got, len(want))
	}
}

func TestEvaluateForUserIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	rec := notify.NewRecorder()
	a := New(s, rec, clock.NewManual(start), nil)

	u, _ := s.CreateUser(ctx, user.User{Username: "repeat"})
	s.AppendLedgerAndAdjustBalance(ctx, ledger.Entry{UserID: u.ID, Amount: 100, Kind: ledger.KindEarn})

	first, err := a.EvaluateForUser(ctx, u.ID)
	if err != nil || len(first) != 1 {
		t.Fatalf("first pass = %v, %v", first, err)
	}
	second, err := a.EvaluateForUser(ctx, u.ID)
	if err != nil || len(second) != 0 {
		t.Fatalf("second pass re-awarded: %v, %v", second, err)
	}
	if got := len(rec.ByKind(notification.KindBadgeEarned)); got != 1 {
		t.Fatalf("intents = %d, want 1", got)
	}
}
