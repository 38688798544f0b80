package leaderboard

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/engagehub/maintenance-core/internal/clock"
	"github.com/engagehub/maintenance-core/internal/domain/ledger"
	lb "github.com/engagehub/maintenance-core/internal/domain/leaderboard"
	"github.com/engagehub/maintenance-core/internal/domain/notification"
	"github.com/engagehub/maintenance-core/internal/domain/user"
	"github.com/engagehub/maintenance-core/internal/notify"
	"github.com/engagehub/maintenance-core/internal/storage/memory"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedEarner(t *testing.T, s *memory.Store, name string, amounts []int64, firstEarn time.Time) user.User {
	t.Helper()
	ctx := context.Background()
	u, err := s.CreateUser(ctx, user.User{Username: name})
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	for i, amount := range amounts {
		if _, err := s.AppendLedgerAndAdjustBalance(ctx, ledger.Entry{
			UserID: u.ID, Amount: amount, Kind: ledger.KindEarn,
			CreatedAt: firstEarn.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("seed earn for %s: %v", name, err)
		}
	}
	return u
}

func TestRebuildRanksByScoreThenFirstEarnThenID(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	rec := notify.NewRecorder()
	r := NewRebuilder(s, rec, clock.NewManual(start), nil)

	// B earned its total before A did; C trails both.
	a := seedEarner(t, s, "a", []int64{300, 200}, start.Add(-20*time.Hour))
	b := seedEarner(t, s, "b", []int64{500}, start.Add(-40*time.Hour))
	c := seedEarner(t, s, "c", []int64{100}, start.Add(-10*time.Hour))

	if err := r.Rebuild(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	board, err := s.Leaderboard(ctx, lb.PeriodWeekly)
	if err != nil {
		t.Fatalf("read board: %v", err)
	}
	wantOrder := []int64{b.ID, a.ID, c.ID}
	if len(board) != 3 {
		t.Fatalf("board size = %d", len(board))
	}
	for i, entry := range board {
		if entry.UserID != wantOrder[i] || entry.Rank != i+1 {
			t.Fatalf("rank %d = user %d, want user %d", entry.Rank, entry.UserID, wantOrder[i])
		}
	}
	if board[0].Score != 500 || board[1].Score != 500 {
		t.Fatalf("scores = %d/%d, want the tie preserved", board[0].Score, board[1].Score)
	}
}

func TestRebuildIsDeterministic(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	r := NewRebuilder(s, notify.NewRecorder(), clock.NewManual(start), nil)

	seedEarner(t, s, "a", []int64{250}, start.Add(-30*time.Hour))
	seedEarner(t, s, "b", []int64{250}, start.Add(-30*time.Hour))
	seedEarner(t, s, "c", []int64{400}, start.Add(-5*time.Hour))

	if err := r.Rebuild(ctx); err != nil {
		t.Fatalf("first rebuild: %v", err)
	}
	first, _ := s.Leaderboard(ctx, lb.PeriodWeekly)

	if err := r.Rebuild(ctx); err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
	second, _ := s.Leaderboard(ctx, lb.PeriodWeekly)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("rebuilds diverged:\n%+v\n%+v", first, second)
	}
}

func TestRebuildWindowsDiffer(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	r := NewRebuilder(s, notify.NewRecorder(), clock.NewManual(start), nil)

	// Inside the month but outside the week.
	old := seedEarner(t, s, "old", []int64{900}, start.Add(-14*24*time.Hour))
	fresh := seedEarner(t, s, "fresh", []int64{100}, start.Add(-24*time.Hour))

	if err := r.Rebuild(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	weekly, _ := s.Leaderboard(ctx, lb.PeriodWeekly)
	if len(weekly) != 1 || weekly[0].UserID != fresh.ID {
		t.Fatalf("weekly board = %+v", weekly)
	}
	monthly, _ := s.Leaderboard(ctx, lb.PeriodMonthly)
	if len(monthly) != 2 || monthly[0].UserID != old.ID {
		t.Fatalf("monthly board = %+v", monthly)
	}
}

func TestRebuildAwardsChampionBadgesOnce(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	rec := notify.NewRecorder()
	r := NewRebuilder(s, rec, clock.NewManual(start), nil)

	top := seedEarner(t, s, "top", []int64{500}, start.Add(-20*time.Hour))
	second := seedEarner(t, s, "second", []int64{300}, start.Add(-20*time.Hour))

	if err := r.Rebuild(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	// Weekly 40/41 and monthly 43/44 for the two ranked users.
	wantBadges := map[int64][]int64{top.ID: {40, 43}, second.ID: {41, 44}}
	for userID, want := range wantBadges {
		held, _ := s.BadgesByUser(ctx, userID)
		got := make(map[int64]bool, len(held))
		for _, ub := range held {
			got[ub.BadgeID] = true
		}
		for _, id := range want {
			if !got[id] {
				t.Fatalf("user %d missing badge %d: %v", userID, id, got)
			}
		}
	}
	if got := len(rec.ByKind(notification.KindBadgeEarned)); got != 4 {
		t.Fatalf("badge intents = %d, want 4", got)
	}

	// A second rebuild re-awards nothing.
	if err := r.Rebuild(ctx); err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
	if got := len(rec.ByKind(notification.KindBadgeEarned)); got != 4 {
		t.Fatalf("badge intents after rerun = %d, want still 4", got)
	}
}
