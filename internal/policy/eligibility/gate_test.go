package eligibility

import (
	"context"
	"testing"
	"time"

	"github.com/engagehub/maintenance-core/internal/config"
	"github.com/engagehub/maintenance-core/internal/domain/ledger"
	"github.com/engagehub/maintenance-core/internal/domain/order"
	"github.com/engagehub/maintenance-core/internal/domain/task"
	"github.com/engagehub/maintenance-core/internal/domain/user"
	"github.com/engagehub/maintenance-core/internal/domain/withdrawal"
	apperrors "github.com/engagehub/maintenance-core/internal/errors"
	"github.com/engagehub/maintenance-core/internal/storage"
	"github.com/engagehub/maintenance-core/internal/storage/memory"
)

// seededGate builds a user that passes every gate, plus a gate bound to the
// same store so tests can then violate one rule at a time.
func seededGate(t *testing.T) (*memory.Store, *Gate, user.User, time.Time) {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	now := time.Now().UTC()

	u, err := s.CreateUser(ctx, user.User{Username: "w", CreatedAt: now.Add(-30 * 24 * time.Hour)})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	o, _ := s.CreateOrder(ctx, order.Order{OwnerID: u.ID, Kind: order.KindLike, TargetURL: "https://example.com/p", TargetCount: 100, Status: order.StatusActive})
	for i := 0; i < 50; i++ {
		if _, err := s.CreateTask(ctx, task.Task{
			OrderID: o.ID, AssigneeID: u.ID, Status: task.StatusCompleted,
			AssignedAt:  now.Add(-72 * time.Hour),
			CompletedAt: now.Add(-48 * time.Hour),
		}); err != nil {
			t.Fatalf("seed task: %v", err)
		}
	}
	return s, NewGate(config.Default().Withdraw, s, s, s), u, now
}

func checkReason(t *testing.T, err error, reason string) {
	t.Helper()
	if !apperrors.IsKind(err, apperrors.KindEligibility) {
		t.Fatalf("err = %v, want eligibility", err)
	}
	if got := apperrors.ReasonOf(err); got != reason {
		t.Fatalf("reason = %q, want %q", got, reason)
	}
}

func TestGatePassesQualifiedUser(t *testing.T) {
	_, g, u, now := seededGate(t)
	if err := g.Check(context.Background(), u, now); err != nil {
		t.Fatalf("qualified user rejected: %v", err)
	}
}

func TestGateAccountTooYoung(t *testing.T) {
	_, g, u, now := seededGate(t)
	u.CreatedAt = now.Add(-3 * 24 * time.Hour)
	checkReason(t, g.Check(context.Background(), u, now), ReasonAccountTooYoung)
}

func TestGateInsufficientActivity(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Now().UTC()
	u, _ := s.CreateUser(ctx, user.User{Username: "new", CreatedAt: now.Add(-30 * 24 * time.Hour)})
	g := NewGate(config.Default().Withdraw, s, s, s)
	checkReason(t, g.Check(ctx, u, now), ReasonInsufficientActivity)
}

func TestGateHourlyCap(t *testing.T) {
	s, g, u, now := seededGate(t)
	ctx := context.Background()
	if _, err := s.AppendLedgerAndAdjustBalance(ctx, ledger.Entry{
		UserID: u.ID, Amount: 501, Kind: ledger.KindEarn, CreatedAt: now.Add(-10 * time.Minute),
	}); err != nil {
		t.Fatalf("seed earn: %v", err)
	}
	checkReason(t, g.Check(ctx, u, now), ReasonHourlyCapExceeded)
}

func TestGateDailyCap(t *testing.T) {
	s, g, u, now := seededGate(t)
	ctx := context.Background()
	// Spread below the hourly cap but over the daily one.
	for i := 0; i < 5; i++ {
		if _, err := s.AppendLedgerAndAdjustBalance(ctx, ledger.Entry{
			UserID: u.ID, Amount: 450, Kind: ledger.KindEarn,
			CreatedAt: now.Add(-time.Duration(2+i*3) * time.Hour),
		}); err != nil {
			t.Fatalf("seed earn: %v", err)
		}
	}
	checkReason(t, g.Check(ctx, u, now), ReasonDailyCapExceeded)
}

func TestGateRequestFrequency(t *testing.T) {
	s, g, u, now := seededGate(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		req, err := s.CreateWithdrawal(ctx, withdrawal.Request{
			UserID: u.ID, Amount: 10, RequestedAt: now.Add(-time.Duration(i+1) * time.Hour),
		})
		if err != nil {
			t.Fatalf("seed request: %v", err)
		}
		if _, err := s.TransitionWithdrawal(ctx, req.ID, withdrawal.StatusPending, withdrawal.StatusCancelled, storage.WithdrawalChange{}); err != nil {
			t.Fatalf("cancel seed request: %v", err)
		}
	}
	checkReason(t, g.Check(ctx, u, now), ReasonTooFrequent)
}

func TestGateChecksInDocumentedOrder(t *testing.T) {
	// A user failing every rule must surface the age rule first.
	ctx := context.Background()
	s := memory.New()
	now := time.Now().UTC()
	u, _ := s.CreateUser(ctx, user.User{Username: "fresh", CreatedAt: now.Add(-time.Hour)})
	g := NewGate(config.Default().Withdraw, s, s, s)
	checkReason(t, g.Check(ctx, u, now), ReasonAccountTooYoung)
}
