package withdrawal

import (
	"context"
	"testing"
	"time"

	"github.com/engagehub/maintenance-core/internal/clock"
	"github.com/engagehub/maintenance-core/internal/config"
	"github.com/engagehub/maintenance-core/internal/domain/forensics"
	"github.com/engagehub/maintenance-core/internal/domain/ledger"
	"github.com/engagehub/maintenance-core/internal/domain/notification"
	"github.com/engagehub/maintenance-core/internal/domain/order"
	"github.com/engagehub/maintenance-core/internal/domain/task"
	"github.com/engagehub/maintenance-core/internal/domain/user"
	wd "github.com/engagehub/maintenance-core/internal/domain/withdrawal"
	apperrors "github.com/engagehub/maintenance-core/internal/errors"
	"github.com/engagehub/maintenance-core/internal/metrics"
	"github.com/engagehub/maintenance-core/internal/notify"
	"github.com/engagehub/maintenance-core/internal/storage/memory"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	store    *memory.Store
	clock    *clock.Manual
	recorder *notify.Recorder
	engine   *Engine
}

func newHarness() *harness {
	cfg := config.Default()
	h := &harness{
		store:    memory.New(),
		clock:    clock.NewManual(start),
		recorder: notify.NewRecorder(),
	}
	h.engine = NewEngine(cfg.Withdraw, cfg.Fraud, cfg.Suspicion, h.store, h.recorder, h.clock, nil)
	return h
}

// seedQualifiedUser creates a user that clears every eligibility gate and
// scores zero on the fraud factors: an old account with a quiet last day.
func (h *harness) seedQualifiedUser(t *testing.T, balance int64) user.User {
	t.Helper()
	ctx := context.Background()
	u, err := h.store.CreateUser(ctx, user.User{
		Username:  "steady",
		CreatedAt: start.Add(-60 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	o, _ := h.store.CreateOrder(ctx, order.Order{
		OwnerID: u.ID, Kind: order.KindLike, TargetURL: "https://example.com/p/1",
		TargetCount: 100, Status: order.StatusActive,
	})
	for i := 0; i < 50; i++ {
		if _, err := h.store.CreateTask(ctx, task.Task{
			OrderID: o.ID, AssigneeID: u.ID, Status: task.StatusCompleted,
			AssignedAt:  start.Add(-80 * time.Hour),
			CompletedAt: start.Add(-72 * time.Hour),
		}); err != nil {
			t.Fatalf("seed task: %v", err)
		}
	}
	if balance > 0 {
		if _, err := h.store.AppendLedgerAndAdjustBalance(ctx, ledger.Entry{
			UserID: u.ID, Amount: balance, Kind: ledger.KindEarn,
			CreatedAt: start.Add(-72 * time.Hour),
		}); err != nil {
			t.Fatalf("seed balance: %v", err)
		}
	}
	got, _ := h.store.GetUser(ctx, u.ID)
	return got
}

func TestRequestThenSettleApprovesWithoutSecondEntry(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	u := h.seedQualifiedUser(t, 1000)

	req, err := h.engine.RequestWithdrawal(ctx, u.ID, 1000, "fp-1", "198.51.100.7")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Status != wd.StatusPending || req.Suspicious {
		t.Fatalf("request = %+v, want clean pending", req)
	}
	if !req.LockedUntil.Equal(start.Add(48 * time.Hour)) {
		t.Fatalf("locked until %v", req.LockedUntil)
	}

	after, _ := h.store.GetUser(ctx, u.ID)
	if after.Balance != 0 {
		t.Fatalf("balance = %d, want 0 after hold debit", after.Balance)
	}
	entries, _ := h.store.EntriesByUser(ctx, u.ID)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want seed earn plus hold debit", len(entries))
	}
	if got := h.recorder.ByKind(notification.KindWithdrawalPending); len(got) != 1 {
		t.Fatalf("pending intents = %d", len(got))
	}

	h.clock.Advance(49 * time.Hour)
	if err := h.engine.Settle(ctx); err != nil {
		t.Fatalf("settle: %v", err)
	}

	settled, _ := h.store.GetWithdrawal(ctx, req.ID)
	if settled.Status != wd.StatusApproved {
		t.Fatalf("status = %s, want approved", settled.Status)
	}
	if settled.ProcessedAt.IsZero() {
		t.Fatal("processed_at not stamped")
	}
	entries, _ = h.store.EntriesByUser(ctx, u.ID)
	if len(entries) != 2 {
		t.Fatalf("approval booked an extra entry: %d", len(entries))
	}
	if err := h.store.VerifyBalance(ctx, u.ID); err != nil {
		t.Fatalf("ledger out of balance: %v", err)
	}
	if got := h.recorder.ByKind(notification.KindWithdrawalApproved); len(got) != 1 {
		t.Fatalf("approved intents = %d", len(got))
	}
}

func TestSettleHonoursHoldWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	u := h.seedQualifiedUser(t, 500)

	req, err := h.engine.RequestWithdrawal(ctx, u.ID, 500, "fp-1", "198.51.100.7")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	h.clock.Advance(47 * time.Hour)
	if err := h.engine.Settle(ctx); err != nil {
		t.Fatalf("settle: %v", err)
	}
	still, _ := h.store.GetWithdrawal(ctx, req.ID)
	if still.Status != wd.StatusPending {
		t.Fatalf("settled %s before the hold elapsed", still.Status)
	}
}

func TestHighScoreRequestIsLockedAndDebited(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	u := h.seedQualifiedUser(t, 600)
	admin, _ := h.store.CreateUser(ctx, user.User{Username: "ops", Admin: true})

	// Burst history inside the scoring windows: heavy day volume, uniform
	// fast completions, wide IP and device churn.
	o, _ := h.store.CreateOrder(ctx, order.Order{
		OwnerID: u.ID, Kind: order.KindFollow, TargetURL: "https://example.com/u/t",
		TargetCount: 100, Status: order.StatusActive,
	})
	for i := 0; i < 31; i++ {
		assigned := start.Add(-time.Duration(i+1) * 20 * time.Minute)
		tk, _ := h.store.CreateTask(ctx, task.Task{
			OrderID: o.ID, AssigneeID: u.ID, Status: task.StatusAssigned, AssignedAt: assigned,
		})
		if _, err := h.store.CompleteTask(ctx, tk.ID, assigned.Add(45*time.Second)); err != nil {
			t.Fatalf("complete burst task: %v", err)
		}
	}
	ips := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5", "10.0.0.6"}
	for i, ip := range ips {
		h.store.AppendDeviceIPLog(ctx, forensics.DeviceIPLog{
			UserID: u.ID, Action: forensics.ActionWithdrawalRequest,
			DeviceFingerprint: "fp-" + ip, IP: ip,
			CreatedAt: start.Add(-time.Duration(i+1) * time.Hour),
		})
	}

	req, err := h.engine.RequestWithdrawal(ctx, u.ID, 600, "fp-7", "10.0.0.7")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Status != wd.StatusLocked || !req.Suspicious {
		t.Fatalf("request = %+v, want locked and suspicious", req)
	}
	if !req.LockedUntil.Equal(start.Add(96 * time.Hour)) {
		t.Fatalf("locked until %v, want the extended lock", req.LockedUntil)
	}

	after, _ := h.store.GetUser(ctx, u.ID)
	if after.Balance != 0 {
		t.Fatalf("locked branch skipped the debit, balance = %d", after.Balance)
	}
	if got := h.recorder.ByKind(notification.KindWithdrawalLocked); len(got) != 1 || got[0].UserID != u.ID {
		t.Fatalf("locked intents = %+v", got)
	}
	alerts := h.recorder.ByKind(notification.KindSecurityAlert)
	if len(alerts) != 1 || alerts[0].UserID != admin.ID {
		t.Fatalf("admin alerts = %+v", alerts)
	}
}

func TestLockedRequestNeverAutoApproves(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	u := h.seedQualifiedUser(t, 100)

	flag := true
	req, _ := h.store.CreateWithdrawal(ctx, wd.Request{
		UserID: u.ID, Amount: 100, Status: wd.StatusLocked, Suspicious: flag,
		RequestedAt: start.Add(-200 * time.Hour),
	})

	h.clock.Advance(300 * time.Hour)
	if err := h.engine.Settle(ctx); err != nil {
		t.Fatalf("settle: %v", err)
	}
	got, _ := h.store.GetWithdrawal(ctx, req.ID)
	if got.Status != wd.StatusLocked {
		t.Fatalf("locked request drifted to %s", got.Status)
	}
}

func TestSettleRelocksOnFreshSuspiciousTrail(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	u := h.seedQualifiedUser(t, 300)

	req, err := h.engine.RequestWithdrawal(ctx, u.ID, 300, "fp-1", "198.51.100.7")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	h.clock.Advance(30 * time.Hour)
	h.store.AppendDeviceIPLog(ctx, forensics.DeviceIPLog{
		UserID: u.ID, Action: forensics.ActionSuspiciousRapidCompletion,
		DeviceFingerprint: "fp-1", IP: "198.51.100.7", CreatedAt: h.clock.Now(),
	})

	h.clock.Advance(19 * time.Hour)
	if err := h.engine.Settle(ctx); err != nil {
		t.Fatalf("settle: %v", err)
	}
	got, _ := h.store.GetWithdrawal(ctx, req.ID)
	if got.Status != wd.StatusLocked || !got.Suspicious {
		t.Fatalf("request = %+v, want relocked suspicious", got)
	}
	if got.ProcessedAt.IsZero() == false {
		t.Fatal("relock must not stamp processed_at")
	}
}

func TestCancelRefundsHold(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	u := h.seedQualifiedUser(t, 400)

	req, err := h.engine.RequestWithdrawal(ctx, u.ID, 400, "fp-1", "198.51.100.7")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	cancelled, err := h.engine.CancelWithdrawal(ctx, u.ID, req.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != wd.StatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}
	after, _ := h.store.GetUser(ctx, u.ID)
	if after.Balance != 400 {
		t.Fatalf("balance = %d, want the hold back", after.Balance)
	}
	if err := h.store.VerifyBalance(ctx, u.ID); err != nil {
		t.Fatalf("ledger out of balance: %v", err)
	}
	if got := h.recorder.ByKind(notification.KindWithdrawalCancelled); len(got) != 1 {
		t.Fatalf("cancelled intents = %d", len(got))
	}
}

func TestCancelRejectsLockedAndForeignRequests(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	u := h.seedQualifiedUser(t, 100)
	other, _ := h.store.CreateUser(ctx, user.User{Username: "other"})

	req, _ := h.store.CreateWithdrawal(ctx, wd.Request{
		UserID: u.ID, Amount: 100, Status: wd.StatusLocked, Suspicious: true,
		RequestedAt: start,
	})

	if _, err := h.engine.CancelWithdrawal(ctx, other.ID, req.ID); !apperrors.IsKind(err, apperrors.KindNotFound) {
		t.Fatalf("foreign cancel = %v, want not found", err)
	}
	if _, err := h.engine.CancelWithdrawal(ctx, u.ID, req.ID); !apperrors.IsKind(err, apperrors.KindConflict) {
		t.Fatalf("locked cancel = %v, want conflict", err)
	}
}

func TestRequestValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	u := h.seedQualifiedUser(t, 100)

	if _, err := h.engine.RequestWithdrawal(ctx, u.ID, 0, "fp", "ip"); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("zero amount = %v", err)
	}
	if _, err := h.engine.RequestWithdrawal(ctx, u.ID, 101, "fp", "ip"); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("overdraw = %v", err)
	}
	if _, err := h.engine.RequestWithdrawal(ctx, u.ID, 50, "fp", "ip"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := h.engine.RequestWithdrawal(ctx, u.ID, 10, "fp", "ip"); !apperrors.IsKind(err, apperrors.KindConflict) {
		t.Fatalf("second open request = %v, want conflict", err)
	}
}

func TestIneligibleUserIsRefused(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	u, _ := h.store.CreateUser(ctx, user.User{Username: "fresh", CreatedAt: start.Add(-time.Hour)})
	h.store.AppendLedgerAndAdjustBalance(ctx, ledger.Entry{UserID: u.ID, Amount: 100, Kind: ledger.KindEarn})

	_, err := h.engine.RequestWithdrawal(ctx, u.ID, 50, "fp", "ip")
	if !apperrors.IsKind(err, apperrors.KindEligibility) {
		t.Fatalf("err = %v, want eligibility", err)
	}
	after, _ := h.store.GetUser(ctx, u.ID)
	if after.Balance != 100 {
		t.Fatalf("refused request touched the balance: %d", after.Balance)
	}
	if reqs, _ := h.store.ListWithdrawalsByUser(ctx, u.ID); len(reqs) != 0 {
		t.Fatalf("refused request persisted: %+v", reqs)
	}
}

// intentCount reads the accepted-intent counter for one kind from the
// metrics registry.
func intentCount(t *testing.T, kind string) float64 {
	t.Helper()
	families, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "maintenance_core_notify_intents_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "kind" && l.GetValue() == kind {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRequestCountsIntentMetricOnce(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	h := newHarness()
	u := h.seedQualifiedUser(t, 500)

	sink := notify.NewChannelSink(8)
	eng := NewEngine(cfg.Withdraw, cfg.Fraud, cfg.Suspicion, h.store, sink, h.clock, nil)

	before := intentCount(t, notification.KindWithdrawalPending)
	if _, err := eng.RequestWithdrawal(ctx, u.ID, 500, "fp-1", "198.51.100.7"); err != nil {
		t.Fatalf("request: %v", err)
	}
	if got := intentCount(t, notification.KindWithdrawalPending) - before; got != 1 {
		t.Fatalf("intents_total advanced by %v, want exactly 1", got)
	}
	if buffered := len(sink.Intents()); buffered != 1 {
		t.Fatalf("buffered intents = %d, want 1", buffered)
	}
}

// flakyStore fails the next atomic hold operation, simulating the backend
// rejecting the transaction.
type flakyStore struct {
	*memory.Store
	failNext bool
}

func (s *flakyStore) CreateWithdrawalWithHold(ctx context.Context, r wd.Request, hold ledger.Entry) (wd.Request, error) {
	if s.failNext {
		s.failNext = false
		return wd.Request{}, apperrors.Transient("store_unavailable", nil)
	}
	return s.Store.CreateWithdrawalWithHold(ctx, r, hold)
}

func TestFailedHoldLeavesNoPayableRequest(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	h := newHarness()
	u := h.seedQualifiedUser(t, 1000)

	fs := &flakyStore{Store: h.store, failNext: true}
	eng := NewEngine(cfg.Withdraw, cfg.Fraud, cfg.Suspicion, fs, h.recorder, h.clock, nil)

	if _, err := eng.RequestWithdrawal(ctx, u.ID, 500, "fp-1", "198.51.100.7"); !apperrors.IsKind(err, apperrors.KindTransient) {
		t.Fatalf("request = %v, want transient", err)
	}
	if open, _ := h.store.HasOpenWithdrawal(ctx, u.ID); open {
		t.Fatal("failed request left an open withdrawal behind")
	}
	after, _ := h.store.GetUser(ctx, u.ID)
	if after.Balance != 1000 {
		t.Fatalf("balance = %d, want untouched 1000", after.Balance)
	}

	// Nothing to settle: the failed request never entered the queue.
	h.clock.Advance(49 * time.Hour)
	if err := eng.Settle(ctx); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if reqs, _ := h.store.ListWithdrawalsByUser(ctx, u.ID); len(reqs) != 0 {
		t.Fatalf("requests = %d, want 0", len(reqs))
	}
	if err := h.store.VerifyBalance(ctx, u.ID); err != nil {
		t.Fatalf("verify: %v", err)
	}
}
