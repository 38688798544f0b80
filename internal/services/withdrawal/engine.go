// Package withdrawal implements the withdrawal engine: the synchronous
// request and cancel entry points, and the periodic settlement pass that
// approves requests whose hold has elapsed.
package withdrawal

import (
	"context"
	"fmt"

	"github.com/engagehub/maintenance-core/internal/clock"
	"github.com/engagehub/maintenance-core/internal/config"
	"github.com/engagehub/maintenance-core/internal/domain/forensics"
	"github.com/engagehub/maintenance-core/internal/domain/ledger"
	"github.com/engagehub/maintenance-core/internal/domain/notification"
	"github.com/engagehub/maintenance-core/internal/domain/withdrawal"
	apperrors "github.com/engagehub/maintenance-core/internal/errors"
	"github.com/engagehub/maintenance-core/internal/metrics"
	"github.com/engagehub/maintenance-core/internal/notify"
	"github.com/engagehub/maintenance-core/internal/policy/eligibility"
	"github.com/engagehub/maintenance-core/internal/policy/fraud"
	"github.com/engagehub/maintenance-core/internal/storage"
	"github.com/engagehub/maintenance-core/pkg/logger"
)

// Engine owns the withdrawal lifecycle. The hold amount is debited from the
// live balance in the same store transaction that creates the request;
// settlement only moves status, and cancellation books the compensating
// refund atomically with the transition.
type Engine struct {
	cfg       config.WithdrawConfig
	fraudCfg  config.FraudConfig
	suspicion config.SuspicionConfig
	store     storage.Store
	collector *fraud.Collector
	gate      *eligibility.Gate
	sink      notify.Sink
	clock     clock.Clock
	log       *logger.Logger
}

// NewEngine wires the engine.
func NewEngine(cfg config.WithdrawConfig, fraudCfg config.FraudConfig, suspicion config.SuspicionConfig,
	store storage.Store, sink notify.Sink, clk clock.Clock, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("withdrawal-engine")
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Engine{
		cfg:       cfg,
		fraudCfg:  fraudCfg,
		suspicion: suspicion,
		store:     store,
		collector: fraud.NewCollector(store, store, store),
		gate:      eligibility.NewGate(cfg, store, store, store),
		sink:      sink,
		clock:     clk,
		log:       log,
	}
}

// RequestWithdrawal validates, gates and scores a cash-out ask, then creates
// the request and debits the balance. A score above the lock threshold routes
// the request to the locked branch for manual review.
func (e *Engine) RequestWithdrawal(ctx context.Context, userID, amount int64, deviceFP, ip string) (withdrawal.Request, error) {
	now := e.clock.Now()

	u, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return withdrawal.Request{}, err
	}
	if amount <= 0 {
		return withdrawal.Request{}, apperrors.Validation("amount_not_positive", "withdrawal amount must be positive")
	}
	if amount > u.Balance {
		return withdrawal.Request{}, apperrors.Validation("insufficient_balance",
			fmt.Sprintf("balance %d below requested %d", u.Balance, amount))
	}
	open, err := e.store.HasOpenWithdrawal(ctx, userID)
	if err != nil {
		return withdrawal.Request{}, err
	}
	if open {
		return withdrawal.Request{}, apperrors.Conflict("withdrawal_open", "a withdrawal request is already in flight")
	}

	if err := e.gate.Check(ctx, u, now); err != nil {
		return withdrawal.Request{}, err
	}

	signals, err := e.collector.Collect(ctx, u, now)
	if err != nil {
		return withdrawal.Request{}, err
	}
	score, factors := fraud.Score(e.fraudCfg, signals)

	req := withdrawal.Request{
		UserID:      userID,
		Amount:      amount,
		Status:      withdrawal.StatusPending,
		RequestedAt: now,
		LockedUntil: now.Add(e.cfg.Hold()),
	}
	locked := score > e.fraudCfg.LockThreshold
	if locked {
		req.Status = withdrawal.StatusLocked
		req.Suspicious = true
		req.LockedUntil = now.Add(e.cfg.Lock())
	}

	created, err := e.store.CreateWithdrawalWithHold(ctx, req, ledger.Entry{
		UserID: userID,
		Amount: -amount,
		Kind:   ledger.KindWithdraw,
		Note:   "withdrawal hold",
	})
	if err != nil {
		return withdrawal.Request{}, err
	}
	if _, err := e.store.AppendDeviceIPLog(ctx, forensics.DeviceIPLog{
		UserID:            userID,
		Action:            forensics.ActionWithdrawalRequest,
		DeviceFingerprint: deviceFP,
		IP:                ip,
	}); err != nil {
		e.log.WithError(err).Warnf("device/ip audit for request %d failed", created.ID)
	}

	if locked {
		e.log.WithField("user_id", userID).Warnf("withdrawal %d locked, score %.2f, factors %v", created.ID, score, factors)
		metrics.ObserveWithdrawalDecision("locked")
		e.emit(notification.Intent{
			UserID:   userID,
			Kind:     notification.KindWithdrawalLocked,
			Priority: notification.PriorityHigh,
			Title:    "Withdrawal under review",
			Body:     "Your withdrawal request was placed under manual review.",
			Payload:  map[string]string{"request_id": fmt.Sprint(created.ID)},
		})
		e.alertAdmins(ctx, fmt.Sprintf("withdrawal %d by user %d locked at score %.2f", created.ID, userID, score))
	} else {
		metrics.ObserveWithdrawalDecision("pending")
		e.emit(notification.Intent{
			UserID:   userID,
			Kind:     notification.KindWithdrawalPending,
			Priority: notification.PriorityMedium,
			Title:    "Withdrawal received",
			Body:     "Your withdrawal request entered the settlement queue.",
			Payload:  map[string]string{"request_id": fmt.Sprint(created.ID)},
		})
	}
	return created, nil
}

// CancelWithdrawal releases a pending request. Locked requests stay put until
// an admin rules on them.
func (e *Engine) CancelWithdrawal(ctx context.Context, userID, requestID int64) (withdrawal.Request, error) {
	req, err := e.store.GetWithdrawal(ctx, requestID)
	if err != nil {
		return withdrawal.Request{}, err
	}
	if req.UserID != userID {
		return withdrawal.Request{}, apperrors.NotFound("withdrawal_not_found", "no such withdrawal request")
	}
	if req.Status == withdrawal.StatusLocked {
		return withdrawal.Request{}, apperrors.Conflict("withdrawal_locked", "locked requests require admin review")
	}

	now := e.clock.Now()
	updated, err := e.store.CancelWithdrawalWithRefund(ctx, requestID, now, ledger.Entry{
		UserID: userID,
		Amount: req.Amount,
		Kind:   ledger.KindEarn,
		Note:   "refund of cancelled request",
	})
	if err != nil {
		return withdrawal.Request{}, err
	}

	metrics.ObserveWithdrawalDecision("cancelled")
	e.emit(notification.Intent{
		UserID:   userID,
		Kind:     notification.KindWithdrawalCancelled,
		Priority: notification.PriorityMedium,
		Title:    "Withdrawal cancelled",
		Body:     "Your withdrawal request was cancelled and the hold released.",
		Payload:  map[string]string{"request_id": fmt.Sprint(requestID)},
	})
	return updated, nil
}

func (e *Engine) emit(intent notification.Intent) {
	if e.sink == nil {
		return
	}
	e.sink.Emit(intent)
}

func (e *Engine) alertAdmins(ctx context.Context, body string) {
	admins, err := e.store.ListAdmins(ctx)
	if err != nil {
		e.log.WithError(err).Warn("list admins failed")
		return
	}
	for _, admin := range admins {
		e.emit(notification.Intent{
			UserID:   admin.ID,
			Kind:     notification.KindSecurityAlert,
			Priority: notification.PriorityUrgent,
			Title:    "Security alert",
			Body:     body,
		})
	}
}
