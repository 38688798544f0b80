// Package memory is an in-memory implementation of the storage interfaces.
// It is safe for concurrent use and is primarily intended for tests and
// local development. Conditional transitions are serialized by a single
// mutex, which gives the same winner-takes-the-row semantics the SQL store
// gets from predicated updates.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/engagehub/maintenance-core/internal/errors"

	"github.com/engagehub/maintenance-core/internal/domain/badge"
	"github.com/engagehub/maintenance-core/internal/domain/forensics"
	"github.com/engagehub/maintenance-core/internal/domain/gdpr"
	"github.com/engagehub/maintenance-core/internal/domain/leaderboard"
	"github.com/engagehub/maintenance-core/internal/domain/ledger"
	"github.com/engagehub/maintenance-core/internal/domain/notification"
	"github.com/engagehub/maintenance-core/internal/domain/order"
	"github.com/engagehub/maintenance-core/internal/domain/task"
	"github.com/engagehub/maintenance-core/internal/domain/user"
	"github.com/engagehub/maintenance-core/internal/domain/withdrawal"
	"github.com/engagehub/maintenance-core/internal/storage"
)

type badgeKey struct {
	userID  int64
	badgeID int64
}

// Store is the in-memory store.
type Store struct {
	mu     sync.RWMutex
	nextID int64

	users        map[int64]user.User
	referrals    map[int64]user.Referral
	orders       map[int64]order.Order
	tasks        map[int64]task.Task
	entries      map[int64]ledger.Entry
	withdrawals  map[int64]withdrawal.Request
	deviceLogs   map[int64]forensics.DeviceIPLog
	awards       map[badgeKey]badge.UserBadge
	leaderboards map[leaderboard.Period][]leaderboard.Entry
	gdprRequests map[int64]gdpr.Request
	nudges       map[int64]notification.NudgeRecord
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:       1,
		users:        make(map[int64]user.User),
		referrals:    make(map[int64]user.Referral),
		orders:       make(map[int64]order.Order),
		tasks:        make(map[int64]task.Task),
		entries:      make(map[int64]ledger.Entry),
		withdrawals:  make(map[int64]withdrawal.Request),
		deviceLogs:   make(map[int64]forensics.DeviceIPLog),
		awards:       make(map[badgeKey]badge.UserBadge),
		leaderboards: make(map[leaderboard.Period][]leaderboard.Entry),
		gdprRequests: make(map[int64]gdpr.Request),
		nudges:       make(map[int64]notification.NudgeRecord),
	}
}

func (s *Store) nextIDLocked() int64 {
	id := s.nextID
	s.nextID++
	return id
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == 0 {
		u.ID = s.nextIDLocked()
	} else if _, exists := s.users[u.ID]; exists {
		return user.User{}, apperrors.Conflict("user_exists", "user already exists")
	}
	if u.Status == "" {
		u.Status = user.StatusActive
	}
	u.CreatedAt = stamp(u.CreatedAt)
	u.UpdatedAt = u.CreatedAt

	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id int64) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, apperrors.NotFound("user_not_found", "no such user")
	}
	return u, nil
}

func (s *Store) ListAdmins(_ context.Context) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]user.User, 0)
	for _, u := range s.users {
		if u.Admin {
			result = append(result, u)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) SuspendUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return apperrors.NotFound("user_not_found", "no such user")
	}
	u.Status = user.StatusSuspended
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return nil
}

func (s *Store) AnonymizeUser(_ context.Context, id int64, repl user.Anonymized) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return apperrors.NotFound("user_not_found", "no such user")
	}
	u.Username = repl.Username
	u.Email = repl.Email
	u.FullName = repl.FullName
	u.AvatarURL = ""
	u.SessionBlob = ""
	u.AuthSecret = ""
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return nil
}

func (s *Store) CreateReferral(_ context.Context, r user.Referral) (user.Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == 0 {
		r.ID = s.nextIDLocked()
	}
	r.AppliedAt = stamp(r.AppliedAt)
	s.referrals[r.ID] = r
	return r, nil
}

func (s *Store) CountReferrals(_ context.Context, referrerID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, r := range s.referrals {
		if r.ReferrerID == referrerID {
			count++
		}
	}
	return count, nil
}

func (s *Store) ClearReferralLinks(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range s.referrals {
		if r.ReferrerID == userID {
			r.ReferrerID = 0
		}
		if r.ReferredID == userID {
			r.ReferredID = 0
		}
		s.referrals[id] = r
	}
	return nil
}

// OrderStore implementation ---------------------------------------------------

func (s *Store) CreateOrder(_ context.Context, o order.Order) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ID == 0 {
		o.ID = s.nextIDLocked()
	} else if _, exists := s.orders[o.ID]; exists {
		return order.Order{}, apperrors.Conflict("order_exists", "order already exists")
	}
	if o.Status == "" {
		o.Status = order.StatusActive
	}
	o.CreatedAt = stamp(o.CreatedAt)

	s.orders[o.ID] = o
	return o, nil
}

func (s *Store) GetOrder(_ context.Context, id int64) (order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, apperrors.NotFound("order_not_found", "no such order")
	}
	return o, nil
}

func (s *Store) ActiveOrders(_ context.Context) ([]order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]order.Order, 0)
	for _, o := range s.orders {
		if o.Status == order.StatusActive {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) CancelOrder(_ context.Context, id int64) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, apperrors.NotFound("order_not_found", "no such order")
	}
	if o.Status != order.StatusActive {
		return order.Order{}, apperrors.Conflict("order_not_active", "order is not active")
	}
	o.Status = order.StatusCancelled
	s.orders[id] = o
	return o, nil
}

func (s *Store) ListOrdersByUser(_ context.Context, userID int64) ([]order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]order.Order, 0)
	for _, o := range s.orders {
		if o.OwnerID == userID {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// TaskStore implementation ----------------------------------------------------

func (s *Store) CreateTask(_ context.Context, t task.Task) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == 0 {
		t.ID = s.nextIDLocked()
	} else if _, exists := s.tasks[t.ID]; exists {
		return task.Task{}, apperrors.Conflict("task_exists", "task already exists")
	}
	if t.Status == "" {
		t.Status = task.StatusPending
	}
	t.CreatedAt = stamp(t.CreatedAt)

	s.tasks[t.ID] = t
	return t, nil
}

func (s *Store) GetTask(_ context.Context, id int64) (task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, apperrors.NotFound("task_not_found", "no such task")
	}
	return t, nil
}

func (s *Store) ExpireAssignedTasksBefore(_ context.Context, cutoff time.Time, batch int) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0)
	for id, t := range s.tasks {
		if t.Status == task.StatusAssigned && t.ExpiresAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if batch > 0 && len(ids) > batch {
		ids = ids[:batch]
	}

	result := make([]task.Task, 0, len(ids))
	for _, id := range ids {
		t := s.tasks[id]
		t.Status = task.StatusExpired
		s.tasks[id] = t
		result = append(result, t)
	}
	return result, nil
}

func (s *Store) FailInFlightTasksForOrder(_ context.Context, orderID int64) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]task.Task, 0)
	for id, t := range s.tasks {
		if t.OrderID == orderID && t.Status.InFlight() {
			t.Status = task.StatusFailed
			s.tasks[id] = t
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) CompleteTask(_ context.Context, id int64, completedAt time.Time) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, apperrors.NotFound("task_not_found", "no such task")
	}
	if !t.Status.InFlight() {
		return task.Task{}, apperrors.Conflict("task_not_in_flight", "task cannot be completed from its current state")
	}
	t.Status = task.StatusCompleted
	t.CompletedAt = stamp(completedAt)
	s.tasks[id] = t
	return t, nil
}

func (s *Store) CompletedTaskCount(_ context.Context, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, t := range s.tasks {
		if t.AssigneeID == userID && t.Status == task.StatusCompleted {
			count++
		}
	}
	return count, nil
}

func (s *Store) CompletionsSince(_ context.Context, userID int64, since time.Time) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]task.Task, 0)
	for _, t := range s.tasks {
		if t.AssigneeID == userID && t.Status == task.StatusCompleted && !t.CompletedAt.Before(since) {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CompletedAt.Before(result[j].CompletedAt) })
	return result, nil
}

func (s *Store) UsersWithCompletionsSince(_ context.Context, since time.Time) ([]storage.CompletionStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[int64]int)
	for _, t := range s.tasks {
		if t.Status == task.StatusCompleted && !t.CompletedAt.Before(since) {
			counts[t.AssigneeID]++
		}
	}

	result := make([]storage.CompletionStat, 0, len(counts))
	for userID, n := range counts {
		result = append(result, storage.CompletionStat{UserID: userID, Completed: n})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result, nil
}

func (s *Store) ListTasksByUser(_ context.Context, userID int64) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]task.Task, 0)
	for _, t := range s.tasks {
		if t.AssigneeID == userID {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// LedgerStore implementation --------------------------------------------------

func (s *Store) AppendLedgerAndAdjustBalance(_ context.Context, e ledger.Entry) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEntryLocked(e)
}

func (s *Store) appendEntryLocked(e ledger.Entry) (ledger.Entry, error) {
	u, ok := s.users[e.UserID]
	if !ok {
		return ledger.Entry{}, apperrors.NotFound("user_not_found", "no such user")
	}
	newBalance := u.Balance + e.Amount
	if newBalance < 0 {
		return ledger.Entry{}, apperrors.Validation("insufficient_balance", "balance would go negative")
	}

	if e.ID == 0 {
		e.ID = s.nextIDLocked()
	}
	e.CreatedAt = stamp(e.CreatedAt)

	s.entries[e.ID] = e
	u.Balance = newBalance
	u.UpdatedAt = time.Now().UTC()
	s.users[u.ID] = u
	return e, nil
}

func (s *Store) EntriesByUser(_ context.Context, userID int64) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ledger.Entry, 0)
	for _, e := range s.entries {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) EarnSumSince(_ context.Context, userID int64, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	for _, e := range s.entries {
		if e.UserID == userID && e.Kind == ledger.KindEarn && !e.CreatedAt.Before(since) {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (s *Store) TotalByKind(_ context.Context, userID int64, kind ledger.Kind) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	for _, e := range s.entries {
		if e.UserID == userID && e.Kind == kind {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (s *Store) EarningsInWindow(_ context.Context, since time.Time) ([]ledger.UserEarnings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byUser := make(map[int64]*ledger.UserEarnings)
	for _, e := range s.entries {
		if e.Kind != ledger.KindEarn || e.CreatedAt.Before(since) {
			continue
		}
		agg, ok := byUser[e.UserID]
		if !ok {
			agg = &ledger.UserEarnings{UserID: e.UserID, FirstEarn: e.CreatedAt}
			byUser[e.UserID] = agg
		}
		agg.Total += e.Amount
		if e.CreatedAt.Before(agg.FirstEarn) {
			agg.FirstEarn = e.CreatedAt
		}
	}

	result := make([]ledger.UserEarnings, 0, len(byUser))
	for _, agg := range byUser {
		result = append(result, *agg)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result, nil
}

func (s *Store) VerifyBalance(_ context.Context, userID int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return apperrors.NotFound("user_not_found", "no such user")
	}
	var sum int64
	for _, e := range s.entries {
		if e.UserID == userID {
			sum += e.Amount
		}
	}
	if sum != u.Balance {
		return apperrors.Fatal("ledger_mismatch", nil)
	}
	return nil
}

func (s *Store) RewriteNotes(_ context.Context, userID int64, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.entries {
		if e.UserID == userID {
			e.Note = note
			s.entries[id] = e
		}
	}
	return nil
}

// WithdrawalStore implementation ----------------------------------------------

func (s *Store) CreateWithdrawal(_ context.Context, r withdrawal.Request) (withdrawal.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createWithdrawalLocked(r)
}

func (s *Store) createWithdrawalLocked(r withdrawal.Request) (withdrawal.Request, error) {
	for _, existing := range s.withdrawals {
		if existing.UserID == r.UserID && !existing.Status.Terminal() {
			return withdrawal.Request{}, apperrors.Conflict("withdrawal_open", "user already has an open withdrawal")
		}
	}

	if r.ID == 0 {
		r.ID = s.nextIDLocked()
	}
	if r.Status == "" {
		r.Status = withdrawal.StatusPending
	}
	r.RequestedAt = stamp(r.RequestedAt)

	s.withdrawals[r.ID] = r
	return r, nil
}

func (s *Store) CreateWithdrawalWithHold(_ context.Context, r withdrawal.Request, hold ledger.Entry) (withdrawal.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.createWithdrawalLocked(r)
	if err != nil {
		return withdrawal.Request{}, err
	}
	if _, err := s.appendEntryLocked(hold); err != nil {
		delete(s.withdrawals, created.ID)
		return withdrawal.Request{}, err
	}
	return created, nil
}

func (s *Store) CancelWithdrawalWithRefund(_ context.Context, id int64, processedAt time.Time, refund ledger.Entry) (withdrawal.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.withdrawals[id]
	if !ok {
		return withdrawal.Request{}, apperrors.NotFound("withdrawal_not_found", "no such withdrawal")
	}
	if r.Status != withdrawal.StatusPending {
		return withdrawal.Request{}, apperrors.Conflict("withdrawal_state", "withdrawal is not in the expected state")
	}
	if _, err := s.appendEntryLocked(refund); err != nil {
		return withdrawal.Request{}, err
	}
	r.Status = withdrawal.StatusCancelled
	r.ProcessedAt = processedAt.UTC()
	s.withdrawals[id] = r
	return r, nil
}

func (s *Store) GetWithdrawal(_ context.Context, id int64) (withdrawal.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.withdrawals[id]
	if !ok {
		return withdrawal.Request{}, apperrors.NotFound("withdrawal_not_found", "no such withdrawal")
	}
	return r, nil
}

func (s *Store) HasOpenWithdrawal(_ context.Context, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.withdrawals {
		if r.UserID == userID && !r.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CountWithdrawalsSince(_ context.Context, userID int64, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, r := range s.withdrawals {
		if r.UserID == userID && !r.RequestedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *Store) PendingWithdrawalsRequestedBefore(_ context.Context, cutoff time.Time) ([]withdrawal.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]withdrawal.Request, 0)
	for _, r := range s.withdrawals {
		if r.Status == withdrawal.StatusPending && !r.Suspicious && !r.RequestedAt.After(cutoff) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) PendingWithdrawalsByUser(_ context.Context, userID int64) ([]withdrawal.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]withdrawal.Request, 0)
	for _, r := range s.withdrawals {
		if r.UserID == userID && r.Status == withdrawal.StatusPending {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) TransitionWithdrawal(_ context.Context, id int64, from, to withdrawal.Status, change storage.WithdrawalChange) (withdrawal.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.withdrawals[id]
	if !ok {
		return withdrawal.Request{}, apperrors.NotFound("withdrawal_not_found", "no such withdrawal")
	}
	if r.Status != from {
		return withdrawal.Request{}, apperrors.Conflict("withdrawal_state", "withdrawal is not in the expected state")
	}

	r.Status = to
	if !change.ProcessedAt.IsZero() {
		r.ProcessedAt = change.ProcessedAt.UTC()
	}
	if !change.LockedUntil.IsZero() {
		r.LockedUntil = change.LockedUntil.UTC()
	}
	if change.Suspicious != nil {
		r.Suspicious = *change.Suspicious
	}
	s.withdrawals[id] = r
	return r, nil
}

func (s *Store) ListWithdrawalsByUser(_ context.Context, userID int64) ([]withdrawal.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]withdrawal.Request, 0)
	for _, r := range s.withdrawals {
		if r.UserID == userID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ForensicsStore implementation -----------------------------------------------

func (s *Store) AppendDeviceIPLog(_ context.Context, rec forensics.DeviceIPLog) (forensics.DeviceIPLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == 0 {
		rec.ID = s.nextIDLocked()
	}
	rec.CreatedAt = stamp(rec.CreatedAt)
	s.deviceLogs[rec.ID] = rec
	return rec, nil
}

func (s *Store) HasSuspiciousLogSince(_ context.Context, userID int64, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.deviceLogs {
		if rec.UserID == userID && rec.Suspicious() && !rec.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) DistinctIPsSince(_ context.Context, userID int64, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, rec := range s.deviceLogs {
		if rec.UserID == userID && rec.IP != "" && !rec.CreatedAt.Before(since) {
			seen[rec.IP] = struct{}{}
		}
	}
	return len(seen), nil
}

func (s *Store) DistinctDevicesSince(_ context.Context, userID int64, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, rec := range s.deviceLogs {
		if rec.UserID == userID && rec.DeviceFingerprint != "" && !rec.CreatedAt.Before(since) {
			seen[rec.DeviceFingerprint] = struct{}{}
		}
	}
	return len(seen), nil
}

func (s *Store) ListDeviceIPLogsByUser(_ context.Context, userID int64) ([]forensics.DeviceIPLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]forensics.DeviceIPLog, 0)
	for _, rec := range s.deviceLogs {
		if rec.UserID == userID {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) TruncateLoggedIPs(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rec := range s.deviceLogs {
		if rec.UserID == userID {
			rec.IP = truncateIP(rec.IP)
			s.deviceLogs[id] = rec
		}
	}
	return nil
}

// truncateIP blanks the host portion of a logged address: the last octet for
// IPv4, the tail group for IPv6.
func truncateIP(ip string) string {
	if idx := strings.LastIndex(ip, "."); idx >= 0 {
		return ip[:idx+1] + "0"
	}
	if idx := strings.LastIndex(ip, ":"); idx >= 0 {
		return ip[:idx+1] + "0"
	}
	return ""
}

func (s *Store) PurgeDeviceIPLogsBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, rec := range s.deviceLogs {
		if rec.CreatedAt.Before(cutoff) {
			delete(s.deviceLogs, id)
			purged++
		}
	}
	return purged, nil
}

// BadgeStore implementation ---------------------------------------------------

func (s *Store) AwardBadgeIfMissing(_ context.Context, ub badge.UserBadge) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := badgeKey{userID: ub.UserID, badgeID: ub.BadgeID}
	if _, exists := s.awards[key]; exists {
		return false, nil
	}
	ub.AwardedAt = stamp(ub.AwardedAt)
	s.awards[key] = ub
	return true, nil
}

func (s *Store) BadgesByUser(_ context.Context, userID int64) ([]badge.UserBadge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]badge.UserBadge, 0)
	for _, ub := range s.awards {
		if ub.UserID == userID {
			result = append(result, ub)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].BadgeID < result[j].BadgeID })
	return result, nil
}

// LeaderboardStore implementation ---------------------------------------------

func (s *Store) ReplaceLeaderboard(_ context.Context, period leaderboard.Period, entries []leaderboard.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leaderboards[period] = append([]leaderboard.Entry(nil), entries...)
	return nil
}

func (s *Store) Leaderboard(_ context.Context, period leaderboard.Period) ([]leaderboard.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]leaderboard.Entry(nil), s.leaderboards[period]...), nil
}

// GDPRStore implementation ----------------------------------------------------

func (s *Store) CreateGDPRRequest(_ context.Context, r gdpr.Request) (gdpr.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == 0 {
		r.ID = s.nextIDLocked()
	}
	if r.Status == "" {
		r.Status = gdpr.StatusPending
	}
	r.CreatedAt = stamp(r.CreatedAt)
	s.gdprRequests[r.ID] = r
	return r, nil
}

func (s *Store) ListGDPRRequests(_ context.Context, status gdpr.Status) ([]gdpr.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]gdpr.Request, 0)
	for _, r := range s.gdprRequests {
		if status == "" || r.Status == status {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) MarkGDPRRequest(_ context.Context, id int64, status gdpr.Status, processedAt time.Time, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.gdprRequests[id]
	if !ok {
		return apperrors.NotFound("gdpr_request_not_found", "no such request")
	}
	if r.Status.Terminal() {
		return apperrors.Conflict("gdpr_request_terminal", "request already processed")
	}
	r.Status = status
	r.ProcessedAt = processedAt.UTC()
	r.Detail = detail
	s.gdprRequests[id] = r
	return nil
}

func (s *Store) PurgeGDPRRequestsBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, r := range s.gdprRequests {
		if r.Status == gdpr.StatusCompleted && !r.ProcessedAt.IsZero() && r.ProcessedAt.Before(cutoff) {
			delete(s.gdprRequests, id)
			purged++
		}
	}
	return purged, nil
}

// NudgeStore implementation ---------------------------------------------------

func (s *Store) LastNudgeAt(_ context.Context, userID int64, kind string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last time.Time
	found := false
	for _, rec := range s.nudges {
		if rec.UserID == userID && rec.Kind == kind && rec.SentAt.After(last) {
			last = rec.SentAt
			found = true
		}
	}
	return last, found, nil
}

func (s *Store) RecordNudge(_ context.Context, rec notification.NudgeRecord) (notification.NudgeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == 0 {
		rec.ID = s.nextIDLocked()
	}
	rec.SentAt = stamp(rec.SentAt)
	s.nudges[rec.ID] = rec
	return rec, nil
}

func (s *Store) PurgeNudgesBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, rec := range s.nudges {
		if rec.SentAt.Before(cutoff) {
			delete(s.nudges, id)
			purged++
		}
	}
	return purged, nil
}
