package gdpr

import (
	"context"
	"encoding/json"
	"time"

	"github.com/engagehub/maintenance-core/internal/storage"
)

// Export document shape. Timestamps render as RFC 3339 UTC; the only PII in
// the document lives under the user key.
type exportDocument struct {
	User        exportUser         `json:"user"`
	Orders      []exportOrder      `json:"orders"`
	Tasks       []exportTask       `json:"tasks"`
	Ledger      []exportEntry      `json:"ledger"`
	Withdrawals []exportWithdrawal `json:"withdrawals"`
	Badges      []exportBadge      `json:"badges"`
	DeviceIPLog []exportDeviceIP   `json:"device_ip_log"`
}

type exportUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	Balance   int64  `json:"balance"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

type exportOrder struct {
	ID             int64  `json:"id"`
	Kind           string `json:"kind"`
	TargetURL      string `json:"target_url"`
	TargetCount    int    `json:"target_count"`
	CompletedCount int    `json:"completed_count"`
	UnitCost       int64  `json:"unit_cost"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
}

type exportTask struct {
	ID          int64  `json:"id"`
	OrderID     int64  `json:"order_id"`
	Status      string `json:"status"`
	AssignedAt  string `json:"assigned_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type exportEntry struct {
	ID        int64  `json:"id"`
	Amount    int64  `json:"amount"`
	Kind      string `json:"kind"`
	RefTask   int64  `json:"ref_task,omitempty"`
	RefOrder  int64  `json:"ref_order,omitempty"`
	Note      string `json:"note,omitempty"`
	CreatedAt string `json:"created_at"`
}

type exportWithdrawal struct {
	ID          int64  `json:"id"`
	Amount      int64  `json:"amount"`
	Status      string `json:"status"`
	RequestedAt string `json:"requested_at"`
	ProcessedAt string `json:"processed_at,omitempty"`
}

type exportBadge struct {
	BadgeID   int64  `json:"badge_id"`
	AwardedAt string `json:"awarded_at"`
}

type exportDeviceIP struct {
	Action            string `json:"action"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
	IP                string `json:"ip,omitempty"`
	CreatedAt         string `json:"created_at"`
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// buildExport gathers every row class for the user into one document.
func buildExport(ctx context.Context, store storage.Store, userID int64) ([]byte, error) {
	u, err := store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	doc := exportDocument{
		User: exportUser{
			ID:        u.ID,
			Username:  u.Username,
			Email:     u.Email,
			FullName:  u.FullName,
			Balance:   u.Balance,
			Status:    string(u.Status),
			CreatedAt: stamp(u.CreatedAt),
		},
		Orders:      []exportOrder{},
		Tasks:       []exportTask{},
		Ledger:      []exportEntry{},
		Withdrawals: []exportWithdrawal{},
		Badges:      []exportBadge{},
		DeviceIPLog: []exportDeviceIP{},
	}

	orders, err := store.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		doc.Orders = append(doc.Orders, exportOrder{
			ID:             o.ID,
			Kind:           string(o.Kind),
			TargetURL:      o.TargetURL,
			TargetCount:    o.TargetCount,
			CompletedCount: o.CompletedCount,
			UnitCost:       o.UnitCost,
			Status:         string(o.Status),
			CreatedAt:      stamp(o.CreatedAt),
		})
	}

	tasks, err := store.ListTasksByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		doc.Tasks = append(doc.Tasks, exportTask{
			ID:          t.ID,
			OrderID:     t.OrderID,
			Status:      string(t.Status),
			AssignedAt:  stamp(t.AssignedAt),
			CompletedAt: stamp(t.CompletedAt),
			CreatedAt:   stamp(t.CreatedAt),
		})
	}

	entries, err := store.EntriesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		doc.Ledger = append(doc.Ledger, exportEntry{
			ID:        e.ID,
			Amount:    e.Amount,
			Kind:      string(e.Kind),
			RefTask:   e.RefTask,
			RefOrder:  e.RefOrder,
			Note:      e.Note,
			CreatedAt: stamp(e.CreatedAt),
		})
	}

	withdrawals, err := store.ListWithdrawalsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, w := range withdrawals {
		doc.Withdrawals = append(doc.Withdrawals, exportWithdrawal{
			ID:          w.ID,
			Amount:      w.Amount,
			Status:      string(w.Status),
			RequestedAt: stamp(w.RequestedAt),
			ProcessedAt: stamp(w.ProcessedAt),
		})
	}

	awards, err := store.BadgesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, a := range awards {
		doc.Badges = append(doc.Badges, exportBadge{BadgeID: a.BadgeID, AwardedAt: stamp(a.AwardedAt)})
	}

	logs, err := store.ListDeviceIPLogsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, l := range logs {
		doc.DeviceIPLog = append(doc.DeviceIPLog, exportDeviceIP{
			Action:            l.Action,
			DeviceFingerprint: l.DeviceFingerprint,
			IP:                l.IP,
			CreatedAt:         stamp(l.CreatedAt),
		})
	}

	return json.MarshalIndent(doc, "", "  ")
}
