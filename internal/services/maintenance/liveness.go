package maintenance

import (
	"context"
	"fmt"

	"github.com/engagehub/maintenance-core/internal/domain/ledger"
	"github.com/engagehub/maintenance-core/internal/domain/notification"
	"github.com/engagehub/maintenance-core/internal/domain/order"
	apperrors "github.com/engagehub/maintenance-core/internal/errors"
)

// CheckOrderLiveness probes every active order's target and cancels orders
// whose target is authoritatively gone: in-flight tasks fail, the owner gets
// the outstanding slots refunded, and everyone involved is notified. Probe
// errors leave the order untouched for the next pass.
func (s *Service) CheckOrderLiveness(ctx context.Context) error {
	orders, err := s.store.ActiveOrders(ctx)
	if err != nil {
		return err
	}

	for _, o := range orders {
		if err := ctx.Err(); err != nil {
			return err
		}

		exists, err := s.validator.ProbePost(ctx, o.TargetURL)
		if err != nil {
			s.log.WithError(err).Debugf("probe for order %d inconclusive", o.ID)
			continue
		}
		if exists {
			continue
		}
		if err := s.cancelDeadOrder(ctx, o); err != nil {
			s.log.WithError(err).Warnf("cancel order %d failed", o.ID)
		}
	}
	return nil
}

func (s *Service) cancelDeadOrder(ctx context.Context, o order.Order) error {
	cancelled, err := s.store.CancelOrder(ctx, o.ID)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindConflict) {
			s.log.Debugf("order %d changed state concurrently", o.ID)
			return nil
		}
		return err
	}

	failed, err := s.store.FailInFlightTasksForOrder(ctx, o.ID)
	if err != nil {
		return err
	}

	if refund := cancelled.UnitCost * int64(cancelled.OutstandingSlots()); refund > 0 {
		if _, err := s.store.AppendLedgerAndAdjustBalance(ctx, ledger.Entry{
			UserID:   cancelled.OwnerID,
			Amount:   refund,
			Kind:     ledger.KindEarn,
			RefOrder: cancelled.ID,
			Note:     "refund for cancelled order",
		}); err != nil {
			return err
		}
	}

	s.emit(notification.Intent{
		UserID:   cancelled.OwnerID,
		Kind:     notification.KindOrderCancelled,
		Priority: notification.PriorityHigh,
		Title:    "Order cancelled",
		Body:     "The target of your order is no longer reachable; outstanding slots were refunded.",
		Payload:  map[string]string{"order_id": fmt.Sprint(cancelled.ID)},
	})
	for _, t := range failed {
		s.emit(notification.Intent{
			UserID:   t.AssigneeID,
			Kind:     notification.KindTaskFailed,
			Priority: notification.PriorityMedium,
			Title:    "Task failed",
			Body:     "The order behind your task was cancelled.",
			Payload:  map[string]string{"task_id": fmt.Sprint(t.ID)},
		})
	}

	s.log.Infof("order %d cancelled, %d tasks failed", cancelled.ID, len(failed))
	return nil
}
