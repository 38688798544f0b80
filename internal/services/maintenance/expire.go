package maintenance

import (
	"context"
	"fmt"

	"github.com/engagehub/maintenance-core/internal/domain/notification"
)

// ExpireTasks flips overdue assigned tasks to expired, in batches, until no
// overdue work remains or the context runs out. The assignee keeps nothing;
// the task was never completed so no ledger entry is booked.
func (s *Service) ExpireTasks(ctx context.Context) error {
	cutoff := s.clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		expired, err := s.store.ExpireAssignedTasksBefore(ctx, cutoff, expireBatch)
		if err != nil {
			return err
		}
		for _, t := range expired {
			s.emit(notification.Intent{
				UserID:   t.AssigneeID,
				Kind:     notification.KindTaskExpired,
				Priority: notification.PriorityMedium,
				Title:    "Task expired",
				Body:     "An assigned task passed its deadline and was released.",
				Payload:  map[string]string{"task_id": fmt.Sprint(t.ID)},
			})
		}
		if len(expired) > 0 {
			s.log.Infof("expired %d overdue tasks", len(expired))
		}
		if len(expired) < expireBatch {
			return nil
		}
	}
}
