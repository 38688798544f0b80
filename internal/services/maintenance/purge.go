package maintenance

import (
	"context"
	"time"
)

// PurgeStaleLogs hard-deletes aged device/IP logs, completed data-subject
// requests and wellness nudge traces. Ledger entries and withdrawal requests
// are never purged.
func (s *Service) PurgeStaleLogs(ctx context.Context) error {
	now := s.clock.Now()
	day := 24 * time.Hour

	deviceLogs, err := s.store.PurgeDeviceIPLogsBefore(ctx, now.Add(-time.Duration(s.retention.DeviceLogDays)*day))
	if err != nil {
		return err
	}
	gdprRequests, err := s.store.PurgeGDPRRequestsBefore(ctx, now.Add(-time.Duration(s.retention.GDPRRequestDays)*day))
	if err != nil {
		return err
	}
	nudges, err := s.store.PurgeNudgesBefore(ctx, now.Add(-time.Duration(s.retention.NudgeLogDays)*day))
	if err != nil {
		return err
	}

	if deviceLogs+gdprRequests+nudges > 0 {
		s.log.Infof("purged %d device logs, %d data requests, %d nudge traces", deviceLogs, gdprRequests, nudges)
	}
	return nil
}
