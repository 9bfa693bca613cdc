package sect

import (
	"context"
	"time"

	"github.com/xianrealm/sectd/sect/task"
	"go.uber.org/zap"
)

// RunMaintenance performs sect-level upkeep for a cadence. The weekly
// pass zeroes every member's weekly contribution and stamps the sect's
// maintenance time; the daily pass has no sect-level work.
func (svc *Service) RunMaintenance(ctx context.Context, cadence task.Cadence, now time.Time) error {
	if cadence != task.CadenceWeekly {
		return nil
	}

	for _, s := range svc.registry.All() {
		s.mu.Lock()
		members := make([]Member, 0, len(s.Members))
		for _, m := range s.Members {
			m.WeeklyContribution = 0
			members = append(members, *m)
		}
		s.LastMaintenanceAt = now
		sectID := s.ID
		sectName := s.Name
		s.mu.Unlock()

		if err := svc.store.SaveSect(ctx, s); err != nil {
			return collaboratorErr("persist sect", err)
		}
		for i := range members {
			if err := svc.store.SaveMember(ctx, sectID, &members[i]); err != nil {
				return collaboratorErr("persist member", err)
			}
		}
		svc.logger.Debug("weekly maintenance",
			zap.Int64("sect_id", sectID),
			zap.String("sect", sectName),
			zap.Int("members", len(members)))
	}
	return nil
}
