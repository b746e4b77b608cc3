package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/shopadmin/pkg/audit"
	"github.com/platinummonkey/shopadmin/pkg/observability"
)

// DefaultSweepSchedule runs the sweep every five minutes
const DefaultSweepSchedule = "*/5 * * * *"

// MembershipSweeper periodically removes expired role memberships and drops
// the cached grants of the affected roles.
type MembershipSweeper struct {
	store       *Store
	checker     *PermissionChecker
	schedule    string
	metrics     *observability.Metrics
	logger      *observability.Logger
	auditLogger audit.Logger
	now         func() time.Time
}

// NewMembershipSweeper creates a sweeper. An empty schedule uses
// DefaultSweepSchedule; metrics and auditLogger may be nil.
func NewMembershipSweeper(store *Store, checker *PermissionChecker, schedule string, metrics *observability.Metrics, logger *observability.Logger, auditLogger audit.Logger) *MembershipSweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if auditLogger == nil {
		auditLogger = audit.NoopLogger{}
	}
	return &MembershipSweeper{
		store:       store,
		checker:     checker,
		schedule:    schedule,
		metrics:     metrics,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// RunOnce performs a single sweep and returns the number of memberships
// removed.
func (s *MembershipSweeper) RunOnce(ctx context.Context) (int64, error) {
	roleIDs, removed, err := s.store.SweepExpiredMemberships(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}

	if s.checker != nil {
		for _, roleID := range roleIDs {
			s.checker.InvalidateRole(ctx, roleID)
		}
	}
	s.metrics.MembershipsExpired(removed)

	event := audit.NewEvent(ctx, audit.EventTypeSystemMembershipsSwept, audit.EventStatusSuccess)
	event.Message = fmt.Sprintf("removed %d expired memberships", removed)
	event.Metadata = map[string]interface{}{"role_ids": roleIDs, "removed": removed}
	if err := s.auditLogger.Log(ctx, event); err != nil {
		s.logger.WithError(err).Warn("failed to write audit event")
	}

	s.logger.WithFields(map[string]interface{}{
		"removed":  removed,
		"role_ids": roleIDs,
	}).Info("expired memberships swept")
	return removed, nil
}

// Run sweeps on the configured schedule until ctx is cancelled
func (s *MembershipSweeper) Run(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.WithError(err).Error("membership sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	c.Start()
	s.logger.WithField("schedule", s.schedule).Info("membership sweeper started")

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	s.logger.Info("membership sweeper stopped")
	return nil
}
