package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"pushbridge/internal/runtime/supervisor"
	"pushbridge/pkg/logx"
)

// scheduleJobTimeout bounds a single scheduled resync or token rotation.
const scheduleJobTimeout = 30 * time.Second

// Accepts standard 5-field cron specs, optional leading seconds, and
// descriptors like @hourly or @every 15m.
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule checks a cron spec. Empty means disabled and is valid.
func ValidateSchedule(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	if _, err := scheduleParser.Parse(spec); err != nil {
		return fmt.Errorf("parse %q: %w", spec, err)
	}
	return nil
}

type schedules struct {
	c *cron.Cron
}

// Resync reconciles the renderer's channel registry against the current
// desired settings. Renderers without channel management make this a no-op.
func (s *Service) Resync(ctx context.Context) error {
	if s.rec == nil {
		s.log.Debug("channel resync skipped")
		return nil
	}
	res, err := s.rec.Reconcile(ctx, s.currentSettings())
	if err != nil {
		return fmt.Errorf("reconcile channels: %w", err)
	}
	if res.Changed() {
		s.publish("bridge.reconciled", ReconcileEvent{
			Ensured: len(res.Ensured),
			Deleted: len(res.Deleted),
			Kept:    len(res.Kept),
			At:      time.Now(),
		})
	}
	return nil
}

// startSchedules registers the optional cron entries. Jobs run against the
// supervisor context so they die with the service.
func (s *Service) startSchedules(sup *supervisor.Supervisor) {
	s.mu.Lock()
	resync := strings.TrimSpace(s.cfg.Resync)
	rotate := strings.TrimSpace(s.cfg.TokenRotate)
	s.mu.Unlock()
	if resync == "" && rotate == "" {
		return
	}

	root := sup.Context()
	c := cron.New(cron.WithParser(scheduleParser))
	if resync != "" {
		if _, err := c.AddFunc(resync, func() {
			ctx, cancel := context.WithTimeout(root, scheduleJobTimeout)
			defer cancel()
			if err := s.Resync(ctx); err != nil {
				s.log.Warn("scheduled resync failed", logx.Err(err))
			}
		}); err != nil {
			s.log.Error("resync schedule rejected", logx.String("spec", resync), logx.Err(err))
		} else {
			s.log.Info("channel resync scheduled", logx.String("spec", resync))
		}
	}
	if rotate != "" {
		if _, err := c.AddFunc(rotate, func() {
			ctx, cancel := context.WithTimeout(root, scheduleJobTimeout)
			defer cancel()
			if _, err := s.RotateToken(ctx); err != nil {
				s.log.Warn("scheduled token rotation failed", logx.Err(err))
			}
		}); err != nil {
			s.log.Error("token rotate schedule rejected", logx.String("spec", rotate), logx.Err(err))
		} else {
			s.log.Info("token rotation scheduled", logx.String("spec", rotate))
		}
	}
	c.Start()

	s.runMu.Lock()
	s.sched = &schedules{c: c}
	s.runMu.Unlock()
}

func (s *Service) stopSchedules(ctx context.Context, sched *schedules) {
	if sched == nil || sched.c == nil {
		return
	}
	select {
	case <-sched.c.Stop().Done():
	case <-ctx.Done():
		// best-effort
	}
}
