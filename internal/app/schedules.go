package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"divulgabot/internal/broadcast"
	"divulgabot/internal/config"
	logx "divulgabot/pkg/logx"
)

const (
	broadcastPrefix = "broadcast@"
	reportSchedule  = "report"
)

// Scheduler is the part of scheduler.Service the app arms jobs on.
type Scheduler interface {
	AddDaily(name, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	AddWeekly(name string, weekday time.Weekday, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	Remove(name string) bool
	RemovePrefix(prefix string) int
}

// Broadcaster runs one broadcast.
type Broadcaster interface {
	Run(ctx context.Context, trigger string) (broadcast.Report, error)
}

// armSchedules replaces every broadcast slot and the report job with the
// ones cfg describes. Each slot is its own schedule so one slow run never
// delays the next slot's trigger.
func armSchedules(cfg *config.Config, s Scheduler, bc Broadcaster, report func(context.Context) error, log logx.Logger) error {
	s.RemovePrefix(broadcastPrefix)
	s.Remove(reportSchedule)

	timeout := cfg.TaskTimeout()
	var errs []error
	for _, slot := range cfg.Scheduler.BroadcastTimes {
		h, m, err := config.ParseClock(slot)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		clock := fmt.Sprintf("%02d:%02d", h, m)
		name := broadcastPrefix + clock
		trigger := "schedule@" + clock
		if _, err := s.AddDaily(name, clock, timeout, func(ctx context.Context) error {
			_, err := bc.Run(ctx, trigger)
			if errors.Is(err, broadcast.ErrRunInProgress) {
				return nil
			}
			return err
		}); err != nil {
			errs = append(errs, err)
		}
	}

	if raw := strings.TrimSpace(cfg.Report.Schedule); raw != "" && report != nil {
		rs, err := config.ParseReportSchedule(raw)
		if err == nil {
			if rs.Weekly {
				_, err = s.AddWeekly(reportSchedule, rs.Weekday, rs.Clock, reportTimeout, report)
			} else {
				_, err = s.AddDaily(reportSchedule, rs.Clock, reportTimeout, report)
			}
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	log.Info("schedules armed",
		logx.Int("broadcast_slots", len(cfg.Scheduler.BroadcastTimes)),
		logx.String("report", cfg.Report.Schedule),
	)
	return errors.Join(errs...)
}
