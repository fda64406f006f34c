package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"divulgabot/internal/task/engine"
	logx "divulgabot/pkg/logx"
)

// AddCron registers run under name with a cron spec. Registering an
// existing name replaces it. Runs of one schedule never overlap.
func (s *Service) AddCron(name, spec string, timeout time.Duration, run func(ctx context.Context) error) (string, error) {
	return s.AddCronOpt(name, spec, timeout, TaskOptions{Overlap: OverlapSkipIfRunning}, run)
}

func (s *Service) AddCronOpt(name, spec string, timeout time.Duration, opt TaskOptions, run func(ctx context.Context) error) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", errors.New("schedule name required")
	case run == nil:
		return "", errors.New("schedule func required")
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return "", fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	e := &entry{name: name, spec: spec, sched: sched, timeout: timeout, run: run, opt: opt, gate: &engine.RunState{}}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(func(o *entry) bool { return o.name == name })
	s.entries = append(s.entries, e)
	if s.cron == nil {
		return name, nil
	}
	if err := s.armLocked(e); err != nil {
		return name, err
	}
	s.log.Debug("schedule registered",
		logx.String("name", name),
		logx.String("spec", spec),
		logx.String("next", s.upcomingLocked(e, 3)),
	)
	return name, nil
}

// AddDaily fires every day at HH:MM local to the scheduler.
func (s *Service) AddDaily(name, at string, timeout time.Duration, run func(ctx context.Context) error) (string, error) {
	h, m, err := parseHHMM(at)
	if err != nil {
		return "", err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), timeout, run)
}

// AddWeekly fires once a week on day at HH:MM.
func (s *Service) AddWeekly(name string, day time.Weekday, at string, timeout time.Duration, run func(ctx context.Context) error) (string, error) {
	h, m, err := parseHHMM(at)
	if err != nil {
		return "", err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * %d", m, h, day), timeout, run)
}

// Remove reports whether name was registered.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropLocked(func(e *entry) bool { return e.name == name }) > 0
}

// RemovePrefix drops every schedule whose name starts with prefix, e.g. all
// "broadcast@" slots before a reload re-registers them.
func (s *Service) RemovePrefix(prefix string) int {
	if prefix == "" {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropLocked(func(e *entry) bool { return strings.HasPrefix(e.name, prefix) })
}

func (s *Service) dropLocked(match func(*entry) bool) int {
	gone, kept := lo.FilterReject(s.entries, func(e *entry, _ int) bool { return match(e) })
	for _, e := range gone {
		if s.cron != nil && e.id != 0 {
			s.cron.Remove(e.id)
		}
	}
	s.entries = kept
	return len(gone)
}

func (s *Service) armLocked(e *entry) error {
	id, err := s.cron.AddFunc(e.spec, func() { s.fire(e) })
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", e.name), logx.String("spec", e.spec), logx.Err(err))
		return err
	}
	e.id = id
	return nil
}

// upcomingLocked renders the next n fire times, for debug logs only.
func (s *Service) upcomingLocked(e *entry, n int) string {
	if !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	out := make([]string, 0, n)
	for t := time.Now().In(s.loc); len(out) < n; {
		if t = e.sched.Next(t); t.IsZero() {
			break
		}
		out = append(out, t.Format("2006-01-02 15:04"))
	}
	return strings.Join(out, ", ")
}

// parseHHMM accepts H:MM or HH:MM on a 24h clock.
func parseHHMM(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}
