package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"divulgabot/internal/eventbus"
	"divulgabot/internal/task/engine"
	logx "divulgabot/pkg/logx"
)

// Config only carries the zone; workers, retries and timeouts are
// engine.Config's business.
type Config struct {
	Timezone string // IANA name, e.g. "America/Sao_Paulo"; empty means Local
}

type TaskOptions = engine.TaskOptions

const (
	OverlapAllow         = engine.OverlapAllow
	OverlapSkipIfRunning = engine.OverlapSkipIfRunning
)

// entry is one registered trigger.
type entry struct {
	name    string
	spec    string
	sched   cron.Schedule
	timeout time.Duration
	run     func(ctx context.Context) error
	opt     TaskOptions
	gate    *engine.RunState
	id      cron.EntryID // 0 while the cron is not running
}

type Service struct {
	log    logx.Logger
	bus    eventbus.Bus
	engine *engine.Service
	parser cron.Parser

	mu      sync.Mutex
	cfg     Config
	loc     *time.Location
	cron    *cron.Cron
	entries []*entry

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

// New builds a stopped scheduler. eng may be nil, in which case triggers
// are registered and reported but never executed.
func New(cfg Config, eng *engine.Service, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log.With(logx.String("comp", "scheduler")),
		bus:    bus,
		engine: eng,
		// Both 5-field specs and 6-field specs with seconds are accepted.
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		cfg:      cfg,
		lastWarn: map[string]time.Time{},
	}
	s.loc = s.zone(cfg.Timezone)
	return s
}

// Apply swaps the config. A new timezone rebuilds the running cron so every
// trigger is re-evaluated in it.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := strings.TrimSpace(cfg.Timezone) != strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if !changed {
		return
	}
	s.loc = s.zone(cfg.Timezone)
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.startLocked()
		s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.entries)))
	}
}

// Start arms every registered trigger. Calling it twice is harmless.
func (s *Service) Start(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return
	}
	s.startLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.entries)))
}

func (s *Service) startLocked() {
	s.cron = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, e := range s.entries {
		s.armLocked(e)
	}
	s.cron.Start()
}

// Stop disarms the triggers and waits for cron to settle or ctx to end.
// Registrations survive, so Start resumes them.
func (s *Service) Stop(ctx context.Context) {
	began := time.Now()
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	for _, e := range s.entries {
		e.id = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(began)))
}

// Location is the zone triggers are evaluated in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

func (s *Service) zone(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		s.log.Warn("unknown timezone, using Local", logx.String("tz", name), logx.Err(err))
		return time.Local
	}
	return loc
}
