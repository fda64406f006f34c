package scheduler

import (
	"errors"
	"time"

	"divulgabot/internal/eventbus"
	"divulgabot/internal/task/engine"
	logx "divulgabot/pkg/logx"
)

const enqueueWarnEvery = 5 * time.Second

// fire runs on the cron goroutine. It only hands the job to the engine.
func (s *Service) fire(e *entry) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "schedule.fired", Data: e.name})
	}
	if s.engine == nil {
		return
	}
	err := s.engine.Enqueue(engine.Task{Name: e.name, Timeout: e.timeout, Run: e.run, Opt: e.opt, State: e.gate})
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrOverlapSkip):
		// A slot firing while its previous run is still sending is routine.
		s.log.Info("schedule skipped: previous run still in progress", logx.String("schedule", e.name))
	default:
		s.warnEnqueue(e.name, err)
	}
}

func (s *Service) warnEnqueue(name string, err error) {
	now := time.Now()
	s.warnMu.Lock()
	last, seen := s.lastWarn[name]
	quiet := seen && now.Sub(last) < enqueueWarnEvery
	if !quiet {
		s.lastWarn[name] = now
	}
	s.warnMu.Unlock()
	if !quiet {
		s.log.Warn("schedule could not enqueue task", logx.String("schedule", name), logx.Err(err))
	}
}
