package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	logx "divulgabot/pkg/logx"
)

// healthyRun is how long a run must last for the backoff to reset.
const healthyRun = 30 * time.Second

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	minWait      time.Duration
	maxWait      time.Duration
	stopOnClean  bool
	publishFirst bool
}

// WithRestartBackoff bounds the doubling delay between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.minWait = min
		}
		if max > 0 {
			p.maxWait = max
		}
	}
}

// WithPublishFirstError records restarted failures in Err. Restarts never
// cancel the supervisor.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.publishFirst = enabled }
}

// WithStopOnCleanExit decides whether a nil return ends the loop (the
// default) or counts as an exit to restart from.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.stopOnClean = enabled }
}

// GoRestart keeps fn running until the supervisor context is cancelled,
// restarting it with backoff after errors and panics. The Telegram poller
// and the task workers run this way.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{minWait: 250 * time.Millisecond, maxWait: 30 * time.Second, stopOnClean: true}
	for _, o := range opts {
		o(&p)
	}
	p.maxWait = max(p.maxWait, p.minWait)

	// The host goroutine is tracked under its own name so the logical
	// name only counts runs of fn.
	s.Go0(name+".restart", func(ctx context.Context) { s.restartLoop(ctx, name, fn, p) })
}

// GoRestart0 is GoRestart for functions without an error result.
func (s *Supervisor) GoRestart0(name string, fn func(ctx context.Context), opts ...RestartOption) {
	if fn != nil {
		s.GoRestart(name, func(ctx context.Context) error { fn(ctx); return nil }, opts...)
	}
}

func (s *Supervisor) restartLoop(ctx context.Context, name string, fn func(context.Context) error, p restartPolicy) {
	wait := p.minWait
	for run := 0; ctx.Err() == nil; run++ {
		began := s.track(name, run > 0)
		err := s.protect(name, fn)

		if ctx.Err() != nil || errors.Is(err, context.Canceled) || (err == nil && p.stopOnClean) {
			s.untrack(name, nil)
			return
		}
		if err == nil {
			err = errors.New("exited")
		}
		err = fmt.Errorf("%s: %w", name, err)
		s.untrack(name, err)
		if p.publishFirst {
			s.fail(err, false)
		}

		if time.Since(began) >= healthyRun {
			wait = p.minWait
		}
		delay := wait + rand.N(wait/5+1)
		s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", delay), logx.Err(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		wait = min(wait*2, p.maxWait)
	}
}
