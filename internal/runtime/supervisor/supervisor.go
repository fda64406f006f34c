// Package supervisor runs the bot's long-lived goroutines under one
// context, recovering panics and keeping per-name run statistics.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logx "divulgabot/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}

	errMu    sync.Mutex
	firstErr error

	started atomic.Uint64
	active  atomic.Int64

	statsMu sync.Mutex
	stats   map[string]*RoutineStats
}

type SupervisorOption func(*Supervisor)

func WithLogger(log logx.Logger) SupervisorOption {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels every goroutine once any of them fails.
func WithCancelOnError(enabled bool) SupervisorOption {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

// RoutineStats counts the runs of one named goroutine.
type RoutineStats struct {
	Name      string
	Active    int64
	Started   uint64
	Restarts  uint64
	Panics    uint64
	LastStart time.Time
	LastErr   string
}

type Snapshot struct {
	Active     int64
	Started    uint64
	FirstError string
	Goroutines []RoutineStats
}

func NewSupervisor(parent context.Context, opts ...SupervisorOption) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		log:    logx.Nop(),
		done:   make(chan struct{}),
		stats:  map[string]*RoutineStats{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context. It does not wait.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first failure seen, or nil.
func (s *Supervisor) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.firstErr
}

// Go runs fn in its own goroutine. A non-nil error other than
// context.Canceled, or a panic, is recorded as a failure.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.spawn(func() {
		s.track(name, false)
		err := s.protect(name, fn)
		if err != nil && errors.Is(err, context.Canceled) {
			err = nil
		}
		if err != nil {
			err = fmt.Errorf("%s: %w", name, err)
		}
		s.untrack(name, err)
		if err != nil {
			s.fail(err, s.cancelOnErr)
		}
	})
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn != nil {
		s.Go(name, func(ctx context.Context) error { fn(ctx); return nil })
	}
}

func (s *Supervisor) spawn(body func()) {
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		body()
	}()
}

// panicError marks an error produced by a recovered panic.
type panicError struct{ v any }

func (p panicError) Error() string { return fmt.Sprintf("panic: %v", p.v) }

// protect calls fn with the supervisor context and turns a panic into a
// panicError.
func (s *Supervisor) protect(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.bump(name, func(st *RoutineStats) { st.Panics++ })
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = panicError{v: r}
		}
	}()
	return fn(s.ctx)
}

func (s *Supervisor) fail(err error, cancel bool) {
	s.errMu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.errMu.Unlock()
	if cancel {
		s.cancel()
	}
}

// Stop cancels and waits.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine returned or ctx is done. It returns
// the first failure, or ctx's error on timeout.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{Active: s.active.Load(), Started: s.started.Load()}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}
	s.statsMu.Lock()
	for _, st := range s.stats {
		snap.Goroutines = append(snap.Goroutines, *st)
	}
	s.statsMu.Unlock()
	sort.Slice(snap.Goroutines, func(i, j int) bool { return snap.Goroutines[i].Name < snap.Goroutines[j].Name })
	return snap
}

func (s *Supervisor) bump(name string, f func(*RoutineStats)) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	st, ok := s.stats[name]
	if !ok {
		st = &RoutineStats{Name: name}
		s.stats[name] = st
	}
	f(st)
}

func (s *Supervisor) track(name string, restart bool) time.Time {
	now := time.Now()
	s.bump(name, func(st *RoutineStats) {
		st.Started++
		st.Active++
		st.LastStart = now
		if restart {
			st.Restarts++
		}
	})
	s.log.Debug("goroutine started", logx.String("name", name))
	return now
}

func (s *Supervisor) untrack(name string, err error) {
	s.bump(name, func(st *RoutineStats) {
		st.Active = max(st.Active-1, 0)
		if err != nil {
			st.LastErr = err.Error()
		}
	})
	s.log.Debug("goroutine stopped", logx.String("name", name))
}
