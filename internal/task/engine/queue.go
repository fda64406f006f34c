package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "divulgabot/pkg/logx"
)

const queueFullWarnEvery = 5 * time.Second

// job is a Task resolved against the engine config, waiting in the queue.
type job struct {
	Task
	queued  time.Time
	timeout time.Duration
	opt     TaskOptions
	gate    *RunState // held until the job finishes; nil when overlap is allowed
}

func (j job) done() { j.gate.release() }

// Enqueue hands t to the pool without blocking. A full queue drops the task
// and returns ErrQueueFull.
func (s *Service) Enqueue(t Task) error {
	return s.push(context.Background(), t, false)
}

// Submit is Enqueue with backpressure: it waits for queue space until ctx
// is done or the engine stops.
func (s *Service) Submit(ctx context.Context, t Task) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.push(ctx, t, true)
}

func (s *Service) push(ctx context.Context, t Task, wait bool) error {
	t.Name = strings.TrimSpace(t.Name)
	switch {
	case t.Run == nil:
		return errors.New("task has no Run func")
	case t.Name == "":
		return errors.New("task has no Name")
	}

	now := time.Now()
	if strings.TrimSpace(t.ID) == "" {
		t.ID = fmt.Sprintf("tsk-%x-%x", now.UnixNano(), s.seq.Add(1))
	}

	s.mu.Lock()
	p := s.pool
	s.mu.Unlock()
	if p == nil {
		return ErrStopped
	}
	if p.stopping() {
		return ErrStopping
	}

	j := job{Task: t, queued: now, timeout: t.Timeout, opt: t.Opt.withDefaults(s.cfg)}
	if j.timeout <= 0 {
		j.timeout = s.cfg.DefaultTimeout
	}
	if j.opt.Overlap == OverlapSkipIfRunning {
		g := t.State
		if g == nil {
			g = s.gate(t.Name)
		}
		if !g.acquire() {
			s.emit("task.skipped", TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "overlap_skip"})
			s.log.Debug("task skipped: still running", logx.String("task", t.Name))
			return ErrOverlapSkip
		}
		j.gate = g
	}

	if !wait {
		select {
		case p.queue <- j:
			return nil
		default:
			j.done()
			s.dropFull(now, t, len(p.queue))
			return ErrQueueFull
		}
	}
	select {
	case p.queue <- j:
		return nil
	case <-ctx.Done():
		j.done()
		return ctx.Err()
	case <-p.quit:
		j.done()
		return ErrStopping
	}
}

func (s *Service) dropFull(now time.Time, t Task, queued int) {
	n := s.dropped.Add(1)
	s.emit("task.dropped", TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "queue_full"})

	last := s.lastWarn.Load()
	if last != 0 && time.Duration(now.UnixNano()-last) < queueFullWarnEvery {
		return
	}
	if s.lastWarn.CompareAndSwap(last, now.UnixNano()) {
		s.log.Warn("task dropped: queue full",
			logx.String("task", t.Name),
			logx.Int("queued", queued),
			logx.Int("queue_cap", s.cfg.QueueSize),
			logx.Uint64("dropped", n),
		)
	}
}
