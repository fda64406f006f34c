package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	logx "divulgabot/pkg/logx"
)

func (s *Service) work(ctx context.Context, p *pool, id int64) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ id<<32))
	for {
		// Stop wins over whatever is still queued.
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		default:
		}
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case j := <-p.queue:
			s.inFlight.Add(1)
			s.execute(ctx, p, j, rng)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execute(ctx context.Context, p *pool, j job, rng *rand.Rand) {
	defer j.done()

	ev := TaskEvent{ID: j.ID, Name: j.Name, Started: time.Now()}
	ev.QueueDelay = max(ev.Started.Sub(j.queued), 0)
	s.emit("task.started", ev)
	s.log.Debug("task started", logx.String("task", j.Name), logx.Duration("queue_delay", ev.QueueDelay))

	err := s.attempts(ctx, p, j, rng, &ev.Attempts)
	ev.Duration = time.Since(ev.Started)
	if err != nil {
		ev.Error = cause(err).Error()
	}
	s.remember(ev)

	fields := []logx.Field{logx.String("task", j.Name), logx.Duration("dur", ev.Duration), logx.Int("attempts", ev.Attempts)}
	if err != nil {
		s.log.Warn("task failed", append(fields, logx.String("error", ev.Error))...)
		s.emit("task.failed", ev)
		return
	}
	s.log.Info("task finished", fields...)
	s.emit("task.finished", ev)
}

// attempts runs j until it succeeds, returns a final error or exhausts its
// retry budget. n receives the number of runs made.
func (s *Service) attempts(ctx context.Context, p *pool, j job, rng *rand.Rand, n *int) error {
	for {
		*n++
		err := s.runOnce(ctx, j)
		if err == nil || IsNoRetry(err) || *n > j.opt.RetryMax {
			return err
		}
		delay := backoffDelayWithHint(j.opt, *n, err, rng)
		s.log.Debug("task retry", logx.String("task", j.Name), logx.Int("next_attempt", *n+1), logx.Duration("in", delay), logx.Err(err))
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-p.quit:
			t.Stop()
			return ErrStopping
		}
	}
}

// runOnce is a single attempt under the job timeout. A panic is turned
// into an error so the worker keeps serving.
func (s *Service) runOnce(ctx context.Context, j job) (err error) {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = NoRetry(fmt.Errorf("panic: %v", r))
			s.log.Error("task panicked", logx.String("task", j.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return j.Run(ctx)
}

// backoffDelayWithHint doubles RetryBase per retry, or uses the error's own
// RetryAfter hint, then applies jitter. The result never exceeds RetryMaxDelay.
func backoffDelayWithHint(opt TaskOptions, retry int, err error, rng *rand.Rand) time.Duration {
	var hint RetryAfterError
	d := opt.RetryBase
	if errors.As(err, &hint) {
		d = hint.RetryAfter()
	} else {
		for i := 1; i < retry && d < opt.RetryMaxDelay; i++ {
			d *= 2
		}
	}
	d = min(max(d, 0), opt.RetryMaxDelay)
	if opt.RetryJitter > 0 && d > 0 && rng != nil {
		d = time.Duration(float64(d) * (1 + (2*rng.Float64()-1)*opt.RetryJitter))
	}
	return min(max(d, 0), opt.RetryMaxDelay)
}
