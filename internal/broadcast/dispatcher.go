package broadcast

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	kit "divulgabot/internal/transport"
	logx "divulgabot/pkg/logx"
)

// Sender is the slice of transport.Adapter the dispatcher needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type Dispatcher struct {
	sender        Sender
	limiter       *rate.Limiter
	throttleDelay time.Duration
	log           logx.Logger

	// sleep pauses after a flood-wait; swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(sender Sender, ratePerSec int, throttleDelay time.Duration, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	var lim *rate.Limiter
	if ratePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	}
	return &Dispatcher{sender: sender, limiter: lim, throttleDelay: throttleDelay, log: log, sleep: sleepCtx}
}

// Broadcast sends msg to each recipient in order. Failures are collected, not
// returned; only a cancelled ctx stops the loop early, and the recipients not
// yet attempted are reported as failed.
func (d *Dispatcher) Broadcast(ctx context.Context, recipients []int64, msg Composed) Report {
	rep := Report{Started: time.Now()}
	opt := msg.SendOptions()

	for i, id := range recipients {
		if err := d.wait(ctx); err != nil {
			for _, rest := range recipients[i:] {
				rep.Failed = append(rep.Failed, Failure{ChannelID: rest, Reason: err.Error()})
			}
			d.log.Warn("broadcast interrupted", logx.Int("remaining", len(recipients)-i), logx.Err(err))
			break
		}

		_, err := d.sender.SendText(ctx, kit.ChatTarget{ChatID: id}, msg.Text, opt)
		if err == nil {
			rep.Sent++
			continue
		}

		derr := &DeliveryError{ChannelID: id, Err: err}
		rep.Failed = append(rep.Failed, Failure{ChannelID: id, Reason: err.Error()})
		d.log.Warn("broadcast send failed", logx.Int64("chat_id", id), logx.Err(derr))

		if te, ok := kit.AsThrottle(err); ok {
			pause := max(d.throttleDelay, te.RetryAfter)
			d.log.Info("throttled by platform; pausing", logx.Duration("pause", pause))
			// A cancelled sleep is caught by wait on the next iteration.
			_ = d.sleep(ctx, pause)
		}
	}

	rep.Finished = time.Now()
	return rep
}

func (d *Dispatcher) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.limiter == nil {
		return nil
	}
	return d.limiter.Wait(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
