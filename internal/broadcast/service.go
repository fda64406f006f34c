package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"

	"divulgabot/internal/eventbus"
	"divulgabot/internal/storage"
	kit "divulgabot/internal/transport"
	logx "divulgabot/pkg/logx"
)

// Adapter is what the service needs from the transport.
type Adapter interface {
	ChatResolver
	Sender
}

type Service struct {
	// runMu is held for the whole run; TryLock rejects overlapping runs.
	runMu sync.Mutex

	mu         sync.Mutex
	cfg        Config
	composer   *Composer
	dispatcher *Dispatcher
	last       *RunStatus

	store   storage.Store
	adapter Adapter
	bus     eventbus.Bus
	log     logx.Logger

	shuffle func([]storage.Channel) []storage.Channel
}

func New(cfg Config, store storage.Store, adapter Adapter, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store:   store,
		adapter: adapter,
		bus:     bus,
		log:     log.With(logx.String("comp", "broadcast")),
		shuffle: func(cs []storage.Channel) []storage.Channel { return lo.Shuffle(cs) },
	}
	s.Apply(cfg)
	return s
}

// Apply swaps tunables. A run in progress keeps the values it started with.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.composer = NewComposer(cfg.Header, cfg.LookupTimeout, s.adapter, s.log)
	s.dispatcher = NewDispatcher(s.adapter, cfg.RatePerSec, cfg.ThrottleDelay, s.log)
}

// LastRun returns the most recent run outcome, if any.
func (s *Service) LastRun() (RunStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return RunStatus{}, false
	}
	cp := *s.last
	cp.Report.Failed = append([]Failure(nil), s.last.Report.Failed...)
	return cp, true
}

// Run loads approved channels and broadcasts to them. trigger labels the run
// in logs ("schedule@18:00", "command").
func (s *Service) Run(ctx context.Context, trigger string) (Report, error) {
	if !s.runMu.TryLock() {
		s.log.Info("broadcast skipped: previous run still in progress", logx.String("trigger", trigger))
		return Report{}, ErrRunInProgress
	}
	defer s.runMu.Unlock()

	s.mu.Lock()
	cfg, composer, dispatcher := s.cfg, s.composer, s.dispatcher
	s.mu.Unlock()

	start := time.Now()
	channels, err := s.store.List(ctx, storage.OnlyApproved())
	if err != nil {
		err = fmt.Errorf("load approved channels: %w", err)
		s.record(RunStatus{Trigger: trigger, Report: Report{Started: start, Finished: time.Now()}, Err: err.Error()})
		return Report{}, err
	}
	if len(channels) == 0 {
		s.log.Info("broadcast skipped: no approved channels", logx.String("trigger", trigger))
		rep := Report{Started: start, Finished: time.Now()}
		s.record(RunStatus{Trigger: trigger, Report: rep})
		return rep, nil
	}

	order := append([]storage.Channel(nil), channels...)
	if cfg.Shuffle {
		order = s.shuffle(order)
	}

	rep := Report{Started: start}
	if cfg.BatchSize <= 0 {
		msg := composer.Compose(ctx, order)
		ids := lo.Map(order, func(c storage.Channel, _ int) int64 { return c.ID })
		rep.merge(dispatcher.Broadcast(ctx, ids, msg))
		rep.Groups = 1
	} else {
		for _, group := range lo.Chunk(order, cfg.BatchSize) {
			target := cfg.RepresentativeChatID
			if target == 0 {
				target = group[0].ID
			}
			msg := composer.Compose(ctx, group)
			part := dispatcher.Broadcast(ctx, []int64{target}, msg)
			part.Groups = 1
			rep.merge(part)
		}
	}
	rep.Finished = time.Now()

	fields := []logx.Field{
		logx.String("trigger", trigger),
		logx.Int("channels", len(order)),
		logx.Int("groups", rep.Groups),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", len(rep.Failed)),
		logx.Duration("dur", rep.Finished.Sub(start)),
	}
	if len(rep.Failed) > 0 {
		s.log.Warn("broadcast finished with failures", fields...)
	} else {
		s.log.Info("broadcast finished", fields...)
	}

	s.record(RunStatus{Trigger: trigger, Channels: len(order), Report: rep})
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeBroadcastFinished, Time: rep.Finished, Data: rep})
	}
	return rep, nil
}

func (s *Service) record(st RunStatus) {
	s.mu.Lock()
	s.last = &st
	s.mu.Unlock()
}

var _ Adapter = (kit.Adapter)(nil)
