package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"divulgabot/internal/eventbus"
	rtsup "divulgabot/internal/runtime/supervisor"
	logx "divulgabot/pkg/logx"
)

// Service runs tasks on a fixed pool of supervised workers.
type Service struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	mu   sync.Mutex
	pool *pool

	gatesMu sync.Mutex
	gates   map[string]*RunState

	histMu  sync.Mutex
	history []HistoryItem

	seq      atomic.Uint64
	inFlight atomic.Int32
	dropped  atomic.Uint64
	lastWarn atomic.Int64
}

// pool is one Start..Stop generation of workers.
type pool struct {
	queue chan job
	quit  chan struct{}
	sup   *rtsup.Supervisor

	// done is set once Stop begins and closed when the workers are gone.
	done chan struct{}
}

func (p *pool) stopping() bool { return p.done != nil }

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg.normalized(),
		log:   log.With(logx.String("comp", "taskengine")),
		bus:   bus,
		gates: map[string]*RunState{},
	}
}

// Start launches the workers. Calling it on a running engine does nothing;
// on a stopping engine it waits for the drain and starts a new pool.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if p := s.pool; p != nil {
		s.mu.Unlock()
		if !p.stopping() {
			return
		}
		select {
		case <-p.done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
		if s.pool != nil {
			s.mu.Unlock()
			return
		}
	}
	p := &pool{
		queue: make(chan job, s.cfg.QueueSize),
		quit:  make(chan struct{}),
		// A failing task never takes the bot down with it.
		sup: rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
	}
	s.pool = p
	s.mu.Unlock()

	for i := range s.cfg.Workers {
		p.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.work(c, p, int64(i))
			select {
			case <-p.quit:
				return context.Canceled
			default:
			}
			if err := c.Err(); err != nil {
				return err
			}
			return errors.New("worker returned early")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("task engine started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop closes the pool and waits for in-flight tasks until ctx expires.
// Workers that outlive ctx are still reaped in the background.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	p := s.pool
	if p == nil {
		s.mu.Unlock()
		return
	}
	first := !p.stopping()
	if first {
		p.done = make(chan struct{})
		close(p.quit)
	}
	s.mu.Unlock()

	if first {
		p.sup.Cancel()
		go func() {
			_ = p.sup.Wait(context.Background())
			s.mu.Lock()
			if s.pool == p {
				s.pool = nil
			}
			s.mu.Unlock()
			close(p.done)
		}()
	}

	select {
	case <-p.done:
		if first {
			s.log.Info("task engine stopped")
		}
	case <-ctx.Done():
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	p := s.pool
	s.mu.Unlock()

	snap := Snapshot{
		Running:        p != nil && !p.stopping(),
		Workers:        s.cfg.Workers,
		QueueCap:       s.cfg.QueueSize,
		InFlight:       int(s.inFlight.Load()),
		Dropped:        s.dropped.Load(),
		DefaultTimeout: s.cfg.DefaultTimeout,
		RetryMax:       s.cfg.RetryMax,
	}
	if p != nil {
		snap.QueueLen = len(p.queue)
	}
	s.histMu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.histMu.Unlock()
	return snap
}

func (s *Service) gate(name string) *RunState {
	s.gatesMu.Lock()
	defer s.gatesMu.Unlock()
	g, ok := s.gates[name]
	if !ok {
		g = &RunState{}
		s.gates[name] = g
	}
	return g
}

func (s *Service) remember(item HistoryItem) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	s.history = append(s.history, item)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
}

func (s *Service) emit(typ string, ev TaskEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}
