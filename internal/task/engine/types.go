package engine

import (
	"context"
	"sync"
	"time"
)

// Config sizes the worker pool. The scheduler only triggers; everything
// about execution is configured here from config.task_engine.
type Config struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration // used when Task.Timeout is 0
	HistorySize    int
	RetryMax       int // default retry budget; 0 means one attempt
}

func (c Config) normalized() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	c.RetryMax = max(c.RetryMax, 0)
	return c
}

type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	// OverlapSkipIfRunning refuses a task whose previous run is queued or
	// executing, so a slow broadcast never stacks up behind itself.
	OverlapSkipIfRunning
)

type TaskOptions struct {
	Overlap       OverlapPolicy
	RetryMax      int // > 0 overrides Config.RetryMax, < 0 disables retries
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // fraction, 0.2 = ±20%
}

const (
	defaultRetryBase     = 500 * time.Millisecond
	defaultRetryMaxDelay = 15 * time.Second
	defaultRetryJitter   = 0.2
)

func (o TaskOptions) withDefaults(cfg Config) TaskOptions {
	if o.RetryMax == 0 {
		o.RetryMax = cfg.RetryMax
	}
	o.RetryMax = max(o.RetryMax, 0)
	if o.RetryBase <= 0 {
		o.RetryBase = defaultRetryBase
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = defaultRetryMaxDelay
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = defaultRetryJitter
	}
	if o.Overlap > OverlapSkipIfRunning || o.Overlap < OverlapAllow {
		o.Overlap = OverlapSkipIfRunning
	}
	return o
}

// RunState is the overlap gate shared by every trigger of one schedule.
// The zero value is open.
type RunState struct {
	mu   sync.Mutex
	busy bool
}

func (r *RunState) acquire() bool {
	if r == nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy {
		return false
	}
	r.busy = true
	return true
}

func (r *RunState) release() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.busy = false
	r.mu.Unlock()
}

// Task is one unit of work. With OverlapSkipIfRunning the gate is State,
// or a per-Name gate owned by the engine when State is nil.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     TaskOptions
	State   *RunState
}

// TaskEvent is the payload of the task.* events on the bus.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// HistoryItem is a finished run as kept in Snapshot.History.
type HistoryItem = TaskEvent

type Snapshot struct {
	Running        bool
	Workers        int
	QueueLen       int
	QueueCap       int
	InFlight       int
	Dropped        uint64
	DefaultTimeout time.Duration
	RetryMax       int
	History        []HistoryItem
}
