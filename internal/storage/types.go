package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("channel not found")
)

// NotFoundError reports an operation on an unknown channel. It matches
// ErrNotFound with errors.Is.
type NotFoundError struct {
	ID  int64
	Seq int64
}

func (e *NotFoundError) Error() string {
	if e.Seq != 0 {
		return fmt.Sprintf("channel #%d not found", e.Seq)
	}
	return fmt.Sprintf("channel %d not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (canonical)
//   - "postgres": PostgreSQL through gorm
//   - "memory": process-local, lost on restart
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Channel is a directory entry. ID is the platform chat id; Seq is the
// store-assigned insertion sequence used for ordering and admin callbacks.
type Channel struct {
	Seq          int64
	ID           int64
	DisplayName  string
	PublicHandle string
	Approved     bool
	CreatedAt    time.Time
}

// ListFilter narrows List. A nil Approved returns every entry.
type ListFilter struct {
	Approved *bool
}

// OnlyApproved and OnlyPending are the two common filters.
func OnlyApproved() ListFilter { v := true; return ListFilter{Approved: &v} }
func OnlyPending() ListFilter  { v := false; return ListFilter{Approved: &v} }

func (f ListFilter) match(c Channel) bool {
	return f.Approved == nil || *f.Approved == c.Approved
}

// AuditEntry records a directory mutation.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At        time.Time
	ActorID   int64
	ChannelID int64
	Action    string
	Source    string
	Detail    string
}

// Store is the persistence API for the channel directory and its counters.
type Store interface {
	// Register inserts the channel if absent; otherwise it returns the
	// existing record unchanged and created=false.
	Register(ctx context.Context, id int64, name, handle string, approved bool) (ch Channel, created bool, err error)
	SetApproved(ctx context.Context, id int64, approved bool) error
	// Remove is idempotent.
	Remove(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (Channel, error)
	GetBySeq(ctx context.Context, seq int64) (Channel, error)
	// List returns matching channels ordered by Seq.
	List(ctx context.Context, f ListFilter) ([]Channel, error)
	CountApproved(ctx context.Context) (int, error)

	IncrementViews(ctx context.Context, n int64) error
	// ReadAndResetViews returns the counter and zeroes it in one atomic step.
	ReadAndResetViews(ctx context.Context) (int64, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}
