package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// memoryStore keeps the directory in process memory. It is the test double
// for every component that needs a Store.
type memoryStore struct {
	mu      sync.Mutex
	nextSeq int64
	byID    map[int64]*Channel
	views   int64
	audit   []AuditEntry
	now     func() time.Time
}

func NewMemory() Store {
	return &memoryStore{byID: map[int64]*Channel{}, now: time.Now}
}

func (m *memoryStore) Register(_ context.Context, id int64, name, handle string, approved bool) (Channel, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.byID[id]; ok {
		return *c, false, nil
	}
	m.nextSeq++
	c := &Channel{
		Seq:          m.nextSeq,
		ID:           id,
		DisplayName:  name,
		PublicHandle: strings.TrimPrefix(handle, "@"),
		Approved:     approved,
		CreatedAt:    m.now().UTC(),
	}
	m.byID[id] = c
	return *c, true, nil
}

func (m *memoryStore) SetApproved(_ context.Context, id int64, approved bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	c.Approved = approved
	return nil
}

func (m *memoryStore) Remove(_ context.Context, id int64) error {
	m.mu.Lock()
	delete(m.byID, id)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Get(_ context.Context, id int64) (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return Channel{}, &NotFoundError{ID: id}
	}
	return *c, nil
}

func (m *memoryStore) GetBySeq(_ context.Context, seq int64) (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byID {
		if c.Seq == seq {
			return *c, nil
		}
	}
	return Channel{}, &NotFoundError{Seq: seq}
}

func (m *memoryStore) List(_ context.Context, f ListFilter) ([]Channel, error) {
	m.mu.Lock()
	out := make([]Channel, 0, len(m.byID))
	for _, c := range m.byID {
		if f.match(*c) {
			out = append(out, *c)
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *memoryStore) CountApproved(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.byID {
		if c.Approved {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) IncrementViews(_ context.Context, n int64) error {
	m.mu.Lock()
	m.views += n
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) ReadAndResetViews(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.views
	m.views = 0
	return v, nil
}

func (m *memoryStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = m.now()
	}
	m.mu.Lock()
	m.audit = append(m.audit, e)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Close() error { return nil }
