package scheduler

import (
	"slices"
	"time"
)

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type Snapshot struct {
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
}

// Snapshot lists the schedules by next fire time. Next is computed from
// the parsed schedule when cron is not running.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().In(s.loc)
	items := make([]ScheduleInfo, 0, len(s.entries))
	for _, e := range s.entries {
		it := ScheduleInfo{Name: e.name, Spec: e.spec, Timeout: e.timeout}
		if s.cron != nil && e.id != 0 {
			ce := s.cron.Entry(e.id)
			it.Next, it.Prev = ce.Next, ce.Prev
		} else {
			it.Next = e.sched.Next(now)
		}
		items = append(items, it)
	}
	slices.SortStableFunc(items, func(a, b ScheduleInfo) int { return a.Next.Compare(b.Next) })
	return Snapshot{Running: s.cron != nil, Timezone: s.loc.String(), Schedules: items}
}
