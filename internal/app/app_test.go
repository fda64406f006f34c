package app

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"divulgabot/internal/broadcast"
	"divulgabot/internal/config"
	"divulgabot/internal/eventbus"
	"divulgabot/internal/storage"
	"divulgabot/internal/task/scheduler"
	logx "divulgabot/pkg/logx"
)

type fakeScheduler struct {
	jobs  map[string]func(context.Context) error
	specs map[string]string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: map[string]func(context.Context) error{}, specs: map[string]string{}}
}

func (f *fakeScheduler) AddDaily(name, at string, _ time.Duration, job func(context.Context) error) (string, error) {
	f.jobs[name], f.specs[name] = job, "daily "+at
	return name, nil
}

func (f *fakeScheduler) AddWeekly(name string, wd time.Weekday, at string, _ time.Duration, job func(context.Context) error) (string, error) {
	f.jobs[name], f.specs[name] = job, wd.String()+" "+at
	return name, nil
}

func (f *fakeScheduler) Remove(name string) bool {
	_, ok := f.jobs[name]
	delete(f.jobs, name)
	delete(f.specs, name)
	return ok
}

func (f *fakeScheduler) RemovePrefix(prefix string) int {
	n := 0
	for name := range f.jobs {
		if strings.HasPrefix(name, prefix) {
			f.Remove(name)
			n++
		}
	}
	return n
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	triggers []string
	err      error
}

func (b *fakeBroadcaster) Run(_ context.Context, trigger string) (broadcast.Report, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.triggers = append(b.triggers, trigger)
	return broadcast.Report{}, b.err
}

func noopReport(context.Context) error { return nil }

func TestArmSchedulesRegistersSlotsAndReport(t *testing.T) {
	t.Parallel()
	s := newFakeScheduler()
	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{BroadcastTimes: []string{"9:00", "18:30"}},
		Report:    config.ReportConfig{Schedule: "seg 08:15"},
	}
	if err := armSchedules(cfg, s, &fakeBroadcaster{}, noopReport, logx.Nop()); err != nil {
		t.Fatalf("armSchedules: %v", err)
	}
	want := map[string]string{
		"broadcast@09:00": "daily 09:00",
		"broadcast@18:30": "daily 18:30",
		"report":          "Monday 08:15",
	}
	if diff := cmp.Diff(want, s.specs); diff != "" {
		t.Fatalf("schedules mismatch (-want +got):\n%s", diff)
	}
}

func TestArmSchedulesReplacesPreviousSet(t *testing.T) {
	t.Parallel()
	s := newFakeScheduler()
	first := &config.Config{
		Scheduler: config.SchedulerConfig{BroadcastTimes: []string{"09:00", "18:30"}},
		Report:    config.ReportConfig{Schedule: "20:00"},
	}
	if err := armSchedules(first, s, &fakeBroadcaster{}, noopReport, logx.Nop()); err != nil {
		t.Fatalf("armSchedules: %v", err)
	}
	second := &config.Config{Scheduler: config.SchedulerConfig{BroadcastTimes: []string{"12:00"}}}
	if err := armSchedules(second, s, &fakeBroadcaster{}, noopReport, logx.Nop()); err != nil {
		t.Fatalf("armSchedules: %v", err)
	}
	if diff := cmp.Diff(map[string]string{"broadcast@12:00": "daily 12:00"}, s.specs); diff != "" {
		t.Fatalf("schedules mismatch (-want +got):\n%s", diff)
	}
}

func TestArmSchedulesCollectsErrors(t *testing.T) {
	t.Parallel()
	s := newFakeScheduler()
	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{BroadcastTimes: []string{"25:00", "10:00"}},
		Report:    config.ReportConfig{Schedule: "someday 10:00"},
	}
	if err := armSchedules(cfg, s, &fakeBroadcaster{}, noopReport, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
	if _, ok := s.jobs["broadcast@10:00"]; !ok {
		t.Fatalf("valid slot not armed: %v", s.specs)
	}
}

func TestBroadcastJobTriggerAndOverlap(t *testing.T) {
	t.Parallel()
	s := newFakeScheduler()
	bc := &fakeBroadcaster{err: broadcast.ErrRunInProgress}
	cfg := &config.Config{Scheduler: config.SchedulerConfig{BroadcastTimes: []string{"18:00"}}}
	if err := armSchedules(cfg, s, bc, noopReport, logx.Nop()); err != nil {
		t.Fatalf("armSchedules: %v", err)
	}
	job := s.jobs["broadcast@18:00"]
	if err := job(context.Background()); err != nil {
		t.Fatalf("overlapping run should be skipped quietly, got %v", err)
	}
	bc.err = errors.New("store down")
	if err := job(context.Background()); err == nil {
		t.Fatalf("expected run error to propagate")
	}
	if diff := cmp.Diff([]string{"schedule@18:00", "schedule@18:00"}, bc.triggers); diff != "" {
		t.Fatalf("triggers mismatch (-want +got):\n%s", diff)
	}
}

func TestArmSchedulesOnRealScheduler(t *testing.T) {
	t.Parallel()
	s := scheduler.New(scheduler.Config{Timezone: "UTC"}, nil, logx.Nop(), nil)
	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{BroadcastTimes: []string{"06:00", "21:45"}},
		Report:    config.ReportConfig{Schedule: "sexta 17:00"},
	}
	if err := armSchedules(cfg, s, &fakeBroadcaster{}, noopReport, logx.Nop()); err != nil {
		t.Fatalf("armSchedules: %v", err)
	}
	var names []string
	for _, it := range s.Snapshot().Schedules {
		names = append(names, it.Name)
	}
	sort.Strings(names)
	if diff := cmp.Diff([]string{"broadcast@06:00", "broadcast@21:45", "report"}, names); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestAuditEntry(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		ev   eventbus.Event
		want storage.AuditEntry
		ok   bool
	}{
		{
			name: "approval",
			ev: eventbus.Event{Type: eventbus.TypeChannelApproved, Time: at, Data: eventbus.DirectoryChange{
				ChannelID: -1001, ActorID: 7, Source: "panel",
			}},
			want: storage.AuditEntry{At: at, ActorID: 7, ChannelID: -1001, Action: eventbus.TypeChannelApproved, Source: "panel"},
			ok:   true,
		},
		{
			name: "broadcast summary",
			ev: eventbus.Event{Type: eventbus.TypeBroadcastFinished, Time: at, Data: broadcast.Report{
				Sent: 3, Groups: 1, Failed: []broadcast.Failure{{ChannelID: -1002}},
			}},
			want: storage.AuditEntry{At: at, Action: eventbus.TypeBroadcastFinished, Source: "broadcast", Detail: "groups=1 sent=3 failed=1"},
			ok:   true,
		},
		{name: "task event ignored", ev: eventbus.Event{Type: "task.finished", Time: at}},
		{name: "wrong payload", ev: eventbus.Event{Type: eventbus.TypeChannelRejected, Time: at, Data: "x"}},
	}
	for _, tc := range cases {
		got, ok := auditEntry(tc.ev)
		if ok != tc.ok {
			t.Fatalf("%s: ok = %v, want %v", tc.name, ok, tc.ok)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("%s: entry mismatch (-want +got):\n%s", tc.name, diff)
		}
	}
}

type auditStore struct {
	storage.Store
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (s *auditStore) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *auditStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestRunAuditPersistsDirectoryEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	st := &auditStore{Store: storage.NewMemory()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runAudit(ctx, events, st, logx.Nop())
	}()

	bus.Publish(eventbus.Event{Type: "task.started"})
	bus.Publish(eventbus.Event{Type: eventbus.TypeChannelRegistered, Data: eventbus.DirectoryChange{ChannelID: -1001, Source: "command"}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeChannelRejected, Data: eventbus.DirectoryChange{ChannelID: -1001, Source: "panel"}})

	deadline := time.Now().Add(2 * time.Second)
	for st.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if got := st.count(); got != 2 {
		t.Fatalf("audit entries = %d, want 2", got)
	}
}

func TestConfigMapping(t *testing.T) {
	t.Parallel()
	no := false
	cfg := &config.Config{
		Telegram:   config.TelegramConfig{AdminIDs: []int64{10, 20}, GroupLog: "-100555"},
		Logging:    config.LoggingConfig{Level: "debug", Telegram: config.LoggingTelegram{Enabled: true}},
		Broadcast:  config.BroadcastConfig{Header: "h", BatchSize: 3, Shuffle: &no, RatePerSec: 5},
		Membership: config.MembershipConfig{AutoApprove: &no},
	}

	bc := mapBroadcastConfig(cfg)
	want := broadcast.Config{
		Header:        "h",
		BatchSize:     3,
		Shuffle:       false,
		ThrottleDelay: cfg.ThrottleDelay(),
		RatePerSec:    5,
		LookupTimeout: cfg.LookupTimeout(),
	}
	if diff := cmp.Diff(want, bc); diff != "" {
		t.Fatalf("broadcast config mismatch (-want +got):\n%s", diff)
	}

	if n := mapNotifierConfig(cfg); n.Operator != 10 || len(n.Admins) != 2 {
		t.Fatalf("notifier config = %+v", n)
	}
	if mapMembershipConfig(cfg).AutoApprove {
		t.Fatalf("auto approve should be off")
	}
	if got := mapSchedulerConfig(cfg).Timezone; got != "UTC" {
		t.Fatalf("timezone = %q, want UTC", got)
	}
	if got := mapDirectoryConfig(cfg).BroadcastTimeout; got != defaultBroadcastTimeout {
		t.Fatalf("broadcast timeout = %v", got)
	}

	lc, target := mapLogConfig(cfg)
	if target != -100555 || !lc.Telegram.Enabled {
		t.Fatalf("log config = %+v target %d", lc, target)
	}
	cfg.Telegram.GroupLog = "not-a-chat"
	if lc, target := mapLogConfig(cfg); target != 0 || lc.Telegram.Enabled {
		t.Fatalf("telegram sink must stay off without a target: %+v", lc)
	}
}
