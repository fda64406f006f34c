package scheduler

import (
	"context"
	"testing"
	"time"

	"divulgabot/internal/task/engine"
	logx "divulgabot/pkg/logx"
)

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in      string
		h, m    int
		wantErr bool
	}{
		{in: "09:30", h: 9, m: 30},
		{in: " 0:05 ", h: 0, m: 5},
		{in: "23:59", h: 23, m: 59},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "1230", wantErr: true},
		{in: "ab:cd", wantErr: true},
	}
	for _, tc := range cases {
		h, m, err := parseHHMM(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseHHMM(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil || h != tc.h || m != tc.m {
			t.Fatalf("parseHHMM(%q) = %d, %d, %v", tc.in, h, m, err)
		}
	}
}

func TestDailyNextRunUsesTimezone(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	s := New(Config{Timezone: "America/Sao_Paulo"}, nil, logx.Nop(), nil)
	if _, err := s.AddDaily("broadcast@18:00", "18:00", 0, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 {
		t.Fatalf("schedules = %d, want 1", len(snap.Schedules))
	}
	next := snap.Schedules[0].Next.In(loc)
	if next.Hour() != 18 || next.Minute() != 0 {
		t.Fatalf("next = %v, want 18:00 local", next)
	}
	if snap.Timezone != "America/Sao_Paulo" {
		t.Fatalf("Timezone = %q", snap.Timezone)
	}
}

func TestUpsertAndRemovePrefix(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop(), nil)
	noop := func(context.Context) error { return nil }
	_, _ = s.AddDaily("broadcast@08:00", "08:00", 0, noop)
	_, _ = s.AddDaily("broadcast@08:00", "08:00", 0, noop)
	_, _ = s.AddDaily("broadcast@20:00", "20:00", 0, noop)
	_, _ = s.AddWeekly("report", time.Sunday, "00:00", 0, noop)

	if n := len(s.Snapshot().Schedules); n != 3 {
		t.Fatalf("schedules = %d, want 3 after upsert", n)
	}
	if n := s.RemovePrefix("broadcast@"); n != 2 {
		t.Fatalf("RemovePrefix = %d, want 2", n)
	}
	if !s.Remove("report") || s.Remove("report") {
		t.Fatal("Remove must report existence exactly once")
	}
}

func TestInvalidSpecRejected(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop(), nil)
	if _, err := s.AddCron("bad", "not a spec", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for invalid spec")
	}
	if _, err := s.AddDaily("bad", "25:00", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for invalid clock")
	}
}

func TestTriggerEnqueuesOnEngine(t *testing.T) {
	t.Parallel()
	eng := engine.New(engine.Config{Workers: 1}, logx.Nop(), nil)
	eng.Start(context.Background())
	s := New(Config{}, eng, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		eng.Stop(ctx)
	})

	fired := make(chan struct{}, 1)
	if _, err := s.AddCron("tick", "@every 1s", 0, func(context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}); err != nil {
		t.Fatalf("AddCron: %v", err)
	}
	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("schedule never fired")
	}
}
