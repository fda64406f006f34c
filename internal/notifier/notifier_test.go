package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"divulgabot/internal/eventbus"
	kit "divulgabot/internal/transport"
	"divulgabot/internal/transport/transporttest"
	logx "divulgabot/pkg/logx"
)

var errBlocked = errors.New("Forbidden: bot can't initiate conversation with a user")

func newTestService(cfg Config, fake *transporttest.Adapter) *Service {
	cfg.RatePerSec = 1000
	s := New(cfg, fake, logx.Nop(), nil)
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func TestDirectWithFallback(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		blocked  map[int64]bool
		operator int64
		wantTo   int64
		wantErr  bool
	}{
		{name: "primary reachable", operator: 1, wantTo: 7},
		{name: "falls back to operator", blocked: map[int64]bool{7: true}, operator: 1, wantTo: 1},
		{name: "no operator", blocked: map[int64]bool{7: true}, wantErr: true},
		{name: "both unreachable", blocked: map[int64]bool{7: true, 1: true}, operator: 1, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := transporttest.New()
			fake.SendErr = func(chatID int64) error {
				if tc.blocked[chatID] {
					return errBlocked
				}
				return nil
			}
			s := newTestService(Config{Operator: tc.operator}, fake)
			to, err := s.DirectWithFallback(context.Background(), 7, "✅ ok", nil)
			if tc.wantErr {
				if err == nil || !errors.Is(err, errBlocked) {
					t.Fatalf("err = %v, want wrapped errBlocked", err)
				}
				return
			}
			if err != nil || to != tc.wantTo {
				t.Fatalf("DirectWithFallback = %d, %v, want %d", to, err, tc.wantTo)
			}
			if n := len(fake.SentTo(tc.wantTo)); n != 1 {
				t.Fatalf("recipient got %d messages, want 1", n)
			}
		})
	}
}

func TestNotifyAdminsPartialFailure(t *testing.T) {
	t.Parallel()
	fake := transporttest.New()
	fake.SendErr = func(chatID int64) error {
		if chatID == 2 {
			return errBlocked
		}
		return nil
	}
	s := newTestService(Config{Admins: []int64{1, 2, 3}}, fake)
	sent, err := s.NotifyAdmins(context.Background(), "📥 novo canal", nil)
	if err != nil || sent != 2 {
		t.Fatalf("NotifyAdmins = %d, %v, want 2, nil", sent, err)
	}

	fake.SendErr = func(int64) error { return errBlocked }
	if _, err := s.NotifyAdmins(context.Background(), "📥 outro", nil); err == nil {
		t.Fatal("expected error when no admin is reachable")
	}
	if _, err := newTestService(Config{}, fake).NotifyAdmins(context.Background(), "x", nil); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("empty admin list = %v, want ErrNoRecipient", err)
	}
}

func TestRetryHonorsThrottle(t *testing.T) {
	t.Parallel()
	fake := transporttest.New()
	calls := 0
	fake.SendErr = func(int64) error {
		calls++
		if calls == 1 {
			return &kit.ThrottleError{RetryAfter: 3 * time.Second}
		}
		return nil
	}
	s := newTestService(Config{RetryMax: 2}, fake)
	var pauses []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}
	if err := s.Direct(context.Background(), 5, "oi", nil); err != nil {
		t.Fatalf("Direct: %v", err)
	}
	if diff := cmp.Diff([]time.Duration{3 * time.Second}, pauses); diff != "" {
		t.Fatalf("pauses mismatch (-want +got):\n%s", diff)
	}
}

func TestDedupSuppressesRepeats(t *testing.T) {
	t.Parallel()
	fake := transporttest.New()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(Config{RatePerSec: 1000, DedupWindow: time.Minute}, fake, logx.Nop(), bus)
	if err := s.Direct(context.Background(), 5, "mesmo texto", nil); err != nil {
		t.Fatalf("Direct: %v", err)
	}
	if err := s.Direct(context.Background(), 5, "mesmo texto", nil); !errors.Is(err, ErrDeduped) {
		t.Fatalf("second Direct = %v, want ErrDeduped", err)
	}
	if err := s.Direct(context.Background(), 6, "mesmo texto", nil); err != nil {
		t.Fatalf("other chat: %v", err)
	}
	if n := len(fake.Sent()); n != 2 {
		t.Fatalf("sent = %d, want 2", n)
	}
	if h := s.Snapshot(); len(h) != 2 || h[1].ChatID != 6 {
		t.Fatalf("history = %+v", h)
	}

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	if diff := cmp.Diff([]string{"notifier.sent", "notifier.deduped", "notifier.sent"}, types); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestDirectRejectsZeroChat(t *testing.T) {
	t.Parallel()
	s := newTestService(Config{}, transporttest.New())
	if err := s.Direct(context.Background(), 0, "x", nil); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("Direct(0) = %v", err)
	}
}
