package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"divulgabot/internal/eventbus"
	"divulgabot/internal/storage"
	kit "divulgabot/internal/transport"
	"divulgabot/internal/transport/transporttest"
	logx "divulgabot/pkg/logx"
)

func TestIDLink(t *testing.T) {
	t.Parallel()
	cases := map[int64]string{
		-1001234567890: "https://t.me/c/1234567890",
		-42:            "https://t.me/c/42",
		77:             "https://t.me/c/77",
	}
	for id, want := range cases {
		if got := IDLink(id); got != want {
			t.Fatalf("IDLink(%d) = %q, want %q", id, got, want)
		}
	}
}

func TestComposeResolvesAndFallsBack(t *testing.T) {
	t.Parallel()
	fake := transporttest.New()
	fake.AddChat(kit.Chat{ID: -1001, Title: "Canal Público", Username: "publico"})
	fake.AddChat(kit.Chat{ID: -1002, Title: "Grupo Privado"})
	fake.AddChat(kit.Chat{ID: -1003})

	c := NewComposer("HEADER", time.Second, fake, logx.Nop())
	got := c.Compose(context.Background(), []storage.Channel{
		{ID: -1001},
		{ID: -1002},
		{ID: -1003, DisplayName: "Nome Salvo"},
		{ID: -1009, DisplayName: "Sumiu"},
	})
	want := Composed{
		Text: "HEADER",
		Buttons: []Button{
			{Label: "Canal Público", URL: "https://t.me/publico"},
			{Label: "Grupo Privado", URL: "https://t.me/c/1002"},
			{Label: "Nome Salvo", URL: "https://t.me/c/1003"},
			{Label: "Canal -1009", URL: "https://t.me/c/1009"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("compose mismatch (-want +got):\n%s", diff)
	}
}

func TestComposedKeyboardIsOneButtonPerRow(t *testing.T) {
	t.Parallel()
	opt := Composed{Buttons: []Button{{Label: "A", URL: "https://t.me/a"}, {Label: "B", URL: "https://t.me/b"}}}.SendOptions()
	if len(opt.Keyboard) != 2 || len(opt.Keyboard[0]) != 1 || opt.Keyboard[1][0].URL != "https://t.me/b" {
		t.Fatalf("keyboard = %+v", opt.Keyboard)
	}
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	t.Parallel()
	fake := transporttest.New()
	fake.SendErr = func(chatID int64) error {
		if chatID == 2 {
			return errors.New("Forbidden: bot was kicked")
		}
		return nil
	}
	d := NewDispatcher(fake, 0, 0, logx.Nop())
	rep := d.Broadcast(context.Background(), []int64{1, 2, 3}, Composed{Text: "hi"})

	if rep.Sent != 2 {
		t.Fatalf("Sent = %d, want 2", rep.Sent)
	}
	if diff := cmp.Diff([]Failure{{ChannelID: 2, Reason: "Forbidden: bot was kicked"}}, rep.Failed); diff != "" {
		t.Fatalf("failed mismatch (-want +got):\n%s", diff)
	}
	if n := len(fake.SentTo(3)); n != 1 {
		t.Fatalf("recipient after the failure got %d messages, want 1", n)
	}
}

func TestBroadcastPausesOnThrottle(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name       string
		retryAfter time.Duration
		want       time.Duration
	}{
		{name: "platform asks longer", retryAfter: 10 * time.Second, want: 10 * time.Second},
		{name: "floor applies", retryAfter: time.Second, want: 4 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := transporttest.New()
			fake.SendErr = func(chatID int64) error {
				if chatID == 1 {
					return &kit.ThrottleError{RetryAfter: tc.retryAfter}
				}
				return nil
			}
			d := NewDispatcher(fake, 0, 4*time.Second, logx.Nop())
			var pauses []time.Duration
			d.sleep = func(ctx context.Context, dur time.Duration) error {
				pauses = append(pauses, dur)
				return nil
			}
			rep := d.Broadcast(context.Background(), []int64{1, 2}, Composed{Text: "hi"})
			if rep.Sent != 1 || len(rep.Failed) != 1 || rep.Failed[0].ChannelID != 1 {
				t.Fatalf("report = %+v", rep)
			}
			if diff := cmp.Diff([]time.Duration{tc.want}, pauses); diff != "" {
				t.Fatalf("pauses mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBroadcastCancelledMarksRemaining(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewDispatcher(transporttest.New(), 0, 0, logx.Nop())
	rep := d.Broadcast(ctx, []int64{1, 2}, Composed{Text: "hi"})
	if rep.Sent != 0 || len(rep.Failed) != 2 {
		t.Fatalf("report = %+v", rep)
	}
}

func seed(t *testing.T, st storage.Store, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		if _, _, err := st.Register(context.Background(), id, "", "", true); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
}

func TestRunSendsToEveryApprovedChannel(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	seed(t, st, -1001, -1002, -1003)
	_, _, _ = st.Register(context.Background(), -1004, "pendente", "", false)

	fake := transporttest.New()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(Config{Header: "HEADER"}, st, fake, bus, logx.Nop())
	rep, err := s.Run(context.Background(), "test")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Sent != 3 || len(rep.Failed) != 0 || rep.Groups != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if n := len(fake.SentTo(-1004)); n != 0 {
		t.Fatal("pending channel must not receive the broadcast")
	}
	msg := fake.SentTo(-1001)[0]
	if msg.Text != "HEADER" || len(msg.Opt.Keyboard) != 3 {
		t.Fatalf("message = %+v", msg)
	}
	urls := []string{msg.Opt.Keyboard[0][0].URL, msg.Opt.Keyboard[1][0].URL, msg.Opt.Keyboard[2][0].URL}
	if diff := cmp.Diff([]string{"https://t.me/c/1001", "https://t.me/c/1002", "https://t.me/c/1003"}, urls); diff != "" {
		t.Fatalf("button order mismatch (-want +got):\n%s", diff)
	}

	select {
	case ev := <-events:
		if ev.Type != eventbus.TypeBroadcastFinished {
			t.Fatalf("event = %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no broadcast.finished event")
	}
	last, ok := s.LastRun()
	if !ok || last.Trigger != "test" || last.Channels != 3 {
		t.Fatalf("LastRun = %+v, %v", last, ok)
	}
}

func TestRunBatches(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name           string
		representative int64
		wantTargets    []int64
	}{
		{name: "first of each group", wantTargets: []int64{1, 3, 5}},
		{name: "fixed representative", representative: 500, wantTargets: []int64{500, 500, 500}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := storage.NewMemory()
			seed(t, st, 1, 2, 3, 4, 5)
			fake := transporttest.New()
			s := New(Config{Header: "H", BatchSize: 2, RepresentativeChatID: tc.representative}, st, fake, nil, logx.Nop())

			rep, err := s.Run(context.Background(), "test")
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if rep.Groups != 3 || rep.Sent != 3 {
				t.Fatalf("report = %+v", rep)
			}
			sent := fake.Sent()
			var targets []int64
			var sizes []int
			for _, m := range sent {
				targets = append(targets, m.To.ChatID)
				sizes = append(sizes, len(m.Opt.Keyboard))
			}
			if diff := cmp.Diff(tc.wantTargets, targets); diff != "" {
				t.Fatalf("targets mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]int{2, 2, 1}, sizes); diff != "" {
				t.Fatalf("group sizes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunShufflesOnce(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	seed(t, st, 1, 2, 3)
	fake := transporttest.New()
	s := New(Config{Header: "H", Shuffle: true}, st, fake, nil, logx.Nop())
	calls := 0
	s.shuffle = func(cs []storage.Channel) []storage.Channel {
		calls++
		out := append([]storage.Channel(nil), cs...)
		out[0], out[2] = out[2], out[0]
		return out
	}
	if _, err := s.Run(context.Background(), "test"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 1 {
		t.Fatalf("shuffle called %d times, want 1", calls)
	}
	var order []int64
	for _, m := range fake.Sent() {
		order = append(order, m.To.ChatID)
	}
	if diff := cmp.Diff([]int64{3, 2, 1}, order); diff != "" {
		t.Fatalf("send order mismatch (-want +got):\n%s", diff)
	}
}

type blockingSender struct {
	*transporttest.Adapter
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.Adapter.SendText(ctx, to, text, opt)
}

func TestRunRejectsOverlap(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	seed(t, st, 1)
	bs := &blockingSender{Adapter: transporttest.New(), entered: make(chan struct{}), release: make(chan struct{})}
	s := New(Config{Header: "H"}, st, bs, nil, logx.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), "first")
		done <- err
	}()
	<-bs.entered
	if _, err := s.Run(context.Background(), "second"); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("overlapping Run = %v, want ErrRunInProgress", err)
	}
	close(bs.release)
	if err := <-done; err != nil {
		t.Fatalf("first Run: %v", err)
	}
}

func TestRunEmptyDirectory(t *testing.T) {
	t.Parallel()
	fake := transporttest.New()
	s := New(Config{Header: "H"}, storage.NewMemory(), fake, nil, logx.Nop())
	rep, err := s.Run(context.Background(), "test")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff(Report{}, rep, cmpopts.IgnoreFields(Report{}, "Started", "Finished")); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
	if len(fake.Sent()) != 0 {
		t.Fatal("nothing should be sent")
	}
}
