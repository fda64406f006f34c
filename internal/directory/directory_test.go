package directory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"divulgabot/internal/broadcast"
	"divulgabot/internal/eventbus"
	"divulgabot/internal/storage"
	"divulgabot/internal/task/scheduler"
	kit "divulgabot/internal/transport"
	"divulgabot/internal/transport/telegram/router"
	"divulgabot/internal/transport/transporttest"
	logx "divulgabot/pkg/logx"
)

func TestParseLink(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in      string
		want    string
		wantErr error
	}{
		{in: "@canalhot", want: "canalhot"},
		{in: "https://t.me/canalhot", want: "canalhot"},
		{in: "http://www.t.me/CanalHot/", want: "CanalHot"},
		{in: "t.me/canalhot?start=1", want: "canalhot"},
		{in: "https://telegram.me/canal_hot", want: "canal_hot"},
		{in: "https://t.me/+AbCdEf123", wantErr: errInviteLink},
		{in: "https://t.me/joinchat/AbCdEf", wantErr: errInviteLink},
		{in: "canalhot", wantErr: errInvalidLink},
		{in: "@ab", wantErr: errInvalidLink},
		{in: "https://example.com/canal", wantErr: errInvalidLink},
		{in: "@1canal", wantErr: errInvalidLink},
	}
	for _, tc := range cases {
		got, err := parseLink(tc.in)
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("parseLink(%q) err = %v, want %v", tc.in, err, tc.wantErr)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("parseLink(%q) = %q, %v, want %q", tc.in, got, err, tc.want)
		}
	}
}

type adminNote struct {
	text string
	opt  *kit.SendOptions
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []adminNote
}

func (f *fakeNotifier) NotifyAdmins(ctx context.Context, text string, opt *kit.SendOptions) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, adminNote{text: text, opt: opt})
	return 1, nil
}

type fakeBroadcaster struct {
	rep  broadcast.Report
	err  error
	last broadcast.RunStatus
	runs int
}

func (f *fakeBroadcaster) Run(ctx context.Context, trigger string) (broadcast.Report, error) {
	f.runs++
	return f.rep, f.err
}

func (f *fakeBroadcaster) LastRun() (broadcast.RunStatus, bool) {
	return f.last, f.last.Trigger != ""
}

type fakeSchedules struct{ snap scheduler.Snapshot }

func (f fakeSchedules) Snapshot() scheduler.Snapshot { return f.snap }

type fixture struct {
	svc    *Service
	store  storage.Store
	fake   *transporttest.Adapter
	notify *fakeNotifier
	bc     *fakeBroadcaster
	bus    eventbus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  storage.NewMemory(),
		fake:   transporttest.New(),
		notify: &fakeNotifier{},
		bc:     &fakeBroadcaster{},
		bus:    eventbus.New(),
	}
	f.svc = New(Config{LookupTimeout: time.Second}, Deps{
		Store:     f.store,
		Notify:    f.notify,
		Broadcast: f.bc,
		Schedules: fakeSchedules{snap: scheduler.Snapshot{Timezone: "UTC", Schedules: []scheduler.ScheduleInfo{
			{Name: "broadcast@18:00", Next: time.Date(2026, 1, 2, 18, 0, 0, 0, time.UTC)},
		}}},
		Bus: f.bus,
	}, logx.Nop())
	return f
}

func (f *fixture) command(args ...string) *router.Request {
	return &router.Request{
		Update:  kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 10, FromID: 5}},
		Chat:    kit.ChatTarget{ChatID: 10},
		FromID:  5,
		Args:    args,
		Adapter: f.fake,
		Logger:  logx.Nop(),
	}
}

func (f *fixture) callback(msgID int) *router.Request {
	return &router.Request{
		Update:  kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb", ChatID: 10, FromID: 1, MessageID: msgID}},
		Chat:    kit.ChatTarget{ChatID: 10},
		FromID:  1,
		Adapter: f.fake,
		Logger:  logx.Nop(),
		IsAdmin: true,
	}
}

func (f *fixture) lastReply(t *testing.T) transporttest.Sent {
	t.Helper()
	sent := f.fake.SentTo(10)
	if len(sent) == 0 {
		t.Fatal("no reply sent")
	}
	return sent[len(sent)-1]
}

func (f *fixture) seed(t *testing.T, n int, approved bool) []storage.Channel {
	t.Helper()
	out := make([]storage.Channel, 0, n)
	for i := range n {
		id := int64(-1000 - i)
		name := "Canal " + string(rune('A'+i))
		c, _, err := f.store.Register(context.Background(), id, name, "", approved)
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
		out = append(out, c)
	}
	return out
}

func TestRegisterSubmitsPendingChannel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.fake.AddChat(kit.Chat{ID: -100500, Title: "Canal Hot", Username: "canalhot"})
	events, unsub := f.bus.Subscribe(4)
	defer unsub()

	if err := f.svc.cmdRegister(context.Background(), f.command("Canal", "Hot", "https://t.me/canalhot")); err != nil {
		t.Fatalf("cmdRegister: %v", err)
	}
	if got := f.lastReply(t).Text; got != msgRegistered {
		t.Fatalf("reply = %q", got)
	}
	c, err := f.store.Get(context.Background(), -100500)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Approved || c.DisplayName != "Canal Hot" || c.PublicHandle != "canalhot" {
		t.Fatalf("stored = %+v", c)
	}
	if len(f.notify.notes) != 1 {
		t.Fatalf("admin notes = %d, want 1", len(f.notify.notes))
	}
	kb := f.notify.notes[0].opt.Keyboard
	if diff := cmp.Diff([]string{"dir:approve:1", "dir:reject:1"}, []string{kb[0][0].Data, kb[0][1].Data}); diff != "" {
		t.Fatalf("buttons mismatch (-want +got):\n%s", diff)
	}
	if ev := <-events; ev.Type != eventbus.TypeChannelRegistered {
		t.Fatalf("event = %s", ev.Type)
	}

	// A second submission of the same channel is not duplicated.
	_ = f.svc.cmdRegister(context.Background(), f.command("outro", "@canalhot"))
	if got := f.lastReply(t).Text; got != msgAlreadyPending {
		t.Fatalf("duplicate reply = %q", got)
	}
	if all, _ := f.store.List(context.Background(), storage.ListFilter{}); len(all) != 1 {
		t.Fatalf("directory size = %d, want 1", len(all))
	}
}

func TestRegisterRejections(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		args []string
		want string
	}{
		{name: "missing args", args: []string{"canal"}, want: msgRegisterUsage},
		{name: "bad link", args: []string{"canal", "example.com"}, want: msgInvalidLink},
		{name: "invite link", args: []string{"canal", "https://t.me/+abcdef"}, want: msgInviteLink},
		{name: "unknown handle", args: []string{"canal", "@naoexiste"}, want: msgChatNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			if err := f.svc.cmdRegister(context.Background(), f.command(tc.args...)); err != nil {
				t.Fatalf("cmdRegister: %v", err)
			}
			if got := f.lastReply(t).Text; got != tc.want {
				t.Fatalf("reply = %q, want %q", got, tc.want)
			}
			if all, _ := f.store.List(context.Background(), storage.ListFilter{}); len(all) != 0 {
				t.Fatalf("nothing should be stored, got %+v", all)
			}
		})
	}
}

func TestListPaginatesAndCountsViews(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seed(t, 7, true)
	_, _, _ = f.store.Register(context.Background(), -999, "pendente", "", false)

	if err := f.svc.cmdList(context.Background(), f.command()); err != nil {
		t.Fatalf("cmdList: %v", err)
	}
	first := f.lastReply(t)
	lines := strings.Split(first.Text, "\n")
	if lines[0] != "🔗 Canal A: https://t.me/c/1000" {
		t.Fatalf("first line = %q", lines[0])
	}
	if strings.Contains(first.Text, "pendente") {
		t.Fatal("pending channel listed")
	}
	if kb := first.Opt.Keyboard; len(kb) != 1 || len(kb[0]) != 1 || kb[0][0].Text != "➡️ Próxima" || kb[0][0].Data != "dir:page:1" {
		t.Fatalf("page 0 keyboard = %+v", kb)
	}

	if err := f.svc.cbPage(context.Background(), f.callback(42), "1"); err != nil {
		t.Fatalf("cbPage: %v", err)
	}
	edits := f.fake.Edited()
	if len(edits) != 1 || edits[0].Ref.MessageID != 42 {
		t.Fatalf("edits = %+v", edits)
	}
	if !strings.HasPrefix(edits[0].Text, "🔗 Canal F:") {
		t.Fatalf("page 1 text = %q", edits[0].Text)
	}
	if kb := edits[0].Opt.Keyboard; len(kb) != 1 || len(kb[0]) != 1 || kb[0][0].Text != "⬅️ Anterior" {
		t.Fatalf("page 1 keyboard = %+v", kb)
	}

	views, _ := f.store.ReadAndResetViews(context.Background())
	if views != 2 {
		t.Fatalf("views = %d, want 2", views)
	}
}

func TestListEmpty(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if err := f.svc.cmdList(context.Background(), f.command()); err != nil {
		t.Fatalf("cmdList: %v", err)
	}
	if got := f.lastReply(t); got.Text != msgNoApproved || got.Opt.Keyboard != nil {
		t.Fatalf("reply = %+v", got)
	}
}

func TestListHugePageIsEmpty(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seed(t, 3, true)
	if err := f.svc.cmdList(context.Background(), f.command("1844674407370955162")); err != nil {
		t.Fatalf("cmdList: %v", err)
	}
	if got := f.lastReply(t); got.Text != msgNoApproved {
		t.Fatalf("reply = %+v", got)
	}
	if views, _ := f.store.ReadAndResetViews(context.Background()); views != 0 {
		t.Fatalf("views = %d, want 0", views)
	}
}

func TestRenderPageSingleHasNoButtons(t *testing.T) {
	t.Parallel()
	_, opt, ok := renderPage([]storage.Channel{{ID: -1, DisplayName: "x", PublicHandle: "xcanal"}}, 0)
	if !ok || opt.Keyboard != nil {
		t.Fatalf("single page: ok=%v keyboard=%+v", ok, opt.Keyboard)
	}
}

func TestPanelApproveReject(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if err := f.svc.cmdPanel(context.Background(), f.command()); err != nil {
		t.Fatalf("cmdPanel: %v", err)
	}
	if got := f.lastReply(t).Text; got != msgNoPending {
		t.Fatalf("empty panel = %q", got)
	}

	pending := f.seed(t, 2, false)
	if err := f.svc.cmdPanel(context.Background(), f.command()); err != nil {
		t.Fatalf("cmdPanel: %v", err)
	}
	sent := f.fake.SentTo(10)
	items := sent[len(sent)-2:]
	if items[0].Text != "📥 Canal A\n🔗 https://t.me/c/1000" || items[0].Opt.Keyboard[0][0].Text != "✅ Aprovar" {
		t.Fatalf("panel item = %+v", items[0])
	}

	if err := f.svc.cbApprove(context.Background(), f.callback(1), "1"); err != nil {
		t.Fatalf("cbApprove: %v", err)
	}
	if err := f.svc.cbReject(context.Background(), f.callback(2), "2"); err != nil {
		t.Fatalf("cbReject: %v", err)
	}
	if err := f.svc.cbApprove(context.Background(), f.callback(3), "99"); err != nil {
		t.Fatalf("cbApprove unknown: %v", err)
	}

	var texts []string
	for _, e := range f.fake.Edited() {
		texts = append(texts, e.Text)
	}
	if diff := cmp.Diff([]string{msgApproved, msgRejected, msgUnknownEntry}, texts); diff != "" {
		t.Fatalf("edits mismatch (-want +got):\n%s", diff)
	}
	if c, _ := f.store.Get(context.Background(), pending[0].ID); !c.Approved {
		t.Fatal("first entry must be approved")
	}
	if _, err := f.store.Get(context.Background(), pending[1].ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("rejected entry still present: %v", err)
	}
}

func TestBroadcastCommand(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.bc.rep = broadcast.Report{Sent: 3, Failed: []broadcast.Failure{{ChannelID: -7, Reason: "kicked"}}}
	if err := f.svc.cmdBroadcast(context.Background(), f.command()); err != nil {
		t.Fatalf("cmdBroadcast: %v", err)
	}
	got := f.lastReply(t).Text
	if !strings.Contains(got, "Enviadas: 3") || !strings.Contains(got, "Falhas: 1") || !strings.Contains(got, "<code>-7</code> kicked") {
		t.Fatalf("summary = %q", got)
	}

	f.bc.err = broadcast.ErrRunInProgress
	if err := f.svc.cmdBroadcast(context.Background(), f.command()); err != nil {
		t.Fatalf("cmdBroadcast busy: %v", err)
	}
	if got := f.lastReply(t).Text; got != msgBroadcastBusy {
		t.Fatalf("busy reply = %q", got)
	}
}

func TestAdminsCommand(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	chans := f.seed(t, 3, true)
	f.fake.Statuses[chans[0].ID] = kit.StatusAdministrator
	f.fake.Statuses[chans[1].ID] = kit.StatusMember

	if err := f.svc.cmdAdmins(context.Background(), f.command()); err != nil {
		t.Fatalf("cmdAdmins: %v", err)
	}
	got := f.lastReply(t).Text
	for _, want := range []string{
		"Bot é admin em 1 de 3 canais",
		"✅ Canal A — administrador",
		"⚠️ Canal B — member",
		"❌ Canal C — sem acesso",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("reply missing %q:\n%s", want, got)
		}
	}
}

func TestStatusCommand(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seed(t, 2, true)
	_, _, _ = f.store.Register(context.Background(), -5, "p", "", false)
	f.bc.last = broadcast.RunStatus{Trigger: "broadcast@18:00", Channels: 2, Report: broadcast.Report{Sent: 2}}

	if err := f.svc.cmdStatus(context.Background(), f.command()); err != nil {
		t.Fatalf("cmdStatus: %v", err)
	}
	got := f.lastReply(t).Text
	for _, want := range []string{"Canais aprovados: 2", "Pendentes: 1", "<code>broadcast@18:00</code> → 02/01 18:00", "Enviadas: 2"} {
		if !strings.Contains(got, want) {
			t.Fatalf("status missing %q:\n%s", want, got)
		}
	}
}

func TestCommandsRegistry(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	admin := map[string]bool{}
	for _, c := range f.svc.Commands() {
		admin[c.Name] = c.Access == router.AccessAdmin
	}
	want := map[string]bool{
		"start": false, "cadastrar": false, "lista": false,
		"adminpainel": true, "divulgar": true, "admins": true, "status": true,
	}
	if diff := cmp.Diff(want, admin); diff != "" {
		t.Fatalf("registry mismatch (-want +got):\n%s", diff)
	}
}
