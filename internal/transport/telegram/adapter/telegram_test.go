package adapter

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	tele "gopkg.in/telebot.v4"

	kit "divulgabot/internal/transport"
	logx "divulgabot/pkg/logx"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()
	if got := splitTelegramText("short", 10, ""); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text = %q", got)
	}
	long := strings.Repeat("line one\n", 10)
	got := splitTelegramText(long, 30, "")
	for _, c := range got {
		if n := len([]rune(c)); n > 30 {
			t.Fatalf("chunk %q has %d runes", c, n)
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %q not trimmed", c)
		}
	}
	if strings.Join(got, "\n") != strings.TrimRight(long, "\n") {
		t.Fatal("chunks do not reassemble to the input")
	}
}

func TestSplitAvoidsCuttingHTMLTag(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 18) + "<b>bold</b>"
	got := splitTelegramText(s, 20, "HTML")
	if !strings.HasPrefix(got[1], "<b>") {
		t.Fatalf("second chunk = %q, want it to start at the tag", got[1])
	}
}

func TestReplyMarkup(t *testing.T) {
	t.Parallel()
	if replyMarkup(nil) != nil {
		t.Fatal("nil keyboard must yield nil markup")
	}
	rm := replyMarkup(kit.Keyboard{
		{{Text: "Canal", URL: "https://t.me/canal"}},
		{},
		{{Text: "✅", Data: "dir:approve:1"}, {Text: "❌", Data: "dir:reject:1"}},
	})
	want := [][]tele.InlineButton{
		{{Text: "Canal", URL: "https://t.me/canal"}},
		{{Text: "✅", Data: "dir:approve:1"}, {Text: "❌", Data: "dir:reject:1"}},
	}
	if diff := cmp.Diff(want, rm.InlineKeyboard); diff != "" {
		t.Fatalf("markup mismatch (-want +got):\n%s", diff)
	}
}

func TestMapError(t *testing.T) {
	t.Parallel()
	if mapError(nil) != nil {
		t.Fatal("nil must stay nil")
	}
	te, ok := kit.AsThrottle(mapError(tele.FloodError{RetryAfter: 7}))
	if !ok || te.RetryAfter != 7*time.Second {
		t.Fatalf("flood error mapped to %+v, %v", te, ok)
	}
	if err := mapError(tele.ErrChatNotFound); !errors.Is(err, kit.ErrChatNotFound) {
		t.Fatalf("chat not found mapped to %v", err)
	}
	if err := mapError(errors.New("telegram: Bad Request: USERNAME_NOT_OCCUPIED (400)")); !errors.Is(err, kit.ErrChatNotFound) {
		t.Fatalf("unknown username mapped to %v", err)
	}
	other := errors.New("boom")
	if mapError(other) != other {
		t.Fatal("unrelated errors pass through")
	}
}

func TestMembershipUpdate(t *testing.T) {
	t.Parallel()
	a, err := New(Config{Token: "123:abc", Offline: true}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.bot.Me = &tele.User{ID: 42}

	up := a.membershipUpdate(&tele.ChatMemberUpdate{
		Chat:          &tele.Chat{ID: -100123, Type: tele.ChatChannel, Title: "Canal X", Username: "canalx"},
		Sender:        &tele.User{ID: 7, Username: "dono"},
		Unixtime:      1700000000,
		OldChatMember: &tele.ChatMember{Role: tele.Left, User: &tele.User{ID: 42}},
		NewChatMember: &tele.ChatMember{Role: tele.Administrator, User: &tele.User{ID: 42}},
	})
	want := &kit.MembershipChange{
		Chat:      kit.Chat{ID: -100123, Type: "channel", Title: "Canal X", Username: "canalx"},
		OldStatus: kit.StatusLeft,
		NewStatus: kit.StatusAdministrator,
		Actor:     kit.User{ID: 7, Username: "dono"},
		Self:      true,
		At:        time.Unix(1700000000, 0),
	}
	if diff := cmp.Diff(want, up); diff != "" {
		t.Fatalf("membership mismatch (-want +got):\n%s", diff)
	}
	if a.membershipUpdate(nil) != nil {
		t.Fatal("nil update must be ignored")
	}
}
