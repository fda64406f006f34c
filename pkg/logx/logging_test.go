package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"divulgabot/internal/transport"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.raw, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestFormatLine(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"warn","time":"x","message":"send <failed>","chat_id":-1001,"comp":"broadcast"}` + "\n")
	got := formatLine(line)
	want := "⚠️ <b>WARN</b> send &lt;failed&gt;\n" +
		"<code>chat_id</code> -1001\n" +
		"<code>comp</code> broadcast"
	if got != want {
		t.Fatalf("formatLine =\n%s\nwant\n%s", got, want)
	}

	if got := formatLine([]byte("  plain & text \n")); got != "plain &amp; text" {
		t.Fatalf("raw line = %q", got)
	}
	if got := formatLine([]byte(" \n")); got != "" {
		t.Fatalf("blank line = %q", got)
	}
}

func TestFormatLineDropsOverflowLines(t *testing.T) {
	t.Parallel()
	big := strings.Repeat("x", tgMaxValue)
	var b strings.Builder
	b.WriteString(`{"level":"error","message":"m"`)
	for i := 0; i < 10; i++ {
		b.WriteString(`,"k` + string(rune('a'+i)) + `":"` + big + `"`)
	}
	b.WriteString("}")
	got := formatLine([]byte(b.String()))
	if len(got) > tgMaxMessage+len("\n…") {
		t.Fatalf("len = %d, want <= %d", len(got), tgMaxMessage)
	}
	if !strings.HasSuffix(got, "\n…") {
		t.Fatalf("missing overflow marker: %q", got[len(got)-20:])
	}
	if strings.Count(got, "<code>") != strings.Count(got, "</code>") {
		t.Fatalf("unbalanced tags")
	}
}

func TestZeroLoggerIsNop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("ignored", String("k", "v"))
	if l.With(Int("n", 1)).IsZero() {
		t.Fatal("With should produce a non-zero logger")
	}
}

type captureSender struct {
	mu   sync.Mutex
	got  []string
	sent chan struct{}
}

func (c *captureSender) SendText(_ context.Context, _ transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	c.mu.Lock()
	c.got = append(c.got, text)
	c.mu.Unlock()
	select {
	case c.sent <- struct{}{}:
	default:
	}
	return transport.MessageRef{}, nil
}

func TestTelegramSinkRespectsMinLevel(t *testing.T) {
	sender := &captureSender{sent: make(chan struct{}, 4)}
	svc, log := New(Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10},
	}, sender)
	defer svc.Close()
	svc.SetTelegramTarget(-100123, 0)

	log.Info("quiet")
	log.Warn("loud", String("comp", "test"))

	select {
	case <-sender.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("telegram sink did not deliver")
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.got) != 1 || !strings.Contains(sender.got[0], "loud") {
		t.Fatalf("unexpected deliveries: %q", sender.got)
	}
}
