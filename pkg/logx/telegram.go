package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"divulgabot/internal/transport"
	"divulgabot/pkg/tgui"
)

// Sender delivers log lines to a chat. transport.Adapter satisfies it.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

const (
	tgQueueSize  = 256
	tgMaxMessage = 3500
	tgMaxValue   = 600
	tgMaxStack   = 900
)

var levelBadge = map[string]string{
	"trace": "🔍",
	"debug": "🐞",
	"info":  "ℹ️",
	"warn":  "⚠️",
	"error": "🛑",
	"fatal": "💀",
	"panic": "💀",
}

// telegramSink forwards JSON log lines to the operator chat. Writes never
// block: lines are formatted, rate limited and queued for one worker.
type telegramSink struct {
	sender  Sender
	queue   chan tgLine
	dropped atomic.Uint64

	mu       sync.Mutex
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

type tgLine struct {
	to   transport.ChatTarget
	text string
}

func newTelegramSink(sender Sender, threadID int) *telegramSink {
	return &telegramSink{
		sender:   sender,
		queue:    make(chan tgLine, tgQueueSize),
		threadID: threadID,
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(1, 1),
	}
}

func (t *telegramSink) apply(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.ThreadID != 0 {
		t.threadID = cfg.ThreadID
	}
}

func (t *telegramSink) setTarget(chatID int64, threadID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chatID = chatID
	if threadID != 0 {
		t.threadID = threadID
	}
}

func (t *telegramSink) hasTarget() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chatID != 0
}

func (t *telegramSink) start() {
	t.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		t.mu.Lock()
		t.cancel = cancel
		t.done = make(chan struct{})
		done := t.done
		t.mu.Unlock()
		go t.run(ctx, done)
	})
}

func (t *telegramSink) stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (t *telegramSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}
	for {
		select {
		case <-ctx.Done():
			return
		case l := <-t.queue:
			if t.sender != nil {
				_, _ = t.sender.SendText(ctx, l.to, l.text, opt)
			}
		}
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.InfoLevel, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	to := transport.ChatTarget{ChatID: t.chatID, ThreadID: t.threadID}
	pass := t.chatID != 0 && t.sender != nil && level >= t.minLevel && t.limiter.Allow()
	t.mu.Unlock()
	if !pass {
		return len(p), nil
	}
	text := formatLine(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case t.queue <- tgLine{to: to, text: text}:
	default:
		t.dropped.Add(1)
	}
	return len(p), nil
}

// formatLine renders a zerolog JSON line as Telegram HTML: a level badge
// and the message, then one line per field in key order. Lines that are
// not JSON are sent escaped as-is.
func formatLine(p []byte) string {
	p = bytes.TrimSpace(p)
	if len(p) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return tgui.Esc(tgui.TruncRunes(string(p), tgMaxMessage)).String()
	}

	level, _ := m["level"].(string)
	msg, _ := m["message"].(string)
	head := tgui.B(strings.ToUpper(level))
	if badge, ok := levelBadge[level]; ok {
		head = tgui.H(badge+" ") + head
	}
	lines := []string{tgui.JoinH(" ", head, tgui.Esc(msg)).String()}

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fmt.Sprint(m[k])
		if k == "stack" {
			lines = append(lines, "<pre>"+tgui.Esc(tgui.TruncRunes(v, tgMaxStack)).String()+"</pre>")
			continue
		}
		lines = append(lines, tgui.Code(k).String()+" "+tgui.Esc(tgui.TruncRunes(v, tgMaxValue)).String())
	}
	// Drop whole trailing lines rather than cutting through a tag.
	var b strings.Builder
	for i, l := range lines {
		if i > 0 && b.Len()+len(l)+1 > tgMaxMessage {
			b.WriteString("\n…")
			break
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l)
	}
	return b.String()
}
