package broadcast

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"divulgabot/internal/storage"
	kit "divulgabot/internal/transport"
	logx "divulgabot/pkg/logx"
)

// ChatResolver is the slice of transport.Adapter the composer needs.
type ChatResolver interface {
	ChatInfo(ctx context.Context, ref kit.ChatRef) (kit.Chat, error)
}

type Composer struct {
	header  string
	timeout time.Duration
	chats   ChatResolver
	log     logx.Logger
}

func NewComposer(header string, lookupTimeout time.Duration, chats ChatResolver, log logx.Logger) *Composer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Composer{header: header, timeout: lookupTimeout, chats: chats, log: log}
}

// Compose builds the message for channels in the given order. It never
// fails: a channel whose lookup fails gets a synthetic label.
func (c *Composer) Compose(ctx context.Context, channels []storage.Channel) Composed {
	out := Composed{Text: c.header, Buttons: make([]Button, 0, len(channels))}
	for _, ch := range channels {
		b, err := c.resolve(ctx, ch)
		if err != nil {
			c.log.Warn("channel lookup failed; using fallback label", logx.Int64("chat_id", ch.ID), logx.Err(err))
		}
		out.Buttons = append(out.Buttons, b)
	}
	return out
}

func (c *Composer) resolve(ctx context.Context, ch storage.Channel) (Button, error) {
	lctx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	info, err := c.chats.ChatInfo(lctx, kit.ChatRef{ID: ch.ID})
	if err != nil {
		return Button{Label: syntheticLabel(ch.ID), URL: IDLink(ch.ID)}, &LookupError{ChannelID: ch.ID, Err: err}
	}

	label := strings.TrimSpace(info.Title)
	if label == "" {
		label = strings.TrimSpace(ch.DisplayName)
	}
	if label == "" {
		label = syntheticLabel(ch.ID)
	}
	if h := strings.TrimPrefix(strings.TrimSpace(info.Username), "@"); h != "" {
		return Button{Label: label, URL: "https://t.me/" + h}, nil
	}
	return Button{Label: label, URL: IDLink(ch.ID)}, nil
}

func syntheticLabel(id int64) string { return fmt.Sprintf("Canal %d", id) }

// IDLink is the t.me/c deep link for a chat id. It only opens for members of
// private chats but is never empty.
func IDLink(id int64) string {
	// Channel and supergroup ids carry a -100 marker in front of the
	// internal id the link expects.
	const channelMarker = 1_000_000_000_000
	switch {
	case id <= -channelMarker:
		id = -id - channelMarker
	case id < 0:
		id = -id
	}
	return "https://t.me/c/" + strconv.FormatInt(id, 10)
}
