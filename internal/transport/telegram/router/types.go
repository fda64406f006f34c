package router

import (
	"context"
	"time"

	kit "divulgabot/internal/transport"
	logx "divulgabot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// Hidden keeps the command out of /help and the Telegram menu.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute matches callback data of the form "<Route>:<Action>:<payload>".
type CallbackRoute struct {
	Route   string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

// MembershipHandler receives membership changes. It runs on the job pool.
type MembershipHandler func(ctx context.Context, ch kit.MembershipChange)

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Command      string // command name or "cb:<route>:<action>"
	Args         []string
	Payload      string // raw callback payload
	ReqID        string

	Adapter kit.Adapter
	Logger  logx.Logger
	IsAdmin bool
}

// Reply sends text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, text, opt)
}

// MessageRef points at the message a callback was attached to.
func (r *Request) MessageRef() kit.MessageRef {
	if cb := r.Update.Callback; cb != nil {
		return kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	}
	return kit.MessageRef{}
}
