// Package transporttest provides a recording transport.Adapter for tests.
package transporttest

import (
	"context"
	"fmt"
	"sync"

	kit "divulgabot/internal/transport"
)

type Sent struct {
	To   kit.ChatTarget
	Text string
	Opt  kit.SendOptions
}

type Edited struct {
	Ref  kit.MessageRef
	Text string
	Opt  kit.SendOptions
}

type Answer struct {
	ID   string
	Text string
}

// Adapter records every outbound call. Chats, Statuses and SendErr script
// the responses; all fields are guarded by the embedded mutex.
type Adapter struct {
	mu sync.Mutex

	Self     int64
	Chats    map[string]kit.Chat // keyed by "@handle" or decimal id
	Statuses map[int64]kit.MemberStatus
	// SendErr returns the error for a send to chatID, or nil.
	SendErr func(chatID int64) error

	sent    []Sent
	edited  []Edited
	answers []Answer
	lookups []kit.ChatRef
	menu    []kit.BotCommand
	nextMsg int
	started bool
	updates chan<- kit.Update
	stopped bool
}

func New() *Adapter {
	return &Adapter{Self: 999, Chats: map[string]kit.Chat{}, Statuses: map[int64]kit.MemberStatus{}}
}

// AddChat makes ref resolvable by both handle and id.
func (a *Adapter) AddChat(c kit.Chat) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Chats[fmt.Sprintf("%d", c.ID)] = c
	if c.Username != "" {
		a.Chats["@"+c.Username] = c
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = true
	a.updates = out
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.SendErr != nil {
		if err := a.SendErr(to.ChatID); err != nil {
			return kit.MessageRef{}, err
		}
	}
	s := Sent{To: to, Text: text}
	if opt != nil {
		s.Opt = *opt
	}
	a.sent = append(a.sent, s)
	a.nextMsg++
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: a.nextMsg}, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e := Edited{Ref: ref, Text: text}
	if opt != nil {
		e.Opt = *opt
	}
	a.edited = append(a.edited, e)
	return nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.answers = append(a.answers, Answer{ID: callbackID, Text: text})
	return nil
}

func (a *Adapter) ChatInfo(ctx context.Context, ref kit.ChatRef) (kit.Chat, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lookups = append(a.lookups, ref)
	if err := ctx.Err(); err != nil {
		return kit.Chat{}, err
	}
	key := fmt.Sprintf("%d", ref.ID)
	if ref.Handle != "" {
		key = ref.Handle
		if key[0] != '@' {
			key = "@" + key
		}
	}
	c, ok := a.Chats[key]
	if !ok {
		return kit.Chat{}, kit.ErrChatNotFound
	}
	return c, nil
}

func (a *Adapter) ChatMemberStatus(ctx context.Context, chatID, userID int64) (kit.MemberStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.Statuses[chatID]
	if !ok {
		return "", kit.ErrChatNotFound
	}
	return st, nil
}

func (a *Adapter) SelfID() int64 { return a.Self }

func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.menu = append([]kit.BotCommand(nil), cmds...)
	return nil
}

func (a *Adapter) Sent() []Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Sent(nil), a.sent...)
}

func (a *Adapter) Edited() []Edited {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Edited(nil), a.edited...)
}

func (a *Adapter) Answers() []Answer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Answer(nil), a.answers...)
}

func (a *Adapter) Lookups() []kit.ChatRef {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]kit.ChatRef(nil), a.lookups...)
}

func (a *Adapter) Menu() []kit.BotCommand {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]kit.BotCommand(nil), a.menu...)
}

// SentTo filters Sent by chat id.
func (a *Adapter) SentTo(chatID int64) []Sent {
	var out []Sent
	for _, s := range a.Sent() {
		if s.To.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

var _ kit.Adapter = (*Adapter)(nil)
var _ kit.CommandMenuUpdater = (*Adapter)(nil)
