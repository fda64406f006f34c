package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type UpdateKind string

const (
	UpdateMessage    UpdateKind = "message"
	UpdateCallback   UpdateKind = "callback"
	UpdateMembership UpdateKind = "membership"
)

// Update is a tagged union: exactly one payload matches Kind.
type Update struct {
	Kind       UpdateKind
	Message    *Message
	Callback   *Callback
	Membership *MembershipChange
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

// MemberStatus mirrors the platform's chat member roles.
type MemberStatus string

const (
	StatusCreator       MemberStatus = "creator"
	StatusAdministrator MemberStatus = "administrator"
	StatusMember        MemberStatus = "member"
	StatusRestricted    MemberStatus = "restricted"
	StatusLeft          MemberStatus = "left"
	StatusKicked        MemberStatus = "kicked"
)

// IsAdmin reports whether the status grants administrative rights.
func (s MemberStatus) IsAdmin() bool {
	return s == StatusAdministrator || s == StatusCreator
}

type Chat struct {
	ID       int64
	Type     string
	Title    string
	Username string // public handle without "@", empty for private chats
}

type User struct {
	ID       int64
	Username string
}

// MembershipChange is emitted when a member's status changes in a chat.
// Self is true when the changed member is the bot itself.
type MembershipChange struct {
	Chat      Chat
	OldStatus MemberStatus
	NewStatus MemberStatus
	Actor     User
	Self      bool
	At        time.Time
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Button is a single inline keyboard button. Exactly one of URL or Data is set.
type Button struct {
	Text string
	URL  string
	Data string
}

// Keyboard is an inline keyboard laid out as rows of buttons.
type Keyboard [][]Button

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Keyboard       Keyboard
}

// ChatRef identifies a chat either by numeric id or by public handle ("@name").
type ChatRef struct {
	ID     int64
	Handle string
}

func (r ChatRef) String() string {
	if r.Handle != "" {
		return r.Handle
	}
	return fmt.Sprintf("%d", r.ID)
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	// ChatInfo resolves current chat metadata. Returns ErrChatNotFound when the
	// platform does not know the chat or the bot cannot see it.
	ChatInfo(ctx context.Context, ref ChatRef) (Chat, error)
	// ChatMemberStatus returns userID's role in chatID.
	ChatMemberStatus(ctx context.Context, chatID, userID int64) (MemberStatus, error)
	// SelfID is the bot's own user id (0 before Start).
	SelfID() int64
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

var ErrChatNotFound = errors.New("chat not found")

// ThrottleError reports a platform flood-wait. RetryAfter is the minimum
// pause the platform asked for.
type ThrottleError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %s", e.RetryAfter)
}

func (e *ThrottleError) Unwrap() error { return e.Err }

// AsThrottle extracts a ThrottleError from err's chain.
func AsThrottle(err error) (*ThrottleError, bool) {
	var te *ThrottleError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
