package adapter

import (
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "divulgabot/internal/transport"
)

// handle registers the telebot handlers. Each one converts the update and
// hands it to the current output channel.
func (a *Adapter) handle() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		if m := c.Message(); m != nil && m.Sender != nil && m.Chat != nil {
			a.deliver(kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				ThreadID:     m.ThreadID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Text,
				IsGroup:      m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
			}})
		}
		return nil
	})
	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb, m := c.Callback(), c.Message()
		if cb != nil && cb.Sender != nil && m != nil {
			a.deliver(kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
				ID:        cb.ID,
				ChatID:    m.Chat.ID,
				ThreadID:  m.ThreadID,
				FromID:    cb.Sender.ID,
				MessageID: m.ID,
				Data:      cb.Data,
			}})
		}
		return nil
	})
	a.bot.Handle(tele.OnMyChatMember, func(c tele.Context) error {
		if ch := a.membershipUpdate(c.ChatMember()); ch != nil {
			a.deliver(kit.Update{Kind: kit.UpdateMembership, Membership: ch})
		}
		return nil
	})
}

func (a *Adapter) deliver(up kit.Update) {
	a.mu.Lock()
	out := a.out
	a.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.dropped.Add(1)
	}
}

// membershipUpdate converts a my_chat_member update. Self is set when the
// member that changed is this bot.
func (a *Adapter) membershipUpdate(u *tele.ChatMemberUpdate) *kit.MembershipChange {
	if u == nil || u.Chat == nil || u.NewChatMember == nil {
		return nil
	}
	ch := &kit.MembershipChange{
		Chat:      chatFromTele(u.Chat),
		NewStatus: kit.MemberStatus(u.NewChatMember.Role),
		At:        time.Unix(u.Unixtime, 0),
	}
	if old := u.OldChatMember; old != nil {
		ch.OldStatus = kit.MemberStatus(old.Role)
	}
	if s := u.Sender; s != nil {
		ch.Actor = kit.User{ID: s.ID, Username: s.Username}
	}
	if who := u.NewChatMember.User; who != nil {
		ch.Self = who.ID == a.SelfID()
	}
	return ch
}

// chatFromTele falls back to the person's name for private chats, which
// have no title.
func chatFromTele(c *tele.Chat) kit.Chat {
	title := c.Title
	if title == "" {
		title = strings.TrimSpace(c.FirstName + " " + c.LastName)
	}
	return kit.Chat{ID: c.ID, Type: string(c.Type), Title: title, Username: c.Username}
}
