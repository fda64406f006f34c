package adapter

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "divulgabot/internal/transport"
	logx "divulgabot/pkg/logx"
)

// Bot API limits for setMyCommands.
const (
	maxMenuCommands    = 100
	maxMenuDescription = 256
)

func sendOptions(opt *kit.SendOptions, threadID int) *tele.SendOptions {
	return &tele.SendOptions{
		ParseMode:             tele.ParseMode(opt.ParseMode),
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              threadID,
	}
}

// SendText sends text, split into several messages when it is over the
// Telegram limit. The keyboard goes under the last part and the returned
// ref points at the first.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	parts := splitTelegramText(text, telegramTextLimit, opt.ParseMode)
	first := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID}
	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		so := sendOptions(opt, to.ThreadID)
		if i == len(parts)-1 {
			so.ReplyMarkup = replyMarkup(opt.Keyboard)
		}
		msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, part, so)
		if err != nil {
			return first, mapError(err)
		}
		if i == 0 {
			first.MessageID = msg.ID
		}
	}
	return first, nil
}

// EditText rewrites ref in place. Text past the limit is sent as new
// messages below it, and an edit that changes nothing is not an error.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	parts := splitTelegramText(text, telegramTextLimit, opt.ParseMode)
	so := sendOptions(opt, 0)
	so.ReplyMarkup = replyMarkup(opt.Keyboard)
	if so.ReplyMarkup == nil {
		// An empty inline keyboard removes the old buttons.
		so.ReplyMarkup = &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{}}
	}
	msg := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := a.bot.Edit(msg, parts[0], so); err != nil && !errors.Is(err, tele.ErrSameMessageContent) {
		return mapError(err)
	}
	if len(parts) == 1 {
		return nil
	}
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: ref.ChatID, ThreadID: ref.ThreadID}, strings.Join(parts[1:], "\n"),
		&kit.SendOptions{ParseMode: opt.ParseMode, DisablePreview: opt.DisablePreview})
	return err
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text}))
}

// ChatInfo resolves a chat through getChat, by handle when one is given.
func (a *Adapter) ChatInfo(ctx context.Context, ref kit.ChatRef) (kit.Chat, error) {
	if err := ctx.Err(); err != nil {
		return kit.Chat{}, err
	}
	var (
		c   *tele.Chat
		err error
	)
	if h := strings.TrimPrefix(strings.TrimSpace(ref.Handle), "@"); h != "" {
		c, err = a.bot.ChatByUsername("@" + h)
	} else {
		c, err = a.bot.ChatByID(ref.ID)
	}
	if err != nil {
		return kit.Chat{}, mapError(err)
	}
	return chatFromTele(c), nil
}

func (a *Adapter) ChatMemberStatus(ctx context.Context, chatID, userID int64) (kit.MemberStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return "", mapError(err)
	}
	return kit.MemberStatus(m.Role), nil
}

// UpdateMenuCommands calls setMyCommands, skipping the call when the list
// is the one already pushed.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	menu := make([]tele.Command, 0, min(len(cmds), maxMenuCommands))
	h := fnv.New64a()
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		if len(menu) == maxMenuCommands {
			break
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		if len(desc) > maxMenuDescription {
			desc = desc[:maxMenuDescription]
		}
		menu = append(menu, tele.Command{Text: c.Command, Description: desc})
		_, _ = h.Write([]byte(c.Command + "\x00" + desc + "\x00"))
	}
	sum := h.Sum64()

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(menu); err != nil {
		return mapError(err)
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(menu)))
	return nil
}

// replyMarkup converts a keyboard, dropping empty rows. nil means no markup.
func replyMarkup(kb kit.Keyboard) *tele.ReplyMarkup {
	var rows [][]tele.InlineButton
	for _, row := range kb {
		if len(row) == 0 {
			continue
		}
		r := make([]tele.InlineButton, len(row))
		for i, b := range row {
			r[i] = tele.InlineButton{Text: b.Text, URL: b.URL, Data: b.Data}
		}
		rows = append(rows, r)
	}
	if rows == nil {
		return nil
	}
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}
