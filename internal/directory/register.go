package directory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"divulgabot/internal/broadcast"
	"divulgabot/internal/eventbus"
	"divulgabot/internal/storage"
	kit "divulgabot/internal/transport"
	"divulgabot/internal/transport/telegram/router"
	logx "divulgabot/pkg/logx"
	"divulgabot/pkg/tgui"
)

const startText = "👋 Bem-vindo ao *DivulgaHotBot!*\n" +
	"📢 Aqui você encontra canais e grupos para divulgação de conteúdo adulto, SEO e marketing.\n\n" +
	"🔥 Para adicionar seu CANAL ou GRUPO:\n" +
	"Use o comando /cadastrar - é grátis e automático!\n" +
	"Ou adicione o bot como administrador do seu canal.\n\n" +
	"⚠️ Regras básicas:\n" +
	"- Voltado a conteúdo +18\n" +
	"- Descrição clara e ativa\n\n" +
	"📊 Lista de Canais e Grupos disponíveis:\n" +
	"👉 Use /lista para acessar agora!"

const (
	msgRegisterUsage    = "❌ Use assim: /cadastrar nome @link ou https://t.me/link"
	msgInvalidLink      = "❌ Link inválido. Use @canal ou https://t.me/..."
	msgInviteLink       = "❌ Links de convite não são aceitos. Use o @ público do canal ou grupo."
	msgChatNotFound     = "❌ Não encontrei esse canal. Confira o @ e tente de novo."
	msgLookupFailed     = "⚠️ Não consegui consultar o Telegram agora. Tente novamente em instantes."
	msgRegistered       = "✅ Canal enviado para análise e aprovação!"
	msgAlreadyListed    = "ℹ️ Esse canal já está na lista."
	msgAlreadyPending   = "⏳ Esse canal já está aguardando aprovação."
	msgStoreUnavailable = "⚠️ Não foi possível salvar agora. Tente novamente mais tarde."
)

var (
	errInvalidLink = errors.New("invalid link")
	errInviteLink  = errors.New("invite link")

	// Public usernames: 5-32 chars, letter first.
	handleRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{3,31}$`)
)

// parseLink extracts the public handle from "@name", "t.me/name" or
// "https://t.me/name" (telegram.me is accepted too).
func parseLink(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if h, ok := strings.CutPrefix(s, "@"); ok {
		if !handleRe.MatchString(h) {
			return "", errInvalidLink
		}
		return h, nil
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "https://"), "http://")
	s = strings.TrimPrefix(s, "www.")
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "t.me/"):
		s = s[len("t.me/"):]
	case strings.HasPrefix(lower, "telegram.me/"):
		s = s[len("telegram.me/"):]
	default:
		return "", errInvalidLink
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(strings.ToLower(s), "joinchat/") {
		return "", errInviteLink
	}
	s, _, _ = strings.Cut(s, "?")
	s, _, _ = strings.Cut(s, "/")
	if !handleRe.MatchString(s) {
		return "", errInvalidLink
	}
	return s, nil
}

// channelLink is the public URL when a handle is known, the id link otherwise.
func channelLink(c storage.Channel) string {
	if c.PublicHandle != "" {
		return "https://t.me/" + c.PublicHandle
	}
	return broadcast.IDLink(c.ID)
}

func channelName(c storage.Channel) string {
	switch {
	case strings.TrimSpace(c.DisplayName) != "":
		return c.DisplayName
	case c.PublicHandle != "":
		return "@" + c.PublicHandle
	default:
		return fmt.Sprintf("Canal %d", c.ID)
	}
}

func (s *Service) cmdStart(ctx context.Context, req *router.Request) error {
	_, err := req.Reply(ctx, startText, &kit.SendOptions{ParseMode: "Markdown"})
	return err
}

func (s *Service) cmdRegister(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 2 {
		_, err := req.Reply(ctx, msgRegisterUsage, nil)
		return err
	}
	link := req.Args[len(req.Args)-1]
	name := strings.TrimSpace(strings.Join(req.Args[:len(req.Args)-1], " "))

	handle, err := parseLink(link)
	if err != nil {
		msg := msgInvalidLink
		if errors.Is(err, errInviteLink) {
			msg = msgInviteLink
		}
		_, rerr := req.Reply(ctx, msg, nil)
		return rerr
	}

	lctx, cancel := context.WithTimeout(ctx, s.config().LookupTimeout)
	chat, err := req.Adapter.ChatInfo(lctx, kit.ChatRef{Handle: "@" + handle})
	cancel()
	if err != nil {
		msg := msgLookupFailed
		if errors.Is(err, kit.ErrChatNotFound) {
			msg = msgChatNotFound
		}
		req.Logger.Info("registration lookup failed", logx.String("handle", handle), logx.Err(err))
		_, rerr := req.Reply(ctx, msg, nil)
		return rerr
	}
	if chat.Username == "" {
		chat.Username = handle
	}

	rec, created, err := s.store.Register(ctx, chat.ID, name, chat.Username, false)
	if err != nil {
		_, _ = req.Reply(ctx, msgStoreUnavailable, nil)
		return fmt.Errorf("register %d: %w", chat.ID, err)
	}
	if !created {
		msg := msgAlreadyPending
		if rec.Approved {
			msg = msgAlreadyListed
		}
		_, err := req.Reply(ctx, msg, nil)
		return err
	}

	req.Logger.Info("channel submitted",
		logx.Int64("channel_id", rec.ID),
		logx.Int64("seq", rec.Seq),
		logx.String("handle", rec.PublicHandle),
	)
	s.publish(eventbus.TypeChannelRegistered, eventbus.DirectoryChange{
		ChannelID: rec.ID,
		Title:     name,
		ActorID:   req.FromID,
		Source:    "command",
		Detail:    "@" + rec.PublicHandle,
	})
	if _, err := req.Reply(ctx, msgRegistered, nil); err != nil {
		return err
	}
	s.announcePending(ctx, rec, req)
	return nil
}

// announcePending tells the admins about a new submission.
func (s *Service) announcePending(ctx context.Context, c storage.Channel, req *router.Request) {
	if s.notify == nil {
		return
	}
	from := strconv.FormatInt(req.FromID, 10)
	if req.FromUsername != "" {
		from = "@" + req.FromUsername
	}
	text := tgui.JoinH("\n",
		tgui.B("📥 Novo cadastro"),
		tgui.Esc(channelName(c)),
		tgui.Esc("🔗 "+channelLink(c)),
		tgui.I("enviado por "+from),
	).String()
	if _, err := s.notify.NotifyAdmins(ctx, text, pendingOptions(c)); err != nil {
		req.Logger.Warn("admins not notified of submission", logx.Int64("channel_id", c.ID), logx.Err(err))
	}
}

func pendingOptions(c storage.Channel) *kit.SendOptions {
	seq := strconv.FormatInt(c.Seq, 10)
	kb := tgui.NewInline().Row(tgui.ConfirmRow(
		tgui.Btn("✅ Aprovar", tgui.Data(cbRoute, "approve", seq)),
		tgui.Btn("❌ Rejeitar", tgui.Data(cbRoute, "reject", seq)),
	)...)
	return kb.Options()
}
