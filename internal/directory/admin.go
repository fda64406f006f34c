package directory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"divulgabot/internal/broadcast"
	"divulgabot/internal/eventbus"
	"divulgabot/internal/storage"
	kit "divulgabot/internal/transport"
	"divulgabot/internal/transport/telegram/router"
	logx "divulgabot/pkg/logx"
	"divulgabot/pkg/tgui"
)

const (
	msgNoPending      = "✅ Nenhum canal pendente."
	msgApproved       = "✅ Canal aprovado!"
	msgRejected       = "❌ Canal rejeitado e removido."
	msgUnknownEntry   = "⚠️ Cadastro não encontrado (já foi processado?)."
	msgBroadcastBusy  = "⏳ Já existe uma divulgação em andamento."
	msgBroadcastStart = "📣 Divulgação iniciada..."
	msgNoBroadcaster  = "⚠️ Divulgação indisponível."
	msgEmptyDirectory = "⚠️ Nenhum canal cadastrado."
)

func (s *Service) cmdPanel(ctx context.Context, req *router.Request) error {
	pending, err := s.store.List(ctx, storage.OnlyPending())
	if err != nil {
		_, _ = req.Reply(ctx, msgStoreUnavailable, nil)
		return err
	}
	if len(pending) == 0 {
		_, err := req.Reply(ctx, msgNoPending, nil)
		return err
	}
	for _, c := range lo.Slice(pending, 0, maxPanelItems) {
		text := fmt.Sprintf("📥 %s\n🔗 %s", channelName(c), channelLink(c))
		opt := pendingOptions(c)
		opt.ParseMode = ""
		if _, err := req.Reply(ctx, text, opt); err != nil {
			return err
		}
	}
	if extra := len(pending) - maxPanelItems; extra > 0 {
		_, err := req.Reply(ctx, fmt.Sprintf("… e mais %d pendentes. Decida os acima e use /adminpainel de novo.", extra), nil)
		return err
	}
	return nil
}

// entryFromPayload resolves a "<seq>" callback payload.
func (s *Service) entryFromPayload(ctx context.Context, payload string) (storage.Channel, error) {
	seq, err := strconv.ParseInt(payload, 10, 64)
	if err != nil || seq <= 0 {
		return storage.Channel{}, &storage.NotFoundError{Seq: seq}
	}
	return s.store.GetBySeq(ctx, seq)
}

func (s *Service) cbApprove(ctx context.Context, req *router.Request, payload string) error {
	c, err := s.entryFromPayload(ctx, payload)
	if err == nil {
		err = s.store.SetApproved(ctx, c.ID, true)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return req.Adapter.EditText(ctx, req.MessageRef(), msgUnknownEntry, nil)
	}
	if err != nil {
		return err
	}
	req.Logger.Info("channel approved", logx.Int64("channel_id", c.ID), logx.Int64("seq", c.Seq))
	s.publish(eventbus.TypeChannelApproved, eventbus.DirectoryChange{
		ChannelID: c.ID,
		Title:     c.DisplayName,
		ActorID:   req.FromID,
		Source:    "panel",
	})
	return req.Adapter.EditText(ctx, req.MessageRef(), msgApproved, nil)
}

func (s *Service) cbReject(ctx context.Context, req *router.Request, payload string) error {
	c, err := s.entryFromPayload(ctx, payload)
	if errors.Is(err, storage.ErrNotFound) {
		return req.Adapter.EditText(ctx, req.MessageRef(), msgUnknownEntry, nil)
	}
	if err != nil {
		return err
	}
	if err := s.store.Remove(ctx, c.ID); err != nil {
		return err
	}
	req.Logger.Info("channel rejected", logx.Int64("channel_id", c.ID), logx.Int64("seq", c.Seq))
	s.publish(eventbus.TypeChannelRejected, eventbus.DirectoryChange{
		ChannelID: c.ID,
		Title:     c.DisplayName,
		ActorID:   req.FromID,
		Source:    "panel",
	})
	return req.Adapter.EditText(ctx, req.MessageRef(), msgRejected, nil)
}

func (s *Service) cmdBroadcast(ctx context.Context, req *router.Request) error {
	if s.broadcast == nil {
		_, err := req.Reply(ctx, msgNoBroadcaster, nil)
		return err
	}
	if _, err := req.Reply(ctx, msgBroadcastStart, nil); err != nil {
		return err
	}
	rctx, cancel := context.WithTimeout(ctx, s.config().BroadcastTimeout)
	defer cancel()
	rep, err := s.broadcast.Run(rctx, "command")
	if errors.Is(err, broadcast.ErrRunInProgress) {
		_, rerr := req.Reply(ctx, msgBroadcastBusy, nil)
		return rerr
	}
	if err != nil {
		_, _ = req.Reply(ctx, "❌ Falha na divulgação: "+err.Error(), nil)
		return err
	}
	_, err = req.Reply(ctx, summarizeReport(rep), &kit.SendOptions{ParseMode: "HTML"})
	return err
}

func summarizeReport(r broadcast.Report) string {
	lines := []string{
		tgui.B("📣 Divulgação concluída").String(),
		fmt.Sprintf("Enviadas: %d", r.Sent),
		fmt.Sprintf("Falhas: %d", len(r.Failed)),
	}
	if r.Groups > 1 {
		lines = append(lines, fmt.Sprintf("Grupos: %d", r.Groups))
	}
	if !r.Started.IsZero() && !r.Finished.IsZero() {
		lines = append(lines, "Duração: "+r.Finished.Sub(r.Started).Round(time.Second).String())
	}
	for _, f := range lo.Slice(r.Failed, 0, 10) {
		lines = append(lines, tgui.Code(strconv.FormatInt(f.ChannelID, 10)).String()+" "+tgui.Esc(tgui.TruncRunes(f.Reason, 80)).String())
	}
	return strings.Join(lines, "\n")
}

func (s *Service) cmdAdmins(ctx context.Context, req *router.Request) error {
	channels, err := s.store.List(ctx, storage.ListFilter{})
	if err != nil {
		_, _ = req.Reply(ctx, msgStoreUnavailable, nil)
		return err
	}
	if len(channels) == 0 {
		_, err := req.Reply(ctx, msgEmptyDirectory, nil)
		return err
	}
	self := req.Adapter.SelfID()
	timeout := s.config().LookupTimeout

	lines := make([]string, 0, len(channels)+2)
	admin := 0
	for _, c := range channels {
		lctx, cancel := context.WithTimeout(ctx, timeout)
		st, err := req.Adapter.ChatMemberStatus(lctx, c.ID, self)
		cancel()
		name := tgui.Esc(channelName(c)).String()
		switch {
		case err != nil:
			lines = append(lines, "❌ "+name+" — sem acesso")
			req.Logger.Debug("member status lookup failed", logx.Int64("channel_id", c.ID), logx.Err(err))
		case st.IsAdmin():
			admin++
			lines = append(lines, "✅ "+name+" — administrador")
		default:
			lines = append(lines, "⚠️ "+name+" — "+string(st))
		}
		if ctx.Err() != nil {
			break
		}
	}
	head := tgui.B(fmt.Sprintf("Bot é admin em %d de %d canais", admin, len(channels))).String()
	_, err = req.Reply(ctx, head+"\n\n"+strings.Join(lines, "\n"), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

func (s *Service) cmdStatus(ctx context.Context, req *router.Request) error {
	all, err := s.store.List(ctx, storage.ListFilter{})
	if err != nil {
		_, _ = req.Reply(ctx, msgStoreUnavailable, nil)
		return err
	}
	approved := lo.CountBy(all, func(c storage.Channel) bool { return c.Approved })

	lines := []string{
		tgui.B("📊 Status").String(),
		fmt.Sprintf("Canais aprovados: %d", approved),
		fmt.Sprintf("Pendentes: %d", len(all)-approved),
	}
	if s.schedules != nil {
		snap := s.schedules.Snapshot()
		lines = append(lines, "", tgui.B("🗓 Agenda ("+snap.Timezone+")").String())
		if len(snap.Schedules) == 0 {
			lines = append(lines, "nenhum horário configurado")
		}
		for _, sc := range snap.Schedules {
			next := "—"
			if !sc.Next.IsZero() {
				next = sc.Next.Format("02/01 15:04")
			}
			lines = append(lines, tgui.Code(sc.Name).String()+" → "+next)
		}
	}
	if s.broadcast != nil {
		if last, ok := s.broadcast.LastRun(); ok {
			lines = append(lines, "", tgui.B("📣 Última divulgação").String(),
				fmt.Sprintf("%s (%s)", last.Report.Finished.Format("02/01 15:04"), tgui.Esc(last.Trigger).String()),
				fmt.Sprintf("Canais: %d · Enviadas: %d · Falhas: %d", last.Channels, last.Report.Sent, len(last.Report.Failed)),
			)
			if last.Err != "" {
				lines = append(lines, "Erro: "+tgui.Esc(last.Err).String())
			}
		}
	}
	_, err = req.Reply(ctx, strings.Join(lines, "\n"), &kit.SendOptions{ParseMode: "HTML"})
	return err
}
