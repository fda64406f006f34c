package directory

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"divulgabot/internal/storage"
	kit "divulgabot/internal/transport"
	"divulgabot/internal/transport/telegram/router"
	logx "divulgabot/pkg/logx"
	"divulgabot/pkg/tgui"
)

const msgNoApproved = "⚠️ Nenhum canal aprovado encontrado."

// renderPage builds the /lista text and its navigation keyboard.
// ok is false when the page has no entries.
func renderPage(channels []storage.Channel, page int) (text string, opt *kit.SendOptions, ok bool) {
	p := tgui.Paginate(channels, page, pageSize)
	if len(p.Items) == 0 {
		return msgNoApproved, &kit.SendOptions{}, false
	}
	lines := make([]string, 0, len(p.Items)+2)
	for _, c := range p.Items {
		lines = append(lines, fmt.Sprintf("🔗 %s: %s", channelName(c), channelLink(c)))
	}
	if p.HasPrev || p.HasNext {
		lines = append(lines, "", tgui.PageLabel(p.Index, pageSize, p.Total))
	}

	var nav []kit.Button
	if p.HasPrev {
		nav = append(nav, tgui.Btn("⬅️ Anterior", tgui.Data(cbRoute, "page", strconv.Itoa(p.Index-1))))
	}
	if p.HasNext {
		nav = append(nav, tgui.Btn("➡️ Próxima", tgui.Data(cbRoute, "page", strconv.Itoa(p.Index+1))))
	}
	opt = &kit.SendOptions{DisablePreview: true, Keyboard: tgui.NewInline().Row(nav...).Keyboard()}
	return strings.Join(lines, "\n"), opt, true
}

func (s *Service) listPage(ctx context.Context, page int) (string, *kit.SendOptions, error) {
	channels, err := s.store.List(ctx, storage.OnlyApproved())
	if err != nil {
		return "", nil, err
	}
	text, opt, ok := renderPage(channels, page)
	if ok {
		s.countView(ctx)
	}
	return text, opt, nil
}

// countView bumps the views counter; a failure only costs one view.
func (s *Service) countView(ctx context.Context) {
	if err := s.store.IncrementViews(ctx, 1); err != nil {
		s.log.Warn("views counter not incremented", logx.Err(err))
	}
}

func (s *Service) cmdList(ctx context.Context, req *router.Request) error {
	page := 0
	if len(req.Args) > 0 {
		if n, err := strconv.Atoi(req.Args[0]); err == nil && n > 0 {
			page = n
		}
	}
	text, opt, err := s.listPage(ctx, page)
	if err != nil {
		_, _ = req.Reply(ctx, msgStoreUnavailable, nil)
		return err
	}
	_, err = req.Reply(ctx, text, opt)
	return err
}

func (s *Service) cbPage(ctx context.Context, req *router.Request, payload string) error {
	page, err := strconv.Atoi(payload)
	if err != nil || page < 0 {
		return fmt.Errorf("bad page payload %q", payload)
	}
	text, opt, err := s.listPage(ctx, page)
	if err != nil {
		return err
	}
	return req.Adapter.EditText(ctx, req.MessageRef(), text, opt)
}
