package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "divulgabot/internal/runtime/supervisor"
	kit "divulgabot/internal/transport"
	logx "divulgabot/pkg/logx"
)

const (
	msgAccessDenied   = "❌ Acesso negado."
	msgUnknownCommand = "❓ Comando desconhecido. Use /help."
	msgBusy           = "⏳ Ocupado, tente novamente em instantes."
)

const membershipEnqueueWait = 5 * time.Second

// Manager routes updates to command, callback and membership handlers on a
// bounded job pool.
type Manager struct {
	mu        sync.RWMutex
	commands  map[string]Command // by name and alias
	visible   []Command
	callbacks map[string]CallbackRoute // "<route>:<action>"
	admins    map[int64]bool
	onMember  MembershipHandler

	log     logx.Logger
	adapter kit.Adapter

	jobs chan func()
}

func New(log logx.Logger, adapter kit.Adapter, admins []int64) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		commands:  map[string]Command{},
		callbacks: map[string]CallbackRoute{},
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   adapter,
		jobs:      make(chan func(), 256),
	}
	m.SetAdmins(admins)
	return m
}

// SetAdmins replaces the admin list. Safe during hot reload.
func (m *Manager) SetAdmins(ids []int64) {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	m.mu.Lock()
	m.admins = set
	m.mu.Unlock()
}

func (m *Manager) IsAdmin(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.admins[id]
}

// OnMembership installs the membership change handler.
func (m *Manager) OnMembership(h MembershipHandler) {
	m.mu.Lock()
	m.onMember = h
	m.mu.Unlock()
}

// SetRegistry installs commands and callback routes. /help is always added.
func (m *Manager) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	cmds = append(cmds, Command{
		Name:        "help",
		Aliases:     []string{"ajuda"},
		Description: "lista os comandos",
		Usage:       "/help [comando]",
		Handle: func(ctx context.Context, req *Request) error {
			topic := ""
			if len(req.Args) > 0 {
				topic = req.Args[0]
			}
			_, err := req.Reply(ctx, m.helpText(req.IsAdmin, topic), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
			return err
		},
	})

	byName := map[string]Command{}
	visible := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		c.Name = commandWord(c.Name)
		if c.Name == "" || c.Handle == nil {
			continue
		}
		byName[c.Name] = c
		visible = append(visible, c)
		for _, a := range c.Aliases {
			if a = commandWord(a); a != "" {
				if _, taken := byName[a]; !taken {
					byName[a] = c
				}
			}
		}
	}

	routes := map[string]CallbackRoute{}
	for _, r := range cbs {
		p, a := strings.TrimSpace(r.Route), strings.TrimSpace(r.Action)
		if p == "" || a == "" || r.Handle == nil {
			continue
		}
		routes[p+":"+a] = r
	}

	m.mu.Lock()
	m.commands = byName
	m.visible = visible
	m.callbacks = routes
	m.mu.Unlock()
}

// SyncMenu pushes the public command list to the platform menu if supported.
func (m *Manager) SyncMenu(ctx context.Context) error {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	m.mu.RLock()
	menu := buildTelegramMenuCommands(m.visible)
	m.mu.RUnlock()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(ctx, menu)
}

// DispatchLoop consumes updates until ctx ends or updates is closed.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(runtime.NumCPU(), 2)

	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(m.log), rtsup.WithCancelOnError(false))
	jobs := m.jobs

	m.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(jobs)))

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-jobs:
					m.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *Manager) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in job", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

func (m *Manager) tryEnqueue(fn func()) bool {
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// enqueueWait blocks up to wait for a free job slot.
func (m *Manager) enqueueWait(ctx context.Context, fn func(), wait time.Duration) bool {
	if m.tryEnqueue(fn) {
		return true
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case m.jobs <- fn:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			m.routeMessage(ctx, up)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			m.routeCallback(ctx, up)
		}
	case kit.UpdateMembership:
		m.routeMembership(ctx, up)
	}
}

func (m *Manager) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := commandWord(parts[0])
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	m.mu.RLock()
	cmd, ok := m.commands[word]
	admin := m.admins[msg.FromID]
	m.mu.RUnlock()
	if !ok {
		// Groups may host other bots; stay quiet there.
		if !msg.IsGroup {
			_, _ = m.adapter.SendText(ctx, chat, msgUnknownCommand, nil)
		}
		return
	}
	if cmd.Access == AccessAdmin && !admin {
		m.log.Info("admin command denied", logx.String("cmd", cmd.Name), logx.Int64("from_id", msg.FromID))
		_, _ = m.adapter.SendText(ctx, chat, msgAccessDenied, nil)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:       up,
		Chat:         chat,
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Command:      cmd.Name,
		Args:         parts[1:],
		ReqID:        rid,
		Adapter:      m.adapter,
		IsAdmin:      admin,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	final := m.pipeline(cmd.Handle, cmd.Timeout)
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, chat, msgBusy, nil)
	}
}

func (m *Manager) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	parts := strings.SplitN(strings.TrimSpace(cb.Data), ":", 3)
	if len(parts) < 2 {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	key := parts[0] + ":" + parts[1]
	payload := ""
	if len(parts) == 3 {
		payload = parts[2]
	}

	m.mu.RLock()
	route, ok := m.callbacks[key]
	admin := m.admins[cb.FromID]
	m.mu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	if route.Access == AccessAdmin && !admin {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, msgAccessDenied)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		FromID:  cb.FromID,
		Command: "cb:" + key,
		Payload: payload,
		ReqID:   rid,
		Adapter: m.adapter,
		IsAdmin: admin,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", cb.ChatID),
			logx.Int64("from_id", cb.FromID),
			logx.String("cmd", "cb:"+key),
		),
	}
	h := func(c context.Context, r *Request) error { return route.Handle(c, r, payload) }
	final := m.pipeline(h, route.Timeout)
	if !m.tryEnqueue(func() {
		_ = final(ctx, req)
		// Stops the client's loading spinner.
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
	}) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, msgBusy)
	}
}

func (m *Manager) routeMembership(ctx context.Context, up kit.Update) {
	if up.Membership == nil {
		m.log.Warn("membership update without payload dropped")
		return
	}
	m.mu.RLock()
	h := m.onMember
	m.mu.RUnlock()
	if h == nil {
		return
	}
	change := *up.Membership
	// A lost promotion leaves the channel unregistered, so wait for a slot.
	if !m.enqueueWait(ctx, func() { h(ctx, change) }, membershipEnqueueWait) {
		m.log.Error("membership update dropped: job queue full", logx.Int64("chat_id", change.Chat.ID))
	}
}
