// Package directory implements the bot's user and admin commands over the
// channel directory.
package directory

import (
	"context"
	"sync"
	"time"

	"divulgabot/internal/broadcast"
	"divulgabot/internal/eventbus"
	"divulgabot/internal/storage"
	"divulgabot/internal/task/scheduler"
	kit "divulgabot/internal/transport"
	"divulgabot/internal/transport/telegram/router"
	logx "divulgabot/pkg/logx"
)

const (
	cbRoute = "dir"

	pageSize = 5
	// maxPanelItems caps one /adminpainel reply burst.
	maxPanelItems = 20
)

type Config struct {
	LookupTimeout time.Duration
	// BroadcastTimeout bounds a /divulgar run.
	BroadcastTimeout time.Duration
}

// AdminNotifier fans a message out to the configured admins.
type AdminNotifier interface {
	NotifyAdmins(ctx context.Context, text string, opt *kit.SendOptions) (int, error)
}

// Broadcaster runs broadcasts on demand.
type Broadcaster interface {
	Run(ctx context.Context, trigger string) (broadcast.Report, error)
	LastRun() (broadcast.RunStatus, bool)
}

// ScheduleSource exposes the armed schedules for /status.
type ScheduleSource interface {
	Snapshot() scheduler.Snapshot
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	store     storage.Store
	notify    AdminNotifier
	broadcast Broadcaster
	schedules ScheduleSource
	bus       eventbus.Bus
	log       logx.Logger
}

// Deps groups the collaborators; Notify, Broadcast and Schedules are optional.
type Deps struct {
	Store     storage.Store
	Notify    AdminNotifier
	Broadcast Broadcaster
	Schedules ScheduleSource
	Bus       eventbus.Bus
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store:     deps.Store,
		notify:    deps.Notify,
		broadcast: deps.Broadcast,
		schedules: deps.Schedules,
		bus:       deps.Bus,
		log:       log.With(logx.String("comp", "directory")),
	}
	s.Apply(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 5 * time.Second
	}
	if cfg.BroadcastTimeout <= 0 {
		cfg.BroadcastTimeout = 30 * time.Minute
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Commands returns the command registry entries.
func (s *Service) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "apresentação do bot", Hidden: true, Timeout: 10 * time.Second, Handle: s.cmdStart},
		{
			Name:        "cadastrar",
			Aliases:     []string{"register"},
			Description: "cadastrar canal ou grupo",
			Usage:       "/cadastrar <nome> <@canal | https://t.me/canal>",
			Timeout:     30 * time.Second,
			Handle:      s.cmdRegister,
		},
		{Name: "lista", Aliases: []string{"list"}, Description: "canais e grupos aprovados", Usage: "/lista [página]", Timeout: 15 * time.Second, Handle: s.cmdList},
		{Name: "adminpainel", Description: "cadastros pendentes", Access: router.AccessAdmin, Timeout: 30 * time.Second, Handle: s.cmdPanel},
		{Name: "divulgar", Description: "enviar a divulgação agora", Access: router.AccessAdmin, Handle: s.cmdBroadcast},
		{Name: "admins", Description: "onde o bot ainda é administrador", Access: router.AccessAdmin, Timeout: 5 * time.Minute, Handle: s.cmdAdmins},
		{Name: "status", Description: "contadores e agenda", Access: router.AccessAdmin, Timeout: 15 * time.Second, Handle: s.cmdStatus},
	}
}

// Callbacks returns the inline button routes.
func (s *Service) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Route: cbRoute, Action: "page", Timeout: 15 * time.Second, Handle: s.cbPage},
		{Route: cbRoute, Action: "approve", Access: router.AccessAdmin, Timeout: 15 * time.Second, Handle: s.cbApprove},
		{Route: cbRoute, Action: "reject", Access: router.AccessAdmin, Timeout: 15 * time.Second, Handle: s.cbReject},
	}
}

func (s *Service) publish(typ string, ch eventbus.DirectoryChange) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ch})
}
