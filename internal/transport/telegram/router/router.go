package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"castbot/internal/observability"
	rtsup "castbot/internal/runtime/supervisor"
	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"
	"castbot/pkg/tgui"
)

// Reply texts owned by the router.
const (
	MsgUnknownCommand = "Unknown command. Try /help"
	MsgForbidden      = "This command is for admins only."
	MsgBusy           = "Busy, try again in a moment."
	MsgMenuExpired    = "This menu has expired."
	MsgInternalError  = "Something went wrong. Please try again."
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
	// Hidden commands work but are left out of help and the menu.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

// CallbackRoute handles every button whose data starts with "<NS>:".
type CallbackRoute struct {
	NS      string
	Timeout time.Duration
	Handle  HandlerFunc
}

// TextHandler receives non-command text. handled=false means nobody was
// waiting for it.
type TextHandler func(ctx context.Context, req *Request) (handled bool, err error)

// AdminCheck reports whether actorID may run AccessAdmin commands.
type AdminCheck func(ctx context.Context, actorID int64) (bool, error)

type Request struct {
	Update kit.Update
	Chat   kit.ChatTarget
	FromID int64

	Command string   // command name or callback namespace
	Args    []string // whitespace-separated arguments
	RawArgs string   // text after the command word
	Text    string   // full message text
	Data    string   // callback data

	ReqID  string
	Logger logx.Logger
	Sender kit.Sender

	answered atomic.Bool
}

// Reply sends text to the request's chat.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return r.Sender.SendText(ctx, r.Chat, text, opt)
}

// Answer acknowledges the pressed button. Only the first call reaches Telegram.
func (r *Request) Answer(ctx context.Context, text string) error {
	if r.Update.Callback == nil || !r.answered.CompareAndSwap(false, true) {
		return nil
	}
	return r.Sender.AnswerCallback(ctx, r.Update.Callback.ID, text)
}

// MessageRef is the message that carries the pressed keyboard.
func (r *Request) MessageRef() kit.MessageRef {
	if cb := r.Update.Callback; cb != nil {
		return kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	}
	return kit.MessageRef{}
}

type Config struct {
	// Shards is the number of ordered lanes. Updates of one chat always use
	// the same lane.
	Shards     int
	ShardQueue int
	// HandlerTimeout applies when a route has no Timeout.
	HandlerTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Shards <= 0 {
		c.Shards = 8
	}
	if c.ShardQueue <= 0 {
		c.ShardQueue = 64
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 30 * time.Second
	}
	return c
}

type Router struct {
	cfg    Config
	log    logx.Logger
	sender kit.Sender

	mu        sync.RWMutex
	commands  map[string]*Command // name and aliases
	ordered   []*Command
	callbacks map[string]CallbackRoute
	text      TextHandler
	isAdmin   AdminCheck

	runMu   sync.Mutex
	running bool
	lanes   []chan func(context.Context)
}

func New(cfg Config, sender kit.Sender, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		cfg:       cfg.withDefaults(),
		log:       log,
		sender:    sender,
		commands:  map[string]*Command{},
		callbacks: map[string]CallbackRoute{},
	}
}

func (r *Router) SetText(h TextHandler) {
	r.mu.Lock()
	r.text = h
	r.mu.Unlock()
}

func (r *Router) SetAdminCheck(fn AdminCheck) {
	r.mu.Lock()
	r.isAdmin = fn
	r.mu.Unlock()
}

// SetRegistry replaces commands and callback routes. /help is always added.
func (r *Router) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	cmds = append(cmds, Command{
		Name:        "help",
		Description: "Show available commands",
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Reply(ctx, r.helpText(), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
			return err
		},
	})

	byName := map[string]*Command{}
	ordered := make([]*Command, 0, len(cmds))
	for i := range cmds {
		c := &cmds[i]
		name := sanitizeCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		byName[name] = c
		ordered = append(ordered, c)
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a != "" {
				if _, exists := byName[a]; !exists {
					byName[a] = c
				}
			}
		}
	}

	routes := map[string]CallbackRoute{}
	for _, cb := range cbs {
		ns := strings.TrimSpace(cb.NS)
		if ns == "" || cb.Handle == nil {
			continue
		}
		routes[ns] = cb
	}

	r.mu.Lock()
	r.commands = byName
	r.ordered = ordered
	r.callbacks = routes
	r.mu.Unlock()
}

// MenuCommands is the command list for the client's menu button.
func (r *Router) MenuCommands() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return buildMenu(r.ordered)
}

// DispatchLoop reads updates until ctx is done or updates is closed.
// Handlers run on r.cfg.Shards ordered lanes.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)

	lanes := make([]chan func(context.Context), r.cfg.Shards)
	for i := range lanes {
		lanes[i] = make(chan func(context.Context), r.cfg.ShardQueue)
	}
	r.runMu.Lock()
	r.lanes = lanes
	r.running = true
	r.runMu.Unlock()

	for i, lane := range lanes {
		idx := i
		sup.GoRestart("router.lane."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-lane:
					if !ok {
						return nil
					}
					r.runJob(c, idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
		)
	}
	r.log.Info("dispatcher started", logx.Int("shards", len(lanes)), logx.Int("shard_queue", r.cfg.ShardQueue))

	defer func() {
		r.runMu.Lock()
		r.running = false
		for _, lane := range lanes {
			close(lane)
		}
		r.runMu.Unlock()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

func (r *Router) runJob(ctx context.Context, lane int, job func(context.Context)) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in router lane", logx.Int("lane", lane), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
		}
	}()
	job(ctx)
}

// enqueue puts job on the lane of chatID. It reports false when the lane is
// full or the dispatcher is not running.
func (r *Router) enqueue(chatID int64, job func(context.Context)) bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running || len(r.lanes) == 0 {
		return false
	}
	lane := r.lanes[shardOf(chatID, len(r.lanes))]
	select {
	case lane <- job:
		return true
	default:
		return false
	}
}

func shardOf(chatID int64, n int) int {
	u := uint64(chatID)
	return int(u % uint64(n))
}

// Route classifies one update and schedules its handler.
func (r *Router) Route(ctx context.Context, up kit.Update) {
	switch {
	case up.Kind == kit.UpdateMessage && up.Message != nil:
		r.routeMessage(ctx, up)
	case up.Kind == kit.UpdateCallback && up.Callback != nil:
		r.routeCallback(ctx, up)
	}
}

func (r *Router) newRequest(up kit.Update, command string) *Request {
	rid := ulid.Make().String()
	return &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: up.ChatID(), ThreadID: threadOf(up)},
		FromID:  up.ActorID(),
		Command: command,
		ReqID:   rid,
		Sender:  r.sender,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", up.ChatID()),
			logx.Int64("from_id", up.ActorID()),
			logx.String("cmd", command),
		),
	}
}

func threadOf(up kit.Update) int {
	if up.Message != nil {
		return up.Message.ThreadID
	}
	if up.Callback != nil {
		return up.Callback.ThreadID
	}
	return 0
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	name, args, raw, isCmd := parseCommand(msg.Text)

	if !isCmd {
		r.mu.RLock()
		text := r.text
		r.mu.RUnlock()
		if text == nil {
			observability.Updates.WithLabelValues("text", "ignored").Inc()
			return
		}
		req := r.newRequest(up, "text")
		req.Text = msg.Text
		h := func(c context.Context, req *Request) error {
			handled, err := text(c, req)
			if !handled && err == nil {
				observability.Updates.WithLabelValues("text", "ignored").Inc()
			}
			return err
		}
		r.schedule(ctx, req, "text", h, 0)
		return
	}

	r.mu.RLock()
	cmd := r.commands[name]
	isAdmin := r.isAdmin
	r.mu.RUnlock()

	target := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if cmd == nil {
		observability.Updates.WithLabelValues("command", "unknown").Inc()
		_, _ = r.sender.SendText(ctx, target, MsgUnknownCommand, nil)
		return
	}

	req := r.newRequest(up, cmd.Name)
	req.Args = args
	req.RawArgs = raw
	req.Text = msg.Text

	h := cmd.Handle
	if cmd.Access == AccessAdmin {
		h = requireAdmin(isAdmin, h)
	}
	r.schedule(ctx, req, "command", h, cmd.Timeout)
}

func requireAdmin(isAdmin AdminCheck, next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		ok := false
		if isAdmin != nil {
			var err error
			if ok, err = isAdmin(ctx, req.FromID); err != nil {
				return err
			}
		}
		if !ok {
			observability.Updates.WithLabelValues("command", "forbidden").Inc()
			_, err := req.Reply(ctx, MsgForbidden, nil)
			return err
		}
		return next(ctx, req)
	}
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	ns, _, _ := tgui.Parse(cb.Data)

	r.mu.RLock()
	route, ok := r.callbacks[ns]
	r.mu.RUnlock()
	if !ok {
		observability.Updates.WithLabelValues("callback", "unknown").Inc()
		_ = r.sender.AnswerCallback(ctx, cb.ID, MsgMenuExpired)
		return
	}

	req := r.newRequest(up, ns)
	req.Data = cb.Data
	r.schedule(ctx, req, "callback", route.Handle, route.Timeout)
}

func (r *Router) schedule(ctx context.Context, req *Request, kind string, h HandlerFunc, timeout time.Duration) {
	if timeout <= 0 {
		timeout = r.cfg.HandlerTimeout
	}
	final := Chain(h,
		MWPanicRecover(r.log),
		MWMetrics(kind),
		MWRequestLog(r.log),
		MWReplyOnError(),
		MWTimeout(timeout),
	)

	ok := r.enqueue(req.Chat.ChatID, func(c context.Context) {
		_ = final(c, req)
		// Clear the client's spinner when the handler did not answer.
		if req.Update.Callback != nil {
			_ = req.Answer(c, "")
		}
	})
	if ok {
		return
	}
	observability.Updates.WithLabelValues(kind, "busy").Inc()
	if req.Update.Callback != nil {
		_ = req.Answer(ctx, MsgBusy)
		return
	}
	_, _ = r.sender.SendText(ctx, req.Chat, MsgBusy, nil)
}
