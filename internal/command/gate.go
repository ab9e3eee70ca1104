// Package command parses prefix/emoji-shortcut commands, authorizes the
// sender, and routes to handlers. The dispatch state machine per event is
// Idle → PrefixMatch/ShortcutMatch → Authorize → Route → Execute → Respond.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vaultbot/internal/domain"
	"vaultbot/internal/metrics"
)

// Gate is the command dispatch and authorization gate.
type Gate struct {
	registry     *Registry
	env          Env
	replyTimeout time.Duration
	logger       *slog.Logger
}

// GateConfig configures a Gate.
type GateConfig struct {
	Registry     *Registry
	Env          Env
	ReplyTimeout time.Duration
	Logger       *slog.Logger
}

// NewGate creates a Gate.
func NewGate(cfg GateConfig) *Gate {
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gate{
		registry:     cfg.Registry,
		env:          cfg.Env,
		replyTimeout: cfg.ReplyTimeout,
		logger:       cfg.Logger,
	}
}

// HandleText inspects an inbound text message and executes it as a command
// when it resolves to one. Returns true if the message was consumed as a
// command; false lets it fall through to cache-only handling.
func (g *Gate) HandleText(ctx context.Context, msg domain.CachedMessage, quoted *domain.CachedMessage) bool {
	text, ok := textOf(msg.Payload)
	if !ok {
		return false
	}

	cfg, err := g.env.Configs.GetUserConfig(ctx, g.env.Transport.OwnID())
	if err != nil {
		g.logger.Warn("user config lookup failed, using defaults", "err", err)
		cfg = domain.DefaultUserConfig(g.env.Transport.OwnID())
	}

	// Banned senders are rejected before any side effect.
	if cfg.IsBanned(msg.SenderID) {
		g.logger.Debug("banned sender dropped", "sender", msg.SenderID)
		return false
	}

	parsed, ok := Resolve(text, cfg)
	if !ok {
		g.maybeAutoReply(ctx, msg, cfg, text)
		return false
	}

	// Reply metadata often carries only the quoted id; fill in the cached
	// content when we still have it.
	if quoted != nil && quoted.Payload == nil {
		if cached, found := g.env.Store.Get(quoted.PrimaryID); found {
			quoted = &cached
		}
	}

	cc := domain.CommandContext{
		RawText:        parsed.Raw,
		Command:        parsed.Name,
		Args:           parsed.Args,
		SenderID:       msg.SenderID,
		ConversationID: msg.ConversationID,
		FromMe:         msg.FromMe,
		Quoted:         quoted,
	}
	g.dispatch(ctx, cc, cfg)
	return true
}

// HandleReaction maps an emoji reaction onto the shortcut table; the
// reacted-to message becomes the quoted target.
func (g *Gate) HandleReaction(ctx context.Context, ev domain.ReactionEvent) bool {
	cfg, err := g.env.Configs.GetUserConfig(ctx, g.env.Transport.OwnID())
	if err != nil {
		g.logger.Warn("user config lookup failed, using defaults", "err", err)
		cfg = domain.DefaultUserConfig(g.env.Transport.OwnID())
	}
	if cfg.IsBanned(ev.SenderID) {
		return false
	}

	name, ok := ResolveShortcut(ev.Emoji, cfg)
	if !ok {
		return false
	}

	cc := domain.CommandContext{
		RawText:        ev.Emoji,
		Command:        name,
		SenderID:       ev.SenderID,
		ConversationID: ev.ConversationID,
		FromMe:         ev.FromMe,
	}
	if target, found := g.env.Store.Get(ev.MessageID); found {
		cc.Quoted = &target
	}
	g.dispatch(ctx, cc, cfg)
	return true
}

// dispatch authorizes, routes, executes with panic isolation, and responds.
func (g *Gate) dispatch(ctx context.Context, cc domain.CommandContext, cfg domain.UserConfig) {
	owner := g.env.Transport.OwnID()
	cc.IsAuthorized = cc.FromMe || domain.SameUser(cc.SenderID, owner) || cfg.IsAllowed(cc.SenderID)
	if !cc.IsAuthorized {
		// Silent drop: no response at all for unauthorized senders.
		g.logger.Debug("unauthorized command ignored", "sender", cc.SenderID, "command", cc.Command)
		return
	}

	handler := g.registry.Get(cc.Command)
	if handler == nil {
		g.reply(ctx, cc.ConversationID, fmt.Sprintf("Unknown command %q. Try %shelp.", cc.Command, prefixOf(cfg)))
		return
	}

	reply, err := g.execute(ctx, handler, cc)
	if err != nil {
		// Handler failures are isolated per invocation and converted to a
		// best-effort error reply; the dispatch loop never dies here.
		g.logger.Error("command failed", "command", cc.Command, "err", err)
		g.reply(ctx, cc.ConversationID, "Command failed: "+err.Error())
		return
	}

	metrics.CommandsExecuted.Inc()
	if reply != "" {
		g.reply(ctx, cc.ConversationID, reply)
	}
}

// execute runs the handler with panic isolation.
func (g *Gate) execute(ctx context.Context, handler HandlerFunc, cc domain.CommandContext) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("command handler panic", "command", cc.Command, "panic", r)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, cc, g.env)
}

// maybeAutoReply applies the question heuristic to the owner's own
// outgoing non-command text.
func (g *Gate) maybeAutoReply(ctx context.Context, msg domain.CachedMessage, cfg domain.UserConfig, text string) {
	if !cfg.AutoReply || !msg.FromMe || cfg.AutoReplyText == "" {
		return
	}
	if !IsQuestion(text) {
		return
	}
	g.reply(ctx, msg.ConversationID, cfg.AutoReplyText)
}

func (g *Gate) reply(ctx context.Context, conversationID, text string) {
	sendCtx, cancel := context.WithTimeout(ctx, g.replyTimeout)
	defer cancel()
	if err := g.env.Transport.Send(sendCtx, conversationID, domain.Outgoing{Text: text}); err != nil {
		metrics.SendFailures.Inc()
		g.logger.Error("reply send failed", "conversation", conversationID, "err", err)
	}
}

func prefixOf(cfg domain.UserConfig) string {
	if cfg.Prefix != "" {
		return cfg.Prefix
	}
	return defaultPrefix
}

// textOf extracts command-relevant text from a payload.
func textOf(p domain.Payload) (string, bool) {
	switch t := p.(type) {
	case domain.TextContent:
		return t.Text, true
	case domain.ImageContent:
		if t.Caption != "" {
			return t.Caption, true
		}
	case domain.VideoContent:
		if t.Caption != "" {
			return t.Caption, true
		}
	}
	return "", false
}
