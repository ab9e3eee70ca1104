package command

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"vaultbot/internal/domain"
	"vaultbot/internal/ephemeral"
)

// version is set by the build system. Default fallback.
var version = "0.1.0"

// SetVersion sets the version string reported by status.
func SetVersion(v string) {
	version = v
}

// RegisterBuiltins installs the standard command set.
func RegisterBuiltins(reg *Registry) {
	reg.Register("recover", "recover — reply to a view-once/ephemeral message to re-extract it", handleRecover)
	reg.Register("notify", "notify <all|dm|groups|status> <on|off> — tune deletion notifications", handleNotify)
	reg.Register("prefix", "prefix <p> — change the command prefix", handlePrefix)
	reg.Register("shortcut", "shortcut add <emoji> <command> | del <emoji> | list", handleShortcut)
	reg.Register("ban", "ban <id> — reject a sender before any side effect", handleBan)
	reg.Register("unban", "unban <id>", handleUnban)
	reg.Register("allow", "allow <id> — permit a non-owner sender to run commands", handleAllow)
	reg.Register("disallow", "disallow <id>", handleDisallow)
	reg.Register("autoreply", "autoreply <on|off> [text] — passive reply to your own questions", handleAutoReply)
	reg.Register("status", "status — uptime, cache size, recent recoveries", handleStatus)
	reg.Register("help", "help — show this message", handleHelp(reg))
	reg.Register("ping", "ping — liveness check", handlePing)
}

// handleRecover re-runs the ephemeral unwrap against the quoted message
// directly, bypassing the cache: the quote comes from the transport's own
// reply metadata, so it must work for messages the cache never saw.
func handleRecover(ctx context.Context, cc domain.CommandContext, env Env) (string, error) {
	if cc.Quoted == nil {
		return "Reply to the message you want recovered.", nil
	}
	q := cc.Quoted

	if inner, _ := ephemeral.Unwrap(q.Payload); inner != nil {
		if t, ok := inner.(domain.TextContent); ok {
			return fmt.Sprintf("Recovered text from %s:\n\n%s", senderLabel(q), t.Text), nil
		}
	}

	snap := q.Snapshot
	if snap == nil {
		s, err := ephemeral.Snapshot(q.Payload)
		if err != nil {
			return "", fmt.Errorf("nothing extractable in the quoted message: %w", err)
		}
		snap = &s
	}

	data, err := env.Transport.DownloadMedia(ctx, snap.Ref)
	if err != nil {
		return "", fmt.Errorf("%s no longer retrievable: %w", snap.Kind, domain.ErrDownloadFailed)
	}

	out := domain.Outgoing{Media: &domain.OutgoingMedia{
		Kind:     snap.Kind,
		MimeType: snap.MimeType,
		Data:     data,
		Caption:  fmt.Sprintf("♻️ Recovered %s from %s", snap.Kind, senderLabel(q)),
	}}
	if err := env.Transport.Send(ctx, cc.ConversationID, out); err != nil {
		return "", fmt.Errorf("send recovered media: %w", err)
	}
	return "", nil
}

func handleNotify(ctx context.Context, cc domain.CommandContext, env Env) (string, error) {
	if len(cc.Args) != 2 {
		return "Usage: notify <all|dm|groups|status> <on|off>", nil
	}
	on := strings.EqualFold(cc.Args[1], "on")
	if !on && !strings.EqualFold(cc.Args[1], "off") {
		return "Usage: notify <all|dm|groups|status> <on|off>", nil
	}

	return mutateConfig(ctx, env, func(cfg *domain.UserConfig) (string, error) {
		switch strings.ToLower(cc.Args[0]) {
		case "all":
			cfg.Policy.All = on
		case "dm":
			cfg.Policy.DirectMessages = on
		case "groups":
			cfg.Policy.Groups = on
		case "status":
			cfg.Policy.Statuses = on
		default:
			return "Unknown scope. Use all, dm, groups, or status.", nil
		}
		return fmt.Sprintf("Notifications for %s: %s", strings.ToLower(cc.Args[0]), onOff(on)), nil
	})
}

func handlePrefix(ctx context.Context, cc domain.CommandContext, env Env) (string, error) {
	if len(cc.Args) != 1 || len(cc.Args[0]) > 3 {
		return "Usage: prefix <one to three characters>", nil
	}
	return mutateConfig(ctx, env, func(cfg *domain.UserConfig) (string, error) {
		cfg.Prefix = cc.Args[0]
		return "Prefix set to " + cfg.Prefix, nil
	})
}

func handleShortcut(ctx context.Context, cc domain.CommandContext, env Env) (string, error) {
	if len(cc.Args) == 0 {
		return "Usage: shortcut add <emoji> <command> | del <emoji> | list", nil
	}
	return mutateConfig(ctx, env, func(cfg *domain.UserConfig) (string, error) {
		switch strings.ToLower(cc.Args[0]) {
		case "add":
			if len(cc.Args) != 3 {
				return "Usage: shortcut add <emoji> <command>", nil
			}
			if cfg.Shortcuts == nil {
				cfg.Shortcuts = make(map[string]string)
			}
			cfg.Shortcuts[cc.Args[1]] = strings.ToLower(cc.Args[2])
			return fmt.Sprintf("Shortcut %s → %s", cc.Args[1], cc.Args[2]), nil
		case "del":
			if len(cc.Args) != 2 {
				return "Usage: shortcut del <emoji>", nil
			}
			delete(cfg.Shortcuts, cc.Args[1])
			return "Shortcut removed.", nil
		case "list":
			if len(cfg.Shortcuts) == 0 {
				return "No shortcuts configured.", nil
			}
			var sb strings.Builder
			sb.WriteString("Shortcuts:\n")
			for k, v := range cfg.Shortcuts {
				fmt.Fprintf(&sb, "  %s → %s\n", k, v)
			}
			return sb.String(), nil
		default:
			return "Usage: shortcut add <emoji> <command> | del <emoji> | list", nil
		}
	})
}

func handleBan(ctx context.Context, cc domain.CommandContext, env Env) (string, error) {
	return editList(ctx, cc, env, "Usage: ban <id>", func(cfg *domain.UserConfig, id string) string {
		cfg.Banned = appendUnique(cfg.Banned, id)
		return "Banned " + id
	})
}

func handleUnban(ctx context.Context, cc domain.CommandContext, env Env) (string, error) {
	return editList(ctx, cc, env, "Usage: unban <id>", func(cfg *domain.UserConfig, id string) string {
		cfg.Banned = removeUser(cfg.Banned, id)
		return "Unbanned " + id
	})
}

func handleAllow(ctx context.Context, cc domain.CommandContext, env Env) (string, error) {
	return editList(ctx, cc, env, "Usage: allow <id>", func(cfg *domain.UserConfig, id string) string {
		cfg.Allowed = appendUnique(cfg.Allowed, id)
		return "Allowed " + id
	})
}

func handleDisallow(ctx context.Context, cc domain.CommandContext, env Env) (string, error) {
	return editList(ctx, cc, env, "Usage: disallow <id>", func(cfg *domain.UserConfig, id string) string {
		cfg.Allowed = removeUser(cfg.Allowed, id)
		return "Disallowed " + id
	})
}

func handleAutoReply(ctx context.Context, cc domain.CommandContext, env Env) (string, error) {
	if len(cc.Args) == 0 {
		return "Usage: autoreply <on|off> [text]", nil
	}
	on := strings.EqualFold(cc.Args[0], "on")
	if !on && !strings.EqualFold(cc.Args[0], "off") {
		return "Usage: autoreply <on|off> [text]", nil
	}
	return mutateConfig(ctx, env, func(cfg *domain.UserConfig) (string, error) {
		cfg.AutoReply = on
		if len(cc.Args) > 1 {
			cfg.AutoReplyText = strings.Join(cc.Args[1:], " ")
		}
		return "Auto-reply " + onOff(on), nil
	})
}

func handleStatus(ctx context.Context, cc domain.CommandContext, env Env) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "VaultBot v%s (%s/%s, Go %s)\n", version, runtime.GOOS, runtime.GOARCH, runtime.Version())
	fmt.Fprintf(&sb, "Uptime: %s\n", time.Since(env.StartedAt).Round(time.Second))
	fmt.Fprintf(&sb, "Cached messages: %d\n", env.Store.Len())

	if env.Audit != nil {
		recs, err := env.Audit.RecentRecoveries(ctx, 5)
		if err == nil && len(recs) > 0 {
			fmt.Fprintf(&sb, "Recent recoveries:\n")
			for _, r := range recs {
				fmt.Fprintf(&sb, "  %s %s (%s)\n", r.At.Format("15:04:05"), r.TargetID, r.Outcome)
			}
		}
	}
	return sb.String(), nil
}

func handleHelp(reg *Registry) HandlerFunc {
	return func(ctx context.Context, cc domain.CommandContext, env Env) (string, error) {
		var sb strings.Builder
		sb.WriteString("VaultBot commands:\n")
		for _, name := range reg.Names() {
			fmt.Fprintf(&sb, "  %s\n", reg.Help(name))
		}
		return sb.String(), nil
	}
}

func handlePing(ctx context.Context, cc domain.CommandContext, env Env) (string, error) {
	return "pong", nil
}

// mutateConfig loads the owner's config, applies fn, and persists the
// result through the external store.
func mutateConfig(ctx context.Context, env Env, fn func(*domain.UserConfig) (string, error)) (string, error) {
	owner := env.Transport.OwnID()
	cfg, err := env.Configs.GetUserConfig(ctx, owner)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	cfg.OwnerID = owner

	reply, err := fn(&cfg)
	if err != nil {
		return "", err
	}
	if err := env.Configs.UpdateUserConfig(ctx, cfg); err != nil {
		return "", fmt.Errorf("save config: %w", err)
	}
	return reply, nil
}

func editList(ctx context.Context, cc domain.CommandContext, env Env, usage string, edit func(*domain.UserConfig, string) string) (string, error) {
	if len(cc.Args) != 1 {
		return usage, nil
	}
	return mutateConfig(ctx, env, func(cfg *domain.UserConfig) (string, error) {
		return edit(cfg, cc.Args[0]), nil
	})
}

func appendUnique(list []string, id string) []string {
	for _, v := range list {
		if domain.SameUser(v, id) {
			return list
		}
	}
	return append(list, id)
}

func removeUser(list []string, id string) []string {
	out := list[:0]
	for _, v := range list {
		if !domain.SameUser(v, id) {
			out = append(out, v)
		}
	}
	return out
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func senderLabel(msg *domain.CachedMessage) string {
	if msg.SenderName != "" {
		return msg.SenderName
	}
	return msg.SenderID
}
