// Package recovery turns deletion signals into recovery notifications.
// Per signal the state machine is
// Received → Resolved → PolicyCheck → {Suppressed | Composing → Sent}.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"vaultbot/internal/domain"
	"vaultbot/internal/ephemeral"
	"vaultbot/internal/metrics"
)

// Outcome is the terminal state of a deletion signal.
type Outcome struct {
	Sent   bool
	Reason string // why it was suppressed, or "" when sent
}

var (
	outcomeSent = Outcome{Sent: true}

	suppressNotCached  = Outcome{Reason: "not in cache"}
	suppressDuplicate  = Outcome{Reason: "already notified"}
	suppressPolicy     = Outcome{Reason: "policy"}
	suppressSelfDelete = Outcome{Reason: "self delete"}
	suppressSendFailed = Outcome{Reason: "send failed"}
)

// Mirror receives a copy of every sent notification. Failures are the
// mirror's own problem; the composer ignores them.
type Mirror interface {
	Mirror(ctx context.Context, text string, media *domain.OutgoingMedia)
}

// ComposerConfig holds the composer's collaborators.
type ComposerConfig struct {
	Store       domain.MessageStore
	Transport   domain.Transport
	Configs     domain.ConfigStore
	Notified    *MarkerSet
	Audit       domain.RecoveryLog // optional
	Mirror      Mirror             // optional
	SendTimeout time.Duration
	Logger      *slog.Logger
}

// Composer matches deletion signals against the cache and sends recovery
// notifications to the owner's self-conversation.
type Composer struct {
	store       domain.MessageStore
	transport   domain.Transport
	configs     domain.ConfigStore
	notified    *MarkerSet
	audit       domain.RecoveryLog
	mirror      Mirror
	sendTimeout time.Duration
	logger      *slog.Logger
}

// NewComposer creates a Composer.
func NewComposer(cfg ComposerConfig) *Composer {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Notified == nil {
		cfg.Notified = NewMarkerSet()
	}
	return &Composer{
		store:       cfg.Store,
		transport:   cfg.Transport,
		configs:     cfg.Configs,
		notified:    cfg.Notified,
		audit:       cfg.Audit,
		mirror:      cfg.Mirror,
		sendTimeout: cfg.SendTimeout,
		logger:      cfg.Logger,
	}
}

// HandleDeletion drives one signal through the state machine. Duplicate
// signals for the same target are idempotent no-ops; the cached entry is
// never removed by the signal itself.
func (c *Composer) HandleDeletion(ctx context.Context, sig domain.DeletionSignal) Outcome {
	// Resolved: absent entries predate uptime or were already evicted.
	// Unrecoverable, so no user-visible effect.
	msg, ok := c.store.Get(sig.TargetID)
	if !ok {
		c.logger.Debug("deletion target not cached", "target", sig.TargetID)
		return c.finish(ctx, sig, domain.CachedMessage{}, suppressNotCached)
	}

	if !c.notified.MarkIfNew(msg.PrimaryID) {
		c.logger.Debug("deletion already handled", "target", sig.TargetID)
		return Outcome{Reason: suppressDuplicate.Reason}
	}

	owner := c.transport.OwnID()
	cfg, err := c.configs.GetUserConfig(ctx, owner)
	if err != nil {
		c.logger.Warn("user config lookup failed, using defaults", "err", err)
		cfg = domain.DefaultUserConfig(owner)
	}

	// Self-deletes should not self-notify unless the owner asked for
	// everything.
	if msg.FromMe && domain.SameUser(sig.ActorID, owner) && !cfg.Policy.All {
		return c.finish(ctx, sig, msg, suppressSelfDelete)
	}
	if !cfg.Policy.ShouldNotify(domain.ClassOf(sig.ConversationID)) {
		return c.finish(ctx, sig, msg, suppressPolicy)
	}

	// Composing runs on a local copy; no cache lock is held across the
	// blocking download and send below.
	out := c.compose(ctx, sig, msg)

	sendCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()
	if err := c.transport.Send(sendCtx, owner, out); err != nil {
		// At-most-once: a duplicate notification is worse than a missed
		// one, so delivery errors are logged, not retried.
		metrics.SendFailures.Inc()
		c.logger.Error("recovery notification send failed", "target", sig.TargetID, "err", err)
		return c.finish(ctx, sig, msg, suppressSendFailed)
	}

	if c.mirror != nil {
		c.mirror.Mirror(ctx, out.Text, out.Media)
	}
	metrics.NotificationsSent.Inc()
	c.logger.Info("recovery notification sent",
		"target", sig.TargetID,
		"conversation", sig.ConversationID,
		"sender", msg.SenderID,
	)
	return c.finish(ctx, sig, msg, outcomeSent)
}

// compose builds the notification: header, conversation label, and either
// inline text, downloaded media, or a degraded text fallback.
func (c *Composer) compose(ctx context.Context, sig domain.DeletionSignal, msg domain.CachedMessage) domain.Outgoing {
	header := fmt.Sprintf("♻️ Deleted message recovered\nFrom: %s\nChat: %s\nSent: %s",
		senderLabel(msg),
		c.conversationLabel(ctx, sig.ConversationID),
		msg.ReceivedAt.Format("2006-01-02 15:04:05"),
	)

	inner, _ := ephemeral.Unwrap(msg.Payload)
	if t, ok := inner.(domain.TextContent); ok {
		return domain.Outgoing{Text: header + "\n\n" + t.Text}
	}

	kind, media := c.fetchMedia(ctx, msg)
	if media == nil {
		if kind == "" {
			return domain.Outgoing{Text: header + "\n\n(content unavailable)"}
		}
		// DownloadFailure degrades to text; the notification is never
		// dropped entirely.
		return domain.Outgoing{Text: fmt.Sprintf("%s\n\n(%s attached, but it could not be retrieved)", header, kind)}
	}
	media.Caption = header
	return domain.Outgoing{Media: media}
}

// fetchMedia downloads the original media, preferring the ephemeral
// snapshot captured at ingress over the raw payload reference.
func (c *Composer) fetchMedia(ctx context.Context, msg domain.CachedMessage) (domain.PayloadKind, *domain.OutgoingMedia) {
	type candidate struct {
		kind domain.PayloadKind
		mime string
		ref  domain.MediaRef
	}
	var candidates []candidate

	if msg.Snapshot != nil {
		candidates = append(candidates, candidate{msg.Snapshot.Kind, msg.Snapshot.MimeType, msg.Snapshot.Ref})
	}
	if k, mime, ref, ok := mediaRefOf(msg.Payload); ok {
		candidates = append(candidates, candidate{k, mime, ref})
	}
	if len(candidates) == 0 {
		return "", nil
	}

	for _, cand := range candidates {
		if cand.ref.Empty() {
			continue
		}
		dlCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
		data, err := c.transport.DownloadMedia(dlCtx, cand.ref)
		cancel()
		if err != nil {
			c.logger.Warn("media download failed", "id", msg.PrimaryID, "kind", cand.kind, "err", err)
			continue
		}
		return cand.kind, &domain.OutgoingMedia{Kind: cand.kind, MimeType: cand.mime, Data: data}
	}
	return candidates[0].kind, nil
}

// conversationLabel resolves a human label for the conversation, tolerant
// of metadata lookup failure.
func (c *Composer) conversationLabel(ctx context.Context, conversationID string) string {
	switch domain.ClassOf(conversationID) {
	case domain.ClassStatus:
		return "status"
	case domain.ClassGroup:
		mdCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
		defer cancel()
		info, err := c.transport.GroupMetadata(mdCtx, conversationID)
		if err != nil || info.Label == "" {
			c.logger.Debug("group metadata lookup failed", "conversation", conversationID, "err", err)
			return "group"
		}
		return info.Label
	default:
		return "direct message"
	}
}

// finish records the outcome in the audit log and returns it.
func (c *Composer) finish(ctx context.Context, sig domain.DeletionSignal, msg domain.CachedMessage, out Outcome) Outcome {
	if !out.Sent {
		metrics.NotificationsSuppressed.Inc()
	}
	if c.audit == nil {
		return out
	}
	rec := domain.RecoveryRecord{
		ID:             ulid.Make().String(),
		TargetID:       sig.TargetID,
		ConversationID: sig.ConversationID,
		SenderID:       msg.SenderID,
		Outcome:        "suppressed",
		Reason:         out.Reason,
		At:             time.Now(),
	}
	if out.Sent {
		rec.Outcome = "sent"
	}
	if msg.Snapshot != nil {
		rec.MediaKind = string(msg.Snapshot.Kind)
	}
	if err := c.audit.AppendRecovery(ctx, rec); err != nil {
		c.logger.Warn("recovery audit write failed", "err", err)
	}
	return out
}

func senderLabel(msg domain.CachedMessage) string {
	if msg.SenderName != "" {
		return msg.SenderName
	}
	return msg.SenderID
}

// mediaRefOf pulls the downloadable reference out of a payload, unwrapping
// envelopes first.
func mediaRefOf(p domain.Payload) (domain.PayloadKind, string, domain.MediaRef, bool) {
	inner, _ := ephemeral.Unwrap(p)
	switch m := inner.(type) {
	case domain.ImageContent:
		return domain.KindImage, m.MimeType, m.Ref, true
	case domain.VideoContent:
		return domain.KindVideo, m.MimeType, m.Ref, true
	case domain.AudioContent:
		return domain.KindAudio, m.MimeType, m.Ref, true
	case domain.DocumentContent:
		return domain.KindDocument, m.MimeType, m.Ref, true
	case domain.StickerContent:
		return domain.KindSticker, m.MimeType, m.Ref, true
	default:
		return "", "", domain.MediaRef{}, false
	}
}
