// Package ingress normalizes transport events into the core's uniform
// event type and runs the single consumption loop that feeds the cache,
// the extraction pipeline, and the command gate.
package ingress

import (
	"log/slog"
	"time"

	"vaultbot/internal/domain"
)

// RawMedia is the transport's media attachment before payload resolution.
type RawMedia struct {
	Kind       string // "image" | "video" | "audio" | "document" | "sticker"
	MimeType   string
	Caption    string
	FileName   string
	Seconds    int
	MediaID    string
	URL        string
	DirectPath string
	Inline     []byte
}

// RawReaction is an emoji reaction rider.
type RawReaction struct {
	TargetID string
	Emoji    string
}

// RawRevoke is a retraction control message embedded in the normal message
// stream.
type RawRevoke struct {
	TargetID string
}

// RawEdit is a content replacement for an already delivered message; the
// replacement text or media rides the enclosing RawMessage.
type RawEdit struct {
	TargetID string
}

// RawMessage is the transport-facing message shape handed to the adapter.
type RawMessage struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	FromMe         bool
	Timestamp      time.Time
	Ephemeral      bool // transport-level ephemeral marker
	ViewOnce       bool
	Text           string
	Media          *RawMedia
	Reaction       *RawReaction
	Revoke         *RawRevoke
	Edit           *RawEdit
	Quoted         *RawMessage // reply metadata
}

// Adapter normalizes raw transport payloads into domain events.
type Adapter struct {
	logger *slog.Logger
}

// NewAdapter creates an Adapter.
func NewAdapter(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{logger: logger}
}

// Normalize converts one raw message into its internal event. Returns nil
// for shapes the core ignores.
func (a *Adapter) Normalize(raw RawMessage) domain.Event {
	switch {
	case raw.Revoke != nil:
		// Control-message deletion path.
		return domain.DeleteEvent{Signals: []domain.DeletionSignal{{
			TargetID:       raw.Revoke.TargetID,
			ConversationID: raw.ConversationID,
			ActorID:        raw.SenderID,
			ObservedAt:     observedAt(raw.Timestamp),
			Origin:         domain.DeleteOriginControl,
		}}}

	case raw.Edit != nil:
		replacement := resolvePayload(raw)
		if replacement == nil {
			a.logger.Debug("content update without replacement dropped", "target", raw.Edit.TargetID)
			return nil
		}
		return domain.ContentUpdateEvent{
			MessageID: raw.Edit.TargetID,
			Payload:   replacement,
		}

	case raw.Reaction != nil:
		return domain.ReactionEvent{
			MessageID:      raw.Reaction.TargetID,
			ConversationID: raw.ConversationID,
			SenderID:       raw.SenderID,
			FromMe:         raw.FromMe,
			Emoji:          raw.Reaction.Emoji,
			ObservedAt:     observedAt(raw.Timestamp),
		}

	default:
		msg := a.toCached(raw)
		if msg.Payload == nil {
			a.logger.Debug("unrecognized message shape dropped", "id", raw.ID)
			return nil
		}
		ev := domain.MessageEvent{Message: msg}
		if raw.Quoted != nil {
			quoted := a.toCached(*raw.Quoted)
			ev.Quoted = &quoted
		}
		return ev
	}
}

// NormalizeDeleteList converts an explicit delete-list event.
func (a *Adapter) NormalizeDeleteList(conversationID, actorID string, ids []string) domain.Event {
	signals := make([]domain.DeletionSignal, 0, len(ids))
	now := time.Now()
	for _, id := range ids {
		signals = append(signals, domain.DeletionSignal{
			TargetID:       id,
			ConversationID: conversationID,
			ActorID:        actorID,
			ObservedAt:     now,
			Origin:         domain.DeleteOriginList,
		})
	}
	return domain.DeleteEvent{Signals: signals}
}

// NormalizeHistory converts a history-sync batch.
func (a *Adapter) NormalizeHistory(raws []RawMessage) domain.Event {
	msgs := make([]domain.CachedMessage, 0, len(raws))
	for _, raw := range raws {
		if raw.Revoke != nil || raw.Reaction != nil || raw.Edit != nil {
			continue
		}
		if m := a.toCached(raw); m.Payload != nil {
			msgs = append(msgs, m)
		}
	}
	return domain.HistorySyncEvent{Messages: msgs}
}

// toCached resolves the payload union once; downstream never re-inspects
// raw transport structures.
func (a *Adapter) toCached(raw RawMessage) domain.CachedMessage {
	msg := domain.CachedMessage{
		PrimaryID:      raw.ID,
		ConversationID: raw.ConversationID,
		SenderID:       raw.SenderID,
		SenderName:     raw.SenderName,
		FromMe:         raw.FromMe,
		ReceivedAt:     observedAt(raw.Timestamp),
		IsEphemeral:    raw.Ephemeral || raw.ViewOnce,
		Payload:        resolvePayload(raw),
	}
	if base, ok := domain.SplitSuffix(raw.ID); ok {
		msg.BaseID = base
	}
	return msg
}

func resolvePayload(raw RawMessage) domain.Payload {
	var p domain.Payload
	switch {
	case raw.Media != nil:
		p = mediaPayload(*raw.Media)
	case raw.Text != "":
		p = domain.TextContent{Text: raw.Text}
	default:
		return nil
	}
	if raw.ViewOnce {
		p = domain.ViewOnceWrapper{Inner: p}
	}
	if raw.Ephemeral {
		p = domain.EphemeralWrapper{Inner: p}
	}
	return p
}

func mediaPayload(m RawMedia) domain.Payload {
	ref := domain.MediaRef{ID: m.MediaID, URL: m.URL, DirectPath: m.DirectPath, Inline: m.Inline}
	switch m.Kind {
	case "image":
		return domain.ImageContent{Caption: m.Caption, MimeType: m.MimeType, Ref: ref}
	case "video":
		return domain.VideoContent{Caption: m.Caption, MimeType: m.MimeType, Ref: ref}
	case "audio":
		return domain.AudioContent{MimeType: m.MimeType, Seconds: m.Seconds, Ref: ref}
	case "document":
		return domain.DocumentContent{FileName: m.FileName, MimeType: m.MimeType, Ref: ref}
	case "sticker":
		return domain.StickerContent{MimeType: m.MimeType, Ref: ref}
	default:
		return nil
	}
}

func observedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
