package domain

import "time"

// Event is the uniform internal event type produced by the ingress adapter.
// Concrete types cover the five transport event shapes plus connection
// state changes.
type Event interface {
	EventType() string
}

// MessageEvent carries one new inbound message, plus the quoted message
// from the transport's reply metadata when present.
type MessageEvent struct {
	Message CachedMessage
	Quoted  *CachedMessage
}

func (MessageEvent) EventType() string { return "message" }

// ContentUpdateEvent carries replacement content for an already delivered
// message. Used to backfill ephemeral media that first arrived empty.
type ContentUpdateEvent struct {
	MessageID string
	Payload   Payload
}

func (ContentUpdateEvent) EventType() string { return "content_update" }

// DeleteEvent carries one or more deletion signals.
type DeleteEvent struct {
	Signals []DeletionSignal
}

func (DeleteEvent) EventType() string { return "delete" }

// ReactionEvent carries an emoji reaction to a prior message.
type ReactionEvent struct {
	MessageID      string
	ConversationID string
	SenderID       string
	FromMe         bool
	Emoji          string
	ObservedAt     time.Time
}

func (ReactionEvent) EventType() string { return "reaction" }

// HistorySyncEvent carries a batch of messages replayed by the transport
// after (re)connect.
type HistorySyncEvent struct {
	Messages []CachedMessage
}

func (HistorySyncEvent) EventType() string { return "history_sync" }

// ConnState reports transport connectivity transitions. Reconnection is the
// transport's responsibility; the core only observes.
type ConnState string

const (
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnLoggedOut    ConnState = "logged_out"
)

type ConnStateEvent struct {
	State ConnState
}

func (ConnStateEvent) EventType() string { return "conn_state" }

// EventBus routes normalized events from the transport adapter to the
// ingestion loop.
type EventBus interface {
	Publish(ev Event)
	Subscribe() <-chan Event
	Close()
}
