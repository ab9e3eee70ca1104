package domain

import (
	"context"
	"time"
)

// Outgoing is content handed to the transport's send primitive.
type Outgoing struct {
	Text  string
	Media *OutgoingMedia
}

// OutgoingMedia is raw bytes to attach to an outbound message.
type OutgoingMedia struct {
	Kind     PayloadKind
	MimeType string
	Data     []byte
	Caption  string
}

// GroupInfo is the transport's metadata for a group conversation.
type GroupInfo struct {
	Label     string
	MemberIDs []string
}

// Transport is the capability boundary around the underlying message
// client. The core never touches the wire protocol; it consumes this
// interface and the event feed the adapter publishes on the bus.
type Transport interface {
	// Send delivers content to a conversation. At-most-once; callers do
	// not retry.
	Send(ctx context.Context, conversationID string, out Outgoing) error
	// DownloadMedia fetches the bytes behind a media reference.
	DownloadMedia(ctx context.Context, ref MediaRef) ([]byte, error)
	// GroupMetadata resolves a group conversation's label and members.
	GroupMetadata(ctx context.Context, conversationID string) (GroupInfo, error)
	// MarkRead acknowledges a message as read.
	MarkRead(ctx context.Context, conversationID, messageID string) error
	// OwnID returns the authenticated session's own identifier.
	OwnID() string
}

// MessageStore is the retention cache contract. Production is a
// mutex-guarded map; tests substitute deterministic fakes.
type MessageStore interface {
	Put(msg CachedMessage)
	Get(id string) (CachedMessage, bool)
	Update(id string, p Payload) bool
	// SetSnapshot attaches an extracted media snapshot without overwriting
	// one already present.
	SetSnapshot(id string, snap MediaSnapshot) bool
	Evict(maxAge time.Duration) int
	Len() int
}
