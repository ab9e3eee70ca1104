package domain

import (
	"strings"
	"time"
)

// PayloadKind discriminates the message payload union.
type PayloadKind string

const (
	KindText      PayloadKind = "text"
	KindImage     PayloadKind = "image"
	KindVideo     PayloadKind = "video"
	KindAudio     PayloadKind = "audio"
	KindDocument  PayloadKind = "document"
	KindSticker   PayloadKind = "sticker"
	KindProtocol  PayloadKind = "protocol"
	KindEphemeral PayloadKind = "ephemeral"
	KindViewOnce  PayloadKind = "viewonce"
)

// Payload is the message content union. It is resolved once at ingestion;
// downstream code switches on Kind() instead of re-inspecting raw transport
// structures.
type Payload interface {
	Kind() PayloadKind
}

// MediaRef is an opaque handle the transport can download bytes for.
// Inline carries bytes that arrived with the event itself; the transport
// may purge the remote copy at any time after delivery.
type MediaRef struct {
	ID         string
	URL        string
	DirectPath string
	Inline     []byte
}

// Empty reports whether the reference points at nothing downloadable.
func (r MediaRef) Empty() bool {
	return r.ID == "" && r.URL == "" && r.DirectPath == "" && len(r.Inline) == 0
}

type TextContent struct {
	Text string
}

func (TextContent) Kind() PayloadKind { return KindText }

type ImageContent struct {
	Caption  string
	MimeType string
	Ref      MediaRef
}

func (ImageContent) Kind() PayloadKind { return KindImage }

type VideoContent struct {
	Caption  string
	MimeType string
	Ref      MediaRef
}

func (VideoContent) Kind() PayloadKind { return KindVideo }

type AudioContent struct {
	MimeType string
	Seconds  int
	Ref      MediaRef
}

func (AudioContent) Kind() PayloadKind { return KindAudio }

type DocumentContent struct {
	FileName string
	MimeType string
	Ref      MediaRef
}

func (DocumentContent) Kind() PayloadKind { return KindDocument }

type StickerContent struct {
	MimeType string
	Ref      MediaRef
}

func (StickerContent) Kind() PayloadKind { return KindSticker }

// ProtocolContent is a control message riding the normal message stream
// (revocations, ephemeral-timer changes). Deletions embedded this way are
// normalized into DeletionSignal by the ingress adapter.
type ProtocolContent struct {
	Op       string // "revoke" | "ephemeral_setting" | ...
	TargetID string
}

func (ProtocolContent) Kind() PayloadKind { return KindProtocol }

// EphemeralWrapper envelopes content that the transport will purge on a
// timer. Wrappers can nest (ephemeral → view-once → media).
type EphemeralWrapper struct {
	Inner Payload
}

func (EphemeralWrapper) Kind() PayloadKind { return KindEphemeral }

// ViewOnceWrapper envelopes content the transport deletes after first view.
type ViewOnceWrapper struct {
	Inner Payload
}

func (ViewOnceWrapper) Kind() PayloadKind { return KindViewOnce }

// MediaSnapshot is media extracted from an ephemeral message before the
// transport purged it.
type MediaSnapshot struct {
	Kind     PayloadKind
	MimeType string
	Ref      MediaRef
}

// CachedMessage is the retention store's snapshot of one inbound message.
type CachedMessage struct {
	PrimaryID      string
	BaseID         string // PrimaryID stripped of the transport-added suffix; "" if none
	ConversationID string
	SenderID       string
	SenderName     string
	FromMe         bool
	Payload        Payload
	ReceivedAt     time.Time
	IsEphemeral    bool
	Snapshot       *MediaSnapshot
}

// minBaseLen guards against splitting short natural ids that merely contain
// a dash.
const minBaseLen = 4

// SplitSuffix separates a transport-suffixed id into its base and suffix.
// Some transports append "-<n>" for secondary representations of the same
// logical message; both forms must resolve to one cache entry.
func SplitSuffix(id string) (base string, ok bool) {
	i := strings.LastIndex(id, "-")
	if i < minBaseLen || i == len(id)-1 {
		return "", false
	}
	return id[:i], true
}

// DeleteOrigin records which of the two deletion shapes produced a signal.
type DeleteOrigin string

const (
	DeleteOriginControl DeleteOrigin = "control"  // protocol message in the normal stream
	DeleteOriginList    DeleteOrigin = "explicit" // explicit delete-list event
)

// DeletionSignal is an observed retraction, normalized from either shape.
type DeletionSignal struct {
	TargetID       string
	ConversationID string
	ActorID        string // who deleted, when knowable; "" otherwise
	ObservedAt     time.Time
	Origin         DeleteOrigin
}
