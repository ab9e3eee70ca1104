// Package ephemeral extracts self-destructing media before the transport
// purges it. Extraction runs synchronously during ingress handling; the
// transport may drop the underlying bytes at any moment after delivery, so
// deferring the snapshot would lose the race.
package ephemeral

import (
	"fmt"
	"log/slog"

	"github.com/gabriel-vasile/mimetype"

	"vaultbot/internal/domain"
	"vaultbot/internal/metrics"
)

// maxUnwrapDepth bounds envelope nesting. Real traffic nests at most
// ephemeral → view-once → media; anything deeper is malformed.
const maxUnwrapDepth = 8

// Unwrap peels nested envelope layers (ephemeral-wrapper → view-once-
// wrapper) down to the innermost payload. The second result reports whether
// any wrapper was removed.
func Unwrap(p domain.Payload) (domain.Payload, bool) {
	unwrapped := false
	for depth := 0; depth < maxUnwrapDepth; depth++ {
		switch w := p.(type) {
		case domain.EphemeralWrapper:
			p = w.Inner
			unwrapped = true
		case domain.ViewOnceWrapper:
			p = w.Inner
			unwrapped = true
		default:
			return p, unwrapped
		}
		if p == nil {
			return nil, unwrapped
		}
	}
	return p, unwrapped
}

// Snapshot derives a media snapshot from the innermost payload of p.
// Only image and video are snapshotted; everything else fails non-fatally
// and downstream recovery re-derives from the raw payload.
func Snapshot(p domain.Payload) (domain.MediaSnapshot, error) {
	inner, _ := Unwrap(p)
	if inner == nil {
		return domain.MediaSnapshot{}, fmt.Errorf("empty envelope: %w", domain.ErrExtractionFailed)
	}

	switch m := inner.(type) {
	case domain.ImageContent:
		return domain.MediaSnapshot{Kind: domain.KindImage, MimeType: sniff(m.MimeType, m.Ref), Ref: m.Ref}, nil
	case domain.VideoContent:
		return domain.MediaSnapshot{Kind: domain.KindVideo, MimeType: sniff(m.MimeType, m.Ref), Ref: m.Ref}, nil
	default:
		return domain.MediaSnapshot{}, fmt.Errorf("unsupported media type %q: %w", inner.Kind(), domain.ErrExtractionFailed)
	}
}

// sniff fills in a missing declared mime type from inline bytes.
func sniff(declared string, ref domain.MediaRef) string {
	if declared != "" || len(ref.Inline) == 0 {
		return declared
	}
	return mimetype.Detect(ref.Inline).String()
}

// Extractor runs the pipeline against the retention store.
type Extractor struct {
	store  domain.MessageStore
	logger *slog.Logger
}

// NewExtractor creates an Extractor over the given store.
func NewExtractor(store domain.MessageStore, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{store: store, logger: logger}
}

// OnIngress populates msg.Snapshot for ephemeral-flagged messages. Called
// before the message is put in the cache, so the snapshot is in place
// before the function returns. Extraction failure leaves the snapshot
// empty; that is non-fatal.
func (e *Extractor) OnIngress(msg *domain.CachedMessage) {
	if !msg.IsEphemeral || msg.Payload == nil {
		return
	}
	snap, err := Snapshot(msg.Payload)
	if err != nil {
		e.logger.Debug("ephemeral extraction failed", "id", msg.PrimaryID, "err", err)
		return
	}
	msg.Snapshot = &snap
	metrics.Extractions.Inc()
	e.logger.Debug("ephemeral media snapshotted", "id", msg.PrimaryID, "kind", snap.Kind)
}

// OnContentUpdate merges replacement content into the cache and re-runs
// extraction only if no snapshot was captured yet; a successful extraction
// is never overwritten.
func (e *Extractor) OnContentUpdate(id string, p domain.Payload) {
	if !e.store.Update(id, p) {
		return
	}
	cached, ok := e.store.Get(id)
	if !ok || cached.Snapshot != nil || !cached.IsEphemeral {
		return
	}
	snap, err := Snapshot(p)
	if err != nil {
		e.logger.Debug("ephemeral re-extraction failed", "id", id, "err", err)
		return
	}
	if e.store.SetSnapshot(id, snap) {
		metrics.Extractions.Inc()
		e.logger.Debug("ephemeral media backfilled", "id", id, "kind", snap.Kind)
	}
}
