package recovery

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"vaultbot/internal/cache"
	"vaultbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type sentMessage struct {
	ConversationID string
	Out            domain.Outgoing
}

type fakeTransport struct {
	mu          sync.Mutex
	ownID       string
	sent        []sentMessage
	sendErr     error
	media       map[string][]byte // ref id -> bytes
	downloadErr error
	groupLabel  string
	groupErr    error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		ownID: "owner@s.whatsapp.net",
		media: make(map[string][]byte),
	}
}

func (f *fakeTransport) Send(ctx context.Context, conversationID string, out domain.Outgoing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{conversationID, out})
	return nil
}

func (f *fakeTransport) DownloadMedia(ctx context.Context, ref domain.MediaRef) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	data, ok := f.media[ref.ID]
	if !ok {
		return nil, domain.ErrDownloadFailed
	}
	return data, nil
}

func (f *fakeTransport) GroupMetadata(ctx context.Context, conversationID string) (domain.GroupInfo, error) {
	if f.groupErr != nil {
		return domain.GroupInfo{}, f.groupErr
	}
	return domain.GroupInfo{Label: f.groupLabel}, nil
}

func (f *fakeTransport) MarkRead(ctx context.Context, conversationID, messageID string) error {
	return nil
}

func (f *fakeTransport) OwnID() string { return f.ownID }

func (f *fakeTransport) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type fakeConfigStore struct {
	cfg domain.UserConfig
	err error
}

func (f *fakeConfigStore) GetUserConfig(ctx context.Context, ownerID string) (domain.UserConfig, error) {
	if f.err != nil {
		return domain.UserConfig{}, f.err
	}
	return f.cfg, nil
}

func (f *fakeConfigStore) UpdateUserConfig(ctx context.Context, cfg domain.UserConfig) error {
	f.cfg = cfg
	return nil
}

func newComposer(t *testing.T, store domain.MessageStore, tr *fakeTransport, policy domain.NotificationPolicy) *Composer {
	t.Helper()
	return NewComposer(ComposerConfig{
		Store:     store,
		Transport: tr,
		Configs:   &fakeConfigStore{cfg: domain.UserConfig{OwnerID: tr.ownID, Policy: policy}},
		Logger:    testLogger(),
	})
}

func cachedText(id, conv, sender, text string) domain.CachedMessage {
	return domain.CachedMessage{
		PrimaryID:      id,
		ConversationID: conv,
		SenderID:       sender,
		Payload:        domain.TextContent{Text: text},
		ReceivedAt:     time.Now(),
	}
}

func signalFor(msg domain.CachedMessage) domain.DeletionSignal {
	return domain.DeletionSignal{
		TargetID:       msg.PrimaryID,
		ConversationID: msg.ConversationID,
		ActorID:        msg.SenderID,
		ObservedAt:     time.Now(),
		Origin:         domain.DeleteOriginControl,
	}
}

func TestTextNotificationSent(t *testing.T) {
	store := cache.New(testLogger())
	tr := newFakeTransport()
	c := newComposer(t, store, tr, domain.NotificationPolicy{All: true})

	msg := cachedText("M1", "friend@s.whatsapp.net", "friend@s.whatsapp.net", "secret text")
	store.Put(msg)

	out := c.HandleDeletion(context.Background(), signalFor(msg))
	if !out.Sent {
		t.Fatalf("expected sent, got %+v", out)
	}

	sent := tr.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sent))
	}
	if sent[0].ConversationID != tr.ownID {
		t.Fatalf("notification must go to owner self-conversation, got %s", sent[0].ConversationID)
	}
	if !strings.Contains(sent[0].Out.Text, "secret text") {
		t.Fatalf("original text missing from notification: %q", sent[0].Out.Text)
	}
}

func TestConfigLookupFailureFallsBackToDefaults(t *testing.T) {
	store := cache.New(testLogger())
	tr := newFakeTransport()
	c := NewComposer(ComposerConfig{
		Store:     store,
		Transport: tr,
		Configs:   &fakeConfigStore{err: errors.New("db locked")},
		Logger:    testLogger(),
	})

	// Direct messages notify under the default policy; a config read
	// failure must not flip that to suppress-everything.
	msg := cachedText("M1", "friend@s.whatsapp.net", "friend@s.whatsapp.net", "secret text")
	store.Put(msg)

	out := c.HandleDeletion(context.Background(), signalFor(msg))
	if !out.Sent {
		t.Fatalf("expected sent under default policy, got %+v", out)
	}
	if len(tr.Sent()) != 1 {
		t.Fatalf("expected 1 send, got %d", len(tr.Sent()))
	}
}

func TestUncachedTargetSuppressed(t *testing.T) {
	tr := newFakeTransport()
	c := newComposer(t, cache.New(testLogger()), tr, domain.NotificationPolicy{All: true})

	out := c.HandleDeletion(context.Background(), domain.DeletionSignal{TargetID: "ghost"})
	if out.Sent {
		t.Fatal("absent entry must be suppressed")
	}
	if len(tr.Sent()) != 0 {
		t.Fatal("suppression must have no user-visible effect")
	}
}

func TestDuplicateSignalIsIdempotent(t *testing.T) {
	store := cache.New(testLogger())
	tr := newFakeTransport()
	c := newComposer(t, store, tr, domain.NotificationPolicy{All: true})

	msg := cachedText("M2", "friend@s.whatsapp.net", "friend@s.whatsapp.net", "x")
	store.Put(msg)

	// Same deletion observed via the control-message path and the
	// explicit delete-list path.
	sig := signalFor(msg)
	sig.Origin = domain.DeleteOriginControl
	c.HandleDeletion(context.Background(), sig)
	sig.Origin = domain.DeleteOriginList
	c.HandleDeletion(context.Background(), sig)

	if n := len(tr.Sent()); n != 1 {
		t.Fatalf("expected exactly 1 notification, got %d", n)
	}
}

func TestSelfDeleteSuppressedByDefault(t *testing.T) {
	store := cache.New(testLogger())
	tr := newFakeTransport()
	c := newComposer(t, store, tr, domain.NotificationPolicy{DirectMessages: true, Groups: true})

	msg := cachedText("M3", "friend@s.whatsapp.net", tr.ownID, "mine")
	msg.FromMe = true
	store.Put(msg)

	sig := signalFor(msg)
	sig.ActorID = "owner:3@s.whatsapp.net" // device-suffixed form of the owner

	out := c.HandleDeletion(context.Background(), sig)
	if out.Sent || out.Reason != "self delete" {
		t.Fatalf("expected self-delete suppression, got %+v", out)
	}
	if len(tr.Sent()) != 0 {
		t.Fatal("self-delete must not self-notify")
	}
}

func TestSelfDeleteNotifiedUnderPolicyAll(t *testing.T) {
	store := cache.New(testLogger())
	tr := newFakeTransport()
	c := newComposer(t, store, tr, domain.NotificationPolicy{All: true})

	msg := cachedText("M4", "friend@s.whatsapp.net", tr.ownID, "mine")
	msg.FromMe = true
	store.Put(msg)

	sig := signalFor(msg)
	sig.ActorID = tr.ownID

	if out := c.HandleDeletion(context.Background(), sig); !out.Sent {
		t.Fatalf("policy all must override self-delete suppression, got %+v", out)
	}
}

func TestPolicySuppressesGroupWhenDisabled(t *testing.T) {
	store := cache.New(testLogger())
	tr := newFakeTransport()
	c := newComposer(t, store, tr, domain.NotificationPolicy{DirectMessages: true})

	msg := cachedText("M5", "12345@g.us", "member@s.whatsapp.net", "x")
	store.Put(msg)

	out := c.HandleDeletion(context.Background(), signalFor(msg))
	if out.Sent || out.Reason != "policy" {
		t.Fatalf("expected policy suppression, got %+v", out)
	}
}

func TestEphemeralImageRecoveredFromSnapshot(t *testing.T) {
	// Bytes behind the live payload reference are already gone; only the
	// snapshot captured at ingress is downloadable.
	store := cache.New(testLogger())
	tr := newFakeTransport()
	tr.media["snap-ref"] = []byte{0xFF, 0xD8, 0xFF}
	c := newComposer(t, store, tr, domain.NotificationPolicy{All: true})

	msg := domain.CachedMessage{
		PrimaryID:      "M6",
		ConversationID: "friend@s.whatsapp.net",
		SenderID:       "friend@s.whatsapp.net",
		IsEphemeral:    true,
		Payload: domain.ViewOnceWrapper{
			Inner: domain.ImageContent{MimeType: "image/jpeg", Ref: domain.MediaRef{ID: "purged-ref"}},
		},
		Snapshot: &domain.MediaSnapshot{
			Kind:     domain.KindImage,
			MimeType: "image/jpeg",
			Ref:      domain.MediaRef{ID: "snap-ref"},
		},
		ReceivedAt: time.Now(),
	}
	store.Put(msg)

	out := c.HandleDeletion(context.Background(), signalFor(msg))
	if !out.Sent {
		t.Fatalf("expected sent, got %+v", out)
	}

	sent := tr.Sent()
	if len(sent) != 1 || sent[0].Out.Media == nil {
		t.Fatalf("expected media notification, got %+v", sent)
	}
	if sent[0].Out.Media.Kind != domain.KindImage {
		t.Fatalf("expected image, got %s", sent[0].Out.Media.Kind)
	}
}

func TestDownloadFailureDegradesToText(t *testing.T) {
	store := cache.New(testLogger())
	tr := newFakeTransport()
	tr.downloadErr = errors.New("media gone")
	c := newComposer(t, store, tr, domain.NotificationPolicy{All: true})

	msg := domain.CachedMessage{
		PrimaryID:      "M7",
		ConversationID: "friend@s.whatsapp.net",
		SenderID:       "friend@s.whatsapp.net",
		Payload:        domain.ImageContent{MimeType: "image/jpeg", Ref: domain.MediaRef{ID: "ref"}},
		ReceivedAt:     time.Now(),
	}
	store.Put(msg)

	out := c.HandleDeletion(context.Background(), signalFor(msg))
	if !out.Sent {
		t.Fatalf("degraded notification must still be sent, got %+v", out)
	}

	sent := tr.Sent()
	if sent[0].Out.Media != nil {
		t.Fatal("expected text-only degrade")
	}
	if !strings.Contains(sent[0].Out.Text, "image") {
		t.Fatalf("degraded text must state the media type: %q", sent[0].Out.Text)
	}
}

func TestGroupLabelFallsBackOnLookupFailure(t *testing.T) {
	store := cache.New(testLogger())
	tr := newFakeTransport()
	tr.groupErr = errors.New("metadata unavailable")
	c := newComposer(t, store, tr, domain.NotificationPolicy{All: true})

	msg := cachedText("M8", "12345@g.us", "member@s.whatsapp.net", "x")
	store.Put(msg)

	if out := c.HandleDeletion(context.Background(), signalFor(msg)); !out.Sent {
		t.Fatalf("metadata failure must not block the notification, got %+v", out)
	}
	if !strings.Contains(tr.Sent()[0].Out.Text, "group") {
		t.Fatalf("expected generic group label: %q", tr.Sent()[0].Out.Text)
	}
}

func TestSendFailureNotRetried(t *testing.T) {
	store := cache.New(testLogger())
	tr := newFakeTransport()
	tr.sendErr = errors.New("transport down")
	c := newComposer(t, store, tr, domain.NotificationPolicy{All: true})

	msg := cachedText("M9", "friend@s.whatsapp.net", "friend@s.whatsapp.net", "x")
	store.Put(msg)

	out := c.HandleDeletion(context.Background(), signalFor(msg))
	if out.Sent {
		t.Fatal("send failure must not report sent")
	}
	if len(tr.Sent()) != 0 {
		t.Fatal("no delivery expected")
	}
}

func TestMarkerEviction(t *testing.T) {
	m := NewMarkerSet()
	if !m.MarkIfNew("a") {
		t.Fatal("first claim must succeed")
	}
	if m.MarkIfNew("a") {
		t.Fatal("second claim must fail")
	}

	time.Sleep(10 * time.Millisecond)
	if removed := m.Evict(0); removed != 1 {
		t.Fatalf("expected 1 marker evicted, got %d", removed)
	}
	if !m.MarkIfNew("a") {
		t.Fatal("claim must succeed again after eviction")
	}
}
