package cache

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"vaultbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func textMsg(id, conv, sender, text string) domain.CachedMessage {
	return domain.CachedMessage{
		PrimaryID:      id,
		ConversationID: conv,
		SenderID:       sender,
		Payload:        domain.TextContent{Text: text},
		ReceivedAt:     time.Now(),
	}
}

func TestPutGetExact(t *testing.T) {
	s := New(testLogger())
	s.Put(textMsg("M1", "c1", "s1", "hello"))

	got, ok := s.Get("M1")
	if !ok {
		t.Fatal("expected hit for M1")
	}
	if got.Payload.(domain.TextContent).Text != "hello" {
		t.Fatalf("unexpected payload: %+v", got.Payload)
	}
}

func TestSuffixedIDRetrievableByBothForms(t *testing.T) {
	s := New(testLogger())
	s.Put(textMsg("A1B2C3-1", "c1", "s1", "hi"))

	if _, ok := s.Get("A1B2C3-1"); !ok {
		t.Fatal("suffixed form missed")
	}
	if _, ok := s.Get("A1B2C3"); !ok {
		t.Fatal("base form missed")
	}
}

func TestMirrorStaysContentIdentical(t *testing.T) {
	s := New(testLogger())
	s.Put(textMsg("A1B2C3-1", "c1", "s1", "before"))

	if !s.Update("A1B2C3-1", domain.TextContent{Text: "after"}) {
		t.Fatal("update missed")
	}

	for _, id := range []string{"A1B2C3-1", "A1B2C3"} {
		got, ok := s.Get(id)
		if !ok {
			t.Fatalf("%s missed after update", id)
		}
		if got.Payload.(domain.TextContent).Text != "after" {
			t.Fatalf("%s: mirror diverged: %+v", id, got.Payload)
		}
	}
}

func TestGetPrefixFallbackScan(t *testing.T) {
	// Transport id-format drift: stored under a suffixed form whose base
	// split is masked by extra dashes, requested by a shorter form.
	s := New(testLogger())
	s.Put(domain.CachedMessage{
		PrimaryID:  "3EB0-77AF-12",
		BaseID:     "3EB0-77AF",
		Payload:    domain.TextContent{Text: "x"},
		ReceivedAt: time.Now(),
	})

	if _, ok := s.Get("3EB0"); !ok {
		t.Fatal("prefix fallback scan should resolve 3EB0")
	}
	if _, ok := s.Get("3EB9"); ok {
		t.Fatal("unrelated id must not resolve")
	}
}

func TestPutIsIdempotent(t *testing.T) {
	s := New(testLogger())
	m := textMsg("M1", "c1", "s1", "hello")
	s.Put(m)
	s.Put(m)

	if n := s.Len(); n != 1 {
		t.Fatalf("expected 1 entry, got %d", n)
	}
}

func TestUpdateMissIsNoop(t *testing.T) {
	s := New(testLogger())
	if s.Update("ghost", domain.TextContent{Text: "x"}) {
		t.Fatal("update of absent entry must report a miss")
	}
}

func TestSetSnapshotDoesNotOverwrite(t *testing.T) {
	s := New(testLogger())
	s.Put(textMsg("M1", "c1", "s1", ""))

	first := domain.MediaSnapshot{Kind: domain.KindImage, Ref: domain.MediaRef{ID: "media-1"}}
	if !s.SetSnapshot("M1", first) {
		t.Fatal("first snapshot should stick")
	}
	if s.SetSnapshot("M1", domain.MediaSnapshot{Kind: domain.KindVideo}) {
		t.Fatal("second snapshot must not overwrite")
	}

	got, _ := s.Get("M1")
	if got.Snapshot == nil || got.Snapshot.Ref.ID != "media-1" {
		t.Fatalf("snapshot lost: %+v", got.Snapshot)
	}
}

func TestEvictRemovesOldEntries(t *testing.T) {
	s := New(testLogger())

	old := textMsg("old-msg-1", "c1", "s1", "stale")
	old.ReceivedAt = time.Now().Add(-time.Hour)
	s.Put(old)
	s.Put(textMsg("fresh1", "c1", "s1", "new"))

	removed := s.Evict(30 * time.Minute)
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, ok := s.Get("old-msg-1"); ok {
		t.Fatal("old entry survived eviction")
	}
	if _, ok := s.Get("fresh1"); !ok {
		t.Fatal("fresh entry evicted")
	}
}

func TestEvictScenarioSuffixedID(t *testing.T) {
	// Ingest id=A1B2-3; evict with retention=0; both forms must be gone.
	s := New(testLogger())
	s.Put(textMsg("A1B2-3", "g1", "S1", "hello"))

	s.Evict(0)

	if _, ok := s.Get("A1B2"); ok {
		t.Fatal(`Get("A1B2") should be not found after eviction`)
	}
	if _, ok := s.Get("A1B2-3"); ok {
		t.Fatal(`Get("A1B2-3") should be not found after eviction`)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := New(testLogger())
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := string(rune('a'+n)) + "-msg"
				s.Put(textMsg(id, "c1", "s1", "x"))
				s.Get(id)
				s.Update(id, domain.TextContent{Text: "y"})
				s.Evict(time.Hour)
			}
		}(i)
	}
	wg.Wait()

	if s.Len() == 0 {
		t.Fatal("expected surviving entries")
	}
}
