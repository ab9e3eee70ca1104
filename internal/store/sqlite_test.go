package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"vaultbot/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetUserConfigSeedsDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg, err := s.GetUserConfig(ctx, "owner@s.whatsapp.net")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cfg.OwnerID != "owner@s.whatsapp.net" {
		t.Fatalf("ownerId = %q", cfg.OwnerID)
	}
	if cfg.Prefix != "." {
		t.Fatalf("prefix = %q", cfg.Prefix)
	}
	if !cfg.Policy.DirectMessages {
		t.Fatal("default policy must notify for direct messages")
	}

	// The seed must be persisted, not recomputed.
	again, err := s.GetUserConfig(ctx, "owner@s.whatsapp.net")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if again.Prefix != cfg.Prefix {
		t.Fatal("seeded config not persisted")
	}
}

func TestSetSeedControlsFirstRunSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.SetSeed(func(ownerID string) domain.UserConfig {
		uc := domain.DefaultUserConfig(ownerID)
		uc.Prefix = "!"
		uc.AutoReply = true
		uc.AutoReplyText = "away"
		return uc
	})

	cfg, err := s.GetUserConfig(ctx, "owner@s.whatsapp.net")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cfg.Prefix != "!" {
		t.Fatalf("prefix = %q", cfg.Prefix)
	}
	if !cfg.AutoReply || cfg.AutoReplyText != "away" {
		t.Fatalf("autoreply = %v %q", cfg.AutoReply, cfg.AutoReplyText)
	}

	// Seed only applies to the first read; stored rows win afterwards.
	s.SetSeed(func(ownerID string) domain.UserConfig {
		uc := domain.DefaultUserConfig(ownerID)
		uc.Prefix = "#"
		return uc
	})
	again, err := s.GetUserConfig(ctx, "owner@s.whatsapp.net")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if again.Prefix != "!" {
		t.Fatalf("stored prefix = %q", again.Prefix)
	}
}

func TestUpdateUserConfigRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg := domain.DefaultUserConfig("owner@s.whatsapp.net")
	cfg.Prefix = "!"
	cfg.Banned = []string{"spammer@s.whatsapp.net"}
	cfg.Shortcuts["🔁"] = "recover"
	cfg.Policy.Groups = false

	if err := s.UpdateUserConfig(ctx, cfg); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetUserConfig(ctx, "owner@s.whatsapp.net")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Prefix != "!" {
		t.Fatalf("prefix = %q", got.Prefix)
	}
	if len(got.Banned) != 1 || got.Banned[0] != "spammer@s.whatsapp.net" {
		t.Fatalf("banned = %v", got.Banned)
	}
	if got.Shortcuts["🔁"] != "recover" {
		t.Fatalf("shortcuts = %v", got.Shortcuts)
	}
	if got.Policy.Groups {
		t.Fatal("policy change lost")
	}
}

func TestUpdateUserConfigOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg := domain.DefaultUserConfig("o@s.whatsapp.net")
	if err := s.UpdateUserConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	cfg.AutoReply = true
	cfg.AutoReplyText = "I am away"
	if err := s.UpdateUserConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetUserConfig(ctx, "o@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if !got.AutoReply || got.AutoReplyText != "I am away" {
		t.Fatalf("got %+v", got)
	}
}

func TestRecoveryLogAppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		rec := domain.RecoveryRecord{
			ID:             string(rune('a' + i)),
			TargetID:       "M1",
			ConversationID: "friend@s.whatsapp.net",
			SenderID:       "friend@s.whatsapp.net",
			Outcome:        "sent",
			MediaKind:      "image",
			At:             base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.AppendRecovery(ctx, rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	recs, err := s.RecentRecoveries(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d", len(recs))
	}
	// Newest first.
	if recs[0].ID != "c" || recs[1].ID != "b" {
		t.Fatalf("order = %s, %s", recs[0].ID, recs[1].ID)
	}
	if recs[0].Outcome != "sent" || recs[0].MediaKind != "image" {
		t.Fatalf("record = %+v", recs[0])
	}
}

func TestRecentRecoveriesDefaultLimit(t *testing.T) {
	s := newTestStore(t)
	recs, err := s.RecentRecoveries(context.Background(), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected empty log, got %d", len(recs))
	}
}

func TestPruneRecoveries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := domain.RecoveryRecord{ID: "old", TargetID: "M1", Outcome: "sent", At: time.Now().Add(-48 * time.Hour)}
	fresh := domain.RecoveryRecord{ID: "fresh", TargetID: "M2", Outcome: "suppressed", At: time.Now()}
	if err := s.AppendRecovery(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendRecovery(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	n, err := s.PruneRecoveries(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned = %d", n)
	}

	recs, err := s.RecentRecoveries(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ID != "fresh" {
		t.Fatalf("recs = %+v", recs)
	}
}

func TestConfigsAreIsolatedPerOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := domain.DefaultUserConfig("a@s.whatsapp.net")
	a.Prefix = "!"
	if err := s.UpdateUserConfig(ctx, a); err != nil {
		t.Fatal(err)
	}

	b, err := s.GetUserConfig(ctx, "b@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if b.Prefix != "." {
		t.Fatalf("b prefix = %q", b.Prefix)
	}
}
