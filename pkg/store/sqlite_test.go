package store

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/markybot/marky/pkg/markov"
)

func testDefaults() markov.Settings {
	return markov.Settings{
		Order:               2,
		RandomReplyChance:   0.01,
		InactivityThreshold: 6 * time.Hour,
		WordFromUserChance:  0.6,
	}
}

func TestFlushAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marky.db")

	gw, err := NewGateway(path)
	if err != nil {
		t.Fatalf("NewGateway failed: %v", err)
	}

	ms := markov.NewStore(testDefaults())
	ms.Ingest("discord:100", []string{"the", "cat", "sat", "down"})
	ms.Ingest("discord:100", []string{"the", "cat", "ran", "away"})
	ms.Ingest("discord:200", []string{"hello", "there", "friend"})
	ms.TouchMessage("discord:100", time.UnixMilli(1700000000000))
	ms.TouchUtterance("discord:100", time.UnixMilli(1700000100000))
	if err := ms.ApplySetting("discord:200", markov.SettingRandomReplyChance, "0.25"); err != nil {
		t.Fatalf("ApplySetting failed: %v", err)
	}

	ctx := context.Background()
	for _, id := range ms.DirtyIDs() {
		snap, ok := ms.SnapshotOf(id)
		if !ok {
			t.Fatalf("no snapshot for %s", id)
		}
		if err := gw.FlushConversation(ctx, snap); err != nil {
			t.Fatalf("FlushConversation(%s) failed: %v", id, err)
		}
		ms.MarkClean(id, snap.Gen)
	}
	if got := ms.DirtyIDs(); len(got) != 0 {
		t.Fatalf("expected no dirty conversations after flush, got %v", got)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	gw2, err := NewGateway(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer gw2.Close()

	restored := markov.NewStore(testDefaults())
	loaded, err := gw2.LoadAll(ctx, restored)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if loaded != 2 {
		t.Fatalf("expected 2 conversations loaded, got %d", loaded)
	}

	origKeys, origPairs := ms.Stats("discord:100")
	gotKeys, gotPairs := restored.Stats("discord:100")
	if gotKeys != origKeys || gotPairs != origPairs {
		t.Fatalf("stats mismatch after reload: got %d/%d, want %d/%d", gotKeys, gotPairs, origKeys, origPairs)
	}

	lastMsg, ok := restored.LastMessage("discord:100")
	if !ok || !lastMsg.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("last message not restored: %v %v", lastMsg, ok)
	}
	lastUtt, ok := restored.LastUtterance("discord:100")
	if !ok || !lastUtt.Equal(time.UnixMilli(1700000100000)) {
		t.Fatalf("last utterance not restored: %v %v", lastUtt, ok)
	}

	settings := restored.SettingsOf("discord:200")
	if settings.RandomReplyChance != 0.25 {
		t.Fatalf("expected random_reply_chance 0.25, got %v", settings.RandomReplyChance)
	}

	// Restored chains generate just like the originals.
	gen := markov.NewGenerator(restored, rand.NewSource(7))
	tokens, err := gen.Generate("discord:100", 20)
	if err != nil {
		t.Fatalf("Generate on restored model failed: %v", err)
	}
	if len(tokens) == 0 {
		t.Fatalf("expected restored model to produce tokens")
	}
}

func TestFlushIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marky.db")
	gw, err := NewGateway(path)
	if err != nil {
		t.Fatalf("NewGateway failed: %v", err)
	}
	defer gw.Close()

	ms := markov.NewStore(testDefaults())
	ms.Ingest("cli:local", []string{"one", "two", "three"})
	snap, _ := ms.SnapshotOf("cli:local")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := gw.FlushConversation(ctx, snap); err != nil {
			t.Fatalf("flush %d failed: %v", i, err)
		}
	}

	restored := markov.NewStore(testDefaults())
	loaded, err := gw.LoadAll(ctx, restored)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if loaded != 1 {
		t.Fatalf("expected 1 conversation, got %d", loaded)
	}
	wantKeys, wantPairs := ms.Stats("cli:local")
	gotKeys, gotPairs := restored.Stats("cli:local")
	if gotKeys != wantKeys || gotPairs != wantPairs {
		t.Fatalf("repeated flushes changed stored counts: got %d/%d, want %d/%d", gotKeys, gotPairs, wantKeys, wantPairs)
	}
}

func TestFlushNowPicksUpLaterMutations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marky.db")
	gw, err := NewGateway(path)
	if err != nil {
		t.Fatalf("NewGateway failed: %v", err)
	}
	defer gw.Close()

	ms := markov.NewStore(testDefaults())
	f := NewFlusher(gw, ms, time.Minute)
	ctx := context.Background()

	ms.Ingest("discord:9", []string{"first", "message", "here"})
	if got := f.FlushNow(ctx); got != 1 {
		t.Fatalf("expected 1 flushed, got %d", got)
	}

	// A message landing after the checkpoint dirties the conversation again;
	// the next pass must persist it.
	ms.Ingest("discord:9", []string{"second", "message", "lands"})
	if got := f.FlushNow(ctx); got != 1 {
		t.Fatalf("expected the later ingest flushed, got %d", got)
	}
	if got := f.FlushNow(ctx); got != 0 {
		t.Fatalf("expected nothing left to flush, got %d", got)
	}

	restored := markov.NewStore(testDefaults())
	if _, err := gw.LoadAll(ctx, restored); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	wantKeys, wantPairs := ms.Stats("discord:9")
	gotKeys, gotPairs := restored.Stats("discord:9")
	if gotKeys != wantKeys || gotPairs != wantPairs {
		t.Fatalf("reload lost data: got %d/%d, want %d/%d", gotKeys, gotPairs, wantKeys, wantPairs)
	}
}

func TestDeleteConversation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marky.db")
	gw, err := NewGateway(path)
	if err != nil {
		t.Fatalf("NewGateway failed: %v", err)
	}
	defer gw.Close()

	ms := markov.NewStore(testDefaults())
	ms.Ingest("discord:1", []string{"a", "b", "c"})
	snap, _ := ms.SnapshotOf("discord:1")
	ctx := context.Background()
	if err := gw.FlushConversation(ctx, snap); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if err := gw.DeleteConversation(ctx, "discord:1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	restored := markov.NewStore(testDefaults())
	loaded, err := gw.LoadAll(ctx, restored)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if loaded != 0 {
		t.Fatalf("expected 0 conversations after delete, got %d", loaded)
	}
}
