package bot

import (
	"context"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/markybot/marky/pkg/activity"
	"github.com/markybot/marky/pkg/bus"
	"github.com/markybot/marky/pkg/config"
	"github.com/markybot/marky/pkg/markov"
)

func newTestBot(order int, wordChance float64) (*Bot, *bus.MessageBus, *markov.Store) {
	cfg := config.DefaultConfig()
	cfg.Markov.DefaultOrder = order
	cfg.Markov.WordFromUserChance = wordChance

	store := markov.NewStore(markov.Settings{
		Order:               order,
		RandomReplyChance:   cfg.Markov.RandomReplyChance,
		InactivityThreshold: time.Duration(cfg.Markov.InactivityThreshold) * time.Second,
		WordFromUserChance:  wordChance,
	})
	generator := markov.NewGenerator(store, rand.NewSource(1))
	tracker := activity.NewTracker(store, rand.New(rand.NewSource(2)))
	mb := bus.NewMessageBus()
	return New(cfg, store, tracker, generator, mb), mb, store
}

func receiveOutbound(t *testing.T, mb *bus.MessageBus) (bus.OutboundMessage, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	return mb.SubscribeOutbound(ctx)
}

func inbound(content string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:   "discord",
		SenderID:  "7",
		ChatID:    "42",
		Content:   content,
		Timestamp: time.Now(),
	}
}

func TestMentionReplySeedsFromUserWord(t *testing.T) {
	b, mb, store := newTestBot(1, 1.0)
	store.Ingest("discord:42", []string{"the", "cat", "sat"})

	msg := inbound("tell me about cat")
	msg.MentionsBot = true
	b.HandleInbound(context.Background(), msg)

	out, ok := receiveOutbound(t, mb)
	if !ok {
		t.Fatal("expected a reply to a mention")
	}
	if !strings.Contains(" "+out.Content+" ", " cat ") {
		t.Fatalf("expected reply seeded with user word, got %q", out.Content)
	}
	if out.Channel != "discord" || out.ChatID != "42" {
		t.Fatalf("reply misrouted: %s:%s", out.Channel, out.ChatID)
	}
}

func TestEmptyModelFallbackOnExplicitRequest(t *testing.T) {
	b, mb, _ := newTestBot(2, 0.6)

	msg := inbound("say something")
	msg.IsDM = true
	b.HandleInbound(context.Background(), msg)

	out, ok := receiveOutbound(t, mb)
	if !ok {
		t.Fatal("expected a fallback reply in DM")
	}
	if out.Content != fallbackReply {
		t.Fatalf("expected fallback text, got %q", out.Content)
	}
}

func TestNoRandomReplyWhenChanceZero(t *testing.T) {
	b, mb, store := newTestBot(1, 0.6)
	id := "discord:42"
	store.Ingest(id, []string{"some", "training", "data"})
	if err := store.ApplySetting(id, markov.SettingRandomReplyChance, "0"); err != nil {
		t.Fatalf("ApplySetting failed: %v", err)
	}

	b.HandleInbound(context.Background(), inbound("just chatting here"))

	if out, ok := receiveOutbound(t, mb); ok {
		t.Fatalf("expected silence, got %q", out.Content)
	}
}

func TestIngestSkipsSingleWordMessages(t *testing.T) {
	b, _, store := newTestBot(1, 0.6)

	b.HandleInbound(context.Background(), inbound("hi"))

	if !store.Empty("discord:42") {
		t.Fatal("expected single-word message not to train the model")
	}
}

func TestMessagesTrainTheModel(t *testing.T) {
	b, _, store := newTestBot(2, 0.6)

	b.HandleInbound(context.Background(), inbound("The quick brown fox jumps"))

	keys, pairs := store.Stats("discord:42")
	if keys == 0 || pairs == 0 {
		t.Fatalf("expected model to be trained, got %d keys %d pairs", keys, pairs)
	}
}

func TestOrderChangeResetsModel(t *testing.T) {
	b, mb, store := newTestBot(2, 0.6)
	id := "discord:42"
	store.Ingest(id, []string{"one", "two", "three", "four"})

	set := inbound("!marky set order 3")
	set.IsAdmin = true
	b.HandleInbound(context.Background(), set)
	if out, ok := receiveOutbound(t, mb); !ok || !strings.Contains(out.Content, "reset") {
		t.Fatalf("expected reset notice, got %q", out.Content)
	}

	if !store.Empty(id) {
		t.Fatal("expected model to be empty after order change")
	}
	if store.SettingsOf(id).Order != 3 {
		t.Fatalf("expected order 3, got %d", store.SettingsOf(id).Order)
	}

	// Addressed generation against the reset model falls back.
	msg := inbound("say something now")
	msg.MentionsBot = true
	b.HandleInbound(context.Background(), msg)
	out, ok := receiveOutbound(t, mb)
	if !ok || out.Content != fallbackReply {
		t.Fatalf("expected fallback after reset, got %q", out.Content)
	}
}

func TestBareCommandForcesReply(t *testing.T) {
	b, mb, store := newTestBot(1, 0.6)
	store.Ingest("discord:42", []string{"the", "cat", "sat"})

	b.HandleInbound(context.Background(), inbound("!marky"))

	out, ok := receiveOutbound(t, mb)
	if !ok {
		t.Fatal("expected a generated reply to the bare command")
	}
	if out.Content == fallbackReply || out.Content == "" {
		t.Fatalf("expected generated text, got %q", out.Content)
	}
}

func TestSetRequiresAdmin(t *testing.T) {
	b, mb, store := newTestBot(2, 0.6)

	b.HandleInbound(context.Background(), inbound("!marky set order 5"))

	out, ok := receiveOutbound(t, mb)
	if !ok {
		t.Fatal("expected a refusal reply")
	}
	if !strings.Contains(out.Content, "admin") {
		t.Fatalf("expected admin refusal, got %q", out.Content)
	}
	if store.SettingsOf("discord:42").Order != 2 {
		t.Fatal("expected order unchanged for non-admin")
	}
}

func TestInvalidSettingReported(t *testing.T) {
	b, mb, _ := newTestBot(2, 0.6)

	set := inbound("!marky set order banana")
	set.IsAdmin = true
	b.HandleInbound(context.Background(), set)

	out, ok := receiveOutbound(t, mb)
	if !ok {
		t.Fatal("expected an error reply")
	}
	if !strings.Contains(out.Content, "order") {
		t.Fatalf("expected the key named in the error, got %q", out.Content)
	}
}

func TestSettingsAndStatsCommands(t *testing.T) {
	b, mb, store := newTestBot(2, 0.6)
	store.Ingest("discord:42", []string{"a", "b", "c"})

	b.HandleInbound(context.Background(), inbound("!marky settings"))
	out, ok := receiveOutbound(t, mb)
	if !ok || !strings.Contains(out.Content, markov.SettingOrder) {
		t.Fatalf("expected settings listing, got %q", out.Content)
	}

	b.HandleInbound(context.Background(), inbound("!marky stats"))
	out, ok = receiveOutbound(t, mb)
	if !ok || !strings.Contains(out.Content, "transitions") {
		t.Fatalf("expected stats, got %q", out.Content)
	}
}

func TestCommandsAreNotIngested(t *testing.T) {
	b, mb, store := newTestBot(1, 0.6)

	b.HandleInbound(context.Background(), inbound("!marky settings"))
	receiveOutbound(t, mb)

	if !store.Empty("discord:42") {
		t.Fatal("expected command text to stay out of the model")
	}
}

func TestRunStopsWhenBusCloses(t *testing.T) {
	b, mb, _ := newTestBot(1, 0.6)

	done := make(chan struct{})
	go func() {
		b.Run(context.Background())
		close(done)
	}()

	mb.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected the loop to exit when the bus closes")
	}
}

func TestFeedTrainsLineByLine(t *testing.T) {
	b, _, store := newTestBot(1, 0.6)
	id := "discord:42"

	input := "the cat sat\nshort\nthe dog ran fast\n"
	lines, transitions, err := b.Feed(id, strings.NewReader(input), 0)
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if lines != 2 {
		t.Fatalf("expected 2 usable lines, got %d", lines)
	}
	if transitions == 0 {
		t.Fatal("expected transitions recorded")
	}
	if !store.HasWord(id, "dog") {
		t.Fatal("expected fed word in model")
	}
}

func TestFeedEnforcesSizeLimit(t *testing.T) {
	b, _, _ := newTestBot(1, 0.6)

	big := strings.Repeat("some words here\n", 100)
	if _, _, err := b.Feed("discord:42", strings.NewReader(big), 64); err == nil {
		t.Fatal("expected size limit error")
	}
}
