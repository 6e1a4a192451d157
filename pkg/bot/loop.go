// Package bot is the conversation loop: it consumes normalized inbound
// messages, trains the chain store, and decides when and how to reply.
package bot

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/markybot/marky/pkg/activity"
	"github.com/markybot/marky/pkg/bus"
	"github.com/markybot/marky/pkg/config"
	"github.com/markybot/marky/pkg/logger"
	"github.com/markybot/marky/pkg/markov"
)

// fallbackReply is sent when someone addresses the bot before it has
// learned anything in that conversation.
const fallbackReply = "i have nothing to say yet. keep talking and i will pick it up."

// minIngestTokens filters out one-word messages; they carry no usable
// transition even at order 1.
const minIngestTokens = 2

// minSeedWordLen filters short filler words from seed candidates.
const minSeedWordLen = 3

type Bot struct {
	cfg       *config.Config
	store     *markov.Store
	tracker   *activity.Tracker
	generator *markov.Generator
	bus       *bus.MessageBus
	client    *http.Client
	cmdPrefix string
}

func New(cfg *config.Config, store *markov.Store, tracker *activity.Tracker, generator *markov.Generator, messageBus *bus.MessageBus) *Bot {
	prefix := "!marky"
	if len(cfg.Bot.TriggerWords) > 0 {
		if w := strings.ToLower(strings.TrimSpace(cfg.Bot.TriggerWords[0])); w != "" {
			prefix = "!" + w
		}
	}
	return &Bot{
		cfg:       cfg,
		store:     store,
		tracker:   tracker,
		generator: generator,
		bus:       messageBus,
		client:    &http.Client{Timeout: 30 * time.Second},
		cmdPrefix: prefix,
	}
}

// Run consumes inbound messages until ctx is done or the bus is closed.
// Both surface as a failed consume, and neither is recoverable.
func (b *Bot) Run(ctx context.Context) {
	logger.InfoC("bot", "Bot loop started")
	for {
		msg, ok := b.bus.ConsumeInbound(ctx)
		if !ok {
			logger.InfoC("bot", "Bot loop stopped")
			return
		}
		b.HandleInbound(ctx, msg)
	}
}

// HandleInbound processes one message end to end: command dispatch, chain
// training, attachment feeding, and the reply decision.
func (b *Bot) HandleInbound(ctx context.Context, msg bus.InboundMessage) {
	turnID := uuid.NewString()
	id := msg.ConversationID()

	content := strings.TrimSpace(msg.Content)
	if b.isCommand(content) {
		b.handleCommand(msg, content)
		return
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	tokens := markov.Tokenize(content)
	if len(tokens) >= minIngestTokens {
		added := b.store.Ingest(id, tokens)
		logger.DebugCF("bot", "Ingested message", map[string]any{
			"turn":         turnID,
			"conversation": id,
			"tokens":       len(tokens),
			"transitions":  added,
		})
	}
	b.tracker.RecordActivity(id, ts)

	for _, att := range msg.Attachments {
		if !isTextAttachment(att) {
			continue
		}
		go b.feedAttachment(ctx, id, att)
	}

	explicit := msg.IsDM || msg.MentionsBot || msg.ReplyToBot
	if !explicit {
		chance := b.store.SettingsOf(id).RandomReplyChance
		if !b.tracker.ShouldSpeakRandomly(id, chance) {
			return
		}
	}

	b.reply(msg, tokens, explicit, turnID)
}

// reply generates and publishes a response. Addressed messages always get
// one, falling back to a stock line on an empty model; random replies stay
// silent when there is nothing to say.
//
// Seeding from the user's own words is unconditional for random and DM
// replies; for mentions and reply threads it passes a probability gate so
// the bot does not parrot every prompt.
func (b *Bot) reply(msg bus.InboundMessage, tokens []string, explicit bool, turnID string) {
	id := msg.ConversationID()
	settings := b.store.SettingsOf(id)

	useSeed := true
	if msg.MentionsBot || msg.ReplyToBot {
		useSeed = b.generator.Rand().Float64() < settings.WordFromUserChance
	}

	var seed []string
	if useSeed {
		if word, ok := b.pickSeedWord(id, tokens); ok {
			seed = []string{word}
		}
	}

	out, err := b.generator.Generate(id, b.cfg.Markov.MaxGeneratedTokens, seed...)
	if err != nil || len(out) == 0 {
		if err != nil && !errors.Is(err, markov.ErrEmptyModel) {
			logger.ErrorCF("bot", "Generation failed", map[string]any{
				"turn":         turnID,
				"conversation": id,
				"error":        err.Error(),
			})
			return
		}
		if explicit {
			b.publish(msg, fallbackReply)
		}
		return
	}

	logger.InfoCF("bot", "Replying", map[string]any{
		"turn":         turnID,
		"conversation": id,
		"tokens":       len(out),
		"seeded":       len(seed) > 0,
		"explicit":     explicit,
	})
	b.publish(msg, strings.Join(out, " "))
}

// pickSeedWord shuffles the user's usable words and returns the first one
// the conversation's model already knows.
func (b *Bot) pickSeedWord(id string, tokens []string) (string, bool) {
	candidates := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if len([]rune(tok)) >= minSeedWordLen {
			candidates = append(candidates, tok)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}

	rng := b.generator.Rand()
	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	for _, w := range candidates {
		if b.store.HasWord(id, w) {
			return w, true
		}
	}
	return "", false
}

func (b *Bot) publish(msg bus.InboundMessage, content string) {
	b.bus.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
	})
	b.tracker.RecordUtterance(msg.ConversationID(), time.Now())
}
