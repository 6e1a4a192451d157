// Package scheduler runs the periodic inactivity sweep: when a conversation
// has gone quiet for long enough, the bot breaks the silence with a
// generated message.
package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/markybot/marky/pkg/activity"
	"github.com/markybot/marky/pkg/bus"
	"github.com/markybot/marky/pkg/logger"
	"github.com/markybot/marky/pkg/markov"
)

type Scheduler struct {
	store       *markov.Store
	tracker     *activity.Tracker
	generator   *markov.Generator
	bus         *bus.MessageBus
	interval    time.Duration
	activeHours string
	maxTokens   int
	gron        gronx.Gronx
}

// New builds a scheduler. activeHours is an optional cron expression; ticks
// whose minute falls outside it are skipped entirely, keeping the bot quiet
// during off hours. An empty expression means always active.
func New(store *markov.Store, tracker *activity.Tracker, generator *markov.Generator, mb *bus.MessageBus, interval time.Duration, activeHours string, maxTokens int) *Scheduler {
	return &Scheduler{
		store:       store,
		tracker:     tracker,
		generator:   generator,
		bus:         mb,
		interval:    interval,
		activeHours: strings.TrimSpace(activeHours),
		maxTokens:   maxTokens,
		gron:        *gronx.New(),
	}
}

// ValidateActiveHours rejects malformed cron expressions up front, before
// the gateway starts.
func (s *Scheduler) ValidateActiveHours() bool {
	if s.activeHours == "" {
		return true
	}
	return s.gron.IsValid(s.activeHours)
}

// Run ticks until ctx is done. Each tick iterates a snapshot of known
// conversations; no store-wide lock is held across the sweep.
func (s *Scheduler) Run(ctx context.Context) {
	logger.InfoCF("scheduler", "Inactivity scheduler started", map[string]any{
		"interval":     s.interval.String(),
		"active_hours": s.activeHours,
	})

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoC("scheduler", "Inactivity scheduler stopped")
			return
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// Tick evaluates every known conversation once and returns how many
// autonomous utterances were produced. Zero eligible conversations is a
// normal no-op. Each conversation is evaluated and delivered independently,
// so a slow one cannot hold up the rest.
func (s *Scheduler) Tick(now time.Time) int {
	if !s.withinActiveHours(now) {
		return 0
	}

	ids := s.store.KnownConversations()
	if len(ids) == 0 {
		return 0
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		spoke int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if s.evaluate(id, now) {
				mu.Lock()
				spoke++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	return spoke
}

func (s *Scheduler) withinActiveHours(now time.Time) bool {
	if s.activeHours == "" {
		return true
	}
	due, err := s.gron.IsDue(s.activeHours, now)
	if err != nil {
		logger.WarnCF("scheduler", "Bad active_hours expression, treating as always active", map[string]any{
			"expr":  s.activeHours,
			"error": err.Error(),
		})
		return true
	}
	return due
}

func (s *Scheduler) evaluate(id string, now time.Time) bool {
	threshold := s.store.SettingsOf(id).InactivityThreshold
	if !s.tracker.ShouldSpeakFromInactivity(id, threshold, now) {
		return false
	}

	// Seed from a random word the model already knows, so silence breakers
	// vary instead of always opening from the start distribution.
	var seed []string
	if word, ok := s.store.RandomWord(id, s.generator.Rand()); ok {
		seed = []string{word}
	}

	tokens, err := s.generator.Generate(id, s.maxTokens, seed...)
	if err != nil || len(tokens) == 0 {
		// Empty model or empty walk: nothing to say, not an error.
		return false
	}

	channel, chatID, ok := splitConversationID(id)
	if !ok {
		logger.WarnCF("scheduler", "Conversation ID has no channel prefix, skipping", map[string]any{
			"conversation": id,
		})
		return false
	}

	logger.InfoCF("scheduler", "Breaking silence after inactivity", map[string]any{
		"conversation": id,
		"tokens":       len(tokens),
	})
	s.bus.PublishOutbound(bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: strings.Join(tokens, " "),
	})
	s.tracker.RecordUtterance(id, now)
	return true
}

func splitConversationID(id string) (channel, chatID string, ok bool) {
	idx := strings.Index(id, ":")
	if idx <= 0 || idx == len(id)-1 {
		return "", "", false
	}
	return id[:idx], id[idx+1:], true
}
