// Package activity tracks per-conversation traffic and decides when the bot
// should speak on its own: randomly in response to a human message, or after
// a stretch of silence.
package activity

import (
	"math/rand"
	"time"

	"github.com/markybot/marky/pkg/markov"
)

// State is a derived view of a conversation's recent traffic.
type State int

const (
	Idle State = iota
	Active
	RecentlySpoke
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case RecentlySpoke:
		return "recently_spoke"
	default:
		return "idle"
	}
}

// Tracker reads and updates activity timestamps through the chain store,
// which owns all conversation state. Randomness is injected so trigger
// decisions are reproducible under test.
type Tracker struct {
	store *markov.Store
	rng   *rand.Rand
}

func NewTracker(store *markov.Store, rng *rand.Rand) *Tracker {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Tracker{store: store, rng: rng}
}

// RecordActivity notes a human message at t.
func (t *Tracker) RecordActivity(id string, ts time.Time) {
	t.store.TouchMessage(id, ts)
}

// RecordUtterance notes one of the bot's own messages at t. This restarts
// the cooldown that keeps the inactivity trigger from firing off the bot's
// own speech.
func (t *Tracker) RecordUtterance(id string, ts time.Time) {
	t.store.TouchUtterance(id, ts)
}

// ShouldSpeakRandomly returns true with probability chance, gated on the
// conversation having trained data. Evaluated once per qualifying human
// message, never polled.
func (t *Tracker) ShouldSpeakRandomly(id string, chance float64) bool {
	if chance <= 0 || t.store.Empty(id) {
		return false
	}
	return t.rng.Float64() < chance
}

// ShouldSpeakFromInactivity returns true iff the conversation has been
// silent for at least threshold, the bot itself has not spoken within
// threshold, and the model is non-empty. The second condition stops the bot
// from restarting the inactivity timer with its own messages.
func (t *Tracker) ShouldSpeakFromInactivity(id string, threshold time.Duration, now time.Time) bool {
	if threshold <= 0 {
		return false
	}
	lastMsg, ok := t.store.LastMessage(id)
	if !ok {
		return false
	}
	if now.Sub(lastMsg) < threshold {
		return false
	}
	if lastUtt, spoke := t.store.LastUtterance(id); spoke && now.Sub(lastUtt) < threshold {
		return false
	}
	return !t.store.Empty(id)
}

// StateOf derives the conversation's state at now: RecentlySpoke while the
// bot's own last message is within window, Active while a human message is,
// Idle otherwise.
func (t *Tracker) StateOf(id string, now time.Time, window time.Duration) State {
	if lastUtt, ok := t.store.LastUtterance(id); ok && now.Sub(lastUtt) < window {
		return RecentlySpoke
	}
	if lastMsg, ok := t.store.LastMessage(id); ok && now.Sub(lastMsg) < window {
		return Active
	}
	return Idle
}
