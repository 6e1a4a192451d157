package markov

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

// conversation bundles everything the engine knows about one chat: its
// chain, settings, and activity timestamps. The store exclusively owns
// these; other packages only reach them through Store methods, so the
// per-conversation mutex fully serializes same-conversation operations
// while different conversations never contend.
type conversation struct {
	id            string
	mu            sync.Mutex
	chain         *Chain
	settings      Settings
	lastMessage   time.Time
	lastUtterance time.Time
	dirty         bool
	gen           uint64
}

// markDirty must be called with c.mu held. The generation counter lets the
// flusher clear the flag only when no mutation landed after its snapshot.
func (c *conversation) markDirty() {
	c.dirty = true
	c.gen++
}

// Snapshot is the persistence gateway's view of a conversation. It carries
// deep-copied data shapes only, no live references. Gen identifies the
// mutation generation the snapshot was taken at; pass it back to MarkClean
// after a successful flush.
type Snapshot struct {
	ID            string
	Settings      Settings
	LastMessage   time.Time
	LastUtterance time.Time
	Transitions   map[string]map[string]int
	Gen           uint64
}

// Store maps conversation IDs to their state. It is the single process-wide
// mutable root; everything else queries through it.
type Store struct {
	mu       sync.RWMutex
	convs    map[string]*conversation
	defaults Settings
}

func NewStore(defaults Settings) *Store {
	if defaults.Order < 1 {
		defaults.Order = 1
	}
	return &Store{
		convs:    make(map[string]*conversation),
		defaults: defaults,
	}
}

func (s *Store) Defaults() Settings { return s.defaults }

// getOrCreate returns the conversation, creating it lazily with the
// process defaults. Never fails.
func (s *Store) getOrCreate(id string) *conversation {
	s.mu.RLock()
	conv, ok := s.convs[id]
	s.mu.RUnlock()
	if ok {
		return conv
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok = s.convs[id]; ok {
		return conv
	}
	conv = &conversation{
		id:       id,
		chain:    NewChain(s.defaults.Order),
		settings: s.defaults,
	}
	s.convs[id] = conv
	return conv
}

func (s *Store) lookup(id string) (*conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[id]
	return conv, ok
}

// GetOrCreate materializes a conversation without mutating its model.
func (s *Store) GetOrCreate(id string) {
	s.getOrCreate(id)
}

// Ingest records a tokenized message into the conversation's chain and
// returns the number of transitions added. Marks the conversation dirty
// when anything changed.
func (s *Store) Ingest(id string, tokens []string) int {
	conv := s.getOrCreate(id)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	n := conv.chain.Observe(tokens)
	if n > 0 {
		conv.markDirty()
	}
	return n
}

// RebuildWithOrder discards the conversation's transition table and starts
// an empty chain with the new order. Destructive: raw history is not
// retained, so nothing can be replayed.
func (s *Store) RebuildWithOrder(id string, order int) error {
	if order < 1 {
		return ErrInvalidSetting
	}
	conv := s.getOrCreate(id)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	conv.chain = NewChain(order)
	conv.settings.Order = order
	conv.markDirty()
	return nil
}

// SettingsOf returns the conversation's effective settings, falling back to
// the process defaults for unknown conversations.
func (s *Store) SettingsOf(id string) Settings {
	conv, ok := s.lookup(id)
	if !ok {
		return s.defaults
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return conv.settings
}

// ApplySetting validates and applies one key/value pair. A change to the
// order key rebuilds the conversation's chain under the new order.
func (s *Store) ApplySetting(id, key, value string) error {
	conv := s.getOrCreate(id)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	next, err := conv.settings.WithValue(key, value)
	if err != nil {
		return err
	}
	if key == SettingOrder && next.Order != conv.chain.Order() {
		conv.chain = NewChain(next.Order)
	}
	conv.settings = next
	conv.markDirty()
	return nil
}

// Empty reports whether the conversation has no trained transitions.
// Unknown conversations are empty.
func (s *Store) Empty(id string) bool {
	conv, ok := s.lookup(id)
	if !ok {
		return true
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return conv.chain.Empty()
}

// Stats returns the distinct key and edge counts for a conversation.
func (s *Store) Stats(id string) (keys, pairs int) {
	conv, ok := s.lookup(id)
	if !ok {
		return 0, 0
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return conv.chain.Keys(), conv.chain.Pairs()
}

func (s *Store) TouchMessage(id string, t time.Time) {
	conv := s.getOrCreate(id)
	conv.mu.Lock()
	defer conv.mu.Unlock()
	if t.After(conv.lastMessage) {
		conv.lastMessage = t
		conv.markDirty()
	}
}

func (s *Store) TouchUtterance(id string, t time.Time) {
	conv := s.getOrCreate(id)
	conv.mu.Lock()
	defer conv.mu.Unlock()
	if t.After(conv.lastUtterance) {
		conv.lastUtterance = t
		conv.markDirty()
	}
}

func (s *Store) LastMessage(id string) (time.Time, bool) {
	conv, ok := s.lookup(id)
	if !ok {
		return time.Time{}, false
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return conv.lastMessage, !conv.lastMessage.IsZero()
}

func (s *Store) LastUtterance(id string) (time.Time, bool) {
	conv, ok := s.lookup(id)
	if !ok {
		return time.Time{}, false
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return conv.lastUtterance, !conv.lastUtterance.IsZero()
}

// KnownConversations returns a sorted snapshot of conversation IDs. The
// scheduler iterates this instead of holding any lock across a whole tick.
func (s *Store) KnownConversations() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.convs))
	for id := range s.convs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// HasWord reports whether word appears in the conversation's model.
func (s *Store) HasWord(id, word string) bool {
	conv, ok := s.lookup(id)
	if !ok {
		return false
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return conv.chain.hasWord(word)
}

// RandomWord draws a uniformly random non-boundary word from the model,
// used to seed autonomous utterances.
func (s *Store) RandomWord(id string, rng *rand.Rand) (string, bool) {
	conv, ok := s.lookup(id)
	if !ok {
		return "", false
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	words := conv.chain.words()
	if len(words) == 0 {
		return "", false
	}
	return words[rng.Intn(len(words))], true
}

// DirtyIDs lists conversations with unflushed changes.
func (s *Store) DirtyIDs() []string {
	s.mu.RLock()
	convs := make([]*conversation, 0, len(s.convs))
	for _, conv := range s.convs {
		convs = append(convs, conv)
	}
	s.mu.RUnlock()

	var ids []string
	for _, conv := range convs {
		conv.mu.Lock()
		if conv.dirty {
			ids = append(ids, conv.id)
		}
		conv.mu.Unlock()
	}
	sort.Strings(ids)
	return ids
}

// SnapshotOf deep-copies a conversation for persistence.
func (s *Store) SnapshotOf(id string) (Snapshot, bool) {
	conv, ok := s.lookup(id)
	if !ok {
		return Snapshot{}, false
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return Snapshot{
		ID:            conv.id,
		Settings:      conv.settings,
		LastMessage:   conv.lastMessage,
		LastUtterance: conv.lastUtterance,
		Transitions:   conv.chain.cloneTransitions(),
		Gen:           conv.gen,
	}, true
}

// MarkClean clears the dirty flag after a successful flush of the snapshot
// taken at generation gen. A mutation that landed after the snapshot bumps
// the generation, so the flag stays set and the next checkpoint picks the
// conversation up again. A flush failure simply never calls this.
func (s *Store) MarkClean(id string, gen uint64) {
	conv, ok := s.lookup(id)
	if !ok {
		return
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	if conv.gen == gen {
		conv.dirty = false
	}
}

// Restore loads one persisted conversation. Used at startup only; the
// restored conversation starts clean.
func (s *Store) Restore(snap Snapshot) {
	conv := s.getOrCreate(snap.ID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	if snap.Settings.Order < 1 {
		snap.Settings.Order = s.defaults.Order
	}
	conv.settings = snap.Settings
	conv.chain = NewChain(snap.Settings.Order)
	conv.chain.restoreTransitions(snap.Transitions)
	conv.lastMessage = snap.LastMessage
	conv.lastUtterance = snap.LastUtterance
	conv.dirty = false
}
