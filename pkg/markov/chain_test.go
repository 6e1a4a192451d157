package markov

import (
	"strings"
	"testing"
)

func TestObserveTooShortIsNoop(t *testing.T) {
	c := NewChain(2)
	if n := c.Observe([]string{"a", "b"}); n != 0 {
		t.Fatalf("expected 0 transitions for 2 tokens at order 2, got %d", n)
	}
	if !c.Empty() {
		t.Fatal("expected chain to stay empty")
	}
}

func TestObserveCountsFramedTransitions(t *testing.T) {
	c := NewChain(1)
	// Framed: <START> a b c <END>, four sliding windows.
	if n := c.Observe([]string{"a", "b", "c"}); n != 4 {
		t.Fatalf("expected 4 transitions, got %d", n)
	}
	if c.Keys() != 4 {
		t.Fatalf("expected 4 distinct keys, got %d", c.Keys())
	}
}

func TestObserveIsAdditive(t *testing.T) {
	c := NewChain(1)
	c.Observe([]string{"a", "b"})
	c.Observe([]string{"a", "b"})

	succ, total := c.successors("a")
	if succ["b"] != 2 {
		t.Fatalf("expected count 2 for a->b, got %d", succ["b"])
	}
	if total != 2 {
		t.Fatalf("expected cached total 2, got %d", total)
	}
}

func TestNextKeySlidesWindow(t *testing.T) {
	c := NewChain(2)
	key := strings.Join([]string{"a", "b"}, keySep)
	next := c.nextKey(key, "c")
	if want := strings.Join([]string{"b", "c"}, keySep); next != want {
		t.Fatalf("expected window to slide to %q, got %q", want, next)
	}
}

func TestSeedKeysPrefersSentenceInitial(t *testing.T) {
	c := NewChain(2)
	c.Observe([]string{"cat", "naps", "daily"})
	c.Observe([]string{"the", "lazy", "cat", "naps"})

	keys := c.seedKeys("cat")
	if len(keys) != 1 {
		t.Fatalf("expected only the sentence-initial context, got %v", keys)
	}
	if keys[0] != strings.Join([]string{StartToken, "cat"}, keySep) {
		t.Fatalf("unexpected seed key %q", keys[0])
	}
}

func TestRestoreRebuildsTotals(t *testing.T) {
	c := NewChain(1)
	c.Observe([]string{"a", "b", "c"})
	table := c.cloneTransitions()

	restored := NewChain(1)
	restored.restoreTransitions(table)

	if restored.Keys() != c.Keys() || restored.Pairs() != c.Pairs() {
		t.Fatalf("restore changed shape: %d/%d vs %d/%d",
			restored.Keys(), restored.Pairs(), c.Keys(), c.Pairs())
	}
	_, total := restored.successors("a")
	if total != 1 {
		t.Fatalf("expected rebuilt total 1, got %d", total)
	}
}

func TestRestoreSkipsCorruptEntries(t *testing.T) {
	restored := NewChain(1)
	restored.restoreTransitions(map[string]map[string]int{
		"good": {"next": 2},
		"bad":  {"next": 0},
		"nil":  {},
	})
	if restored.Keys() != 1 {
		t.Fatalf("expected only the valid key, got %d", restored.Keys())
	}
}

func TestHasWordIgnoresBoundaryMarkers(t *testing.T) {
	c := NewChain(1)
	c.Observe([]string{"a", "b"})
	if c.hasWord(StartToken) || c.hasWord(EndToken) {
		t.Fatal("boundary markers must not count as words")
	}
	if !c.hasWord("a") {
		t.Fatal("expected observed word to be found")
	}
}
