package markov

import (
	"sort"
	"strings"
)

// Boundary markers framing every ingested token sequence. The tokenizer
// lowercases everything, so these can never collide with user text.
const (
	StartToken = "<START>"
	EndToken   = "<END>"
)

// keySep joins N-gram components into a map key. Tokens cannot contain
// whitespace or control characters after tokenization.
const keySep = "\x1f"

// Chain is one conversation's transition table: a weighted directed
// multigraph over N-gram keys. The order is fixed for the chain's lifetime;
// changing it means building a fresh chain.
type Chain struct {
	order       int
	transitions map[string]map[string]int
	totals      map[string]int
}

func NewChain(order int) *Chain {
	if order < 1 {
		order = 1
	}
	return &Chain{
		order:       order,
		transitions: make(map[string]map[string]int),
		totals:      make(map[string]int),
	}
}

func (c *Chain) Order() int { return c.order }

func (c *Chain) Empty() bool { return len(c.transitions) == 0 }

// Keys returns the number of distinct N-gram keys.
func (c *Chain) Keys() int { return len(c.transitions) }

// Pairs returns the number of distinct (key, successor) edges.
func (c *Chain) Pairs() int {
	n := 0
	for _, succ := range c.transitions {
		n += len(succ)
	}
	return n
}

// Observe frames tokens with boundary markers, slides an order-sized window
// over the framed sequence, and increments each (window)->next count.
// Sequences shorter than order+1 tokens contribute nothing; that is a no-op,
// not an error. Returns the number of transitions recorded.
func (c *Chain) Observe(tokens []string) int {
	if len(tokens) < c.order+1 {
		return 0
	}

	framed := make([]string, 0, len(tokens)+c.order+1)
	for i := 0; i < c.order; i++ {
		framed = append(framed, StartToken)
	}
	framed = append(framed, tokens...)
	framed = append(framed, EndToken)

	recorded := 0
	for i := 0; i+c.order < len(framed); i++ {
		key := strings.Join(framed[i:i+c.order], keySep)
		next := framed[i+c.order]

		succ, ok := c.transitions[key]
		if !ok {
			succ = make(map[string]int)
			c.transitions[key] = succ
		}
		succ[next]++
		// Totals are maintained eagerly on every ingest so the sampling
		// denominator can never drift from the stored counts.
		c.totals[key]++
		recorded++
	}
	return recorded
}

func (c *Chain) startKey() string {
	parts := make([]string, c.order)
	for i := range parts {
		parts[i] = StartToken
	}
	return strings.Join(parts, keySep)
}

// successors returns the stored successor counts and their cached total.
func (c *Chain) successors(key string) (map[string]int, int) {
	return c.transitions[key], c.totals[key]
}

// nextKey slides the window: drop the oldest component, append tok.
func (c *Chain) nextKey(key, tok string) string {
	if c.order == 1 {
		return tok
	}
	parts := strings.SplitN(key, keySep, 2)
	return parts[1] + keySep + tok
}

// seedKeys returns candidate start keys for a seed word, sorted for
// deterministic sampling. Sentence-initial contexts (all leading components
// are the start marker) are preferred; if none exist, any key ending in the
// word qualifies.
func (c *Chain) seedKeys(word string) []string {
	var initial, other []string
	for key := range c.transitions {
		parts := strings.Split(key, keySep)
		if parts[len(parts)-1] != word {
			continue
		}
		leadingStart := true
		for _, p := range parts[:len(parts)-1] {
			if p != StartToken {
				leadingStart = false
				break
			}
		}
		if leadingStart {
			initial = append(initial, key)
		} else {
			other = append(other, key)
		}
	}
	if len(initial) > 0 {
		sort.Strings(initial)
		return initial
	}
	sort.Strings(other)
	return other
}

// hasWord reports whether word occurs in any stored N-gram key.
func (c *Chain) hasWord(word string) bool {
	if word == StartToken || word == EndToken {
		return false
	}
	for key := range c.transitions {
		for _, p := range strings.Split(key, keySep) {
			if p == word {
				return true
			}
		}
	}
	return false
}

// words returns the sorted set of non-boundary tokens occurring in keys.
func (c *Chain) words() []string {
	seen := make(map[string]struct{})
	for key := range c.transitions {
		for _, p := range strings.Split(key, keySep) {
			if p == StartToken || p == EndToken {
				continue
			}
			seen[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// clone produces a deep copy of the transition table for snapshots.
func (c *Chain) cloneTransitions() map[string]map[string]int {
	out := make(map[string]map[string]int, len(c.transitions))
	for key, succ := range c.transitions {
		cp := make(map[string]int, len(succ))
		for tok, n := range succ {
			cp[tok] = n
		}
		out[key] = cp
	}
	return out
}

// restoreTransitions replaces the table wholesale, rebuilding totals.
func (c *Chain) restoreTransitions(table map[string]map[string]int) {
	c.transitions = make(map[string]map[string]int, len(table))
	c.totals = make(map[string]int, len(table))
	for key, succ := range table {
		if len(succ) == 0 {
			// A key with no successors is never stored.
			continue
		}
		cp := make(map[string]int, len(succ))
		total := 0
		for tok, n := range succ {
			if n < 1 {
				continue
			}
			cp[tok] = n
			total += n
		}
		if total == 0 {
			continue
		}
		c.transitions[key] = cp
		c.totals[key] = total
	}
}
