package markov

import (
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"
)

// lockedSource makes a rand.Source safe for concurrent draws. rand.Rand's
// Intn/Float64 carry no state of their own, so sharing one Rand over a
// locked source lets generation for different conversations proceed in
// parallel while tests stay deterministic with a seeded source.
type lockedSource struct {
	mu  sync.Mutex
	src rand.Source
}

func (s *lockedSource) Int63() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Int63()
}

func (s *lockedSource) Seed(seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src.Seed(seed)
}

// Generator walks a conversation's chain to synthesize token sequences.
// All randomness flows through the injected source.
type Generator struct {
	store *Store
	rng   *rand.Rand
}

// NewGenerator builds a generator over store. A nil src gets a time-seeded
// source; tests pass rand.NewSource(k) for reproducible output.
func NewGenerator(store *Store, src rand.Source) *Generator {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Generator{
		store: store,
		rng:   rand.New(&lockedSource{src: src}),
	}
}

// Rand exposes the generator's random source for the other probabilistic
// decisions (reply chance, seed-word gate) so a single seed drives them all.
func (g *Generator) Rand() *rand.Rand { return g.rng }

// Generate synthesizes up to maxTokens tokens for a conversation. With seed
// tokens, generation starts from a matching N-gram context when one exists,
// falling back to the sentence-initial key. Returns ErrEmptyModel when the
// conversation has no transitions. A zero-length result is valid and means
// "nothing to say".
//
// The walk is atomic against the conversation: ingestion for the same
// conversation cannot interleave with a single generate call.
func (g *Generator) Generate(id string, maxTokens int, seed ...string) ([]string, error) {
	conv, ok := g.store.lookup(id)
	if !ok {
		return nil, ErrEmptyModel
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()

	chain := conv.chain
	if chain.Empty() {
		return nil, ErrEmptyModel
	}
	if maxTokens < 1 {
		return nil, nil
	}

	key := chain.startKey()
	out := make([]string, 0, maxTokens)

	if len(seed) > 0 {
		if seededKey, prefix := g.seedStart(chain, seed); seededKey != "" {
			key = seededKey
			for _, tok := range prefix {
				if len(out) == maxTokens {
					return out, nil
				}
				out = append(out, tok)
			}
		}
	}

	// Past the soft limit the end marker's weight grows linearly, nudging
	// sentences shut before the hard cap truncates them mid-thought.
	soft := maxTokens / 2

	for len(out) < maxTokens {
		succ, total := chain.successors(key)
		if total == 0 {
			break
		}

		tok := g.draw(succ, total, len(out), soft, maxTokens)
		if tok == EndToken {
			break
		}
		out = append(out, tok)
		key = chain.nextKey(key, tok)
	}

	return out, nil
}

// seedStart resolves seed tokens to a starting key. Preference order: the
// exact key formed by the last `order` seed tokens, then sentence-initial
// contexts ending in the last seed word. The returned prefix holds the
// non-boundary tokens of the chosen key so the seed shows up in the output.
func (g *Generator) seedStart(chain *Chain, seed []string) (string, []string) {
	if chain.order <= len(seed) {
		parts := seed[len(seed)-chain.order:]
		key := strings.Join(parts, keySep)
		if _, total := chain.successors(key); total > 0 {
			return key, parts
		}
	}

	word := seed[len(seed)-1]
	candidates := chain.seedKeys(word)
	if len(candidates) == 0 {
		return "", nil
	}
	key := candidates[g.rng.Intn(len(candidates))]

	var prefix []string
	for _, p := range strings.Split(key, keySep) {
		if p == StartToken || p == EndToken {
			continue
		}
		prefix = append(prefix, p)
	}
	return key, prefix
}

// draw samples one successor with probability proportional to its count.
// Iteration is over sorted tokens so a seeded source reproduces the exact
// same walk every time.
func (g *Generator) draw(succ map[string]int, total, produced, soft, maxTokens int) string {
	endBoost := 0
	if produced > soft && maxTokens > soft {
		if endCount, ok := succ[EndToken]; ok {
			factor := 1 + 4*float64(produced-soft)/float64(maxTokens-soft)
			endBoost = int(float64(endCount)*factor) - endCount
		}
	}

	toks := make([]string, 0, len(succ))
	for tok := range succ {
		toks = append(toks, tok)
	}
	sort.Strings(toks)

	target := g.rng.Intn(total + endBoost)
	for _, tok := range toks {
		w := succ[tok]
		if tok == EndToken {
			w += endBoost
		}
		if target < w {
			return tok
		}
		target -= w
	}
	// Unreachable while totals match the stored counts.
	return toks[len(toks)-1]
}
