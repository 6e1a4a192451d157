package markov

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"
	"time"
)

func defaults() Settings {
	return Settings{
		Order:               1,
		RandomReplyChance:   0.01,
		InactivityThreshold: 6 * time.Hour,
		WordFromUserChance:  0.6,
	}
}

func TestGenerateEmptyModel(t *testing.T) {
	s := NewStore(defaults())
	g := NewGenerator(s, rand.NewSource(1))

	if _, err := g.Generate("nope", 10); !errors.Is(err, ErrEmptyModel) {
		t.Fatalf("expected ErrEmptyModel for unknown conversation, got %v", err)
	}

	s.GetOrCreate("known")
	if _, err := g.Generate("known", 10); !errors.Is(err, ErrEmptyModel) {
		t.Fatalf("expected ErrEmptyModel for untrained conversation, got %v", err)
	}
}

func TestGenerateDeterministicUnderSeed(t *testing.T) {
	train := func() *Store {
		s := NewStore(defaults())
		s.Ingest("c", []string{"the", "cat", "sat", "down"})
		s.Ingest("c", []string{"the", "dog", "ran", "away"})
		s.Ingest("c", []string{"a", "cat", "ran", "home"})
		return s
	}

	g1 := NewGenerator(train(), rand.NewSource(99))
	g2 := NewGenerator(train(), rand.NewSource(99))

	for i := 0; i < 10; i++ {
		a, err1 := g1.Generate("c", 20)
		b, err2 := g2.Generate("c", 20)
		if err1 != nil || err2 != nil {
			t.Fatalf("generate failed: %v %v", err1, err2)
		}
		if !reflect.DeepEqual(a, b) {
			t.Fatalf("same seed diverged on walk %d: %v vs %v", i, a, b)
		}
	}
}

func TestGenerateRespectsHardCap(t *testing.T) {
	s := NewStore(defaults())
	// a -> a cycles forever; only the cap can stop the walk.
	s.Ingest("c", []string{"a", "a", "a", "a", "a", "a"})
	g := NewGenerator(s, rand.NewSource(5))

	for i := 0; i < 50; i++ {
		out, err := g.Generate("c", 8)
		if err != nil {
			t.Fatalf("generate failed: %v", err)
		}
		if len(out) > 8 {
			t.Fatalf("walk exceeded cap: %d tokens", len(out))
		}
	}
}

func TestGenerateZeroBudget(t *testing.T) {
	s := NewStore(defaults())
	s.Ingest("c", []string{"a", "b"})
	g := NewGenerator(s, rand.NewSource(1))

	out, err := g.Generate("c", 0)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty output for zero budget, got %v", out)
	}
}

func TestGenerateWeightedSampling(t *testing.T) {
	s := NewStore(defaults())
	// start -> hello 3x, start -> bye 1x. First token should track 3:1.
	s.Ingest("c", []string{"hello", "there"})
	s.Ingest("c", []string{"hello", "there"})
	s.Ingest("c", []string{"hello", "there"})
	s.Ingest("c", []string{"bye", "now"})
	g := NewGenerator(s, rand.NewSource(7))

	hello := 0
	const trials = 4000
	for i := 0; i < trials; i++ {
		out, err := g.Generate("c", 5)
		if err != nil || len(out) == 0 {
			t.Fatalf("generate failed: %v %v", out, err)
		}
		if out[0] == "hello" {
			hello++
		}
	}

	ratio := float64(hello) / trials
	if ratio < 0.70 || ratio > 0.80 {
		t.Fatalf("expected hello ratio near 0.75, got %.3f", ratio)
	}
}

func TestGenerateSeedAppearsInOutput(t *testing.T) {
	s := NewStore(defaults())
	s.Ingest("c", []string{"the", "cat", "sat", "down"})
	g := NewGenerator(s, rand.NewSource(3))

	out, err := g.Generate("c", 10, "cat")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(out) == 0 || out[0] != "cat" {
		t.Fatalf("expected walk to start at seed word, got %v", out)
	}
}

func TestGenerateFollowsObservedTransitionsOnly(t *testing.T) {
	s := NewStore(defaults())
	s.Ingest("c", Tokenize("the cat sat ."))
	s.Ingest("c", Tokenize("the dog ran ."))
	g := NewGenerator(s, rand.NewSource(11))

	for i := 0; i < 200; i++ {
		out, err := g.Generate("c", 10, "the")
		if err != nil {
			t.Fatalf("generate failed: %v", err)
		}
		if len(out) < 2 || out[0] != "the" {
			t.Fatalf("expected walk to start at the seed, got %v", out)
		}
		if out[1] != "cat" && out[1] != "dog" {
			t.Fatalf("token after 'the' must be cat or dog, got %q in %v", out[1], out)
		}
	}
}

func TestGenerateUnknownSeedFallsBack(t *testing.T) {
	s := NewStore(defaults())
	s.Ingest("c", []string{"the", "cat", "sat"})
	g := NewGenerator(s, rand.NewSource(3))

	out, err := g.Generate("c", 10, "zebra")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected fallback to the sentence-initial walk")
	}
}

func TestRandomWordDrawsFromModel(t *testing.T) {
	s := NewStore(defaults())
	s.Ingest("c", []string{"alpha", "beta"})
	rng := rand.New(rand.NewSource(1))

	word, ok := s.RandomWord("c", rng)
	if !ok {
		t.Fatal("expected a word from a trained model")
	}
	if word != "alpha" && word != "beta" {
		t.Fatalf("unexpected word %q", word)
	}

	if _, ok := s.RandomWord("unknown", rng); ok {
		t.Fatal("expected no word for unknown conversation")
	}
}
