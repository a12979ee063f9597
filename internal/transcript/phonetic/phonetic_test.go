package phonetic_test

import (
	"testing"

	"github.com/joi-ai/voiceworker/internal/transcript/phonetic"
)

func TestMatcher_SplitWordMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	// The recognizer often splits a product name into two words; "deep gram"
	// should still snap onto the vocabulary term "Deepgram".
	vocabulary := []string{"Deepgram", "Cartesia", "Joi Gateway"}

	corrected, conf, matched := m.Match("deep gram", vocabulary)
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "deep gram")
	}
	if corrected != "Deepgram" {
		t.Errorf("Match(%q): corrected=%q, want %q", "deep gram", corrected, "Deepgram")
	}
	if conf < 0.7 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.7", "deep gram", conf)
	}
}

func TestMatcher_MultiWordTermMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	vocabulary := []string{"Joi Gateway", "Cartesia", "Deepgram"}

	// "joy gateway" is the common mishearing of the multi-word term.
	corrected, conf, matched := m.Match("joy gateway", vocabulary)
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "joy gateway")
	}
	if corrected != "Joi Gateway" {
		t.Errorf("Match(%q): corrected=%q, want %q", "joy gateway", corrected, "Joi Gateway")
	}
	if conf < 0.7 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.7", "joy gateway", conf)
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	vocabulary := []string{"Cartesia", "Deepgram"}

	corrected, conf, matched := m.Match("hello", vocabulary)
	if matched {
		t.Fatalf("Match(%q): matched=true, want false", "hello")
	}
	if corrected != "hello" {
		t.Errorf("Match(%q): corrected=%q, want original word %q", "hello", corrected, "hello")
	}
	if conf != 0 {
		t.Errorf("Match(%q): confidence=%f, want 0", "hello", conf)
	}
}

func TestMatcher_CaseInsensitivity(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	vocabulary := []string{"Cartesia"}

	corrected, _, matched := m.Match("CARTESIA", vocabulary)
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "CARTESIA")
	}
	// The vocabulary casing wins, not the heard casing.
	if corrected != "Cartesia" {
		t.Errorf("Match(%q): corrected=%q, want %q", "CARTESIA", corrected, "Cartesia")
	}
}

func TestMatcher_ExactMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	vocabulary := []string{"Cartesia", "Deepgram"}

	corrected, conf, matched := m.Match("cartesia", vocabulary)
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "cartesia")
	}
	if corrected != "Cartesia" {
		t.Errorf("Match(%q): corrected=%q, want %q", "cartesia", corrected, "Cartesia")
	}
	if conf < 0.9 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.9 for exact match", "cartesia", conf)
	}
}

func TestMatcher_ThresholdRejectsNearMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)
	vocabulary := []string{"Cartesia"}

	_, _, matched := m.Match("cartesa", vocabulary)
	if matched {
		t.Fatal("Match with threshold=0.99 should reject near-matches, got matched=true")
	}
}

func TestMatcher_EmptyVocabulary(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	corrected, conf, matched := m.Match("cartesia", nil)
	if matched {
		t.Fatal("Match with nil vocabulary should return matched=false")
	}
	if corrected != "cartesia" {
		t.Errorf("corrected=%q, want original", corrected)
	}
	if conf != 0 {
		t.Errorf("conf=%f, want 0", conf)
	}
}

func TestMatcher_EmptyWord(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	corrected, conf, matched := m.Match("", []string{"Cartesia"})
	if matched {
		t.Fatal("Match with empty word should return matched=false")
	}
	if corrected != "" {
		t.Errorf("corrected=%q, want empty string", corrected)
	}
	if conf != 0 {
		t.Errorf("conf=%f, want 0", conf)
	}
}

func TestWithOptions(t *testing.T) {
	t.Parallel()

	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.75),
		phonetic.WithFuzzyThreshold(0.90),
	)
	if m == nil {
		t.Fatal("New returned nil")
	}
}
