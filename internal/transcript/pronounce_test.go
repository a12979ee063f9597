package transcript_test

import (
	"strings"
	"testing"

	"github.com/joi-ai/voiceworker/internal/transcript"
)

var testRules = []transcript.Rule{
	{Word: "JOI", Replacement: "Joy"},
	{Word: "SQL", Replacement: "sequel"},
}

func TestReplacer_BuffersUntilBoundary(t *testing.T) {
	t.Parallel()

	r := transcript.NewReplacer(testRules)

	// The space after "Ask" is the last boundary; the half-arrived word
	// stays buffered.
	if got := r.Push("Ask J"); got != "Ask " {
		t.Errorf("Push(%q) = %q, want %q", "Ask J", got, "Ask ")
	}
	// The space after "JOI" completes the word; the flushable prefix is
	// rewritten.
	if got := r.Push("OI about"); got != "Joy " {
		t.Errorf("Push(%q) = %q, want %q", "OI about", got, "Joy ")
	}
	if got := r.Flush(); got != "about" {
		t.Errorf("Flush() = %q, want %q", got, "about")
	}
}

func TestReplacer_WordSplitAcrossDeltasNotMangled(t *testing.T) {
	t.Parallel()

	r := transcript.NewReplacer(testRules)

	var out strings.Builder
	for _, delta := range []string{"The S", "QL", " query ran."} {
		out.WriteString(r.Push(delta))
	}
	out.WriteString(r.Flush())

	if got := out.String(); got != "The sequel query ran." {
		t.Errorf("streamed output = %q, want %q", got, "The sequel query ran.")
	}
}

func TestReplacer_CaseInsensitiveWholeWord(t *testing.T) {
	t.Parallel()

	r := transcript.NewReplacer(testRules)

	var out strings.Builder
	out.WriteString(r.Push("joi helps, but NoSQL and enjoiment stay. "))
	out.WriteString(r.Flush())

	want := "Joy helps, but NoSQL and enjoiment stay. "
	if got := out.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestReplacer_NoRulesIsPassThrough(t *testing.T) {
	t.Parallel()

	r := transcript.NewReplacer(nil)

	if got := r.Push("anything at all"); got != "anything at all" {
		t.Errorf("Push = %q, want the delta unchanged", got)
	}
	if got := r.Flush(); got != "" {
		t.Errorf("Flush = %q, want empty", got)
	}
}

func TestReplacer_FlushEmptyBuffer(t *testing.T) {
	t.Parallel()

	r := transcript.NewReplacer(testRules)
	if got := r.Flush(); got != "" {
		t.Errorf("Flush on empty buffer = %q, want empty", got)
	}
}

func TestReplacer_BoundaryCharacters(t *testing.T) {
	t.Parallel()

	// Every boundary character releases the buffered prefix.
	for _, b := range []string{" ", "\n", "\t", ".", ",", "!", "?", ";", ":", ")", "]", "}"} {
		r := transcript.NewReplacer(testRules)
		if got := r.Push("JOI" + b); got != "Joy"+b {
			t.Errorf("Push(%q) = %q, want %q", "JOI"+b, got, "Joy"+b)
		}
	}
}

func TestStripMarkers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"[happy] Good morning!", "Good morning!"},
		{"Well [thinking] let me see.", "Well let me see."},
		{"[HAPPY] caps too", "caps too"},
		{"[with_under-score] ok", "ok"},
		{"no markers here", "no markers here"},
		{"[notamarkerbecauseitiswaytoolong] stays", "[notamarkerbecauseitiswaytoolong] stays"},
		{"[123] digits first stays", "[123] digits first stays"},
		{"[a][b] stacked", "stacked"},
	}
	for _, tc := range tests {
		if got := transcript.StripMarkers(tc.in); got != tc.want {
			t.Errorf("StripMarkers(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestVoicePrompt_AllSections(t *testing.T) {
	t.Parallel()

	got := transcript.VoicePrompt("You are a warm assistant.", testRules)

	sections := strings.Split(got, "\n\n")
	if len(sections) != 3 {
		t.Fatalf("sections = %d, want 3:\n%s", len(sections), got)
	}
	if sections[0] != "You are a warm assistant." {
		t.Errorf("first section = %q", sections[0])
	}
	if !strings.HasPrefix(sections[1], "## Pronunciation Guide\n") {
		t.Errorf("second section = %q, want pronunciation guide", sections[1])
	}
	if !strings.Contains(sections[1], `- "JOI" → write as "Joy"`) {
		t.Errorf("guide missing rule line:\n%s", sections[1])
	}
	if !strings.HasPrefix(sections[2], "## Voice Style\n") {
		t.Errorf("third section = %q, want voice style", sections[2])
	}
}

func TestVoicePrompt_MinimalIsJustVoiceStyle(t *testing.T) {
	t.Parallel()

	got := transcript.VoicePrompt("", nil)
	if !strings.HasPrefix(got, "## Voice Style\n") {
		t.Errorf("prompt = %q, want only the voice style section", got)
	}
	if strings.Contains(got, "Pronunciation") {
		t.Errorf("prompt contains a pronunciation guide without rules:\n%s", got)
	}
}
