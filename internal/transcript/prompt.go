package transcript

import "strings"

// voiceStyle is the fixed closing section of every voice prompt.
const voiceStyle = "## Voice Style\n" +
	"Speak naturally and clearly. Never output bracketed markers like [happy] or [thinking]. " +
	"Avoid repetitive time-based greetings and avoid repeatedly saying the user's name."

// VoicePrompt builds the voice-mode system prompt suffix sent with every
// chat turn: the configured voice prompt, the pronunciation guide when rules
// exist, and the fixed voice-style section, joined by blank lines.
func VoicePrompt(voicePrompt string, rules []Rule) string {
	var parts []string
	if voicePrompt != "" {
		parts = append(parts, voicePrompt)
	}
	if guide := PronunciationGuide(rules); guide != "" {
		parts = append(parts, guide)
	}
	parts = append(parts, voiceStyle)
	return strings.Join(parts, "\n\n")
}
