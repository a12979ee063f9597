package transcript

import "regexp"

// markerRE matches bracketed stage or emotion markers such as [happy] or
// [thinking], including any whitespace that follows them.
var markerRE = regexp.MustCompile(`(?i)\[[a-z][a-z0-9_-]{0,20}\]\s*`)

// StripMarkers removes bracketed stage markers from text. Models sometimes
// emit them despite being told not to; they must never reach the TTS engine.
func StripMarkers(text string) string {
	return markerRE.ReplaceAllString(text, "")
}
