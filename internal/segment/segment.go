// Package segment implements the lazy sentence segmenter that feeds the
// cached synthesis adapter.
//
// A Segmenter consumes an unbounded stream of text deltas — arbitrary
// substrings, as they arrive from the reply stream — and emits complete,
// trimmed sentence segments on a channel as soon as their boundary is
// known. Segments are the unit of synthesis and of caching: emitting them
// eagerly keeps time-to-first-audio low, and emitting them whole keeps the
// cache keys stable.
package segment

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

const (
	// defaultMaxRunes force-splits pathological unpunctuated runs so a
	// single segment can never grow without bound.
	defaultMaxRunes = 256

	// defaultSegmentBuf is the buffer depth of the segment channel. Sized
	// to absorb a burst of short sentences without blocking the pusher.
	defaultSegmentBuf = 16
)

// Segmenter splits a text-delta stream into sentence segments.
//
// Push, Flush, and CloseInput must be called from a single producing
// goroutine. Segments is consumed elsewhere; Close may be called from any
// goroutine to unblock a pending emit when the consumer has gone away.
type Segmenter struct {
	out       chan string
	done      chan struct{}
	closeOnce sync.Once
	inputOnce sync.Once
	maxRunes  int
	pending   string
}

// Option is a functional option for configuring a Segmenter.
type Option func(*Segmenter)

// WithMaxRunes overrides the forced-split threshold for unpunctuated runs.
// Default is 256.
func WithMaxRunes(n int) Option {
	return func(s *Segmenter) {
		if n > 0 {
			s.maxRunes = n
		}
	}
}

// WithBuffer sets the buffer depth of the segment channel. Default is 16.
func WithBuffer(n int) Option {
	return func(s *Segmenter) {
		if n >= 0 {
			s.out = make(chan string, n)
		}
	}
}

// New constructs a Segmenter ready to accept deltas.
func New(opts ...Option) *Segmenter {
	s := &Segmenter{
		out:      make(chan string, defaultSegmentBuf),
		done:     make(chan struct{}),
		maxRunes: defaultMaxRunes,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Segments returns the channel on which completed segments are delivered.
// The channel is closed after CloseInput has flushed the final tail.
func (s *Segmenter) Segments() <-chan string { return s.out }

// Push appends delta to the pending text and emits every sentence whose
// boundary is now known. A sentence ends at '.', '!' or '?' followed by
// whitespace, or immediately at a CJK terminator; a terminator at the very
// end of the pending text is held back until the next delta or Flush
// decides it ("3." must not split when "5 is next" follows).
func (s *Segmenter) Push(delta string) {
	if delta == "" {
		return
	}
	s.pending += delta
	for {
		idx := boundary(s.pending)
		if idx < 0 {
			break
		}
		s.emit(s.pending[:idx])
		s.pending = strings.TrimLeft(s.pending[idx:], " \t\n\r")
	}
	s.splitOversize()
}

// Flush force-emits the pending text as a segment regardless of
// punctuation. Used at segment-boundary hints from the reply stream.
func (s *Segmenter) Flush() {
	if s.pending != "" {
		s.emit(s.pending)
		s.pending = ""
	}
}

// CloseInput flushes any buffered tail as a final segment and closes the
// segment channel. No segments are produced afterwards. Safe to call more
// than once.
func (s *Segmenter) CloseInput() {
	s.inputOnce.Do(func() {
		s.Flush()
		close(s.out)
	})
}

// Close unblocks any emit still waiting on the segment channel. Call it
// when the consumer stops reading before the input side has finished.
// Safe to call more than once and concurrently with the producer.
func (s *Segmenter) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// emit trims and delivers one segment, dropping whitespace-only text.
func (s *Segmenter) emit(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	select {
	case s.out <- text:
	case <-s.done:
	}
}

// splitOversize force-splits the pending text while it exceeds the rune
// cap, preferring the last whitespace before the cap so words stay whole.
func (s *Segmenter) splitOversize() {
	for utf8.RuneCountInString(s.pending) > s.maxRunes {
		cut := runeIndex(s.pending, s.maxRunes)
		if ws := strings.LastIndexFunc(s.pending[:cut], unicode.IsSpace); ws > 0 {
			cut = ws
		}
		s.emit(s.pending[:cut])
		s.pending = strings.TrimLeft(s.pending[cut:], " \t\n\r")
	}
}

// boundary returns the byte offset just past the first decided sentence
// boundary in text, or -1 when no boundary is decidable yet.
func boundary(text string) int {
	for i, r := range text {
		switch r {
		case '.', '!', '?':
			rest := text[i+1:]
			if rest == "" {
				// Terminator at the end of the buffer: the next delta
				// decides whether this is a boundary.
				return -1
			}
			next, _ := utf8.DecodeRuneInString(rest)
			if unicode.IsSpace(next) {
				return i + 1
			}
		case '。', '！', '？':
			return i + utf8.RuneLen(r)
		}
	}
	return -1
}

// runeIndex returns the byte offset of the n-th rune in s. s must contain
// at least n runes.
func runeIndex(s string, n int) int {
	count := 0
	for i := range s {
		if count == n {
			return i
		}
		count++
	}
	return len(s)
}
