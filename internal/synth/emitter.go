package synth

import "time"

// Emitter is the output sink for one synthesis turn. The session layer
// implements it on top of the room connection: PCM goes to the output
// stream, transcript markers become timed captions.
//
// The adapter calls an Emitter from a single goroutine per turn;
// implementations need not be safe for concurrent use.
type Emitter interface {
	// Init announces the turn's output format before any other call:
	// a fresh request id, the wrapped provider's sample rate and channel
	// count, and the MIME type (always "audio/pcm").
	Init(requestID string, sampleRate, numChannels int, mimeType string)

	// StartSegment opens a new spoken segment. All transcript markers and
	// PCM until the next StartSegment belong to it.
	StartSegment(segmentID string)

	// PushTranscript delivers a timed transcript marker: the segment's
	// text and the cumulative audio duration at which it starts playing.
	PushTranscript(text string, start time.Duration)

	// PushPCM delivers a chunk of raw s16le PCM in the announced format.
	PushPCM(pcm []byte)

	// Flush marks the end of the current segment's audio.
	Flush()
}
