package tts

import "time"

// Frame is one chunk of synthesized audio. Frames carry raw little-endian
// 16-bit PCM in the provider's configured sample rate and channel count.
type Frame struct {
	// Data is the PCM payload. Empty on a terminal error frame.
	Data []byte

	// Duration is the play time of Data.
	Duration time.Duration

	// Err, when non-nil, marks this as the terminal frame of a failed
	// synthesis. No further frames follow.
	Err error
}

// Stream is the result of a [Provider.Synthesize] call.
type Stream struct {
	// Frames delivers audio chunks in playback order. Closed when synthesis
	// completes, fails, or the context is cancelled.
	Frames <-chan Frame

	// Provider names the backend that actually served this request. It
	// matches the provider's Name() unless a fallback group routed the call
	// to a secondary backend.
	Provider string
}

// PCMDuration returns the play time of n bytes of PCM at the given sample
// rate and channel count (16-bit samples). Returns zero for non-positive
// formats.
func PCMDuration(n, sampleRate, channels int) time.Duration {
	bytesPerSecond := sampleRate * channels * 2
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bytesPerSecond)
}
