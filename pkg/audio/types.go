package audio

import "time"

// AudioFrame represents a single frame of PCM audio flowing through the
// pipeline. Frames are the atomic unit of audio transport — captured from
// room input streams, fed to STT, and played through the output stream.
type AudioFrame struct {
	// Data is raw little-endian 16-bit PCM.
	Data []byte

	// SampleRate in Hz (e.g., 24000 for the worker's native format, 48000
	// for browser capture).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the play time of the frame's PCM payload. Returns zero
// for frames with incomplete format information.
func (f AudioFrame) Duration() time.Duration {
	bytesPerSecond := f.SampleRate * f.Channels * 2
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(len(f.Data)) * time.Second / time.Duration(bytesPerSecond)
}
