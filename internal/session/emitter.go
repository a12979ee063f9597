package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/joi-ai/voiceworker/internal/synth"
	"github.com/joi-ai/voiceworker/pkg/audio"
)

// frameInterval is the outbound pacing unit. Room clients expect a steady
// cadence of small frames rather than one large burst per segment.
const frameInterval = 20 * time.Millisecond

// captionPublisher is the slice of [audio.Connection] the emitter needs.
type captionPublisher interface {
	PublishCaption(c audio.Caption) error
}

// roomEmitter delivers one synthesis turn into a room: PCM is converted to
// the room format, sliced into 20 ms frames, and written to the output
// stream; transcript markers become timed captions.
//
// A roomEmitter is reused across turns of one session but is never shared
// between concurrent turns.
type roomEmitter struct {
	ctx      context.Context
	out      chan<- audio.AudioFrame
	captions captionPublisher
	target   audio.Format
	log      *slog.Logger

	srcRate     int
	srcChannels int
	segmentID   string
	buf         []byte
}

var _ synth.Emitter = (*roomEmitter)(nil)

// newRoomEmitter creates an emitter writing to conn in the given room
// format. ctx bounds every blocking write; when it is cancelled, remaining
// audio is dropped.
func newRoomEmitter(ctx context.Context, conn audio.Connection, target audio.Format) *roomEmitter {
	return &roomEmitter{
		ctx:      ctx,
		out:      conn.OutputStream(),
		captions: conn,
		target:   target,
		log:      slog.With("component", "session"),
	}
}

// Init implements [synth.Emitter].
func (e *roomEmitter) Init(requestID string, sampleRate, numChannels int, _ string) {
	e.srcRate = sampleRate
	e.srcChannels = numChannels
	e.segmentID = ""
	e.buf = nil
	e.log.Debug("synthesis turn started", "request_id", requestID, "sample_rate", sampleRate, "channels", numChannels)
}

// StartSegment implements [synth.Emitter].
func (e *roomEmitter) StartSegment(segmentID string) {
	e.segmentID = segmentID
}

// PushTranscript implements [synth.Emitter]. The marker is published before
// any of the segment's audio reaches the room.
func (e *roomEmitter) PushTranscript(text string, start time.Duration) {
	err := e.captions.PublishCaption(audio.Caption{
		SegmentID: e.segmentID,
		Text:      text,
		StartMs:   start.Milliseconds(),
	})
	if err != nil {
		e.log.Warn("publishing caption failed", "error", err)
	}
}

// PushPCM implements [synth.Emitter]. Complete 20 ms frames are written
// immediately; the remainder waits for more audio or Flush.
func (e *roomEmitter) PushPCM(pcm []byte) {
	e.buf = append(e.buf, e.convert(pcm)...)

	size := e.frameBytes()
	for len(e.buf) >= size {
		frame := e.buf[:size]
		e.buf = e.buf[size:]
		if !e.write(frame) {
			e.buf = nil
			return
		}
	}
}

// Flush implements [synth.Emitter]. The partial tail frame, if any, is
// written out.
func (e *roomEmitter) Flush() {
	if len(e.buf) == 0 {
		return
	}
	e.write(e.buf)
	e.buf = nil
}

// convert resamples and upmixes source PCM to the room format.
func (e *roomEmitter) convert(pcm []byte) []byte {
	if e.srcChannels == 2 && e.target.Channels == 1 {
		pcm = audio.StereoToMono(pcm)
	}
	if e.srcRate != e.target.SampleRate && e.srcRate > 0 {
		pcm = audio.ResampleMono16(pcm, e.srcRate, e.target.SampleRate)
	}
	if e.srcChannels == 1 && e.target.Channels == 2 {
		pcm = audio.MonoToStereo(pcm)
	}
	return pcm
}

// frameBytes is the byte length of one 20 ms frame in the room format.
func (e *roomEmitter) frameBytes() int {
	samples := e.target.SampleRate * int(frameInterval.Milliseconds()) / 1000
	return samples * e.target.Channels * 2
}

// write sends one frame, giving up when the session context ends.
func (e *roomEmitter) write(data []byte) bool {
	frame := audio.AudioFrame{
		Data:       data,
		SampleRate: e.target.SampleRate,
		Channels:   e.target.Channels,
	}
	select {
	case e.out <- frame:
		return true
	case <-e.ctx.Done():
		return false
	}
}
