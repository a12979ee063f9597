// Package audio defines the interfaces and types for voice-room connectivity
// and stream management within the voice worker.
//
// The two primary abstractions are:
//
//   - [Platform] — connects to a voice room and returns a [Connection].
//   - [Connection] — represents an active session in that room, giving callers
//     per-participant input streams, a single output stream for the worker's
//     voice, caption publishing, and lifecycle events.
//
// Implementations are provided by transport-specific adapter packages (e.g.,
// audio/roomws for the JOI media gateway). The interfaces are intentionally
// narrow to keep the session loop decoupled from transport details.
package audio

import (
	"context"
)

// EventType classifies participant lifecycle events emitted by a [Connection].
type EventType int

const (
	// EventJoin is emitted when a participant enters the room.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the room.
	EventLeave
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Event describes a participant lifecycle change in a voice room.
// Callbacks registered via [Connection.OnParticipantChange] receive values of
// this type.
type Event struct {
	// Type indicates whether the participant joined or left.
	Type EventType

	// UserID is the transport-specific unique identifier for the participant.
	UserID string

	// Username is the human-readable display name of the participant.
	Username string

	// Metadata is the participant's opaque metadata blob, when the transport
	// carries one. Typically a JSON document set by the client application.
	Metadata string
}

// RoomMetadata describes the room a [Connection] has joined. The session
// layer resolves the conversation identity from these fields.
type RoomMetadata struct {
	// Name is the room's name as assigned by the media gateway.
	Name string

	// Metadata is the room's opaque metadata blob, typically a JSON document
	// set by whoever created the room. Empty when the room carries none.
	Metadata string
}

// Caption is a timed transcript fragment published alongside synthesized
// audio so clients can render what the worker is saying as it is spoken.
type Caption struct {
	// SegmentID groups caption fragments belonging to one spoken segment.
	SegmentID string

	// Text is the transcript fragment.
	Text string

	// StartMs is the offset of this fragment from the start of the current
	// reply, in milliseconds of audio.
	StartMs int64
}

// Connection represents an active session in a voice room.
//
// A Connection is obtained by calling [Platform.Connect] and remains valid
// until [Connection.Disconnect] is called or the context used to create it
// is cancelled. All channels returned by [Connection] methods are closed
// automatically when the connection terminates.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// InputStreams returns a snapshot of the current per-participant audio
	// channels. The map key is the participant ID; the value is a read-only
	// channel that delivers [AudioFrame] values as they arrive from that
	// participant. A new entry appears for each joining participant and is
	// removed (channel closed) when that participant leaves.
	//
	// Callers should call InputStreams again after receiving an [EventJoin]
	// event to pick up newly added channels.
	InputStreams() map[string]<-chan AudioFrame

	// OutputStream returns the single write-only channel for the worker's
	// synthesized voice. Frames written here are played to all participants.
	//
	// Ownership: the returned channel is owned by the caller (writer). The
	// platform does NOT close this channel on Disconnect — the caller is
	// responsible for stopping writes. Writing after Disconnect results in
	// dropped frames (not a panic).
	OutputStream() chan<- AudioFrame

	// PublishCaption sends a timed transcript fragment to the room. Captions
	// are best effort; an error indicates the connection is unusable, not a
	// malformed caption.
	PublishCaption(c Caption) error

	// Metadata returns the room descriptor captured at join time.
	Metadata() RoomMetadata

	// OnParticipantChange registers cb as the callback to invoke whenever a
	// participant joins or leaves the room. Only one callback may be
	// registered at a time; subsequent calls replace the previous
	// registration. The callback is invoked on an internal goroutine —
	// callers must not block.
	OnParticipantChange(cb func(Event))

	// Disconnect cleanly tears down the connection, drains pending frames,
	// and closes all channels. It is safe to call Disconnect more than once;
	// subsequent calls are no-ops and return nil.
	Disconnect() error
}

// Platform is the entry point for a voice-room transport.
// Implementations wrap a specific media transport and expose a uniform
// [Connection] abstraction.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the room identified by roomName and returns an active
	// [Connection]. The supplied ctx governs the lifetime of the connection
	// attempt only; once connected, the Connection remains alive until
	// [Connection.Disconnect] is called explicitly.
	Connect(ctx context.Context, roomName string) (Connection, error)
}
