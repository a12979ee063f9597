package roomws

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joi-ai/voiceworker/pkg/audio"
)

// outboundIndex is the participant index of the worker's own track.
const outboundIndex = 0

// inputBuffer is the per-participant frame buffer. The reader drops frames
// when a consumer falls this far behind rather than stalling the socket.
const inputBuffer = 64

// participant is the roster entry carried by hello/join/leave frames.
type participant struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Name     string `json:"name"`
	Metadata string `json:"metadata,omitempty"`
}

// controlFrame is the union of all JSON control messages on the socket.
type controlFrame struct {
	Type string `json:"type"`

	// hello (worker → gateway): announced participant name.
	Name string `json:"name,omitempty"`

	// hello (gateway → worker): room descriptor, format, and roster.
	Room struct {
		Name     string `json:"name"`
		Metadata string `json:"metadata"`
	} `json:"room,omitempty"`
	Audio struct {
		SampleRate int `json:"sampleRate"`
		Channels   int `json:"channels"`
	} `json:"audio,omitempty"`
	Participants []participant `json:"participants,omitempty"`

	// join / leave.
	Participant *participant `json:"participant,omitempty"`

	// caption (worker → gateway).
	SegmentID string `json:"segmentId,omitempty"`
	Text      string `json:"text,omitempty"`
	StartMs   int64  `json:"startMs,omitempty"`
}

// connection is a live room session. It implements [audio.Connection].
type connection struct {
	sock Socket
	meta audio.RoomMetadata

	sampleRate int
	channels   int

	mu        sync.Mutex
	inputs    map[string]chan audio.AudioFrame
	indexToID map[int]string
	onChange  func(audio.Event)
	closed    bool

	out     chan audio.AudioFrame
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	started time.Time
	log     *slog.Logger
}

// Ensure connection implements audio.Connection at compile time.
var _ audio.Connection = (*connection)(nil)

// newConnection announces the worker, waits for the gateway's hello, and
// starts the reader and writer loops.
func newConnection(ctx context.Context, sock Socket, workerName string) (*connection, error) {
	hello, err := json.Marshal(controlFrame{Type: "hello", Name: workerName})
	if err != nil {
		return nil, fmt.Errorf("roomws: encoding hello: %w", err)
	}
	if err := sock.Write(ctx, MessageText, hello); err != nil {
		return nil, fmt.Errorf("roomws: sending hello: %w", err)
	}

	reply, err := readHello(ctx, sock)
	if err != nil {
		return nil, err
	}

	c := &connection{
		sock: sock,
		meta: audio.RoomMetadata{
			Name:     reply.Room.Name,
			Metadata: reply.Room.Metadata,
		},
		sampleRate: reply.Audio.SampleRate,
		channels:   reply.Audio.Channels,
		inputs:     make(map[string]chan audio.AudioFrame),
		indexToID:  make(map[int]string),
		out:        make(chan audio.AudioFrame, inputBuffer),
		done:       make(chan struct{}),
		started:    time.Now(),
		log:        slog.With("component", "roomws", "room", reply.Room.Name),
	}
	if c.sampleRate <= 0 {
		c.sampleRate = defaultSampleRate
	}
	if c.channels <= 0 {
		c.channels = defaultChannels
	}

	for _, p := range reply.Participants {
		c.addParticipant(p, false)
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

// readHello reads control frames until the gateway's hello arrives, skipping
// anything else sent before the handshake completes.
func readHello(ctx context.Context, sock Socket) (*controlFrame, error) {
	for {
		typ, data, err := sock.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("roomws: waiting for hello: %w", err)
		}
		if typ != MessageText {
			continue
		}
		var frame controlFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("roomws: malformed hello: %w", err)
		}
		if frame.Type == "hello" {
			return &frame, nil
		}
	}
}

// InputStreams returns a snapshot of the current per-participant channels.
func (c *connection) InputStreams() map[string]<-chan audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make(map[string]<-chan audio.AudioFrame, len(c.inputs))
	for id, ch := range c.inputs {
		snapshot[id] = ch
	}
	return snapshot
}

// OutputStream returns the worker's outbound audio channel.
func (c *connection) OutputStream() chan<- audio.AudioFrame {
	return c.out
}

// PublishCaption sends a timed transcript fragment to the room.
func (c *connection) PublishCaption(caption audio.Caption) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.New("roomws: connection is closed")
	}

	frame, err := json.Marshal(controlFrame{
		Type:      "caption",
		SegmentID: caption.SegmentID,
		Text:      caption.Text,
		StartMs:   caption.StartMs,
	})
	if err != nil {
		return fmt.Errorf("roomws: encoding caption: %w", err)
	}
	if err := c.sock.Write(context.Background(), MessageText, frame); err != nil {
		return fmt.Errorf("roomws: sending caption: %w", err)
	}
	return nil
}

// Metadata returns the room descriptor captured at join time.
func (c *connection) Metadata() audio.RoomMetadata {
	return c.meta
}

// OnParticipantChange registers cb for roster events, replacing any
// previous registration.
func (c *connection) OnParticipantChange(cb func(audio.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = cb
}

// Disconnect tears down the connection. Safe to call more than once.
func (c *connection) Disconnect() error {
	c.once.Do(func() {
		close(c.done)
		c.sock.Close()
		c.wg.Wait()
		c.closeInputs()
	})
	return nil
}

// closeInputs closes every participant channel and marks the connection
// closed.
func (c *connection) closeInputs() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.inputs {
		close(ch)
		delete(c.inputs, id)
	}
}

// readLoop receives messages until the socket dies, dispatching audio to
// participant channels and roster changes to the callback.
func (c *connection) readLoop() {
	defer c.wg.Done()
	defer c.closeInputs()

	ctx := context.Background()
	for {
		typ, data, err := c.sock.Read(ctx)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warn("room socket closed", "error", err)
			}
			return
		}

		switch typ {
		case MessageBinary:
			c.dispatchAudio(data)
		case MessageText:
			c.dispatchControl(data)
		}
	}
}

// dispatchAudio routes one indexed PCM frame to its participant channel.
func (c *connection) dispatchAudio(data []byte) {
	if len(data) < 4 {
		return
	}
	index := int(binary.BigEndian.Uint32(data[:4]))
	if index == outboundIndex {
		// Echo of our own track; nothing to do with it.
		return
	}
	pcm := data[4:]
	if len(pcm) == 0 {
		return
	}

	c.mu.Lock()
	id, known := c.indexToID[index]
	ch := c.inputs[id]
	c.mu.Unlock()
	if !known || ch == nil {
		return
	}

	frame := audio.AudioFrame{
		Data:       pcm,
		SampleRate: c.sampleRate,
		Channels:   c.channels,
		Timestamp:  time.Since(c.started),
	}
	select {
	case ch <- frame:
	default:
		// Consumer is behind; dropping beats stalling every other stream.
	}
}

// dispatchControl handles join and leave frames.
func (c *connection) dispatchControl(data []byte) {
	var frame controlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.log.Warn("skipping malformed control frame", "error", err)
		return
	}

	switch frame.Type {
	case "join":
		if frame.Participant != nil {
			c.addParticipant(*frame.Participant, true)
		}
	case "leave":
		if frame.Participant != nil {
			c.removeParticipant(*frame.Participant)
		}
	}
}

// addParticipant registers a roster entry and optionally notifies the
// callback. Initial-roster entries are registered silently.
func (c *connection) addParticipant(p participant, notify bool) {
	if p.Index == outboundIndex || p.ID == "" {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if _, exists := c.inputs[p.ID]; !exists {
		c.inputs[p.ID] = make(chan audio.AudioFrame, inputBuffer)
	}
	c.indexToID[p.Index] = p.ID
	cb := c.onChange
	c.mu.Unlock()

	c.log.Info("participant joined", "id", p.ID, "name", p.Name, "index", p.Index)
	if notify && cb != nil {
		cb(audio.Event{
			Type:     audio.EventJoin,
			UserID:   p.ID,
			Username: p.Name,
			Metadata: p.Metadata,
		})
	}
}

// removeParticipant closes the participant's channel and notifies the
// callback.
func (c *connection) removeParticipant(p participant) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ch, exists := c.inputs[p.ID]
	if exists {
		close(ch)
		delete(c.inputs, p.ID)
	}
	delete(c.indexToID, p.Index)
	cb := c.onChange
	c.mu.Unlock()

	if !exists {
		return
	}
	c.log.Info("participant left", "id", p.ID, "name", p.Name)
	if cb != nil {
		cb(audio.Event{
			Type:     audio.EventLeave,
			UserID:   p.ID,
			Username: p.Name,
			Metadata: p.Metadata,
		})
	}
}

// writeLoop drains the output stream, prefixing each frame with the worker's
// track index.
func (c *connection) writeLoop() {
	defer c.wg.Done()

	ctx := context.Background()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.out:
			buf := make([]byte, 4+len(frame.Data))
			binary.BigEndian.PutUint32(buf[:4], outboundIndex)
			copy(buf[4:], frame.Data)
			if err := c.sock.Write(ctx, MessageBinary, buf); err != nil {
				select {
				case <-c.done:
				default:
					c.log.Warn("writing audio frame failed", "error", err)
				}
				return
			}
		}
	}
}
