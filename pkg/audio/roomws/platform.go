// Package roomws implements the [audio.Platform] interface over the JOI
// media gateway's WebSocket protocol.
//
// The protocol uses two message kinds on one socket:
//
//   - Text messages are JSON control frames: the worker announces itself
//     with "hello", the gateway answers with the room descriptor and the
//     current participant roster, and later sends "join"/"leave" as the
//     roster changes. The worker publishes "caption" frames for live
//     transcript rendering.
//   - Binary messages are raw little-endian 16-bit PCM prefixed with a
//     4-byte big-endian participant index. Index 0 is the worker's outbound
//     track; all other indexes are inbound participant audio.
//
// The [Socket] seam decouples the connection logic from the live transport
// so tests can drive the protocol without sockets.
package roomws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coder/websocket"

	"github.com/joi-ai/voiceworker/pkg/audio"
)

const (
	// defaultSampleRate and defaultChannels apply when the gateway's hello
	// frame does not pin the room's PCM format.
	defaultSampleRate = 48000
	defaultChannels   = 2

	defaultWorkerName = "joi-voice-worker"
)

// MessageType distinguishes control frames from audio frames on a [Socket].
type MessageType int

const (
	// MessageText is a JSON control frame.
	MessageText MessageType = iota

	// MessageBinary is an indexed PCM frame.
	MessageBinary
)

// Socket is the minimal transport surface the connection needs. The
// production implementation wraps coder/websocket; tests substitute an
// in-memory fake via [WithDialer].
type Socket interface {
	// Read blocks until the next message arrives or ctx is done.
	Read(ctx context.Context) (MessageType, []byte, error)

	// Write sends one message. Implementations must be safe for concurrent
	// writers.
	Write(ctx context.Context, typ MessageType, data []byte) error

	// Close tears down the transport. Pending Reads return an error.
	Close() error
}

// DialFunc opens a [Socket] to the given URL.
type DialFunc func(ctx context.Context, wsURL string, header http.Header) (Socket, error)

// Option is a functional option for configuring a Platform.
type Option func(*Platform)

// WithToken sets the bearer token sent when dialing the media gateway.
func WithToken(token string) Option {
	return func(p *Platform) { p.token = token }
}

// WithWorkerName overrides the participant name the worker announces.
func WithWorkerName(name string) Option {
	return func(p *Platform) {
		if name != "" {
			p.workerName = name
		}
	}
}

// WithDialer overrides the transport dialer. Used by tests to connect the
// platform to a fake socket.
func WithDialer(dial DialFunc) Option {
	return func(p *Platform) { p.dial = dial }
}

// Platform connects to rooms on one JOI media gateway. It implements
// [audio.Platform] and is safe for concurrent use.
type Platform struct {
	baseURL    string
	token      string
	workerName string
	dial       DialFunc
}

// Ensure Platform implements audio.Platform at compile time.
var _ audio.Platform = (*Platform)(nil)

// New creates a Platform for the media gateway at baseURL (ws:// or wss://).
func New(baseURL string, opts ...Option) (*Platform, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("roomws: baseURL must not be empty")
	}
	p := &Platform{
		baseURL:    baseURL,
		workerName: defaultWorkerName,
		dial:       dialWebsocket,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Connect dials the gateway, performs the hello handshake for roomName, and
// returns the live connection.
func (p *Platform) Connect(ctx context.Context, roomName string) (audio.Connection, error) {
	wsURL := fmt.Sprintf("%s/api/voice/media?room=%s", p.baseURL, url.QueryEscape(roomName))

	header := http.Header{}
	if p.token != "" {
		header.Set("Authorization", "Bearer "+p.token)
	}

	sock, err := p.dial(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("roomws: dial %s: %w", wsURL, err)
	}

	conn, err := newConnection(ctx, sock, p.workerName)
	if err != nil {
		sock.Close()
		return nil, err
	}
	return conn, nil
}

// wsSocket adapts a coder/websocket connection to the [Socket] interface.
type wsSocket struct {
	conn *websocket.Conn
}

func dialWebsocket(ctx context.Context, wsURL string, header http.Header) (Socket, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, err
	}
	// Room audio runs continuously; the protocol has no per-message size
	// negotiation.
	conn.SetReadLimit(1 << 20)
	return &wsSocket{conn: conn}, nil
}

func (s *wsSocket) Read(ctx context.Context) (MessageType, []byte, error) {
	typ, data, err := s.conn.Read(ctx)
	if err != nil {
		return 0, nil, err
	}
	if typ == websocket.MessageBinary {
		return MessageBinary, data, nil
	}
	return MessageText, data, nil
}

func (s *wsSocket) Write(ctx context.Context, typ MessageType, data []byte) error {
	wsType := websocket.MessageText
	if typ == MessageBinary {
		wsType = websocket.MessageBinary
	}
	return s.conn.Write(ctx, wsType, data)
}

func (s *wsSocket) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "disconnect")
}
