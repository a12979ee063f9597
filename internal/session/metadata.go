package session

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/joi-ai/voiceworker/pkg/audio"
)

// defaultAgentID is used when no source names an agent.
const defaultAgentID = "personal"

// roomNamePrefix is the conventional room naming scheme: the conversation id
// follows the prefix.
const roomNamePrefix = "joi-voice-"

// Identity is the conversation the session speaks for. Every gateway call
// carries it.
type Identity struct {
	ConversationID string
	AgentID        string
}

// identityPayload is the JSON shape embedded in room and participant
// metadata.
type identityPayload struct {
	ConversationID string `json:"conversationId"`
	AgentID        string `json:"agentId"`
}

// ResolveIdentity derives the conversation identity for a room. Sources are
// tried in order, first match wins:
//
//  1. room metadata JSON,
//  2. the room name when it follows the joi-voice-<conversationId> scheme,
//  3. the first participant's metadata JSON,
//  4. a fresh UUID (the gateway will create the conversation on first use).
//
// The agent id defaults to "personal" whenever the winning source does not
// name one.
func ResolveIdentity(meta audio.RoomMetadata, participants []audio.Event) Identity {
	if id, ok := parseIdentity(meta.Metadata); ok {
		return id
	}

	if rest, ok := strings.CutPrefix(meta.Name, roomNamePrefix); ok && rest != "" {
		return Identity{ConversationID: rest, AgentID: defaultAgentID}
	}

	for _, p := range participants {
		if id, ok := parseIdentity(p.Metadata); ok {
			return id
		}
	}

	return Identity{ConversationID: uuid.NewString(), AgentID: defaultAgentID}
}

// parseIdentity extracts an identity from a metadata JSON blob. Returns
// false when the blob is empty, malformed, or carries no conversation id.
func parseIdentity(raw string) (Identity, bool) {
	if raw == "" {
		return Identity{}, false
	}
	var payload identityPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Identity{}, false
	}
	if payload.ConversationID == "" {
		return Identity{}, false
	}
	id := Identity{ConversationID: payload.ConversationID, AgentID: payload.AgentID}
	if id.AgentID == "" {
		id.AgentID = defaultAgentID
	}
	return id, true
}
