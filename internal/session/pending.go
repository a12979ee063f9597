package session

import "sync"

// PendingTurn correlates one chat turn with the cache metrics reported after
// its audio finishes playing.
type PendingTurn struct {
	ConversationID string
	AgentID        string
	MessageID      string
}

// pendingQueue is a FIFO of turns awaiting a metrics report. Chat turns
// finish (done event) before their synthesis turn reports metrics, so the
// oldest descriptor always belongs to the oldest unreported turn.
type pendingQueue struct {
	mu    sync.Mutex
	turns []PendingTurn
}

// Push appends a descriptor. Turns without a message id are not pushed;
// there is nothing to correlate the report to.
func (q *pendingQueue) Push(t PendingTurn) {
	if t.MessageID == "" {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.turns = append(q.turns, t)
}

// Pop removes and returns the oldest descriptor. Each metrics report
// consumes at most one descriptor.
func (q *pendingQueue) Pop() (PendingTurn, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.turns) == 0 {
		return PendingTurn{}, false
	}
	t := q.turns[0]
	q.turns = q.turns[1:]
	return t, true
}

// Len returns the number of queued descriptors.
func (q *pendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.turns)
}
