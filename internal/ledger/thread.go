package ledger

import "time"

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Thread growth bounds: once a thread exceeds pruneAbove turns it is cut
// back to the most recent pruneKeep.
const (
	pruneAbove = 500
	pruneKeep  = 250
)

// Turn is a single message in a conversation thread.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	SourceID  string    `json:"source_id"`
	ThreadID  string    `json:"thread_id"`
}

// Thread is an ordered, source-scoped sequence of conversational turns.
type Thread struct {
	ID         string    `json:"thread_id"`
	SourceID   string    `json:"source_id"`
	Turns      []Turn    `json:"turns"`
	Summary    string    `json:"summary"`
	Topics     []string  `json:"topics"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

func newThread(id, sourceID string) *Thread {
	now := time.Now()
	return &Thread{
		ID:         id,
		SourceID:   sourceID,
		CreatedAt:  now,
		LastActive: now,
	}
}

// AddTurn appends a turn and bumps the activity clock.
func (t *Thread) AddTurn(role, content string) {
	t.Turns = append(t.Turns, Turn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		SourceID:  t.SourceID,
		ThreadID:  t.ID,
	})
	t.LastActive = time.Now()
}

// prune bounds thread memory by dropping the oldest turns.
func (t *Thread) prune() {
	if len(t.Turns) > pruneAbove {
		t.Turns = t.Turns[len(t.Turns)-pruneKeep:]
	}
}

// recent returns the last n turns.
func (t *Thread) recent(n int) []Turn {
	if len(t.Turns) <= n {
		return t.Turns
	}
	return t.Turns[len(t.Turns)-n:]
}
