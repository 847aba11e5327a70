package memory

import "time"

// EventType identifies a lifecycle transition observable by subscribers.
type EventType string

const (
	EventEntryStored      EventType = "entry.stored"
	EventEntryDeleted     EventType = "entry.deleted"
	EventNamespaceCreated EventType = "namespace.created"
	EventSessionStarted   EventType = "session.started"
	EventSessionEnded     EventType = "session.ended"
	EventShareRequested   EventType = "share.requested"
	EventShareApplied     EventType = "share.applied"
	EventCleanupCompleted EventType = "cleanup.completed"
	EventAnalyticsUpdated EventType = "analytics.updated"
)

// Event is a typed lifecycle notification.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Namespace string    `json:"namespace,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	EntryID   string    `json:"entry_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// EventHandler receives lifecycle events. Handlers run synchronously on the
// emitting goroutine and must return quickly.
type EventHandler func(Event)

// Subscribe registers a handler for all subsequent events.
func (c *Coordinator) Subscribe(h EventHandler) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.subs = append(c.subs, h)
}

func (c *Coordinator) emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	c.subsMu.RLock()
	subs := c.subs
	c.subsMu.RUnlock()
	for _, h := range subs {
		h(ev)
	}
}
