package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/swarmforge/swarmmem/internal/model"
)

// StartSession creates a swarm session in the active state.
func (c *Coordinator) StartSession(ctx context.Context, swarmID string, agentIDs []string, metadata model.SessionMetadata) (string, error) {
	if swarmID == "" {
		return "", fmt.Errorf("%w: swarm id is required", model.ErrValidation)
	}
	if len(agentIDs) == 0 {
		return "", fmt.Errorf("%w: at least one agent is required", model.ErrValidation)
	}

	s, err := c.storeHandle()
	if err != nil {
		return "", err
	}

	sess := &model.SwarmSession{
		ID:        uuid.NewString(),
		SwarmID:   swarmID,
		Status:    model.SessionActive,
		AgentIDs:  agentIDs,
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}
	if err := s.InsertSession(ctx, sess); err != nil {
		return "", err
	}

	c.emit(Event{Type: EventSessionStarted, SessionID: sess.ID})
	c.log.Info("session started",
		zap.String("session_id", sess.ID),
		zap.String("swarm_id", swarmID),
		zap.Int("agents", len(agentIDs)))
	return sess.ID, nil
}

// EndSession takes a best-effort snapshot of each participant's visible
// entries and transitions the session to completed. Terminal sessions are
// never re-transitioned.
func (c *Coordinator) EndSession(ctx context.Context, sessionID string) error {
	s, err := c.storeHandle()
	if err != nil {
		return err
	}

	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if model.TerminalSessionStatus(sess.Status) {
		return fmt.Errorf("%w: session %q already %s", model.ErrValidation, sessionID, sess.Status)
	}

	now := time.Now().UTC()
	snapshot := &model.SessionSnapshot{
		TakenAt: now,
		Agents:  make(map[string]model.AgentSnapshot, len(sess.AgentIDs)),
	}
	for _, agent := range sess.AgentIDs {
		entries, err := s.ListAgentEntries(ctx, agent)
		if err != nil {
			// One agent's data being unavailable degrades to a partial
			// snapshot; the transition still happens.
			c.log.Warn("session snapshot degraded",
				zap.String("session_id", sessionID),
				zap.String("agent_id", agent),
				zap.Error(err))
			snapshot.Partial = true
			continue
		}
		agentSnap := model.AgentSnapshot{EntryCount: len(entries)}
		for _, e := range entries {
			agentSnap.TotalBytes += e.SizeBytes
			agentSnap.Keys = append(agentSnap.Keys, e.Key)
		}
		snapshot.Agents[agent] = agentSnap
		snapshot.TotalBytes += agentSnap.TotalBytes
	}

	done, err := s.CompleteSession(ctx, sessionID, now, snapshot)
	if err != nil {
		return err
	}
	if !done {
		return fmt.Errorf("%w: session %q already terminal", model.ErrValidation, sessionID)
	}

	c.emit(Event{Type: EventSessionEnded, SessionID: sessionID})
	c.log.Info("session completed",
		zap.String("session_id", sessionID),
		zap.Int64("snapshot_bytes", snapshot.TotalBytes),
		zap.Bool("partial", snapshot.Partial))
	return nil
}

// PauseSession transitions an active session to paused.
func (c *Coordinator) PauseSession(ctx context.Context, sessionID string) error {
	return c.transitionSession(ctx, sessionID, model.SessionActive, model.SessionPaused)
}

// ResumeSession transitions a paused session back to active.
func (c *Coordinator) ResumeSession(ctx context.Context, sessionID string) error {
	return c.transitionSession(ctx, sessionID, model.SessionPaused, model.SessionActive)
}

func (c *Coordinator) transitionSession(ctx context.Context, sessionID, from, to string) error {
	s, err := c.storeHandle()
	if err != nil {
		return err
	}
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != from {
		return fmt.Errorf("%w: session %q is %s, not %s", model.ErrValidation, sessionID, sess.Status, from)
	}
	ok, err := s.UpdateSessionStatus(ctx, sessionID, to)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: session %q already terminal", model.ErrValidation, sessionID)
	}
	return nil
}

// GetSession returns a session by id.
func (c *Coordinator) GetSession(ctx context.Context, sessionID string) (*model.SwarmSession, error) {
	s, err := c.storeHandle()
	if err != nil {
		return nil, err
	}
	return s.GetSession(ctx, sessionID)
}

// ListSessions returns sessions, optionally filtered by status.
func (c *Coordinator) ListSessions(ctx context.Context, status string) ([]model.SwarmSession, error) {
	if status != "" && !model.ValidSessionStatuses[status] {
		return nil, fmt.Errorf("%w: unknown session status %q", model.ErrValidation, status)
	}
	s, err := c.storeHandle()
	if err != nil {
		return nil, err
	}
	return s.ListSessions(ctx, status)
}
