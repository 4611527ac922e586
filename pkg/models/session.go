// Package models defines the shared entity types persisted by the store
// facade and exchanged between the runtime components.
package models

import (
	"strings"
	"time"
)

// SessionKind distinguishes the four session taxonomies.
type SessionKind string

const (
	// SessionMain is the durable conversational session. Protected from deletion.
	SessionMain SessionKind = "main"

	// SessionSubagent is owned by a coordinator task and cleaned up after it.
	SessionSubagent SessionKind = "subagent"

	// SessionCron is owned by a scheduled heartbeat job.
	SessionCron SessionKind = "cron"

	// SessionRun is a one-shot script session.
	SessionRun SessionKind = "run"
)

// SessionState tracks the lifecycle of a session row.
type SessionState string

const (
	SessionActive    SessionState = "active"
	SessionCompleted SessionState = "completed"
	SessionPruned    SessionState = "pruned"
)

// Session is a unit of conversational state.
type Session struct {
	ID              string       `json:"session_id"`
	Kind            SessionKind  `json:"kind"`
	ParentSessionID string       `json:"parent_session_id,omitempty"`
	AgentID         string       `json:"agent_id"`
	State           SessionState `json:"state"`
	CreatedAt       time.Time    `json:"created_at"`
	LastActiveAt    time.Time    `json:"last_active_at"`
}

// Protected reports whether the session is exempt from deletion and pruning.
func (s *Session) Protected() bool {
	return s.Kind == SessionMain
}

// KindFromSessionID derives the session kind from markers in the session key.
// Keys follow the parent platform convention: "<base>", "<base>:subagent:<id>",
// "<base>:cron:<job>", "<base>:run:<id>". Unmarked keys are main sessions.
func KindFromSessionID(id string) SessionKind {
	for _, marker := range []struct {
		tag  string
		kind SessionKind
	}{
		{":subagent:", SessionSubagent},
		{":cron:", SessionCron},
		{":run:", SessionRun},
	} {
		if strings.Contains(id, marker.tag) {
			return marker.kind
		}
	}
	return SessionMain
}
