// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"encoding/json"
	"time"
)

// EventType tags an EngineEvent.
type EventType string

const (
	EventStatus                EventType = "status"
	EventSessionCreated        EventType = "session_created"
	EventPerspectivesGenerated EventType = "perspectives_generated"
	EventTreeBuilt             EventType = "tree_built"
	EventProgress              EventType = "progress"
	EventSourcesDeduplicated   EventType = "sources_deduplicated"
	EventComplete              EventType = "complete"
	EventError                 EventType = "error"
)

// EngineEvent is one orchestration event. Exactly one terminal event
// (complete or error) is produced per session execution.
type EngineEvent struct {
	SessionID string          `json:"sessionId"`
	Seq       uint64          `json:"seq"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// IsTerminal reports whether e ends an execution.
func (e EngineEvent) IsTerminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// NewEvent marshals payload into an event for sessionID.
func NewEvent(sessionID string, typ EventType, payload any) EngineEvent {
	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"marshal_error": err.Error()})
	}
	return EngineEvent{
		SessionID: sessionID,
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Decode unmarshals the payload into v.
func (e EngineEvent) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Payloads carried by each event type.

type StatusPayload struct {
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
}

type SessionCreatedPayload struct {
	Session *ResearchSession `json:"session"`
}

type PerspectivesPayload struct {
	Perspectives []Perspective `json:"perspectives"`
	Fallback     bool          `json:"fallback,omitempty"`
}

type TreeBuiltPayload struct {
	Tree *ExplorationTree `json:"tree"`
}

type ProgressPayload struct {
	Progress
	Percent int    `json:"percent"`
	NodeID  string `json:"nodeId,omitempty"`
}

type DeduplicatedPayload struct {
	Total          int `json:"total"`
	Unique         int `json:"unique"`
	DuplicateCount int `json:"duplicateCount"`
}

type CompletePayload struct {
	Result *ResearchResult `json:"result"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Status  Status `json:"status"`
}
