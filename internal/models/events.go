package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies one kind of state-changing fact pushed by the daemon.
// The set is closed: anything else is rejected at the ingestion boundary.
type EventType string

const (
	EventAgentSpawn          EventType = "agent_spawn"
	EventAgentStatusUpdate   EventType = "agent_status_update"
	EventTaskStart           EventType = "task_start"
	EventTaskComplete        EventType = "task_complete"
	EventTaskFailed          EventType = "task_failed"
	EventSessionUpdated      EventType = "session_updated"
	EventDaemonStatusUpdated EventType = "daemon_status_updated"
)

// Known reports whether t belongs to the closed event type set.
func (t EventType) Known() bool {
	switch t {
	case EventAgentSpawn, EventAgentStatusUpdate, EventTaskStart,
		EventTaskComplete, EventTaskFailed, EventSessionUpdated,
		EventDaemonStatusUpdated:
		return true
	}
	return false
}

// Event represents one immutable fact from the daemon event stream.
// The payload stays raw until Decode resolves it into the shape for its type.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"sessionId,omitempty"`
	AgentID   string          `json:"agentId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// AgentSpawnPayload accompanies agent_spawn events.
type AgentSpawnPayload struct {
	Role   string `json:"role"`
	Domain string `json:"domain,omitempty"`
	Name   string `json:"name,omitempty"`
}

// AgentStatusPayload accompanies agent_status_update events.
type AgentStatusPayload struct {
	Status AgentStatus `json:"status"`
	TaskID string      `json:"taskId,omitempty"`
}

// TaskStartPayload accompanies task_start events.
type TaskStartPayload struct {
	TaskID      string `json:"taskId"`
	Description string `json:"description,omitempty"`
}

// TaskCompletePayload accompanies task_complete events.
type TaskCompletePayload struct {
	TaskID     string  `json:"taskId"`
	DurationMS float64 `json:"durationMs"`
	Result     string  `json:"result,omitempty"`
}

// TaskFailedPayload accompanies task_failed events.
type TaskFailedPayload struct {
	TaskID     string  `json:"taskId"`
	Error      string  `json:"error"`
	DurationMS float64 `json:"durationMs,omitempty"`
}

// SessionUpdatedPayload accompanies session_updated events. Zero-valued
// fields mean "unchanged"; the daemon sends only what moved.
type SessionUpdatedPayload struct {
	Name     string        `json:"name,omitempty"`
	Status   SessionStatus `json:"status,omitempty"`
	Strategy string        `json:"strategy,omitempty"`
	AgentIDs []string      `json:"agentIds,omitempty"`
}

// DaemonStatusPayload accompanies daemon_status_updated events.
type DaemonStatusPayload struct {
	Health         string  `json:"health"`
	Version        string  `json:"version,omitempty"`
	UptimeSeconds  float64 `json:"uptimeSeconds,omitempty"`
	ActiveSessions int     `json:"activeSessions"`
	ActiveAgents   int     `json:"activeAgents"`
}

// Decode validates the event and resolves its payload into the typed shape
// for its kind, so downstream switches are exhaustive instead of map-probing.
func (e *Event) Decode() (interface{}, error) {
	if e.ID == "" {
		return nil, fmt.Errorf("event missing id")
	}
	if !e.Type.Known() {
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.Timestamp.IsZero() {
		return nil, fmt.Errorf("event %s missing timestamp", e.ID)
	}

	switch e.Type {
	case EventAgentSpawn:
		if e.AgentID == "" {
			return nil, fmt.Errorf("agent_spawn %s missing agentId", e.ID)
		}
		var p AgentSpawnPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("agent_spawn payload: %w", err)
		}
		return &p, nil

	case EventAgentStatusUpdate:
		if e.AgentID == "" {
			return nil, fmt.Errorf("agent_status_update %s missing agentId", e.ID)
		}
		var p AgentStatusPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("agent_status_update payload: %w", err)
		}
		if !p.Status.Valid() {
			return nil, fmt.Errorf("agent_status_update %s has invalid status %q", e.ID, p.Status)
		}
		return &p, nil

	case EventTaskStart:
		var p TaskStartPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("task_start payload: %w", err)
		}
		if p.TaskID == "" {
			return nil, fmt.Errorf("task_start %s missing taskId", e.ID)
		}
		return &p, nil

	case EventTaskComplete:
		var p TaskCompletePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("task_complete payload: %w", err)
		}
		if p.TaskID == "" {
			return nil, fmt.Errorf("task_complete %s missing taskId", e.ID)
		}
		return &p, nil

	case EventTaskFailed:
		var p TaskFailedPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("task_failed payload: %w", err)
		}
		if p.TaskID == "" {
			return nil, fmt.Errorf("task_failed %s missing taskId", e.ID)
		}
		return &p, nil

	case EventSessionUpdated:
		if e.SessionID == "" {
			return nil, fmt.Errorf("session_updated %s missing sessionId", e.ID)
		}
		var p SessionUpdatedPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("session_updated payload: %w", err)
		}
		if p.Status != "" && !p.Status.Valid() {
			return nil, fmt.Errorf("session_updated %s has invalid status %q", e.ID, p.Status)
		}
		return &p, nil

	case EventDaemonStatusUpdated:
		var p DaemonStatusPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("daemon_status_updated payload: %w", err)
		}
		return &p, nil
	}

	return nil, fmt.Errorf("unknown event type %q", e.Type)
}

// InboundKind discriminates the two frame shapes the daemon socket carries.
type InboundKind int

const (
	InboundUnknown InboundKind = iota
	InboundEvent
	InboundCommandResult
)

// ClassifyInbound peeks at a raw frame and reports which wire shape it
// carries: events have id+type, command results have a correlationId.
func ClassifyInbound(raw []byte) InboundKind {
	var probe struct {
		ID            string `json:"id"`
		Type          string `json:"type"`
		CorrelationID string `json:"correlationId"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return InboundUnknown
	}
	if probe.CorrelationID != "" {
		return InboundCommandResult
	}
	if probe.ID != "" || probe.Type != "" {
		return InboundEvent
	}
	return InboundUnknown
}
