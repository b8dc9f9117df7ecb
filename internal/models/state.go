package models

import (
	"time"
)

// PlaceholderField is what placeholder records carry for attributes the
// daemon has not described yet. The daemon is the authority and may reference
// entities before the event that introduces them arrives.
const PlaceholderField = "unknown"

// SessionStatus represents the lifecycle state of an orchestration run.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Valid reports whether s is a recognized session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionPending, SessionRunning, SessionCompleted, SessionFailed:
		return true
	}
	return false
}

// AgentStatus represents the working state of a spawned agent.
type AgentStatus string

const (
	AgentIdle      AgentStatus = "idle"
	AgentActive    AgentStatus = "active"
	AgentBlocked   AgentStatus = "blocked"
	AgentError     AgentStatus = "error"
	AgentCompleted AgentStatus = "completed"
)

// Valid reports whether s is a recognized agent status.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentIdle, AgentActive, AgentBlocked, AgentError, AgentCompleted:
		return true
	}
	return false
}

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Session represents one orchestration run coordinating agents toward a goal.
type Session struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Status    SessionStatus `json:"status"`
	Strategy  string        `json:"strategy,omitempty"`
	AgentIDs  []string      `json:"agentIds"`
	CreatedAt time.Time     `json:"createdAt"`
	Duration  time.Duration `json:"duration"`

	// Task aggregates are kept as running sums so derived averages never
	// accumulate recomputation drift.
	TasksCompleted    int           `json:"tasksCompleted"`
	TasksFailed       int           `json:"tasksFailed"`
	TotalTaskDuration time.Duration `json:"totalTaskDuration"`
}

// AverageTaskDuration derives the mean completed-task duration from the
// running sums. Zero when nothing has completed.
func (s *Session) AverageTaskDuration() time.Duration {
	if s.TasksCompleted == 0 {
		return 0
	}
	return s.TotalTaskDuration / time.Duration(s.TasksCompleted)
}

// HasAgent reports whether the session already lists the agent.
func (s *Session) HasAgent(agentID string) bool {
	for _, id := range s.AgentIDs {
		if id == agentID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand outside the store.
func (s *Session) Clone() Session {
	out := *s
	out.AgentIDs = append([]string(nil), s.AgentIDs...)
	return out
}

// AgentPerf holds an agent's performance counters as running sums.
type AgentPerf struct {
	Successes     int           `json:"successes"`
	Failures      int           `json:"failures"`
	TotalDuration time.Duration `json:"totalDuration"`
}

// AverageDuration derives the mean successful-task duration from the running
// sums. Zero when nothing has succeeded.
func (p AgentPerf) AverageDuration() time.Duration {
	if p.Successes == 0 {
		return 0
	}
	return p.TotalDuration / time.Duration(p.Successes)
}

// Agent represents one spawned worker executing a role+domain specific task.
type Agent struct {
	ID            string      `json:"id"`
	Role          string      `json:"role"`
	Domain        string      `json:"domain"`
	Status        AgentStatus `json:"status"`
	SessionID     string      `json:"sessionId,omitempty"`
	CurrentTaskID string      `json:"currentTaskId,omitempty"`
	SpawnedAt     time.Time   `json:"spawnedAt"`
	Perf          AgentPerf   `json:"perf"`
}

// Clone returns a copy safe to hand outside the store.
func (a *Agent) Clone() Agent {
	return *a
}

// Task represents one unit of work executed by an agent within a session.
type Task struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"sessionId,omitempty"`
	AgentID     string        `json:"agentId,omitempty"`
	Description string        `json:"description,omitempty"`
	Status      TaskStatus    `json:"status"`
	StartedAt   time.Time     `json:"startedAt"`
	Duration    time.Duration `json:"duration,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Clone returns a copy safe to hand outside the store.
func (t *Task) Clone() Task {
	return *t
}

// DaemonStatus mirrors the daemon's own health report.
type DaemonStatus struct {
	Health         string        `json:"health"`
	Version        string        `json:"version,omitempty"`
	Uptime         time.Duration `json:"uptime,omitempty"`
	ActiveSessions int           `json:"activeSessions"`
	ActiveAgents   int           `json:"activeAgents"`
	ReportedAt     time.Time     `json:"reportedAt"`
}

// StateSnapshot is an immutable, fully-applied view of daemon state. Seq
// increases by one per applied change, so consumers can detect gaps in their
// own delivery without comparing whole snapshots.
type StateSnapshot struct {
	Seq      uint64             `json:"seq"`
	Sessions map[string]Session `json:"sessions"`
	Agents   map[string]Agent   `json:"agents"`
	Tasks    map[string]Task    `json:"tasks"`
	Daemon   DaemonStatus       `json:"daemon"`
	TakenAt  time.Time          `json:"takenAt"`
}

// Counts summarizes the snapshot for logs and CLI output.
func (s *StateSnapshot) Counts() (sessions, agents, tasks int) {
	return len(s.Sessions), len(s.Agents), len(s.Tasks)
}
