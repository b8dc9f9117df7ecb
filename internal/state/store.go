package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/khive-ai/khive-gateway/internal/metrics"
	"github.com/khive-ai/khive-gateway/internal/models"
)

// Store is the single source of truth for sessions, agents, and tasks. All
// mutation flows through ApplyEvent, ApplyCommandResult, and ReplaceAll; the
// coordination client calls those from one goroutine, which is what makes
// apply order deterministic. Snapshot and Subscribe are safe from any
// goroutine. Subscribers are notified only after a mutation has fully
// committed, so no caller ever observes a half-applied event.
type Store struct {
	logger  *log.Logger
	metrics *metrics.CoordinationMetrics

	mu       sync.RWMutex
	seq      uint64
	sessions map[string]*models.Session
	agents   map[string]*models.Agent
	tasks    map[string]*models.Task
	daemon   models.DaemonStatus

	subMu   sync.Mutex
	subs    map[int]func(models.StateSnapshot)
	nextSub int
}

// New creates an empty store.
func New(logger *log.Logger, m *metrics.CoordinationMetrics) *Store {
	return &Store{
		logger:   logger,
		metrics:  m,
		sessions: make(map[string]*models.Session),
		agents:   make(map[string]*models.Agent),
		tasks:    make(map[string]*models.Task),
		subs:     make(map[int]func(models.StateSnapshot)),
	}
}

// ApplyEvent mutates the model according to one validated event and notifies
// subscribers. Events referencing sessions, agents, or tasks the store has
// not seen yet create placeholder records first; the daemon is the authority
// and may reference entities before the event that introduces them arrives.
func (s *Store) ApplyEvent(ctx context.Context, ev *models.Event) error {
	payload, err := ev.Decode()
	if err != nil {
		// Only reachable when the ingest boundary was bypassed; existing
		// state is never touched.
		s.logger.Warn("ignoring invalid event", "event_id", ev.ID, "error", err)
		return fmt.Errorf("apply event %s: %w", ev.ID, err)
	}

	s.mu.Lock()
	switch p := payload.(type) {
	case *models.AgentSpawnPayload:
		s.applyAgentSpawn(ev, p)
	case *models.AgentStatusPayload:
		s.applyAgentStatus(ev, p)
	case *models.TaskStartPayload:
		s.applyTaskStart(ev, p)
	case *models.TaskCompletePayload:
		s.applyTaskComplete(ev, p)
	case *models.TaskFailedPayload:
		s.applyTaskFailed(ev, p)
	case *models.SessionUpdatedPayload:
		s.applySessionUpdated(ev, p)
	case *models.DaemonStatusPayload:
		s.applyDaemonStatus(ev, p)
	}
	s.seq++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.metrics.RecordEventApplied(ctx, string(ev.Type))
	s.notify(snap)
	return nil
}

// ApplyCommandResult merges any state change a successful command result
// carries, under the same writer discipline as events. Results without a
// state change leave the model untouched and notify nobody.
func (s *Store) ApplyCommandResult(ctx context.Context, res *models.CommandResult) error {
	rs, err := res.DecodeResultState()
	if err != nil {
		s.logger.Warn("ignoring malformed command result state",
			"correlation_id", res.CorrelationID, "error", err)
		return fmt.Errorf("apply command result %s: %w", res.CorrelationID, err)
	}
	if rs == nil {
		return nil
	}

	s.mu.Lock()
	if rs.Session != nil {
		sess := rs.Session.Clone()
		s.sessions[sess.ID] = &sess
	}
	if rs.Agent != nil {
		agent := rs.Agent.Clone()
		s.agents[agent.ID] = &agent
	}
	if rs.Task != nil {
		task := rs.Task.Clone()
		s.tasks[task.ID] = &task
	}
	s.seq++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

// ReplaceAll swaps the whole model for the fetched snapshot. Used for the
// initial full-state fetch and for reconciliation after a reconnect; readers
// see either the old state or the new one, never a mixture.
func (s *Store) ReplaceAll(ctx context.Context, snap *models.StateSnapshot) {
	sessions := make(map[string]*models.Session, len(snap.Sessions))
	for id, sess := range snap.Sessions {
		c := sess.Clone()
		if c.ID == "" {
			c.ID = id
		}
		sessions[id] = &c
	}
	agents := make(map[string]*models.Agent, len(snap.Agents))
	for id, agent := range snap.Agents {
		c := agent.Clone()
		if c.ID == "" {
			c.ID = id
		}
		agents[id] = &c
	}
	tasks := make(map[string]*models.Task, len(snap.Tasks))
	for id, task := range snap.Tasks {
		c := task.Clone()
		if c.ID == "" {
			c.ID = id
		}
		tasks[id] = &c
	}

	s.mu.Lock()
	s.sessions = sessions
	s.agents = agents
	s.tasks = tasks
	if snap.Daemon.Health != "" {
		s.daemon = snap.Daemon
	}
	s.seq++
	out := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(out)
}

// Snapshot returns an immutable, fully-applied view of the model.
func (s *Store) Snapshot() models.StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe registers a change listener, invoked with the post-apply
// snapshot after every mutation. Listeners run on the applying goroutine and
// must not block; the returned function unsubscribes.
func (s *Store) Subscribe(fn func(models.StateSnapshot)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(snap models.StateSnapshot) {
	s.subMu.Lock()
	fns := make([]func(models.StateSnapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (s *Store) snapshotLocked() models.StateSnapshot {
	snap := models.StateSnapshot{
		Seq:      s.seq,
		Sessions: make(map[string]models.Session, len(s.sessions)),
		Agents:   make(map[string]models.Agent, len(s.agents)),
		Tasks:    make(map[string]models.Task, len(s.tasks)),
		Daemon:   s.daemon,
		TakenAt:  time.Now().UTC(),
	}
	for id, sess := range s.sessions {
		snap.Sessions[id] = sess.Clone()
	}
	for id, agent := range s.agents {
		snap.Agents[id] = agent.Clone()
	}
	for id, task := range s.tasks {
		snap.Tasks[id] = task.Clone()
	}
	return snap
}

func (s *Store) applyAgentSpawn(ev *models.Event, p *models.AgentSpawnPayload) {
	agent := s.ensureAgent(ev.AgentID, ev.Timestamp)
	if p.Role != "" {
		agent.Role = p.Role
	}
	if p.Domain != "" {
		agent.Domain = p.Domain
	}
	agent.Status = models.AgentIdle
	agent.SpawnedAt = ev.Timestamp
	if ev.SessionID != "" {
		agent.SessionID = ev.SessionID
		sess := s.ensureSession(ev.SessionID, ev.Timestamp)
		if !sess.HasAgent(agent.ID) {
			sess.AgentIDs = append(sess.AgentIDs, agent.ID)
		}
	}
}

func (s *Store) applyAgentStatus(ev *models.Event, p *models.AgentStatusPayload) {
	agent := s.ensureAgent(ev.AgentID, ev.Timestamp)
	agent.Status = p.Status
	switch {
	case p.TaskID != "":
		s.ensureTask(p.TaskID, ev.Timestamp, ev.SessionID, ev.AgentID)
		agent.CurrentTaskID = p.TaskID
	case p.Status == models.AgentIdle || p.Status == models.AgentCompleted || p.Status == models.AgentError:
		agent.CurrentTaskID = ""
	}
	if ev.SessionID != "" && agent.SessionID == "" {
		agent.SessionID = ev.SessionID
		sess := s.ensureSession(ev.SessionID, ev.Timestamp)
		if !sess.HasAgent(agent.ID) {
			sess.AgentIDs = append(sess.AgentIDs, agent.ID)
		}
	}
}

func (s *Store) applyTaskStart(ev *models.Event, p *models.TaskStartPayload) {
	task := s.ensureTask(p.TaskID, ev.Timestamp, ev.SessionID, ev.AgentID)
	task.Status = models.TaskRunning
	task.StartedAt = ev.Timestamp
	if p.Description != "" {
		task.Description = p.Description
	}
	if ev.AgentID != "" {
		agent := s.ensureAgent(ev.AgentID, ev.Timestamp)
		agent.CurrentTaskID = task.ID
		agent.Status = models.AgentActive
	}
}

func (s *Store) applyTaskComplete(ev *models.Event, p *models.TaskCompletePayload) {
	task := s.ensureTask(p.TaskID, ev.Timestamp, ev.SessionID, ev.AgentID)
	duration := time.Duration(p.DurationMS * float64(time.Millisecond))

	// Counters move once per task, even if the daemon restates a terminal
	// task; fields still take the latest values.
	first := task.Status != models.TaskCompleted
	task.Status = models.TaskCompleted
	task.Duration = duration
	task.Error = ""

	if first {
		if agent := s.agentForTask(ev, task); agent != nil {
			agent.Perf.Successes++
			agent.Perf.TotalDuration += duration
			if agent.CurrentTaskID == task.ID {
				agent.CurrentTaskID = ""
			}
		}
		if sess := s.sessionForTask(ev, task); sess != nil {
			sess.TasksCompleted++
			sess.TotalTaskDuration += duration
		}
	}
}

func (s *Store) applyTaskFailed(ev *models.Event, p *models.TaskFailedPayload) {
	task := s.ensureTask(p.TaskID, ev.Timestamp, ev.SessionID, ev.AgentID)
	duration := time.Duration(p.DurationMS * float64(time.Millisecond))

	first := task.Status != models.TaskFailed
	task.Status = models.TaskFailed
	task.Error = p.Error
	if duration > 0 {
		task.Duration = duration
	}

	if first {
		if agent := s.agentForTask(ev, task); agent != nil {
			agent.Perf.Failures++
			if agent.CurrentTaskID == task.ID {
				agent.CurrentTaskID = ""
			}
		}
		if sess := s.sessionForTask(ev, task); sess != nil {
			sess.TasksFailed++
		}
	}
}

func (s *Store) applySessionUpdated(ev *models.Event, p *models.SessionUpdatedPayload) {
	sess := s.ensureSession(ev.SessionID, ev.Timestamp)
	if p.Name != "" {
		sess.Name = p.Name
	}
	if p.Status != "" {
		terminal := p.Status == models.SessionCompleted || p.Status == models.SessionFailed
		if terminal && sess.Duration == 0 && !sess.CreatedAt.IsZero() {
			sess.Duration = ev.Timestamp.Sub(sess.CreatedAt)
		}
		sess.Status = p.Status
	}
	if p.Strategy != "" {
		sess.Strategy = p.Strategy
	}
	if p.AgentIDs != nil {
		sess.AgentIDs = append([]string(nil), p.AgentIDs...)
		for _, id := range p.AgentIDs {
			agent := s.ensureAgent(id, ev.Timestamp)
			if agent.SessionID == "" {
				agent.SessionID = sess.ID
			}
		}
	}
}

func (s *Store) applyDaemonStatus(ev *models.Event, p *models.DaemonStatusPayload) {
	s.daemon = models.DaemonStatus{
		Health:         p.Health,
		Version:        p.Version,
		Uptime:         time.Duration(p.UptimeSeconds * float64(time.Second)),
		ActiveSessions: p.ActiveSessions,
		ActiveAgents:   p.ActiveAgents,
		ReportedAt:     ev.Timestamp,
	}
}

func (s *Store) ensureSession(id string, at time.Time) *models.Session {
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess := &models.Session{
		ID:        id,
		Name:      models.PlaceholderField,
		Status:    models.SessionPending,
		AgentIDs:  []string{},
		CreatedAt: at,
	}
	s.sessions[id] = sess
	return sess
}

func (s *Store) ensureAgent(id string, at time.Time) *models.Agent {
	if agent, ok := s.agents[id]; ok {
		return agent
	}
	agent := &models.Agent{
		ID:        id,
		Role:      models.PlaceholderField,
		Domain:    models.PlaceholderField,
		Status:    models.AgentIdle,
		SpawnedAt: at,
	}
	s.agents[id] = agent
	return agent
}

func (s *Store) ensureTask(id string, at time.Time, sessionID, agentID string) *models.Task {
	task, ok := s.tasks[id]
	if !ok {
		task = &models.Task{
			ID:        id,
			Status:    models.TaskRunning,
			StartedAt: at,
		}
		s.tasks[id] = task
	}
	if task.SessionID == "" && sessionID != "" {
		task.SessionID = sessionID
		s.ensureSession(sessionID, at)
	}
	if task.AgentID == "" && agentID != "" {
		task.AgentID = agentID
		s.ensureAgent(agentID, at)
	}
	return task
}

func (s *Store) agentForTask(ev *models.Event, task *models.Task) *models.Agent {
	id := ev.AgentID
	if id == "" {
		id = task.AgentID
	}
	if id == "" {
		return nil
	}
	return s.ensureAgent(id, ev.Timestamp)
}

func (s *Store) sessionForTask(ev *models.Event, task *models.Task) *models.Session {
	id := ev.SessionID
	if id == "" {
		id = task.SessionID
	}
	if id == "" {
		return nil
	}
	return s.ensureSession(id, ev.Timestamp)
}
