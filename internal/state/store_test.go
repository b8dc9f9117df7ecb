package state

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khive-ai/khive-gateway/internal/metrics"
	"github.com/khive-ai/khive-gateway/internal/models"
)

var baseTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	m, err := metrics.NewCoordinationMetrics()
	require.NoError(t, err)
	return New(log.New(io.Discard), m)
}

func mkEvent(t *testing.T, id string, typ models.EventType, sessionID, agentID, payload string) *models.Event {
	t.Helper()
	ev := &models.Event{
		ID:        id,
		Type:      typ,
		Timestamp: baseTime,
		SessionID: sessionID,
		AgentID:   agentID,
		Payload:   json.RawMessage(payload),
	}
	_, err := ev.Decode()
	require.NoError(t, err, "test event must be well-formed")
	return ev
}

func TestStore_ApplyAgentSpawn(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ev := mkEvent(t, "e1", models.EventAgentSpawn, "s1", "a1", `{"role":"researcher","domain":"search"}`)
	require.NoError(t, store.ApplyEvent(ctx, ev))

	snap := store.Snapshot()
	agent, ok := snap.Agents["a1"]
	require.True(t, ok)
	assert.Equal(t, models.AgentIdle, agent.Status)
	assert.Equal(t, "researcher", agent.Role)
	assert.Equal(t, "search", agent.Domain)
	assert.Equal(t, "s1", agent.SessionID)
	assert.Equal(t, baseTime, agent.SpawnedAt)

	// The referenced session exists as a pending placeholder.
	sess, ok := snap.Sessions["s1"]
	require.True(t, ok)
	assert.Equal(t, models.PlaceholderField, sess.Name)
	assert.Equal(t, models.SessionPending, sess.Status)
	assert.Equal(t, []string{"a1"}, sess.AgentIDs)
}

func TestStore_PlaceholderOnFirstReference(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// A completion for entities the store has never heard of must not fail:
	// placeholders appear and counters still move.
	ev := mkEvent(t, "e1", models.EventTaskComplete, "s9", "a9", `{"taskId":"t9","durationMs":1500}`)
	require.NoError(t, store.ApplyEvent(ctx, ev))

	snap := store.Snapshot()
	task, ok := snap.Tasks["t9"]
	require.True(t, ok)
	assert.Equal(t, models.TaskCompleted, task.Status)
	assert.Equal(t, 1500*time.Millisecond, task.Duration)

	agent, ok := snap.Agents["a9"]
	require.True(t, ok)
	assert.Equal(t, models.PlaceholderField, agent.Role)
	assert.Equal(t, 1, agent.Perf.Successes)
	assert.Equal(t, 1500*time.Millisecond, agent.Perf.TotalDuration)

	sess, ok := snap.Sessions["s9"]
	require.True(t, ok)
	assert.Equal(t, 1, sess.TasksCompleted)
	assert.Equal(t, 1500*time.Millisecond, sess.TotalTaskDuration)
}

func TestStore_ApplyAgentStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ApplyEvent(ctx,
		mkEvent(t, "e1", models.EventAgentSpawn, "s1", "a1", `{"role":"researcher"}`)))
	require.NoError(t, store.ApplyEvent(ctx,
		mkEvent(t, "e2", models.EventAgentStatusUpdate, "s1", "a1", `{"status":"active","taskId":"t1"}`)))

	snap := store.Snapshot()
	agent := snap.Agents["a1"]
	assert.Equal(t, models.AgentActive, agent.Status)
	assert.Equal(t, "t1", agent.CurrentTaskID)

	// The referenced task exists even though no task_start arrived yet.
	_, ok := snap.Tasks["t1"]
	assert.True(t, ok)

	// Going idle clears the task reference.
	require.NoError(t, store.ApplyEvent(ctx,
		mkEvent(t, "e3", models.EventAgentStatusUpdate, "s1", "a1", `{"status":"idle"}`)))
	snap = store.Snapshot()
	assert.Equal(t, models.AgentIdle, snap.Agents["a1"].Status)
	assert.Empty(t, snap.Agents["a1"].CurrentTaskID)
}

func TestStore_TaskLifecycleAggregates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ApplyEvent(ctx,
		mkEvent(t, "e1", models.EventAgentSpawn, "s1", "a1", `{"role":"researcher"}`)))

	durations := []float64{1000, 2000, 4000}
	for i, ms := range durations {
		startID := fmt.Sprintf("start-%d", i)
		doneID := fmt.Sprintf("done-%d", i)
		taskID := fmt.Sprintf("t%d", i)

		require.NoError(t, store.ApplyEvent(ctx,
			mkEvent(t, startID, models.EventTaskStart, "s1", "a1",
				fmt.Sprintf(`{"taskId":%q,"description":"unit of work"}`, taskID))))

		snap := store.Snapshot()
		assert.Equal(t, models.AgentActive, snap.Agents["a1"].Status)
		assert.Equal(t, taskID, snap.Agents["a1"].CurrentTaskID)

		require.NoError(t, store.ApplyEvent(ctx,
			mkEvent(t, doneID, models.EventTaskComplete, "s1", "a1",
				fmt.Sprintf(`{"taskId":%q,"durationMs":%v}`, taskID, ms))))
	}

	snap := store.Snapshot()
	agent := snap.Agents["a1"]
	assert.Equal(t, 3, agent.Perf.Successes)
	assert.Equal(t, 0, agent.Perf.Failures)
	assert.Equal(t, 7*time.Second, agent.Perf.TotalDuration)
	// Average derives from the running sum, not incremental recomputation.
	assert.Equal(t, 7*time.Second/3, agent.Perf.AverageDuration())
	assert.Empty(t, agent.CurrentTaskID)

	sess := snap.Sessions["s1"]
	assert.Equal(t, 3, sess.TasksCompleted)
	assert.Equal(t, 7*time.Second, sess.TotalTaskDuration)
	assert.Equal(t, 7*time.Second/3, sess.AverageTaskDuration())
}

func TestStore_TaskFailed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ApplyEvent(ctx,
		mkEvent(t, "e1", models.EventTaskStart, "s1", "a1", `{"taskId":"t1"}`)))
	require.NoError(t, store.ApplyEvent(ctx,
		mkEvent(t, "e2", models.EventTaskFailed, "s1", "a1", `{"taskId":"t1","error":"worker crashed","durationMs":500}`)))

	snap := store.Snapshot()
	task := snap.Tasks["t1"]
	assert.Equal(t, models.TaskFailed, task.Status)
	assert.Equal(t, "worker crashed", task.Error)
	assert.Equal(t, 500*time.Millisecond, task.Duration)

	agent := snap.Agents["a1"]
	assert.Equal(t, 1, agent.Perf.Failures)
	assert.Equal(t, 0, agent.Perf.Successes)
	assert.Equal(t, time.Duration(0), agent.Perf.AverageDuration())
	assert.Empty(t, agent.CurrentTaskID)

	assert.Equal(t, 1, snap.Sessions["s1"].TasksFailed)
}

func TestStore_TerminalRestatementCountsOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Two distinct events completing the same task: the daemon restating a
	// terminal task must not double the counters.
	require.NoError(t, store.ApplyEvent(ctx,
		mkEvent(t, "e1", models.EventTaskComplete, "s1", "a1", `{"taskId":"t1","durationMs":1000}`)))
	require.NoError(t, store.ApplyEvent(ctx,
		mkEvent(t, "e2", models.EventTaskComplete, "s1", "a1", `{"taskId":"t1","durationMs":1000}`)))

	snap := store.Snapshot()
	assert.Equal(t, 1, snap.Agents["a1"].Perf.Successes)
	assert.Equal(t, 1*time.Second, snap.Agents["a1"].Perf.TotalDuration)
	assert.Equal(t, 1, snap.Sessions["s1"].TasksCompleted)
}

func TestStore_SessionUpdated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ApplyEvent(ctx,
		mkEvent(t, "e1", models.EventSessionUpdated, "s1", "",
			`{"name":"nightly run","status":"running","strategy":"fan-out","agentIds":["a1","a2"]}`)))

	snap := store.Snapshot()
	sess := snap.Sessions["s1"]
	assert.Equal(t, "nightly run", sess.Name)
	assert.Equal(t, models.SessionRunning, sess.Status)
	assert.Equal(t, "fan-out", sess.Strategy)
	assert.Equal(t, []string{"a1", "a2"}, sess.AgentIDs)

	// Listed agents exist as placeholders bound to the session.
	for _, id := range []string{"a1", "a2"} {
		agent, ok := snap.Agents[id]
		require.True(t, ok)
		assert.Equal(t, "s1", agent.SessionID)
	}

	// Partial update leaves other fields alone; terminal status derives the
	// run duration from creation time.
	ev := mkEvent(t, "e2", models.EventSessionUpdated, "s1", "", `{"status":"completed"}`)
	ev.Timestamp = baseTime.Add(90 * time.Second)
	require.NoError(t, store.ApplyEvent(ctx, ev))

	sess = store.Snapshot().Sessions["s1"]
	assert.Equal(t, "nightly run", sess.Name)
	assert.Equal(t, models.SessionCompleted, sess.Status)
	assert.Equal(t, 90*time.Second, sess.Duration)
}

func TestStore_DaemonStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ApplyEvent(ctx,
		mkEvent(t, "e1", models.EventDaemonStatusUpdated, "", "",
			`{"health":"healthy","version":"1.4.2","uptimeSeconds":3600,"activeSessions":2,"activeAgents":7}`)))

	snap := store.Snapshot()
	assert.Equal(t, "healthy", snap.Daemon.Health)
	assert.Equal(t, "1.4.2", snap.Daemon.Version)
	assert.Equal(t, time.Hour, snap.Daemon.Uptime)
	assert.Equal(t, 2, snap.Daemon.ActiveSessions)
	assert.Equal(t, 7, snap.Daemon.ActiveAgents)
	assert.Equal(t, baseTime, snap.Daemon.ReportedAt)
}

func TestStore_SnapshotIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ApplyEvent(ctx,
		mkEvent(t, "e1", models.EventAgentSpawn, "s1", "a1", `{"role":"researcher"}`)))

	snap := store.Snapshot()

	// Mutating the returned snapshot must not leak into the store.
	delete(snap.Agents, "a1")
	sess := snap.Sessions["s1"]
	sess.AgentIDs[0] = "intruder"
	snap.Sessions["s1"] = sess

	fresh := store.Snapshot()
	_, ok := fresh.Agents["a1"]
	assert.True(t, ok)
	assert.Equal(t, []string{"a1"}, fresh.Sessions["s1"].AgentIDs)
}

func TestStore_SubscribeOrderingAndUnsubscribe(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var seqs []uint64
	unsubscribe := store.Subscribe(func(snap models.StateSnapshot) {
		seqs = append(seqs, snap.Seq)
	})

	for i := 0; i < 5; i++ {
		ev := mkEvent(t, fmt.Sprintf("e%d", i), models.EventSessionUpdated, "s1", "", `{"status":"running"}`)
		require.NoError(t, store.ApplyEvent(ctx, ev))
	}

	require.Len(t, seqs, 5)
	for i := 1; i < len(seqs); i++ {
		assert.Equal(t, seqs[i-1]+1, seqs[i], "notifications must arrive in apply order")
	}

	unsubscribe()
	require.NoError(t, store.ApplyEvent(ctx,
		mkEvent(t, "after", models.EventSessionUpdated, "s1", "", `{"status":"running"}`)))
	assert.Len(t, seqs, 5)
}

func TestStore_NoPartialVisibility(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ApplyEvent(ctx,
		mkEvent(t, "e1", models.EventTaskStart, "s1", "a1", `{"taskId":"t1"}`)))

	// Inside the callback, every mutation of the completion event must
	// already be visible together: the task terminal, the agent counter,
	// and the session aggregate.
	checked := false
	unsubscribe := store.Subscribe(func(snap models.StateSnapshot) {
		checked = true
		assert.Equal(t, models.TaskCompleted, snap.Tasks["t1"].Status)
		assert.Equal(t, 1, snap.Agents["a1"].Perf.Successes)
		assert.Equal(t, 1, snap.Sessions["s1"].TasksCompleted)
		assert.Empty(t, snap.Agents["a1"].CurrentTaskID)
	})
	defer unsubscribe()

	require.NoError(t, store.ApplyEvent(ctx,
		mkEvent(t, "e2", models.EventTaskComplete, "s1", "a1", `{"taskId":"t1","durationMs":1000}`)))
	assert.True(t, checked)
}

func TestStore_ApplyCommandResult(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("result carrying a session is merged", func(t *testing.T) {
		res := &models.CommandResult{
			CorrelationID: "c1",
			Success:       true,
			Result:        json.RawMessage(`{"session":{"id":"s1","name":"spawned run","status":"pending","agentIds":[]}}`),
		}
		require.NoError(t, store.ApplyCommandResult(ctx, res))

		sess, ok := store.Snapshot().Sessions["s1"]
		require.True(t, ok)
		assert.Equal(t, "spawned run", sess.Name)
	})

	t.Run("result without state changes nothing", func(t *testing.T) {
		notified := false
		unsubscribe := store.Subscribe(func(models.StateSnapshot) { notified = true })
		defer unsubscribe()

		res := &models.CommandResult{CorrelationID: "c2", Success: true, Result: json.RawMessage(`{"ok":true}`)}
		require.NoError(t, store.ApplyCommandResult(ctx, res))
		assert.False(t, notified)
	})

	t.Run("malformed result state is rejected without mutation", func(t *testing.T) {
		before := store.Snapshot()
		res := &models.CommandResult{
			CorrelationID: "c3",
			Success:       true,
			Result:        json.RawMessage(`{"session":{"id":123}}`),
		}
		assert.Error(t, store.ApplyCommandResult(ctx, res))
		after := store.Snapshot()
		assert.Equal(t, before.Sessions, after.Sessions)
	})
}

func TestStore_ReplaceAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ApplyEvent(ctx,
		mkEvent(t, "e1", models.EventAgentSpawn, "s-old", "a-old", `{"role":"researcher"}`)))

	notified := false
	unsubscribe := store.Subscribe(func(snap models.StateSnapshot) {
		notified = true
		_, oldThere := snap.Agents["a-old"]
		assert.False(t, oldThere, "replaced state must not mix with the old model")
	})
	defer unsubscribe()

	store.ReplaceAll(ctx, &models.StateSnapshot{
		Sessions: map[string]models.Session{
			"s-new": {ID: "s-new", Name: "fetched", Status: models.SessionRunning, AgentIDs: []string{"a-new"}},
		},
		Agents: map[string]models.Agent{
			"a-new": {ID: "a-new", Role: "critic", Status: models.AgentActive},
		},
		Tasks: map[string]models.Task{},
	})

	assert.True(t, notified)
	snap := store.Snapshot()
	assert.Len(t, snap.Sessions, 1)
	assert.Len(t, snap.Agents, 1)
	assert.Equal(t, "fetched", snap.Sessions["s-new"].Name)
}

func TestStore_InvalidEventNeverCorrupts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ApplyEvent(ctx,
		mkEvent(t, "e1", models.EventAgentSpawn, "s1", "a1", `{"role":"researcher"}`)))
	before := store.Snapshot()

	bad := &models.Event{
		ID:        "e2",
		Type:      "agent_teleport",
		Timestamp: baseTime,
		Payload:   json.RawMessage(`{}`),
	}
	assert.Error(t, store.ApplyEvent(ctx, bad))

	after := store.Snapshot()
	assert.Equal(t, before.Sessions, after.Sessions)
	assert.Equal(t, before.Agents, after.Agents)
	assert.Equal(t, before.Seq, after.Seq)
}
