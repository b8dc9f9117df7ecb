package coordination

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khive-ai/khive-gateway/internal/models"
)

func newDaemonTestClient(serverURL string) *DaemonClient {
	client := NewDaemonClient("http://localhost:8767", 30*time.Second, log.New(io.Discard))
	client.SetBaseURL(serverURL)
	return client
}

func TestNewDaemonClient(t *testing.T) {
	client := NewDaemonClient("http://localhost:8767", 30*time.Second, log.New(io.Discard))

	assert.NotNil(t, client)
	assert.NotNil(t, client.httpClient)
	assert.NotNil(t, client.tracer)
	assert.NotNil(t, client.breaker)
	assert.Equal(t, "http://localhost:8767", client.baseURL)
}

func TestDaemonClient_FetchSnapshot(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse func(w http.ResponseWriter, r *http.Request)
		expectedError  string
		verify         func(t *testing.T, snap *models.StateSnapshot)
	}{
		{
			name: "successful_fetch",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "GET", r.Method)
				assert.Equal(t, "/api/state", r.URL.Path)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{
					"sessions": {"s1": {"id": "s1", "name": "nightly run", "status": "running", "agentIds": ["a1"]}},
					"agents": {"a1": {"id": "a1", "role": "researcher", "domain": "search", "status": "active"}},
					"tasks": {},
					"daemon": {"health": "healthy", "activeSessions": 1, "activeAgents": 1}
				}`))
			},
			verify: func(t *testing.T, snap *models.StateSnapshot) {
				require.Len(t, snap.Sessions, 1)
				assert.Equal(t, "nightly run", snap.Sessions["s1"].Name)
				assert.Equal(t, models.AgentActive, snap.Agents["a1"].Status)
				assert.Equal(t, "healthy", snap.Daemon.Health)
			},
		},
		{
			name: "server_error",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("Internal server error"))
			},
			expectedError: "daemon returned status 500",
		},
		{
			name: "invalid_json_response",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("invalid json"))
			},
			expectedError: "failed to decode response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(tt.serverResponse))
			defer server.Close()

			client := newDaemonTestClient(server.URL)
			snap, err := client.FetchSnapshot(context.Background())

			if tt.expectedError != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
			} else {
				assert.NoError(t, err)
				tt.verify(t, snap)
			}
		})
	}
}

func TestDaemonClient_SubmitCommand(t *testing.T) {
	tests := []struct {
		name            string
		serverResponse  func(w http.ResponseWriter, r *http.Request)
		expectedError   string
		expectedSuccess bool
	}{
		{
			name: "successful_submission",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "POST", r.Method)
				assert.Equal(t, "/api/commands", r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

				var cmd models.Command
				err := json.NewDecoder(r.Body).Decode(&cmd)
				assert.NoError(t, err)
				assert.Equal(t, "spawn_agent", cmd.Command)
				assert.Equal(t, models.PriorityHigh, cmd.Priority)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				json.NewEncoder(w).Encode(models.CommandResult{
					CorrelationID: cmd.CorrelationID,
					Success:       true,
				})
			},
			expectedSuccess: true,
		},
		{
			name: "daemon_rejection_is_not_a_transport_error",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{"success": false, "error": "unknown command"}`))
			},
			expectedSuccess: false,
		},
		{
			name: "accepted_status_is_ok",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusAccepted)
				w.Write([]byte(`{"success": true}`))
			},
			expectedSuccess: true,
		},
		{
			name: "server_error",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("daemon restarting"))
			},
			expectedError: "daemon returned status 503",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(tt.serverResponse))
			defer server.Close()

			client := newDaemonTestClient(server.URL)
			cmd := &models.Command{
				CorrelationID: "corr-1",
				Command:       "spawn_agent",
				Args:          []string{"researcher"},
				Priority:      models.PriorityHigh,
			}

			result, err := client.SubmitCommand(context.Background(), cmd)

			if tt.expectedError != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expectedSuccess, result.Success)
				// The correlation ID survives even when the daemon omits it.
				assert.Equal(t, "corr-1", result.CorrelationID)
			}
		})
	}
}

func TestDaemonClient_IsHealthy(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse func(w http.ResponseWriter, r *http.Request)
		expectedHealth bool
	}{
		{
			name: "healthy_daemon",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "GET", r.Method)
				assert.Equal(t, "/health", r.URL.Path)
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{"status": "healthy"}`))
			},
			expectedHealth: true,
		},
		{
			name: "unhealthy_daemon",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status": "unhealthy"}`))
			},
			expectedHealth: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(tt.serverResponse))
			defer server.Close()

			client := newDaemonTestClient(server.URL)
			result := client.IsHealthy(context.Background())
			assert.Equal(t, tt.expectedHealth, result)
		})
	}
}

func TestDaemonClient_CircuitBreaker(t *testing.T) {
	// Create a server that always fails
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("daemon unavailable"))
	}))
	defer server.Close()

	client := newDaemonTestClient(server.URL)

	// Make multiple requests to trigger circuit breaker
	for i := 0; i < 10; i++ {
		_, err := client.FetchSnapshot(context.Background())
		assert.Error(t, err)

		if i > 5 {
			if strings.Contains(err.Error(), "circuit breaker is open") {
				break
			}
		}
	}

	assert.False(t, client.IsHealthy(context.Background()),
		"an open breaker should short-circuit health checks")
}

func TestDaemonClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"sessions":{},"agents":{},"tasks":{},"daemon":{"health":"healthy"}}`))
	}))
	defer server.Close()

	client := newDaemonTestClient(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.FetchSnapshot(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "context deadline exceeded")
}
