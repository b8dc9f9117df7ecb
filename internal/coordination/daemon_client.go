package coordination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/khive-ai/khive-gateway/internal/models"
)

// DaemonClientInterface defines the HTTP surface of the khive daemon used by
// the gateway: full-state fetches, the command fallback path, and health.
type DaemonClientInterface interface {
	FetchSnapshot(ctx context.Context) (*models.StateSnapshot, error)
	SubmitCommand(ctx context.Context, cmd *models.Command) (*models.CommandResult, error)
	IsHealthy(ctx context.Context) bool
}

// DaemonClient talks to the daemon's HTTP API. All calls run behind a
// circuit breaker so a dead daemon fails fast instead of piling up blocked
// requests.
type DaemonClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *log.Logger
	tracer     trace.Tracer
	breaker    *gobreaker.CircuitBreaker
}

// NewDaemonClient creates a client for the daemon at baseURL.
func NewDaemonClient(baseURL string, requestTimeout time.Duration, logger *log.Logger) *DaemonClient {
	settings := gobreaker.Settings{
		Name:        "khive-daemon",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &DaemonClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		logger:  logger,
		tracer:  otel.Tracer("khive-daemon-client"),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// SetBaseURL sets the base URL for testing purposes.
func (c *DaemonClient) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// FetchSnapshot retrieves the daemon's full coordination state.
func (c *DaemonClient) FetchSnapshot(ctx context.Context) (*models.StateSnapshot, error) {
	ctx, span := c.tracer.Start(ctx, "daemon_client.fetch_snapshot")
	defer span.End()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchSnapshotInternal(ctx)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to fetch daemon state: %w", err)
	}

	snap := result.(*models.StateSnapshot)
	sessions, agents, tasks := snap.Counts()
	span.SetAttributes(
		attribute.Int("state.sessions", sessions),
		attribute.Int("state.agents", agents),
		attribute.Int("state.tasks", tasks),
	)
	return snap, nil
}

func (c *DaemonClient) fetchSnapshotInternal(ctx context.Context) (*models.StateSnapshot, error) {
	url := fmt.Sprintf("%s/api/state", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("daemon returned status %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("daemon returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var snap models.StateSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &snap, nil
}

// SubmitCommand posts one command to the daemon's HTTP command endpoint and
// returns its synchronous result. This is the fallback path when the socket
// is unavailable.
func (c *DaemonClient) SubmitCommand(ctx context.Context, cmd *models.Command) (*models.CommandResult, error) {
	ctx, span := c.tracer.Start(ctx, "daemon_client.submit_command")
	defer span.End()

	span.SetAttributes(
		attribute.String("command.name", cmd.Command),
		attribute.String("correlation_id", cmd.CorrelationID),
	)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.submitCommandInternal(ctx, cmd)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to submit command to daemon: %w", err)
	}

	return result.(*models.CommandResult), nil
}

func (c *DaemonClient) submitCommandInternal(ctx context.Context, cmd *models.Command) (*models.CommandResult, error) {
	jsonData, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}

	url := fmt.Sprintf("%s/api/commands", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("daemon returned status %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("daemon returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result models.CommandResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.CorrelationID == "" {
		result.CorrelationID = cmd.CorrelationID
	}

	return &result, nil
}

// IsHealthy checks if the daemon is reachable and reporting healthy.
func (c *DaemonClient) IsHealthy(ctx context.Context) bool {
	ctx, span := c.tracer.Start(ctx, "daemon_client.health_check")
	defer span.End()

	// Use circuit breaker state as a quick health indicator
	if c.breaker.State() == gobreaker.StateOpen {
		span.SetAttributes(attribute.Bool("healthy", false), attribute.String("reason", "circuit_breaker_open"))
		return false
	}

	url := fmt.Sprintf("%s/health", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		span.RecordError(err)
		return false
	}

	// Short timeout for health checks
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return false
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode == http.StatusOK
	span.SetAttributes(attribute.Bool("healthy", healthy))

	return healthy
}
