package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/khive-ai/khive-gateway/internal/metrics"
	"github.com/khive-ai/khive-gateway/internal/models"
)

// Reasons events are dropped before reaching the store.
const (
	ReasonDuplicate = "duplicate"
	ReasonMalformed = "malformed"
)

// DropError explains why a frame was dropped at the ingestion boundary.
// Dropped frames are counted and must never reach the state store.
type DropError struct {
	Reason string
	Err    error
}

func (e *DropError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("event dropped (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("event dropped (%s)", e.Reason)
}

func (e *DropError) Unwrap() error {
	return e.Err
}

// IsDrop reports whether err is an ingestion drop and returns its reason.
func IsDrop(err error) (string, bool) {
	var de *DropError
	if errors.As(err, &de) {
		return de.Reason, true
	}
	return "", false
}

// Stats counts ingestion outcomes for diagnostics.
type Stats struct {
	Processed  uint64 `json:"processed"`
	Duplicates uint64 `json:"duplicates"`
	Malformed  uint64 `json:"malformed"`
}

// Ingestor guards the state store: every inbound event passes shape
// validation and the dedup window exactly once, in receipt order. It is
// driven by a single goroutine; Stats may be read from any goroutine.
type Ingestor struct {
	window  *Window
	logger  *log.Logger
	metrics *metrics.CoordinationMetrics

	processed  atomic.Uint64
	duplicates atomic.Uint64
	malformed  atomic.Uint64
}

// New creates an ingestor retaining the most recent windowSize event IDs.
func New(windowSize int, logger *log.Logger, m *metrics.CoordinationMetrics) *Ingestor {
	return &Ingestor{
		window:  NewWindow(windowSize),
		logger:  logger,
		metrics: m,
	}
}

// Process validates raw and returns the typed event when it should be
// applied. A *DropError return means the frame was counted and discarded;
// failures here never propagate into the transport or the store.
func (i *Ingestor) Process(ctx context.Context, raw []byte) (*models.Event, error) {
	var ev models.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, i.drop(ctx, ReasonMalformed, "", fmt.Errorf("decode event: %w", err))
	}

	// Full payload validation happens here so the store only ever sees
	// well-formed events.
	if _, err := ev.Decode(); err != nil {
		return nil, i.drop(ctx, ReasonMalformed, ev.ID, err)
	}

	if i.window.Seen(ev.ID) {
		return nil, i.drop(ctx, ReasonDuplicate, ev.ID, nil)
	}
	i.window.Remember(ev.ID)

	i.processed.Add(1)
	return &ev, nil
}

func (i *Ingestor) drop(ctx context.Context, reason, eventID string, err error) error {
	switch reason {
	case ReasonDuplicate:
		i.duplicates.Add(1)
		i.logger.Debug("dropped duplicate event", "event_id", eventID)
	default:
		i.malformed.Add(1)
		i.logger.Warn("dropped malformed event", "event_id", eventID, "error", err)
	}
	i.metrics.RecordEventDropped(ctx, reason)
	return &DropError{Reason: reason, Err: err}
}

// Stats returns a copy of the diagnostic counters.
func (i *Ingestor) Stats() Stats {
	return Stats{
		Processed:  i.processed.Load(),
		Duplicates: i.duplicates.Load(),
		Malformed:  i.malformed.Load(),
	}
}
