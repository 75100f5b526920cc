package emit

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/agentfence/agentfence/internal/threat"
)

// Emitter fans out findings to multiple sinks, filtered by a minimum
// severity. All methods are safe for concurrent use. A nil Emitter is a
// no-op, so callers never need to guard emission sites.
type Emitter struct {
	mu         sync.RWMutex
	sinks      []Sink
	instanceID string
	minLevel   threat.Severity
}

// New creates an Emitter that sends events at or above minLevel to all
// provided sinks.
func New(instanceID string, minLevel threat.Severity, sinks ...Sink) *Emitter {
	return &Emitter{
		sinks:      append([]Sink(nil), sinks...),
		instanceID: instanceID,
		minLevel:   minLevel,
	}
}

// EmitFinding sends a flagged result to all sinks. Safe results and results
// below the minimum severity are dropped. Errors from individual sinks are
// logged to stderr and otherwise ignored.
func (e *Emitter) EmitFinding(ctx context.Context, input string, res threat.Result) {
	if e == nil || res.Safe || res.Level < e.minLevel {
		return
	}

	e.send(ctx, Event{
		Level:      res.Level,
		Type:       TypeFinding,
		Timestamp:  time.Now(),
		InstanceID: e.instanceID,
		Finding:    res,
		Input:      input,
	})
}

// EmitScanComplete sends a scan summary event. The event level is the
// highest severity seen during the scan, so sinks apply the same threshold
// they use for individual findings.
func (e *Emitter) EmitScanComplete(ctx context.Context, scanID string, checked, flagged int, maxLevel threat.Severity) {
	if e == nil || maxLevel < e.minLevel {
		return
	}

	e.send(ctx, Event{
		Level:      maxLevel,
		Type:       TypeScanComplete,
		Timestamp:  time.Now(),
		InstanceID: e.instanceID,
		Fields: map[string]any{
			"scan_id": scanID,
			"checked": checked,
			"flagged": flagged,
		},
	})
}

func (e *Emitter) send(ctx context.Context, event Event) {
	e.mu.RLock()
	sinks := e.sinks
	e.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Emit(ctx, event); err != nil {
			fmt.Fprintf(os.Stderr, "emit: sink error (event=%s): %v\n", event.Type, err)
		}
	}
}

// ReloadSinks atomically replaces the sink set and returns the old sinks.
// The caller is responsible for closing the returned sinks. This enables
// hot-reload of emit configuration without restarting.
func (e *Emitter) ReloadSinks(newSinks []Sink) []Sink {
	e.mu.Lock()
	defer e.mu.Unlock()
	old := e.sinks
	e.sinks = append([]Sink(nil), newSinks...)
	return old
}

// Close closes all sinks and returns the first error encountered.
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}

	e.mu.Lock()
	sinks := e.sinks
	e.sinks = nil
	e.mu.Unlock()

	var firstErr error
	for _, s := range sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
