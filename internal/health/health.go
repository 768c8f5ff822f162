// Package health reports the reachability of the service's dependencies.
package health

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webmonitor/internal/monitor"
)

// Values reported in monitor.HealthStatus.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	LLMConnected    = "connected"
	LLMNoKey        = "no API key set"
	defaultDeadline = 3 * time.Second
)

// Pinger is any dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Reporter probes the store and the summarizer.
type Reporter struct {
	store      Pinger
	summarizer Pinger
	clock      monitor.Clock
	timeout    time.Duration
	logger     *zap.Logger
}

// New constructs a Reporter. A non-positive timeout uses a short default.
func New(store, summarizer Pinger, clock monitor.Clock, timeout time.Duration, logger *zap.Logger) *Reporter {
	if timeout <= 0 {
		timeout = defaultDeadline
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{store: store, summarizer: summarizer, clock: clock, timeout: timeout, logger: logger}
}

// Check runs both probes concurrently. It never fails; problems are reported
// in the returned status.
func (r *Reporter) Check(ctx context.Context) monitor.HealthStatus {
	dbCh := make(chan string, 1)
	llmCh := make(chan string, 1)
	go func() { dbCh <- r.database(ctx) }()
	go func() { llmCh <- r.llm(ctx) }()
	return monitor.HealthStatus{
		Backend:   StatusOK,
		Database:  <-dbCh,
		LLM:       <-llmCh,
		Timestamp: r.clock.Now().UTC(),
	}
}

func (r *Reporter) database(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.store.Ping(ctx); err != nil {
		r.logger.Warn("database health probe failed", zap.Error(err))
		return StatusError
	}
	return StatusOK
}

func (r *Reporter) llm(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	err := r.summarizer.Ping(ctx)
	switch {
	case err == nil:
		return LLMConnected
	case errors.Is(err, monitor.ErrSummarizerDisabled):
		return LLMNoKey
	default:
		r.logger.Warn("llm health probe failed", zap.Error(err))
		return StatusError
	}
}
