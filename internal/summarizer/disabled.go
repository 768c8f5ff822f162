package summarizer

import (
	"context"

	"github.com/JakeFAU/webmonitor/internal/monitor"
)

// Disabled is used when no API key is configured. Every call reports
// monitor.ErrSummarizerDisabled.
type Disabled struct{}

// NewDisabled returns a summarizer that never calls out.
func NewDisabled() *Disabled {
	return &Disabled{}
}

// Summarize always fails with monitor.ErrSummarizerDisabled.
func (Disabled) Summarize(context.Context, string, monitor.Diff) (string, error) {
	return "", monitor.ErrSummarizerDisabled
}

// Ping always fails with monitor.ErrSummarizerDisabled.
func (Disabled) Ping(context.Context) error {
	return monitor.ErrSummarizerDisabled
}
