// Package orchestrator runs link checks: fetch, normalize, compare, diff,
// summarize, and persist one snapshot per check.
package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/webmonitor/internal/metrics"
	"github.com/JakeFAU/webmonitor/internal/monitor"
)

// Config controls orchestration limits.
type Config struct {
	// HistoryLimit bounds the snapshots kept per link.
	HistoryLimit int
	// StoreTimeout bounds each persistence call.
	StoreTimeout time.Duration
	// ArchivePrefix is the object path prefix for archived raw pages.
	ArchivePrefix string
}

// Dependencies are the collaborators a check drives. Archive may be nil.
type Dependencies struct {
	Store      monitor.Store
	Fetcher    monitor.Fetcher
	Normalizer monitor.Normalizer
	Differ     monitor.Differ
	Summarizer monitor.Summarizer
	Archive    monitor.BlobStore
	IDs        monitor.IDGenerator
	Clock      monitor.Clock
}

// Orchestrator serializes checks per link and never across links.
type Orchestrator struct {
	deps   Dependencies
	cfg    Config
	group  singleflight.Group
	logger *zap.Logger
}

// New constructs an Orchestrator.
func New(deps Dependencies, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = monitor.DefaultHistoryLimit
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "pages"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger}
}

// Check runs one check of linkID and returns the persisted result.
//
// A caller arriving while a check of the same link is in flight waits for it
// and shares its result. The check itself is detached from ctx, so it completes
// and persists even when the caller goes away.
func (o *Orchestrator) Check(ctx context.Context, linkID string) (monitor.CheckResult, error) {
	link, err := storeCall(ctx, o.cfg.StoreTimeout, func(ctx context.Context) (monitor.Link, error) {
		return o.deps.Store.GetLink(ctx, linkID)
	})
	if err != nil {
		return monitor.CheckResult{}, fmt.Errorf("check %s: %w", linkID, err)
	}

	detached := context.WithoutCancel(ctx)
	ch := o.group.DoChan(linkID, func() (any, error) {
		return o.run(detached, link)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return monitor.CheckResult{}, res.Err
		}
		if res.Shared {
			o.logger.Debug("joined in-flight check", zap.String("link_id", linkID))
		}
		return res.Val.(monitor.CheckResult), nil
	case <-ctx.Done():
		return monitor.CheckResult{}, fmt.Errorf("check %s: %w", linkID, ctx.Err())
	}
}

// History returns the retained snapshots of linkID, newest first.
func (o *Orchestrator) History(ctx context.Context, linkID string) ([]monitor.Snapshot, error) {
	history, err := o.deps.Store.History(ctx, linkID, o.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", linkID, err)
	}
	return history, nil
}

func (o *Orchestrator) run(ctx context.Context, link monitor.Link) (monitor.CheckResult, error) {
	done := metrics.CheckStarted()
	defer done()
	start := time.Now()
	logger := o.logger.With(zap.String("link_id", link.ID), zap.String("url", link.URL))

	prev, hasPrev, err := o.latest(ctx, link.ID)
	if err != nil {
		metrics.ObserveCheck(metrics.OutcomeSystemError)
		logger.Error("load latest snapshot failed", zap.Error(err))
		return monitor.CheckResult{}, fmt.Errorf("check %s: %w", link.ID, err)
	}

	snap, outcome := o.evaluate(ctx, logger, link, prev, hasPrev)
	snap.LinkID = link.ID
	snap.CheckedAt = o.nextCheckedAt(prev, hasPrev)

	if err := o.persist(ctx, &snap); err != nil {
		metrics.ObserveCheck(metrics.OutcomeSystemError)
		logger.Error("persist snapshot failed", zap.Error(err))
		return monitor.CheckResult{}, fmt.Errorf("check %s: %w", link.ID, err)
	}

	metrics.ObserveCheck(outcome)
	logger.Info("check finished",
		zap.String("outcome", outcome),
		zap.String("snapshot_id", snap.ID),
		zap.Bool("changed", snap.Changed),
		zap.Duration("duration", time.Since(start)),
	)
	return monitor.ResultFromSnapshot(snap), nil
}

// evaluate produces the snapshot a check should persist. It never fails:
// fetch and processing failures become error snapshots, and summarization
// failures leave the summary empty.
func (o *Orchestrator) evaluate(
	ctx context.Context,
	logger *zap.Logger,
	link monitor.Link,
	prev monitor.Snapshot,
	hasPrev bool,
) (monitor.Snapshot, string) {
	resp, err := o.deps.Fetcher.Fetch(ctx, link.URL)
	if err != nil {
		logger.Warn("fetch failed", zap.Error(err))
		return failedSnapshot(prev, fetchReason(err)), metrics.OutcomeFetchError
	}

	norm, err := o.deps.Normalizer.Normalize(resp.Body, resp.ContentType)
	if err != nil {
		logger.Warn("normalize failed", zap.Error(err))
		return failedSnapshot(prev, fmt.Sprintf("Could not process content (%v)", err)), metrics.OutcomeFetchError
	}

	snap := monitor.Snapshot{
		Status:      monitor.SnapshotStatusOK,
		Fingerprint: norm.Fingerprint,
		Content:     norm.Text,
		ArchiveURI:  o.archive(ctx, logger, link.ID, norm.Fingerprint, resp),
	}

	if !hasPrev || prev.Fingerprint == "" {
		snap.Summary = stringPtr(monitor.NoChangesSummary)
		return snap, metrics.OutcomeBaseline
	}
	if prev.Fingerprint == norm.Fingerprint {
		snap.Summary = stringPtr(monitor.NoChangesSummary)
		return snap, metrics.OutcomeUnchanged
	}

	d, ok := o.deps.Differ.Diff(prev.Content, norm.Text)
	if !ok || d.Empty() {
		snap.Summary = stringPtr(monitor.NoChangesSummary)
		return snap, metrics.OutcomeUnchanged
	}
	snap.Changed = true
	snap.DiffMarkup = stringPtr(d.Markup)

	summary, err := o.deps.Summarizer.Summarize(ctx, link.URL, d)
	switch {
	case errors.Is(err, monitor.ErrSummarizerDisabled):
		logger.Debug("summarizer disabled")
	case err != nil:
		logger.Warn("summarize failed", zap.Error(err))
	default:
		snap.Summary = &summary
	}
	return snap, metrics.OutcomeChanged
}

// failedSnapshot carries the previous baseline forward so the next successful
// check still compares against the last good content.
func failedSnapshot(prev monitor.Snapshot, reason string) monitor.Snapshot {
	return monitor.Snapshot{
		Status:      monitor.SnapshotStatusError,
		Fingerprint: prev.Fingerprint,
		Content:     prev.Content,
		Summary:     &reason,
	}
}

func fetchReason(err error) string {
	var fe *monitor.FetchError
	if errors.As(err, &fe) {
		return fe.UserReason()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Could not fetch content (timeout)"
	}
	return fmt.Sprintf("Could not fetch content (%v)", err)
}

// archive stores the raw body and returns its URI. Failures are logged and
// otherwise ignored.
func (o *Orchestrator) archive(
	ctx context.Context,
	logger *zap.Logger,
	linkID, fingerprint string,
	resp monitor.FetchResponse,
) *string {
	if o.deps.Archive == nil {
		return nil
	}
	key := path.Join(o.cfg.ArchivePrefix, linkID, fingerprint+".html")
	ctx, cancel := context.WithTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()
	uri, err := o.deps.Archive.PutObject(ctx, key, resp.ContentType, bytes.NewReader(resp.Body))
	if err != nil {
		logger.Warn("archive raw page failed", zap.String("path", key), zap.Error(err))
		return nil
	}
	return &uri
}

// nextCheckedAt keeps checked_at strictly increasing per link at microsecond
// precision, even when the clock stalls or steps backwards.
func (o *Orchestrator) nextCheckedAt(prev monitor.Snapshot, hasPrev bool) time.Time {
	now := o.deps.Clock.Now().UTC().Truncate(time.Microsecond)
	if hasPrev && !now.After(prev.CheckedAt) {
		return prev.CheckedAt.Add(time.Microsecond)
	}
	return now
}

func (o *Orchestrator) latest(ctx context.Context, linkID string) (monitor.Snapshot, bool, error) {
	snap, err := storeCall(ctx, o.cfg.StoreTimeout, func(ctx context.Context) (monitor.Snapshot, error) {
		return o.deps.Store.LatestSnapshot(ctx, linkID)
	})
	switch {
	case errors.Is(err, monitor.ErrNotFound):
		return monitor.Snapshot{}, false, nil
	case err != nil:
		return monitor.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (o *Orchestrator) persist(ctx context.Context, snap *monitor.Snapshot) error {
	id, err := o.deps.IDs.NewID()
	if err != nil {
		return fmt.Errorf("snapshot id: %w", err)
	}
	snap.ID = id
	_, err = storeCall(ctx, o.cfg.StoreTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.deps.Store.AppendSnapshot(ctx, *snap, o.cfg.HistoryLimit)
	})
	return err
}

// storeCall bounds a single persistence call by timeout.
func storeCall[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

func stringPtr(s string) *string {
	return &s
}
