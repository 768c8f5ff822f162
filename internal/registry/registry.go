// Package registry validates and manages the set of monitored links.
package registry

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/webmonitor/internal/monitor"
)

// CreateRequest carries the user-supplied fields of a new link.
type CreateRequest struct {
	URL     string   `json:"url"`
	Label   string   `json:"label"`
	Project string   `json:"project"`
	Tags    []string `json:"tags"`
}

// Registry is the entry point for link CRUD. Capacity and duplicate checks are
// delegated to the store so they stay atomic.
type Registry struct {
	store    monitor.LinkStore
	ids      monitor.IDGenerator
	clock    monitor.Clock
	maxLinks int
	logger   *zap.Logger
}

// New constructs a Registry. A non-positive maxLinks falls back to monitor.DefaultMaxLinks.
func New(store monitor.LinkStore, ids monitor.IDGenerator, clock monitor.Clock, maxLinks int, logger *zap.Logger) *Registry {
	if maxLinks <= 0 {
		maxLinks = monitor.DefaultMaxLinks
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:    store,
		ids:      ids,
		clock:    clock,
		maxLinks: maxLinks,
		logger:   logger,
	}
}

// Create validates req and persists a new link with no history.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (monitor.Link, error) {
	rawURL, err := ValidateURL(req.URL)
	if err != nil {
		return monitor.Link{}, err
	}
	id, err := r.ids.NewID()
	if err != nil {
		return monitor.Link{}, fmt.Errorf("create link: %w", err)
	}
	label := strings.TrimSpace(req.Label)
	if label == "" {
		label = rawURL
	}
	link := monitor.Link{
		ID:        id,
		URL:       rawURL,
		Label:     label,
		Project:   strings.TrimSpace(req.Project),
		Tags:      NormalizeTags(req.Tags),
		CreatedAt: r.clock.Now(),
	}
	if err := r.store.CreateLink(ctx, link, r.maxLinks); err != nil {
		return monitor.Link{}, fmt.Errorf("create link: %w", err)
	}
	r.logger.Info("link created", zap.String("link_id", link.ID), zap.String("url", link.URL))
	return link, nil
}

// Update edits the label and project of an existing link.
func (r *Registry) Update(ctx context.Context, id string, patch monitor.LinkPatch) (monitor.Link, error) {
	link, err := r.store.UpdateLink(ctx, id, patch)
	if err != nil {
		return monitor.Link{}, fmt.Errorf("update link %s: %w", id, err)
	}
	return link, nil
}

// Delete removes a link together with its history.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.store.DeleteLink(ctx, id); err != nil {
		return fmt.Errorf("delete link %s: %w", id, err)
	}
	r.logger.Info("link deleted", zap.String("link_id", id))
	return nil
}

// List returns every link in insertion order.
func (r *Registry) List(ctx context.Context) ([]monitor.Link, error) {
	links, err := r.store.ListLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return links, nil
}

// Get returns a single link.
func (r *Registry) Get(ctx context.Context, id string) (monitor.Link, error) {
	link, err := r.store.GetLink(ctx, id)
	if err != nil {
		return monitor.Link{}, fmt.Errorf("get link %s: %w", id, err)
	}
	return link, nil
}

// ValidateURL accepts absolute http and https URLs with a host and returns
// the trimmed input.
func ValidateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", monitor.ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", monitor.ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", monitor.ErrInvalidURL
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: host is required", monitor.ErrInvalidURL)
	}
	return raw, nil
}

// NormalizeTags trims tags, drops empty ones and removes duplicates while
// keeping first-seen order. It never returns nil.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
