// Package search adds web snippets to the model context for diet and health
// questions.
package search

import (
	"context"
	"log/slog"
	"time"

	"dietchat/internal/metrics"
)

// DefaultTimeout bounds one provider lookup.
const DefaultTimeout = 5 * time.Second

// Provider performs one outbound lookup.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string) (SnippetSet, error)
}

// Augmenter turns the latest user turn into an optional context block.
// Lookup failures never propagate; they degrade to no context.
type Augmenter struct {
	provider Provider
	trigger  TriggerRule
	timeout  time.Duration
	cache    Cache
	logger   *slog.Logger
}

type Option func(*Augmenter)

func WithCache(c Cache) Option {
	return func(a *Augmenter) { a.cache = c }
}

func WithTimeout(d time.Duration) Option {
	return func(a *Augmenter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func WithTrigger(r TriggerRule) Option {
	return func(a *Augmenter) { a.trigger = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Augmenter) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAugmenter returns an augmenter backed by provider. A nil provider
// disables search.
func NewAugmenter(provider Provider, opts ...Option) *Augmenter {
	a := &Augmenter{
		provider: provider,
		trigger:  DefaultTrigger,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Enabled reports whether lookups reach a provider.
func (a *Augmenter) Enabled() bool {
	return a != nil && a.provider != nil
}

// Context returns the context block for latestUserTurn, or "" when the turn
// does not warrant a search or the lookup produced nothing.
func (a *Augmenter) Context(ctx context.Context, latestUserTurn string) string {
	if a == nil || a.provider == nil {
		return ""
	}
	query, ok := a.trigger.Query(latestUserTurn)
	if !ok {
		metrics.SearchLookups.WithLabelValues("skipped").Inc()
		return ""
	}
	return a.Lookup(ctx, query).Text()
}

// Lookup runs query against the provider (or the cache) without applying
// the trigger rule.
func (a *Augmenter) Lookup(ctx context.Context, query string) SnippetSet {
	if a == nil || a.provider == nil {
		return SnippetSet{}
	}
	if a.cache != nil {
		if set, ok := a.cache.Load(ctx, query); ok {
			metrics.SearchLookups.WithLabelValues("cached").Inc()
			return set
		}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	start := time.Now()
	set, err := a.provider.Search(lookupCtx, query)
	if err != nil {
		metrics.SearchLookups.WithLabelValues("error").Inc()
		a.logger.WarnContext(ctx, "search lookup failed",
			"provider", a.provider.Name(),
			"elapsed", time.Since(start),
			"error", err,
		)
		return SnippetSet{}
	}
	if set.Empty() {
		metrics.SearchLookups.WithLabelValues("empty").Inc()
		return set
	}
	metrics.SearchLookups.WithLabelValues("ok").Inc()
	if a.cache != nil {
		a.cache.Store(ctx, query, set)
	}
	return set
}
