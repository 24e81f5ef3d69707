// Package autocomplete keeps the tech-stack prefix index consistent with the
// portfolio store and serves prefix queries from it.
package autocomplete

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/autocomplete/index"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/autocomplete/techstack"
	apperrors "github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/resilience"
)

// RecordLister reads every portfolio's id and tech-stack field from the
// backing store.
type RecordLister interface {
	ListTechStacks(ctx context.Context) ([]index.Record, error)
}

type Options struct {
	// MaxResults caps Suggest when the caller asks for no explicit limit.
	MaxResults       int
	WarmAttempts     int
	WarmInitialDelay time.Duration
	Metrics          *metrics.Metrics
}

// Stats describes the index for health and RPC reporting.
type Stats struct {
	Keywords            int           `json:"keywords"`
	Ready               bool          `json:"ready"`
	LastRebuild         time.Time     `json:"last_rebuild"`
	LastRebuildDuration time.Duration `json:"last_rebuild_duration"`
}

// Synchronizer owns the process-wide prefix index. It rebuilds the index from
// the store and applies incremental changes reported by the lifecycle
// manager once they are durably persisted.
//
// gate orders full reloads against incremental changes: a reload holds it
// exclusively from the store read until the new index is published, so a
// change committed while the read is in flight is applied after the reload
// instead of being overwritten by it. Incremental changes are idempotent,
// which makes re-applying one the reload already saw harmless.
type Synchronizer struct {
	idx     *index.PrefixIndex
	store   RecordLister
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger

	gate        sync.RWMutex
	ready       atomic.Bool
	lastRebuild atomic.Pointer[rebuildInfo]
}

type rebuildInfo struct {
	at       time.Time
	duration time.Duration
}

func NewSynchronizer(store RecordLister, idx *index.PrefixIndex, opts Options) *Synchronizer {
	return &Synchronizer{
		idx:     idx,
		store:   store,
		opts:    opts,
		metrics: opts.Metrics,
		logger:  slog.Default().With("component", "autocomplete-sync"),
	}
}

// Warm performs the startup rebuild, retrying transient store failures.
// It returns an error wrapping ErrStoreUnavailable when every attempt fails;
// callers must treat that as fatal. Ready reports true only after Warm
// succeeds.
func (s *Synchronizer) Warm(ctx context.Context) error {
	err := resilience.Retry(ctx, "autocomplete-warm", resilience.RetryConfig{
		MaxAttempts:  s.opts.WarmAttempts,
		InitialDelay: s.opts.WarmInitialDelay,
	}, func() error {
		return s.Reload(ctx)
	})
	if err != nil {
		return fmt.Errorf("warming autocomplete index: %w: %w", apperrors.ErrStoreUnavailable, err)
	}
	s.ready.Store(true)
	return nil
}

// Reload rebuilds the index from the store. On failure the previous index
// stays in place.
func (s *Synchronizer) Reload(ctx context.Context) error {
	s.gate.Lock()
	defer s.gate.Unlock()

	start := time.Now()
	records, err := s.store.ListTechStacks(ctx)
	if err != nil {
		s.observeRebuild("error", 0)
		return fmt.Errorf("listing portfolio tech stacks: %w", err)
	}
	s.idx.Rebuild(records)
	elapsed := time.Since(start)

	s.lastRebuild.Store(&rebuildInfo{at: time.Now().UTC(), duration: elapsed})
	s.observeRebuild("ok", elapsed)
	s.logger.Info("autocomplete index rebuilt",
		"portfolios", len(records),
		"keywords", s.idx.Len(),
		"duration_ms", elapsed.Milliseconds(),
	)
	return nil
}

// StartReloadLoop rebuilds the index every interval until ctx is cancelled.
// It bounds how long the index can drift from the store when a change
// signal is lost. A non-positive interval disables the loop.
func (s *Synchronizer) StartReloadLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Reload(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("periodic autocomplete reload failed", "error", err)
			}
		}
	}
}

// Ready reports whether the startup rebuild has completed.
func (s *Synchronizer) Ready() bool {
	return s.ready.Load()
}

// OnCreated indexes a newly persisted portfolio.
func (s *Synchronizer) OnCreated(id int64, techStack *string) {
	keywords := techstack.Extract(techStack)
	if len(keywords) == 0 {
		return
	}
	s.gate.RLock()
	defer s.gate.RUnlock()
	s.idx.InsertAll(keywords, id)
	s.observeMutation("create")
	s.logger.Debug("portfolio indexed", "portfolio_id", id, "keywords", len(keywords))
}

// OnUpdated moves a portfolio from the keywords of its previous tech stack
// to those of its current one. Old keywords are removed before new ones are
// inserted, in one index commit.
func (s *Synchronizer) OnUpdated(id int64, previous, current *string) {
	old := techstack.Extract(previous)
	cur := techstack.Extract(current)
	if len(old) == 0 && len(cur) == 0 {
		return
	}
	s.gate.RLock()
	defer s.gate.RUnlock()
	s.idx.Replace(id, old, cur)
	s.observeMutation("update")
	removed, added := techstack.Diff(previous, current)
	s.logger.Debug("portfolio reindexed", "portfolio_id", id, "removed", removed, "added", added)
}

// OnDeleted removes a portfolio from every keyword it is indexed under.
// The last tech stack is only logged: the index may hold keywords the
// deleting replica never saw, such as those of a remote change still in
// flight.
func (s *Synchronizer) OnDeleted(id int64, techStack *string) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	s.idx.Set(id, nil)
	s.observeMutation("delete")
	s.logger.Debug("portfolio unindexed", "portfolio_id", id, "keywords", len(techstack.Extract(techStack)))
}

// Resync makes the index list id under exactly the keywords of techStack,
// whatever it held for id before. A nil techStack, as for a portfolio that
// no longer exists, removes id everywhere.
func (s *Synchronizer) Resync(id int64, techStack *string) {
	keywords := techstack.Extract(techStack)
	s.gate.RLock()
	defer s.gate.RUnlock()
	s.idx.Set(id, keywords)
	s.observeMutation("resync")
	s.logger.Debug("portfolio resynced", "portfolio_id", id, "keywords", len(keywords))
}

// Autocomplete returns every indexed keyword beginning with prefix in
// lexicographic order. It never mutates the index.
func (s *Synchronizer) Autocomplete(prefix string) []string {
	return s.Suggest(prefix, -1)
}

// Suggest is Autocomplete capped at max results. max == 0 applies the
// configured MaxResults; max < 0 means no cap.
func (s *Synchronizer) Suggest(prefix string, max int) []string {
	if max == 0 {
		max = s.opts.MaxResults
	}
	start := time.Now()
	keywords := s.idx.QueryPrefixLimit(prefix, max)
	if s.metrics != nil {
		s.metrics.AutocompleteLatency.Observe(time.Since(start).Seconds())
		outcome := "match"
		if len(keywords) == 0 {
			outcome = "empty"
		}
		s.metrics.AutocompleteQueries.WithLabelValues(outcome).Inc()
	}
	return keywords
}

func (s *Synchronizer) Stats() Stats {
	st := Stats{
		Keywords: s.idx.Len(),
		Ready:    s.Ready(),
	}
	if info := s.lastRebuild.Load(); info != nil {
		st.LastRebuild = info.at
		st.LastRebuildDuration = info.duration
	}
	return st
}

func (s *Synchronizer) observeMutation(op string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IndexMutationsTotal.WithLabelValues(op).Inc()
	s.metrics.IndexKeywords.Set(float64(s.idx.Len()))
}

func (s *Synchronizer) observeRebuild(status string, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.IndexRebuildsTotal.WithLabelValues(status).Inc()
	if status == "ok" {
		s.metrics.IndexRebuildDuration.Observe(elapsed.Seconds())
		s.metrics.IndexKeywords.Set(float64(s.idx.Len()))
	}
}
