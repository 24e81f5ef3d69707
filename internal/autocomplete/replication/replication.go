// Package replication applies portfolio lifecycle events published by other
// replicas to the local autocomplete index.
//
// Event payloads are not trusted: an event can arrive after this replica
// has made its own, later change to the same portfolio. Each event only
// names a portfolio to resync, and the row is re-read from the store.
package replication

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/portfolio"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/resilience"
)

// Resyncer re-reads one portfolio from the store and makes the index match
// it, ordered against local changes to the same portfolio.
type Resyncer interface {
	Resync(ctx context.Context, id int64) error
}

// Applier routes events to the index. Events carrying this replica's own
// origin are skipped: the lifecycle manager already applied them locally.
type Applier struct {
	origin  string
	target  Resyncer
	retry   resilience.RetryConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewApplier(origin string, target Resyncer, m *metrics.Metrics) *Applier {
	return &Applier{
		origin: origin,
		target: target,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     time.Second,
		},
		metrics: m,
		logger:  slog.Default().With("component", "autocomplete-replication"),
	}
}

// Apply resyncs the portfolio ev refers to and reports whether it did.
// Skipped and malformed events return false with a nil error.
func (a *Applier) Apply(ctx context.Context, ev portfolio.Event) (bool, error) {
	if ev.Origin == a.origin {
		a.observe("skipped")
		return false, nil
	}
	switch ev.Type {
	case portfolio.EventCreated, portfolio.EventUpdated, portfolio.EventDeleted:
	default:
		a.logger.Warn("unknown portfolio event type", "type", ev.Type, "portfolio_id", ev.PortfolioID)
		a.observe("invalid")
		return false, nil
	}

	err := resilience.Retry(ctx, "portfolio-resync", a.retry, func() error {
		return a.target.Resync(ctx, ev.PortfolioID)
	})
	if err != nil {
		a.observe("failed")
		return false, err
	}
	a.observe("applied")
	a.logger.Debug("replicated portfolio event",
		"type", ev.Type,
		"portfolio_id", ev.PortfolioID,
		"origin", ev.Origin,
	)
	return true, nil
}

// Handler adapts the applier to a Kafka consumer. Undecodable payloads are
// counted and dropped rather than retried. A resync that keeps failing is
// returned to the consumer, which logs it; the periodic reload repairs the
// portfolio later.
func (a *Applier) Handler() kafka.MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		ev, err := kafka.DecodeJSON[portfolio.Event](value)
		if err != nil {
			a.logger.Warn("dropping undecodable portfolio event", "key", string(key), "error", err)
			a.observe("invalid")
			return nil
		}
		_, err = a.Apply(ctx, ev)
		return err
	}
}

func (a *Applier) observe(outcome string) {
	if a.metrics == nil {
		return
	}
	a.metrics.ReplicationEvents.WithLabelValues(outcome).Inc()
}
