package replication

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/autocomplete"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/autocomplete/index"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/portfolio"
	apperrors "github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/metrics"
)

func ptr(s string) *string { return &s }

// sharedRows stands in for the database every replica writes to.
type sharedRows struct {
	mu   sync.Mutex
	rows map[int64]portfolio.Portfolio
	err  error
}

func newSharedRows() *sharedRows {
	return &sharedRows{rows: make(map[int64]portfolio.Portfolio)}
}

// commit writes a row the way another replica would, bypassing this one.
func (r *sharedRows) commit(id int64, techStack *string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[id] = portfolio.Portfolio{ID: id, UserID: 1, TechStack: techStack}
}

func (r *sharedRows) ListTechStacks(ctx context.Context) ([]index.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []index.Record
	for id, p := range r.rows {
		out = append(out, index.Record{ID: id, TechStack: p.TechStack})
	}
	return out, nil
}

func (r *sharedRows) UserExists(ctx context.Context, userID int64) (bool, error) {
	return true, nil
}

func (r *sharedRows) Projects(ctx context.Context, ids []int64) ([]portfolio.Project, error) {
	return nil, nil
}

func (r *sharedRows) Get(ctx context.Context, id int64) (*portfolio.Portfolio, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	p, ok := r.rows[id]
	if !ok {
		return nil, apperrors.NotFound(apperrors.ErrPortfolioNotFound, "portfolio not found")
	}
	return &p, nil
}

func (r *sharedRows) Create(ctx context.Context, p *portfolio.Portfolio, beforeCommit func(id int64)) error {
	return errors.New("not supported")
}

func (r *sharedRows) Update(ctx context.Context, id int64, apply func(portfolio.Portfolio) (portfolio.Portfolio, error)) (*portfolio.Portfolio, *portfolio.Portfolio, error) {
	return nil, nil, errors.New("not supported")
}

func (r *sharedRows) Delete(ctx context.Context, id int64, check func(portfolio.Portfolio) error) (*portfolio.Portfolio, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rows[id]
	if !ok {
		return nil, apperrors.NotFound(apperrors.ErrPortfolioNotFound, "portfolio not found")
	}
	if err := check(cur); err != nil {
		return nil, err
	}
	delete(r.rows, id)
	return &cur, nil
}

type replica struct {
	rows    *sharedRows
	sync    *autocomplete.Synchronizer
	manager *portfolio.Manager
	applier *Applier
	m       *metrics.Metrics
}

func newReplica(t *testing.T, rows *sharedRows) *replica {
	t.Helper()
	m := metrics.New()
	s := autocomplete.NewSynchronizer(rows, index.NewPrefixIndex(), autocomplete.Options{})
	require.NoError(t, s.Warm(context.Background()))
	mgr := portfolio.NewManager(rows, s, portfolio.Options{Origin: "replica-b"})
	a := NewApplier("replica-b", mgr, m)
	a.retry.InitialDelay = 1
	a.retry.MaxDelay = 1
	return &replica{rows: rows, sync: s, manager: mgr, applier: a, m: m}
}

func TestApplyResyncsFromStore(t *testing.T) {
	rows := newSharedRows()
	r := newReplica(t, rows)
	ctx := context.Background()

	rows.commit(1, ptr("go,rust"))
	applied, err := r.applier.Apply(ctx, portfolio.Event{Type: portfolio.EventCreated, PortfolioID: 1, TechStack: ptr("go,rust"), Origin: "replica-a"})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, []string{"go", "rust"}, r.sync.Autocomplete(""))

	rows.commit(1, ptr("zig"))
	_, err = r.applier.Apply(ctx, portfolio.Event{Type: portfolio.EventUpdated, PortfolioID: 1,
		PreviousTechStack: ptr("go,rust"), TechStack: ptr("zig"), Origin: "replica-a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"zig"}, r.sync.Autocomplete(""))

	require.NoError(t, r.manager.Delete(ctx, 1, 1))
	_, err = r.applier.Apply(ctx, portfolio.Event{Type: portfolio.EventDeleted, PortfolioID: 1, TechStack: ptr("zig"), Origin: "replica-a"})
	require.NoError(t, err)
	assert.Empty(t, r.sync.Autocomplete(""))

	assert.Equal(t, 3.0, testutil.ToFloat64(r.m.ReplicationEvents.WithLabelValues("applied")))
}

// A remote update that arrives after this replica deleted the portfolio must
// not bring the portfolio back into the index.
func TestLateRemoteUpdateAfterLocalDelete(t *testing.T) {
	rows := newSharedRows()
	rows.commit(5, ptr("java"))
	r := newReplica(t, rows)
	ctx := context.Background()
	require.Equal(t, []string{"java"}, r.sync.Autocomplete(""))

	// Replica A commits java -> go; its event is still in flight.
	rows.commit(5, ptr("go"))
	late := portfolio.Event{Type: portfolio.EventUpdated, PortfolioID: 5,
		PreviousTechStack: ptr("java"), TechStack: ptr("go"), Origin: "replica-a"}

	// This replica deletes the row it reads as "go".
	require.NoError(t, r.manager.Delete(ctx, 1, 5))
	assert.Empty(t, r.sync.Autocomplete(""), "local delete must drop keywords the row no longer lists")

	_, err := r.applier.Apply(ctx, late)
	require.NoError(t, err)
	assert.Empty(t, r.sync.Autocomplete(""))
}

func TestStaleEventPayloadIgnored(t *testing.T) {
	rows := newSharedRows()
	rows.commit(1, ptr("java"))
	r := newReplica(t, rows)
	ctx := context.Background()

	// Two remote commits land before the first event is consumed.
	rows.commit(1, ptr("go"))
	rows.commit(1, ptr("rust"))

	_, err := r.applier.Apply(ctx, portfolio.Event{Type: portfolio.EventUpdated, PortfolioID: 1,
		PreviousTechStack: ptr("java"), TechStack: ptr("go"), Origin: "replica-a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"rust"}, r.sync.Autocomplete(""))

	_, err = r.applier.Apply(ctx, portfolio.Event{Type: portfolio.EventUpdated, PortfolioID: 1,
		PreviousTechStack: ptr("go"), TechStack: ptr("rust"), Origin: "replica-a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"rust"}, r.sync.Autocomplete(""))
}

func TestApplySkipsOwnOrigin(t *testing.T) {
	rows := newSharedRows()
	r := newReplica(t, rows)
	rows.commit(1, ptr("go"))

	applied, err := r.applier.Apply(context.Background(), portfolio.Event{Type: portfolio.EventCreated, PortfolioID: 1, TechStack: ptr("go"), Origin: "replica-b"})
	require.NoError(t, err)
	assert.False(t, applied)

	assert.Empty(t, r.sync.Autocomplete(""))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.m.ReplicationEvents.WithLabelValues("skipped")))
}

func TestApplyUnknownType(t *testing.T) {
	rows := newSharedRows()
	r := newReplica(t, rows)
	rows.commit(1, ptr("go"))

	applied, err := r.applier.Apply(context.Background(), portfolio.Event{Type: "portfolio.archived", PortfolioID: 1, TechStack: ptr("go")})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Empty(t, r.sync.Autocomplete(""))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.m.ReplicationEvents.WithLabelValues("invalid")))
}

func TestApplyStoreFailureKeepsIndex(t *testing.T) {
	rows := newSharedRows()
	rows.commit(1, ptr("go"))
	r := newReplica(t, rows)
	rows.mu.Lock()
	rows.err = errors.New("connection refused")
	rows.mu.Unlock()

	applied, err := r.applier.Apply(context.Background(), portfolio.Event{Type: portfolio.EventDeleted, PortfolioID: 1, TechStack: ptr("go"), Origin: "replica-a"})
	require.Error(t, err)
	assert.False(t, applied)
	assert.Equal(t, []string{"go"}, r.sync.Autocomplete(""))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.m.ReplicationEvents.WithLabelValues("failed")))
}

func TestHandlerDecodesAndDropsGarbage(t *testing.T) {
	rows := newSharedRows()
	r := newReplica(t, rows)
	h := r.applier.Handler()
	rows.commit(4, ptr("kotlin"))

	payload, err := json.Marshal(portfolio.Event{Type: portfolio.EventCreated, PortfolioID: 4, TechStack: ptr("kotlin"), Origin: "replica-a"})
	require.NoError(t, err)
	require.NoError(t, h(context.Background(), []byte("4"), payload))
	assert.Equal(t, []string{"kotlin"}, r.sync.Autocomplete("k"))

	require.NoError(t, h(context.Background(), []byte("5"), []byte("{not json")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.m.ReplicationEvents.WithLabelValues("invalid")))
}
