package store

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/portfolio"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/postgres"
)

func ptr(s string) *string { return &s }

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// newTestStore connects to TEST_POSTGRES_* and skips when unavailable.
func newTestStore(t *testing.T) (*Store, *postgres.Client) {
	t.Helper()
	port, _ := strconv.Atoi(envOrDefault("TEST_POSTGRES_PORT", "5432"))
	db, err := postgres.New(config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            port,
		Database:        envOrDefault("TEST_POSTGRES_DB", "ourportfolio_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "ourportfolio"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Skipf("skipping store test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := New(db)
	ctx := context.Background()
	require.NoError(t, s.ApplySchema(ctx))
	require.NoError(t, db.Exec(ctx, `TRUNCATE projects, portfolios, users RESTART IDENTITY CASCADE`))
	return s, db
}

func seedUser(t *testing.T, db *postgres.Client, email string) int64 {
	t.Helper()
	var id int64
	require.NoError(t, db.DB.QueryRow(`INSERT INTO users (email) VALUES ($1) RETURNING id`, email).Scan(&id))
	return id
}

func seedProject(t *testing.T, db *postgres.Client, userID int64) int64 {
	t.Helper()
	var id int64
	require.NoError(t, db.DB.QueryRow(
		`INSERT INTO projects (user_id, title) VALUES ($1, 'p') RETURNING id`, userID).Scan(&id))
	return id
}

func TestStoreLifecycle(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	owner := seedUser(t, db, "owner@example.com")
	p1 := seedProject(t, db, owner)
	p2 := seedProject(t, db, owner)

	exists, err := s.UserExists(ctx, owner)
	require.NoError(t, err)
	assert.True(t, exists)

	created := &portfolio.Portfolio{UserID: owner, Title: "backend", TechStack: ptr("go,postgres"), ProjectIDs: []int64{p1}}
	require.NoError(t, s.Create(ctx, created, nil))
	require.NotZero(t, created.ID)
	require.NoError(t, s.Create(ctx, &portfolio.Portfolio{UserID: owner, Title: "empty", ProjectIDs: []int64{}}, nil))

	records, err := s.ListTechStacks(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "go,postgres", *records[0].TechStack)
	assert.Nil(t, records[1].TechStack)

	prev, next, err := s.Update(ctx, created.ID, func(cur portfolio.Portfolio) (portfolio.Portfolio, error) {
		cur.TechStack = ptr("rust")
		cur.ProjectIDs = []int64{p2}
		return cur, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "go,postgres", *prev.TechStack)
	assert.Equal(t, "rust", *next.TechStack)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{p2}, got.ProjectIDs)

	projects, err := s.Projects(ctx, []int64{p1, p2, 999})
	require.NoError(t, err)
	assert.Len(t, projects, 2)

	deleted, err := s.Delete(ctx, created.ID, func(portfolio.Portfolio) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "rust", *deleted.TechStack)

	_, err = s.Get(ctx, created.ID)
	require.ErrorIs(t, err, apperrors.ErrPortfolioNotFound)
}

func TestDeleteVetoKeepsRow(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	owner := seedUser(t, db, "veto@example.com")
	p := &portfolio.Portfolio{UserID: owner, Title: "keep", TechStack: ptr("go"), ProjectIDs: []int64{}}
	require.NoError(t, s.Create(ctx, p, nil))

	_, err := s.Delete(ctx, p.ID, func(portfolio.Portfolio) error {
		return apperrors.Forbidden("not yours")
	})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = s.Get(ctx, p.ID)
	require.NoError(t, err)
}
