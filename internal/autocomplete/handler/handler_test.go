package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/autocomplete"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/autocomplete/index"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/rpc"
)

func ptr(s string) *string { return &s }

type fakeStore struct {
	mu      sync.Mutex
	records []index.Record
	err     error
}

func (f *fakeStore) ListTechStacks(ctx context.Context) ([]index.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]index.Record(nil), f.records...), nil
}

func (f *fakeStore) set(records []index.Record, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records, f.err = records, err
}

type env struct {
	store    *fakeStore
	sync     *autocomplete.Synchronizer
	mux      http.Handler
	verifier *auth.Verifier
}

func newEnv(t *testing.T, limiter *ratelimit.Limiter) *env {
	t.Helper()
	store := &fakeStore{records: []index.Record{
		{ID: 1, TechStack: ptr("java,spring")},
		{ID: 2, TechStack: ptr("javascript,react")},
	}}
	s := autocomplete.NewSynchronizer(store, index.NewPrefixIndex(), autocomplete.Options{MaxResults: 2})
	require.NoError(t, s.Warm(context.Background()))

	v := auth.NewVerifier(config.AuthConfig{JWTSecret: "secret", TokenTTL: time.Hour})
	mux := http.NewServeMux()
	admin := func(next http.Handler) http.Handler {
		return middleware.Chain(next, auth.RequireUser(v), auth.RequireRole(auth.RoleAdmin))
	}
	New(s).Register(mux, ratelimit.Middleware(limiter), admin)
	return &env{store: store, sync: s, mux: mux, verifier: v}
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func keywords(t *testing.T, rec *httptest.ResponseRecorder) []string {
	t.Helper()
	var body struct {
		Keywords []string `json:"keywords"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Keywords
}

func TestAutocompleteReturnsAllMatches(t *testing.T) {
	e := newEnv(t, ratelimit.New(0, 0))

	rec := get(e.mux, "/api/portfolios/autocomplete?keyword=ja")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, []string{"java", "javascript"}, keywords(t, rec))
}

func TestAutocompleteEmptyAndNoMatch(t *testing.T) {
	e := newEnv(t, ratelimit.New(0, 0))

	assert.Equal(t, []string{"java", "javascript", "react", "spring"},
		keywords(t, get(e.mux, "/api/portfolios/autocomplete")))

	rec := get(e.mux, "/api/portfolios/autocomplete?keyword=zz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"keywords":[]}`, rec.Body.String())
}

func TestAutocompleteRateLimited(t *testing.T) {
	e := newEnv(t, ratelimit.New(0.001, 1))

	assert.Equal(t, http.StatusOK, get(e.mux, "/api/portfolios/autocomplete?keyword=j").Code)
	rec := get(e.mux, "/api/portfolios/autocomplete?keyword=j")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func reload(e *env, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/admin/autocomplete/reload", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func TestReloadRequiresAdmin(t *testing.T) {
	e := newEnv(t, ratelimit.New(0, 0))

	assert.Equal(t, http.StatusUnauthorized, reload(e, "").Code)

	userToken, err := e.verifier.Sign(3)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, reload(e, userToken).Code)
}

func TestReloadPicksUpStoreChanges(t *testing.T) {
	e := newEnv(t, ratelimit.New(0, 0))
	token, err := e.verifier.Sign(1, auth.RoleAdmin)
	require.NoError(t, err)
	e.store.set([]index.Record{{ID: 9, TechStack: ptr("elixir")}}, nil)

	rec := reload(e, token)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"elixir"}, e.sync.Autocomplete(""))
}

func TestReloadFailureKeepsIndex(t *testing.T) {
	e := newEnv(t, ratelimit.New(0, 0))
	token, err := e.verifier.Sign(1, auth.RoleAdmin)
	require.NoError(t, err)
	e.store.set(nil, errors.New("connection refused"))

	rec := reload(e, token)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Len(t, e.sync.Autocomplete(""), 4)
}

func TestRPCMethods(t *testing.T) {
	e := newEnv(t, ratelimit.New(0, 0))
	srv := rpc.NewServer()
	New(e.sync).RegisterRPC(srv)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	go srv.Serve()
	t.Cleanup(srv.Stop)

	ctx := context.Background()
	c, err := rpc.Dial(ctx, srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	var sugg proto.SuggestResponse
	require.NoError(t, c.Call(ctx, proto.MethodSuggest, proto.SuggestRequest{Prefix: ""}, &sugg))
	assert.Equal(t, []string{"java", "javascript"}, sugg.Suggestions, "server cap applies")

	require.NoError(t, c.Call(ctx, proto.MethodSuggest, proto.SuggestRequest{Prefix: "", MaxItems: -1}, &sugg))
	assert.Len(t, sugg.Suggestions, 4)

	var stats proto.StatsResponse
	require.NoError(t, c.Call(ctx, proto.MethodStats, proto.StatsRequest{}, &stats))
	assert.Equal(t, int64(4), stats.Keywords)
	assert.True(t, stats.Ready)
	assert.NotZero(t, stats.LastRebuildUnix)

	e.store.set([]index.Record{{ID: 1, TechStack: ptr("go")}}, nil)
	var rl proto.ReloadResponse
	require.NoError(t, c.Call(ctx, proto.MethodReload, proto.ReloadRequest{}, &rl))
	assert.True(t, rl.Success)
	assert.Equal(t, int64(1), rl.Keywords)

	e.store.set(nil, errors.New("down"))
	require.NoError(t, c.Call(ctx, proto.MethodReload, proto.ReloadRequest{}, &rl))
	assert.False(t, rl.Success)
	assert.NotEmpty(t, rl.Message)
}
