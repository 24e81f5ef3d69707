package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/proto"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer()
	s.Register(proto.MethodSuggest, func(ctx context.Context, req json.RawMessage) (any, error) {
		var in proto.SuggestRequest
		if err := json.Unmarshal(req, &in); err != nil {
			return nil, err
		}
		return &proto.SuggestResponse{Suggestions: []string{in.Prefix + "lang"}}, nil
	})
	s.Register("Test.Fail", func(ctx context.Context, req json.RawMessage) (any, error) {
		return nil, errors.New("store unavailable")
	})
	s.Register("Test.Panic", func(ctx context.Context, req json.RawMessage) (any, error) {
		panic("boom")
	})
	require.NoError(t, s.Listen("127.0.0.1:0"))
	go s.Serve()
	t.Cleanup(s.Stop)
	return s
}

func dial(t *testing.T, s *Server) *Client {
	t.Helper()
	c, err := Dial(context.Background(), s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCallRoundTrip(t *testing.T) {
	s := startServer(t)
	c := dial(t, s)

	var resp proto.SuggestResponse
	require.NoError(t, c.Call(context.Background(), proto.MethodSuggest, &proto.SuggestRequest{Prefix: "go"}, &resp))
	assert.Equal(t, []string{"golang"}, resp.Suggestions)
	assert.Equal(t, 3, s.MethodCount())
}

func TestCallErrors(t *testing.T) {
	s := startServer(t)
	c := dial(t, s)

	err := c.Call(context.Background(), "Test.Fail", nil, nil)
	require.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), "store unavailable")

	err = c.Call(context.Background(), "Nope.Missing", nil, nil)
	require.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), "unknown method")

	err = c.Call(context.Background(), "Test.Panic", nil, nil)
	require.ErrorIs(t, err, ErrRemote)

	// the connection survives handler failures
	var resp proto.SuggestResponse
	require.NoError(t, c.Call(context.Background(), proto.MethodSuggest, &proto.SuggestRequest{Prefix: "ko"}, &resp))
	assert.Equal(t, []string{"kolang"}, resp.Suggestions)
}

func TestConcurrentCalls(t *testing.T) {
	s := startServer(t)
	c := dial(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var resp proto.SuggestResponse
			assert.NoError(t, c.Call(context.Background(), proto.MethodSuggest, &proto.SuggestRequest{Prefix: "r"}, &resp))
			assert.Equal(t, []string{"rlang"}, resp.Suggestions)
		}()
	}
	wg.Wait()
}

func TestStopClosesOpenConnections(t *testing.T) {
	s := NewServer()
	require.NoError(t, s.Listen("127.0.0.1:0"))
	served := make(chan error, 1)
	go func() { served <- s.Serve() }()

	c, err := Dial(context.Background(), s.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	s.Stop()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}

func TestServeBeforeListen(t *testing.T) {
	require.Error(t, NewServer().Serve())
}
