package ws

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mifumo/pamoja/internal/agentclient"
	"github.com/mifumo/pamoja/internal/config"
	"github.com/mifumo/pamoja/internal/protocol"
	"github.com/mifumo/pamoja/internal/registry"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startAgent connects a client agent to the gateway and waits until it
// shows up in the pool.
func startAgent(t *testing.T, url string, cfg agentclient.Config, handler agentclient.CallHandler, pool *registry.Registry) context.CancelFunc {
	t.Helper()
	cfg.GatewayURL = url
	ctx, cancel := context.WithCancel(context.Background())
	client := agentclient.New(cfg, handler, discard())
	go func() { _ = client.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := pool.Get(cfg.AgentID); err == nil {
			return cancel
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	t.Fatalf("agent %s never registered", cfg.AgentID)
	return nil
}

func TestRegisterAndInvoke(t *testing.T) {
	pool := registry.NewRegistry()
	server := NewServer(pool, config.WSConfig{}, nil, discard())
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	handler := func(ctx context.Context, req protocol.CallRequest) (*protocol.CallResponse, error) {
		return &protocol.CallResponse{Output: "done: " + req.Objective, Tokens: 7}, nil
	}
	cancel := startAgent(t, wsURL(srv), agentclient.Config{
		AgentID:      "remote-1",
		Name:         "Remote One",
		Capabilities: []string{"nlp"},
		Tier:         1,
	}, handler, pool)
	defer cancel()

	a, err := pool.Get("remote-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(a.Capabilities) != 1 || a.Capabilities[0] != "nlp" {
		t.Errorf("capabilities = %v", a.Capabilities)
	}

	ctx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()
	res, err := a.Invoker.Invoke(ctx, "summarize", map[string]any{"doc": "x"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Output != "done: summarize" {
		t.Errorf("output = %q", res.Output)
	}
	if res.Tokens != 7 {
		t.Errorf("tokens = %d", res.Tokens)
	}
	if res.AgentID != "remote-1" {
		t.Errorf("agent id = %q", res.AgentID)
	}
}

func TestRemoteCallFailure(t *testing.T) {
	pool := registry.NewRegistry()
	server := NewServer(pool, config.WSConfig{}, nil, discard())
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	handler := func(ctx context.Context, req protocol.CallRequest) (*protocol.CallResponse, error) {
		return nil, errors.New("model unavailable")
	}
	cancel := startAgent(t, wsURL(srv), agentclient.Config{AgentID: "remote-2"}, handler, pool)
	defer cancel()

	a, err := pool.Get("remote-2")
	if err != nil {
		t.Fatal(err)
	}
	ctx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()
	_, err = a.Invoker.Invoke(ctx, "anything", nil)
	if err == nil || !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected remote failure, got %v", err)
	}
}

func TestDisconnectRemovesAgentFromPool(t *testing.T) {
	pool := registry.NewRegistry()
	server := NewServer(pool, config.WSConfig{}, nil, discard())
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	cancel := startAgent(t, wsURL(srv), agentclient.Config{AgentID: "remote-3"}, nil, pool)
	cancel()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := pool.Get("remote-3"); errors.Is(err, registry.ErrAgentNotFound) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("agent still in pool after disconnect")
}

func TestAuthTokenRejected(t *testing.T) {
	pool := registry.NewRegistry()
	server := NewServer(pool, config.WSConfig{AuthToken: "secret"}, nil, discard())
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client := agentclient.New(agentclient.Config{
		GatewayURL: wsURL(srv),
		Token:      "wrong",
		AgentID:    "remote-4",
	}, nil, discard())
	go func() { _ = client.Run(ctx) }()

	time.Sleep(300 * time.Millisecond)
	if _, err := pool.Get("remote-4"); !errors.Is(err, registry.ErrAgentNotFound) {
		t.Fatalf("agent should have been rejected, err = %v", err)
	}
}

// A second call.result for the same call id must be dropped, not block the
// goroutine that routes results off the connection.
func TestDeliverDropsDuplicateResult(t *testing.T) {
	sess := &session{pending: map[string]chan protocol.CallResponse{
		"c1": make(chan protocol.CallResponse, 1),
	}}

	sess.deliver("c1", protocol.CallResponse{Output: "first"})

	done := make(chan struct{})
	go func() {
		sess.deliver("c1", protocol.CallResponse{Output: "second"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("duplicate result delivery blocked")
	}

	if got := <-sess.pending["c1"]; got.Output != "first" {
		t.Fatalf("buffered result = %q, want the first delivery", got.Output)
	}
}

// failAll must finish even when a result is already buffered for a call
// whose Invoke gave up without draining it.
func TestFailAllSkipsBufferedResults(t *testing.T) {
	undrained := make(chan protocol.CallResponse, 1)
	undrained <- protocol.CallResponse{Output: "done"}
	waiting := make(chan protocol.CallResponse, 1)
	sess := &session{pending: map[string]chan protocol.CallResponse{
		"abandoned": undrained,
		"waiting":   waiting,
	}}

	finished := make(chan struct{})
	go func() {
		sess.failAll("agent disconnected")
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("failAll blocked on a full pending channel")
	}

	if got := <-waiting; got.Error != "agent disconnected" {
		t.Fatalf("waiting call got %+v, want the disconnect error", got)
	}
	if got := <-undrained; got.Output != "done" {
		t.Fatalf("abandoned call's buffered result was replaced: %+v", got)
	}
	if !sess.closed {
		t.Fatal("session not marked closed")
	}
	if len(sess.pending) != 0 {
		t.Fatalf("pending map not cleared: %d entries", len(sess.pending))
	}
}
