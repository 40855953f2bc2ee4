// Package ws implements the WebSocket gateway that remote agents connect
// to. Connected agents register their capabilities and join the pool used
// by strategy selection; stage calls are dispatched to them over the
// socket and correlated back by call ID.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/mifumo/pamoja/internal/config"
	"github.com/mifumo/pamoja/internal/observability"
	"github.com/mifumo/pamoja/internal/protocol"
	"github.com/mifumo/pamoja/internal/registry"
)

const (
	registrationTimeout = 10 * time.Second
	defaultHeartbeat    = 30 * time.Second
	defaultCallTimeout  = 60 * time.Second
	subprotocol         = "pamoja-agent-v1"
)

// Server manages agent WebSocket connections.
type Server struct {
	pool    *registry.Registry
	cfg     config.WSConfig
	metrics *observability.MetricsCollector
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewServer creates a WebSocket gateway backed by the given agent pool.
// The metrics collector may be nil.
func NewServer(pool *registry.Registry, cfg config.WSConfig, metrics *observability.MetricsCollector, logger *slog.Logger) *Server {
	return &Server{
		pool:     pool,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

func (s *Server) callTimeout() time.Duration {
	if s.cfg.CallTimeoutS > 0 {
		return time.Duration(s.cfg.CallTimeoutS) * time.Second
	}
	return defaultCallTimeout
}

// Handler returns an http.Handler that upgrades connections to WebSocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

// ConnectedAgents returns the IDs of currently connected agents.
func (s *Server) ConnectedAgents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AuthToken != "" {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = r.Header.Get("Authorization")
			if len(token) > 7 && token[:7] == "Bearer " {
				token = token[7:]
			}
		}
		if token != s.cfg.AuthToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	s.handleConnection(r.Context(), conn)
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn) {
	sess, err := s.waitForRegistration(ctx, conn)
	if err != nil {
		s.logger.Error("agent registration failed", slog.String("error", err.Error()))
		conn.Close(websocket.StatusPolicyViolation, "registration failed")
		return
	}

	defer func() {
		s.dropSession(sess)
		conn.Close(websocket.StatusNormalClosure, "connection closed")
	}()

	if s.metrics != nil {
		s.metrics.WSConnectedAgents.Inc()
		defer s.metrics.WSConnectedAgents.Dec()
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go s.heartbeatLoop(hbCtx, sess)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.logger.Info("agent disconnected", slog.String("agent_id", sess.agentID))
			} else {
				s.logger.Warn("agent connection error",
					slog.String("agent_id", sess.agentID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("invalid message from agent",
				slog.String("agent_id", sess.agentID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if s.metrics != nil {
			s.metrics.WSMessagesTotal.WithLabelValues(string(env.Type), "in").Inc()
		}

		s.handleMessage(sess, &env)
	}
}

func (s *Server) waitForRegistration(ctx context.Context, conn *websocket.Conn) (*session, error) {
	regCtx, cancel := context.WithTimeout(ctx, registrationTimeout)
	defer cancel()

	_, data, err := conn.Read(regCtx)
	if err != nil {
		return nil, fmt.Errorf("reading registration: %w", err)
	}

	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parsing registration: %w", err)
	}
	if env.Type != protocol.MsgAgentRegister {
		return nil, fmt.Errorf("expected %s, got %s", protocol.MsgAgentRegister, env.Type)
	}

	var reg protocol.RegisterPayload
	if err := env.Decode(&reg); err != nil {
		return nil, fmt.Errorf("parsing register payload: %w", err)
	}
	if reg.AgentID == "" {
		return nil, fmt.Errorf("agent_id is required")
	}

	sess := &session{
		agentID: reg.AgentID,
		conn:    conn,
		server:  s,
		pending: make(map[string]chan protocol.CallResponse),
	}

	if _, err := s.pool.Register(registry.Descriptor{
		ID:           reg.AgentID,
		Name:         reg.Name,
		Capabilities: reg.Capabilities,
		Tier:         reg.Tier,
		Independent:  reg.Independent,
	}, sess); err != nil {
		return nil, fmt.Errorf("admitting agent %s to pool: %w", reg.AgentID, err)
	}

	s.mu.Lock()
	s.sessions[reg.AgentID] = sess
	s.mu.Unlock()

	resp, _ := protocol.NewEnvelope(protocol.MsgRegistered, protocol.RegisteredPayload{
		Message: fmt.Sprintf("registered as %s", reg.AgentID),
	})
	resp.AgentID = reg.AgentID
	if err := sess.write(ctx, resp); err != nil {
		s.dropSession(sess)
		return nil, fmt.Errorf("confirming registration: %w", err)
	}

	s.logger.Info("agent registered",
		slog.String("agent_id", reg.AgentID),
		slog.Any("capabilities", reg.Capabilities),
	)
	return sess, nil
}

func (s *Server) handleMessage(sess *session, env *protocol.Envelope) {
	switch env.Type {
	case protocol.MsgAgentHeartbeat:
		var hb protocol.HeartbeatPayload
		if err := env.Decode(&hb); err == nil {
			s.logger.Debug("agent heartbeat",
				slog.String("agent_id", sess.agentID),
				slog.Int("active_calls", hb.ActiveCalls),
			)
		}

	case protocol.MsgCallResult:
		var resp protocol.CallResponse
		if err := env.Decode(&resp); err != nil {
			s.logger.Warn("invalid call result",
				slog.String("agent_id", sess.agentID),
				slog.String("error", err.Error()),
			)
			return
		}
		sess.deliver(env.CallID, resp)

	case protocol.MsgPong:
		// Liveness acknowledged, nothing to record.

	default:
		s.logger.Warn("unknown message type from agent",
			slog.String("agent_id", sess.agentID),
			slog.String("type", string(env.Type)),
		)
	}
}

func (s *Server) dropSession(sess *session) {
	s.mu.Lock()
	if current, ok := s.sessions[sess.agentID]; ok && current == sess {
		delete(s.sessions, sess.agentID)
	}
	s.mu.Unlock()

	_ = s.pool.Deregister(sess.agentID)
	sess.failAll("agent disconnected")
}

func (s *Server) heartbeatLoop(ctx context.Context, sess *session) {
	interval := time.Duration(s.cfg.HeartbeatS) * time.Second
	if interval <= 0 {
		interval = defaultHeartbeat
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			env, _ := protocol.NewEnvelope(protocol.MsgPing, nil)
			if err := sess.write(ctx, env); err != nil {
				s.logger.Debug("heartbeat ping failed",
					slog.String("agent_id", sess.agentID),
					slog.String("error", err.Error()),
				)
				return
			}
		}
	}
}

// session is one connected agent. It implements registry.Invoker so the
// executor can dispatch stage calls to the remote side transparently.
type session struct {
	agentID string
	conn    *websocket.Conn
	server  *Server

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan protocol.CallResponse
	closed    bool
}

var _ registry.Invoker = (*session)(nil)

// Invoke sends a call.invoke over the socket and waits for the matching
// call.result or context expiry.
func (sess *session) Invoke(ctx context.Context, objective string, input map[string]any) (*registry.Result, error) {
	callID := uuid.New().String()

	ch := make(chan protocol.CallResponse, 1)
	sess.pendingMu.Lock()
	if sess.closed {
		sess.pendingMu.Unlock()
		return nil, fmt.Errorf("agent %s disconnected", sess.agentID)
	}
	sess.pending[callID] = ch
	sess.pendingMu.Unlock()
	defer func() {
		sess.pendingMu.Lock()
		delete(sess.pending, callID)
		sess.pendingMu.Unlock()
	}()

	// Callers without a deadline get the configured ceiling so a stalled
	// agent cannot pin the call forever.
	if _, ok := ctx.Deadline(); !ok {
		if d := sess.server.callTimeout(); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
	}
	var timeoutMS int64
	if deadline, ok := ctx.Deadline(); ok {
		timeoutMS = time.Until(deadline).Milliseconds()
	}
	env, err := protocol.NewEnvelope(protocol.MsgCallInvoke, protocol.CallRequest{
		Objective: objective,
		Input:     input,
		TimeoutMS: timeoutMS,
	})
	if err != nil {
		return nil, err
	}
	env.AgentID = sess.agentID
	env.CallID = callID

	start := time.Now()
	if err := sess.write(ctx, env); err != nil {
		return nil, fmt.Errorf("dispatching call to agent %s: %w", sess.agentID, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, fmt.Errorf("remote agent %s: %s", sess.agentID, resp.Error)
		}
		return &registry.Result{
			AgentID: sess.agentID,
			Output:  resp.Output,
			Tokens:  resp.Tokens,
			Elapsed: time.Since(start),
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (sess *session) write(ctx context.Context, env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	if sess.server.metrics != nil {
		sess.server.metrics.WSMessagesTotal.WithLabelValues(string(env.Type), "out").Inc()
	}
	return sess.conn.Write(ctx, websocket.MessageText, data)
}

// deliver routes a call result to its waiting Invoke. Results for calls
// nobody waits on anymore, and duplicate results for the same call, are
// dropped. The send must never block: the channel is buffered for exactly
// one result and deliver runs on the connection read loop.
func (sess *session) deliver(callID string, resp protocol.CallResponse) {
	sess.pendingMu.Lock()
	ch, ok := sess.pending[callID]
	sess.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

// failAll fails every in-flight call, called once when the connection drops.
// A call whose result already arrived keeps that result; skipping it here
// also keeps the send from blocking while pendingMu is held, since the
// waiting Invoke cannot drain the channel before taking the same mutex.
func (sess *session) failAll(reason string) {
	sess.pendingMu.Lock()
	defer sess.pendingMu.Unlock()
	sess.closed = true
	for id, ch := range sess.pending {
		select {
		case ch <- protocol.CallResponse{Error: reason}:
		default:
		}
		delete(sess.pending, id)
	}
}
