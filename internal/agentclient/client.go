// Package agentclient implements the agent-side WebSocket client for
// connecting a worker agent to a Pamoja gateway. It registers the agent's
// capabilities, answers stage calls through a user-supplied handler, and
// reconnects automatically with exponential backoff.
package agentclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/mifumo/pamoja/internal/protocol"
)

// Config configures the agent-side WebSocket client.
type Config struct {
	GatewayURL        string
	Token             string
	AgentID           string
	Name              string
	Capabilities      []string
	Tier              int
	Independent       bool
	Version           string
	HeartbeatInterval time.Duration
	ReconnectInterval time.Duration
}

// CallHandler executes one stage call. Returning an error fails the call.
type CallHandler func(ctx context.Context, req protocol.CallRequest) (*protocol.CallResponse, error)

// Client connects to the gateway and serves stage calls.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	handler CallHandler

	conn   *websocket.Conn
	connMu sync.Mutex

	activeMu    sync.Mutex
	activeCalls int
}

// New creates a client for the given gateway.
func New(cfg Config, handler CallHandler, logger *slog.Logger) *Client {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	return &Client{
		cfg:     cfg,
		logger:  logger,
		handler: handler,
	}
}

// Run connects to the gateway and enters the main message loop.
// Reconnects automatically on disconnect with exponential backoff.
// Blocks until the context is cancelled.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt++
		backoff := c.backoff(attempt)
		c.logger.Warn("disconnected from gateway, reconnecting",
			slog.String("error", err.Error()),
			slog.String("backoff", backoff.String()),
			slog.Int("attempt", attempt),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (c *Client) connectAndServe(ctx context.Context) error {
	dialURL := c.cfg.GatewayURL
	if c.cfg.Token != "" {
		sep := "?"
		for _, ch := range dialURL {
			if ch == '?' {
				sep = "&"
				break
			}
		}
		dialURL += sep + "token=" + c.cfg.Token
	}

	conn, _, err := websocket.Dial(ctx, dialURL, &websocket.DialOptions{
		Subprotocols: []string{"pamoja-agent-v1"},
	})
	if err != nil {
		return fmt.Errorf("dialing gateway: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	defer func() {
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "agent shutting down")
	}()

	if err := c.register(ctx, conn); err != nil {
		return fmt.Errorf("registration: %w", err)
	}

	c.logger.Info("connected to gateway",
		slog.String("url", c.cfg.GatewayURL),
		slog.String("agent_id", c.cfg.AgentID),
	)

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go c.heartbeatLoop(hbCtx, conn)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("invalid message from gateway", slog.String("error", err.Error()))
			continue
		}

		c.handleMessage(ctx, conn, &env)
	}
}

func (c *Client) register(ctx context.Context, conn *websocket.Conn) error {
	env, err := protocol.NewEnvelope(protocol.MsgAgentRegister, protocol.RegisterPayload{
		AgentID:      c.cfg.AgentID,
		Name:         c.cfg.Name,
		Capabilities: c.cfg.Capabilities,
		Tier:         c.cfg.Tier,
		Independent:  c.cfg.Independent,
		Version:      c.cfg.Version,
	})
	if err != nil {
		return err
	}
	env.AgentID = c.cfg.AgentID
	if err := c.writeEnvelope(ctx, conn, env); err != nil {
		return err
	}

	confirmCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, data, err := conn.Read(confirmCtx)
	if err != nil {
		return fmt.Errorf("reading confirmation: %w", err)
	}
	var confirm protocol.Envelope
	if err := json.Unmarshal(data, &confirm); err != nil {
		return fmt.Errorf("parsing confirmation: %w", err)
	}
	if confirm.Type != protocol.MsgRegistered {
		return fmt.Errorf("expected %s, got %s", protocol.MsgRegistered, confirm.Type)
	}
	return nil
}

func (c *Client) handleMessage(ctx context.Context, conn *websocket.Conn, env *protocol.Envelope) {
	switch env.Type {
	case protocol.MsgCallInvoke:
		var req protocol.CallRequest
		if err := env.Decode(&req); err != nil {
			c.logger.Error("invalid call request", slog.String("error", err.Error()))
			return
		}
		go c.serveCall(ctx, conn, env.CallID, req)

	case protocol.MsgPing:
		pong, _ := protocol.NewEnvelope(protocol.MsgPong, nil)
		pong.AgentID = c.cfg.AgentID
		_ = c.writeEnvelope(ctx, conn, pong)

	case protocol.MsgError:
		var ep protocol.ErrorPayload
		if err := env.Decode(&ep); err == nil {
			c.logger.Error("error from gateway",
				slog.String("code", ep.Code),
				slog.String("message", ep.Message),
			)
		}

	default:
		c.logger.Debug("unknown message from gateway", slog.String("type", string(env.Type)))
	}
}

func (c *Client) serveCall(ctx context.Context, conn *websocket.Conn, callID string, req protocol.CallRequest) {
	c.activeMu.Lock()
	c.activeCalls++
	c.activeMu.Unlock()
	defer func() {
		c.activeMu.Lock()
		c.activeCalls--
		c.activeMu.Unlock()
	}()

	resp := &protocol.CallResponse{}
	if c.handler == nil {
		resp.Error = "no call handler configured"
	} else {
		timeout := time.Duration(req.TimeoutMS) * time.Millisecond
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		out, err := c.handler(callCtx, req)
		if err != nil {
			resp.Error = err.Error()
		} else if out != nil {
			resp = out
		}
	}

	env, _ := protocol.NewEnvelope(protocol.MsgCallResult, resp)
	env.AgentID = c.cfg.AgentID
	env.CallID = callID
	if err := c.writeEnvelope(ctx, conn, env); err != nil {
		c.logger.Warn("sending call result failed",
			slog.String("call_id", callID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.activeMu.Lock()
			active := c.activeCalls
			c.activeMu.Unlock()

			env, _ := protocol.NewEnvelope(protocol.MsgAgentHeartbeat, protocol.HeartbeatPayload{
				ActiveCalls: active,
			})
			env.AgentID = c.cfg.AgentID
			if err := c.writeEnvelope(ctx, conn, env); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeEnvelope(ctx context.Context, conn *websocket.Conn, env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// backoff returns exponential backoff capped at 60s.
func (c *Client) backoff(attempt int) time.Duration {
	base := c.cfg.ReconnectInterval
	mult := math.Pow(2, float64(attempt-1))
	d := time.Duration(float64(base) * mult)
	if d > 60*time.Second {
		d = 60 * time.Second
	}
	return d
}
