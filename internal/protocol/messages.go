// Package protocol defines the WebSocket message types for communication
// between the orchestrator gateway and remote agents. All messages are
// JSON-encoded and wrapped in an Envelope for uniform routing.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of message in the WebSocket protocol.
type MessageType string

const (
	// Agent to gateway.
	MsgAgentRegister  MessageType = "agent.register"
	MsgAgentHeartbeat MessageType = "agent.heartbeat"
	MsgCallResult     MessageType = "call.result"

	// Gateway to agent.
	MsgRegistered MessageType = "gateway.registered"
	MsgCallInvoke MessageType = "call.invoke"
	MsgPing       MessageType = "gateway.ping"
	MsgPong       MessageType = "gateway.pong"

	// Bidirectional.
	MsgError MessageType = "error"
)

// Envelope is the top-level wrapper for all WebSocket communication.
// CallID correlates a call.invoke with its call.result.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"`
	AgentID   string          `json:"agent_id,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope creates an Envelope with a fresh ID and current timestamp.
func NewEnvelope(msgType MessageType, payload any) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Envelope{
		Type:      msgType,
		ID:        uuid.New().String(),
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the Payload into the given target.
func (e *Envelope) Decode(target any) error {
	return json.Unmarshal(e.Payload, target)
}

// RegisterPayload is sent with MsgAgentRegister when an agent connects.
// It mirrors the pool descriptor so the gateway can admit the agent
// into strategy selection directly.
type RegisterPayload struct {
	AgentID      string   `json:"agent_id"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	Tier         int      `json:"tier"`
	Independent  bool     `json:"independent"`
	Version      string   `json:"version"`
}

// HeartbeatPayload is sent with MsgAgentHeartbeat periodically.
type HeartbeatPayload struct {
	ActiveCalls int `json:"active_calls"`
}

// CallRequest is sent with MsgCallInvoke to dispatch one stage call.
type CallRequest struct {
	Objective string         `json:"objective"`
	Input     map[string]any `json:"input,omitempty"`
	TimeoutMS int64          `json:"timeout_ms"`
}

// CallResponse is sent with MsgCallResult when an agent finishes a call.
// A non-empty Error marks the call as failed.
type CallResponse struct {
	Output string `json:"output"`
	Tokens int    `json:"tokens"`
	Error  string `json:"error,omitempty"`
}

// RegisteredPayload is sent with MsgRegistered to confirm registration.
type RegisteredPayload struct {
	Message string `json:"message"`
}

// ErrorPayload is sent with MsgError for protocol-level errors.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
