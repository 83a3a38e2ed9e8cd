package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Push-channel event names. Join, Leave, Send and Typing travel client to
// server; Message, Typing, Read and Ack travel server to client.
const (
	EventJoin    = "join"
	EventLeave   = "leave"
	EventSend    = "send"
	EventTyping  = "typing"
	EventMessage = "message"
	EventRead    = "read"
	EventAck     = "ack"
)

// ErrUnknownEvent is returned for an event name no decoder exists for.
var ErrUnknownEvent = errors.New("unknown event")

// Envelope is the wire frame for every push-channel event: a discriminator
// plus the kind-specific payload. Payloads are parsed into their strict
// schema at the boundary; anything that fails validation is rejected there
// instead of propagating loosely-typed data inward.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope wraps a payload into an Envelope for the given event name.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// JoinPayload enters or, for EventLeave, exits a conversation room.
type JoinPayload struct {
	ConversationID string `json:"conversation_id"`
}

func (p JoinPayload) validate() error {
	if p.ConversationID == "" {
		return errors.New("conversation_id required")
	}
	return nil
}

// SendPayload submits a message over the push channel. Ref is a
// client-generated correlation ID echoed back in the matching ack.
type SendPayload struct {
	Ref            string `json:"ref"`
	ConversationID string `json:"conversation_id"`
	Body           string `json:"body"`
	Kind           string `json:"kind"`
}

func (p SendPayload) validate() error {
	switch {
	case p.Ref == "":
		return errors.New("ref required")
	case p.ConversationID == "":
		return errors.New("conversation_id required")
	case p.Body == "":
		return errors.New("body required")
	case p.Kind == "":
		return errors.New("kind required")
	}
	return nil
}

// TypingPayload signals a typing-state change. UserID is filled by the
// server before fan-out; clients sending it leave the field empty.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id,omitempty"`
	UserName       string `json:"user_name,omitempty"`
	Active         bool   `json:"active"`
}

func (p TypingPayload) validate() error {
	if p.ConversationID == "" {
		return errors.New("conversation_id required")
	}
	return nil
}

// MessagePayload delivers a newly created message.
type MessagePayload struct {
	Message Message `json:"message"`
}

func (p MessagePayload) validate() error {
	switch {
	case p.Message.ID == "":
		return errors.New("message id required")
	case p.Message.ConversationID == "":
		return errors.New("message conversation_id required")
	case p.Message.CreatedAt.IsZero():
		return errors.New("message created_at required")
	}
	return nil
}

// ReadPayload is a read receipt: the user has read everything in the
// conversation up to ReadAt.
type ReadPayload struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	ReadAt         time.Time `json:"read_at"`
}

func (p ReadPayload) validate() error {
	switch {
	case p.ConversationID == "":
		return errors.New("conversation_id required")
	case p.UserID == "":
		return errors.New("user_id required")
	case p.ReadAt.IsZero():
		return errors.New("read_at required")
	}
	return nil
}

// AckPayload acknowledges a send. On success Message carries the persisted
// message the server minted from the send.
type AckPayload struct {
	Ref     string   `json:"ref"`
	OK      bool     `json:"ok"`
	Error   string   `json:"error,omitempty"`
	Message *Message `json:"message,omitempty"`
}

func (p AckPayload) validate() error {
	if p.Ref == "" {
		return errors.New("ref required")
	}
	if p.OK && p.Message == nil {
		return errors.New("ok ack without message")
	}
	return nil
}

// DecodeEvent parses an envelope's payload into its strict per-kind schema.
// It returns one of the *Payload types, or an error for malformed payloads
// and unknown event names. Callers log and discard failures; a bad frame is
// never fatal to the connection.
func DecodeEvent(env Envelope) (any, error) {
	switch env.Event {
	case EventJoin, EventLeave:
		return decodePayload[JoinPayload](env)
	case EventSend:
		return decodePayload[SendPayload](env)
	case EventTyping:
		return decodePayload[TypingPayload](env)
	case EventMessage:
		return decodePayload[MessagePayload](env)
	case EventRead:
		return decodePayload[ReadPayload](env)
	case EventAck:
		return decodePayload[AckPayload](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

type validator interface {
	validate() error
}

func decodePayload[T validator](env Envelope) (T, error) {
	var p T
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", env.Event, err)
	}
	if err := p.validate(); err != nil {
		return p, fmt.Errorf("invalid %s payload: %w", env.Event, err)
	}
	return p, nil
}
