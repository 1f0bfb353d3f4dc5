// Package realtime owns the single live channel to the backend and the
// closed set of events that travel over it.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eldtechnologies/carelink/internal/models"
)

// Event names on the wire.
const (
	EventJoin              = "chat:join"
	EventLeave             = "chat:leave"
	EventSend              = "message:send"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
	EventMessageReceived   = "message:received"
	EventUserTyping        = "user:typing"
	EventUserStoppedTyping = "user:stoppedTyping"
)

// ErrUnknownEvent is returned by DecodeInbound for event names outside the inbound set.
var ErrUnknownEvent = errors.New("realtime: unknown event")

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Outbound is an event the client emits. The set is closed: only the types
// in this file implement it.
type Outbound interface {
	outbound()
	Name() string
	ChatID() string
}

// Join subscribes the channel to a conversation's room.
type Join struct{ Chat string }

// Leave releases a conversation's room.
type Leave struct{ Chat string }

// Send emits a message into a conversation.
type Send struct {
	Chat       string
	Content    string
	Type       models.MessageType
	Attachment *models.Attachment
}

// TypingStart tells the counterpart the user is typing.
type TypingStart struct{ Chat string }

// TypingStop tells the counterpart the user stopped typing.
type TypingStop struct{ Chat string }

func (Join) outbound()        {}
func (Leave) outbound()       {}
func (Send) outbound()        {}
func (TypingStart) outbound() {}
func (TypingStop) outbound()  {}

func (Join) Name() string        { return EventJoin }
func (Leave) Name() string       { return EventLeave }
func (Send) Name() string        { return EventSend }
func (TypingStart) Name() string { return EventTypingStart }
func (TypingStop) Name() string  { return EventTypingStop }

func (e Join) ChatID() string        { return e.Chat }
func (e Leave) ChatID() string       { return e.Chat }
func (e Send) ChatID() string        { return e.Chat }
func (e TypingStart) ChatID() string { return e.Chat }
func (e TypingStop) ChatID() string  { return e.Chat }

type chatRef struct {
	ChatID string `json:"chatId"`
}

type sendPayload struct {
	ChatID     string             `json:"chatId"`
	Content    string             `json:"content"`
	Type       models.MessageType `json:"type,omitempty"`
	Attachment *models.Attachment `json:"attachment,omitempty"`
}

// EncodeOutbound renders an outbound event as a wire frame.
func EncodeOutbound(ev Outbound) ([]byte, error) {
	var data interface{}
	switch e := ev.(type) {
	case Join:
		data = e.Chat
	case Leave:
		data = e.Chat
	case Send:
		data = sendPayload{ChatID: e.Chat, Content: e.Content, Type: e.Type, Attachment: e.Attachment}
	case TypingStart:
		data = chatRef{ChatID: e.Chat}
	case TypingStop:
		data = chatRef{ChatID: e.Chat}
	default:
		return nil, fmt.Errorf("realtime: cannot encode %T", ev)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Event: ev.Name(), Data: raw})
}

// Inbound is an event received from the backend. The set is closed.
type Inbound interface {
	inbound()
	ChatID() string
}

// MessageReceived carries a message appended to a conversation.
type MessageReceived struct{ Message models.Message }

// UserTyping reports that a counterpart started typing.
type UserTyping struct {
	Chat   string
	UserID string
}

// UserStoppedTyping reports that a counterpart stopped typing.
type UserStoppedTyping struct {
	Chat   string
	UserID string
}

func (MessageReceived) inbound()   {}
func (UserTyping) inbound()        {}
func (UserStoppedTyping) inbound() {}

func (e MessageReceived) ChatID() string   { return e.Message.ChatID }
func (e UserTyping) ChatID() string        { return e.Chat }
func (e UserStoppedTyping) ChatID() string { return e.Chat }

type typingPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// DecodeInbound parses a wire frame into an inbound event.
func DecodeInbound(frame []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("realtime: bad frame: %w", err)
	}

	switch env.Event {
	case EventMessageReceived:
		var msg models.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, fmt.Errorf("realtime: bad %s payload: %w", env.Event, err)
		}
		return MessageReceived{Message: msg}, nil
	case EventUserTyping, EventUserStoppedTyping:
		var p typingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("realtime: bad %s payload: %w", env.Event, err)
		}
		if env.Event == EventUserTyping {
			return UserTyping{Chat: p.ChatID, UserID: p.UserID}, nil
		}
		return UserStoppedTyping{Chat: p.ChatID, UserID: p.UserID}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}
