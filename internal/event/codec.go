package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"wesync/internal/entity"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrLocalEvent   = errors.New("event is local and has no wire form")
)

// Name is the wire name of an event inside an Envelope.
type Name string

// Server to client.
const (
	NameNewMessage     Name = "new_message"
	NameMessageRead    Name = "message_read"
	NameMessageEdited  Name = "message_edited"
	NameMessageDeleted Name = "message_deleted"
	NameTypingStart    Name = "typing_start"
	NameTypingStop     Name = "typing_stop"
	NameUserOnline     Name = "user_online"
	NameUserOffline    Name = "user_offline"
)

// Client to server. typing_start and typing_stop travel both ways.
const (
	NameSendMessage       Name = "send_message"
	NameMarkMessageRead   Name = "mark_message_read"
	NameJoinConversation  Name = "join_conversation"
	NameLeaveConversation Name = "leave_conversation"
)

type Envelope struct {
	Event Name            `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type SendMessagePayload struct {
	ConversationId string `json:"conversationId"`
	entity.SendMessageRequest
}

type MarkReadPayload struct {
	ConversationId string   `json:"conversationId"`
	MessageIds     []string `json:"messageIds"`
}

type ConversationRef struct {
	ConversationId string `json:"conversationId"`
}

type presencePayload struct {
	UserId string `json:"userId"`
}

// Encode wraps payload in an envelope under name.
func Encode(name Name, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return json.Marshal(Envelope{Event: name, Data: data})
}

// EncodeEvent returns the wire form of a server-pushed event.
func EncodeEvent(ev Event) ([]byte, error) {
	switch ev := ev.(type) {
	case NewMessage:
		return Encode(NameNewMessage, ev)
	case MessageRead:
		return Encode(NameMessageRead, ev)
	case MessageEdited:
		return Encode(NameMessageEdited, ev)
	case MessageDeleted:
		return Encode(NameMessageDeleted, ev)
	case TypingStart:
		return Encode(NameTypingStart, ev)
	case TypingStop:
		return Encode(NameTypingStop, ev)
	case PresenceChanged:
		name := NameUserOffline
		if ev.Online {
			name = NameUserOnline
		}
		return Encode(name, presencePayload{UserId: ev.UserId})
	default:
		return nil, fmt.Errorf("%w: %s", ErrLocalEvent, ev.Kind())
	}
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event name", ErrUnknownEvent)
	}
	return env, nil
}

// Decode parses a server-pushed frame into its typed event.
func Decode(data []byte) (Event, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch env.Event {
	case NameNewMessage:
		var ev NewMessage
		if err := unmarshal(env, &ev); err != nil {
			return nil, err
		}
		if ev.ConversationId == "" {
			ev.ConversationId = ev.Message.ConversationId
		}
		if ev.Message.ConversationId == "" {
			ev.Message.ConversationId = ev.ConversationId
		}
		return ev, nil
	case NameMessageRead:
		return decodeAs[MessageRead](env)
	case NameMessageEdited:
		return decodeAs[MessageEdited](env)
	case NameMessageDeleted:
		return decodeAs[MessageDeleted](env)
	case NameTypingStart:
		return decodeAs[TypingStart](env)
	case NameTypingStop:
		return decodeAs[TypingStop](env)
	case NameUserOnline, NameUserOffline:
		var p presencePayload
		if err := unmarshal(env, &p); err != nil {
			return nil, err
		}
		return PresenceChanged{UserId: p.UserId, Online: env.Event == NameUserOnline}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func decodeAs[T Event](env Envelope) (Event, error) {
	var ev T
	if err := unmarshal(env, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Unmarshal decodes the envelope payload into v.
func (e Envelope) Unmarshal(v any) error {
	return unmarshal(e, v)
}

func unmarshal(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("decode %s: empty payload", env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", env.Event, err)
	}
	return nil
}
