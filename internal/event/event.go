// Package event defines the closed set of real-time events exchanged between the
// connection manager and its subscribers, plus their wire encoding.
package event

import "wesync/internal/entity"

type Kind int

const (
	KindNewMessage Kind = iota + 1
	KindMessageRead
	KindMessageEdited
	KindMessageDeleted
	KindTypingStart
	KindTypingStop
	KindPresenceChanged
	KindConnectionStatusChanged
)

var kindNames = map[Kind]string{
	KindNewMessage:              "NewMessage",
	KindMessageRead:             "MessageRead",
	KindMessageEdited:           "MessageEdited",
	KindMessageDeleted:          "MessageDeleted",
	KindTypingStart:             "TypingStart",
	KindTypingStop:              "TypingStop",
	KindPresenceChanged:         "PresenceChanged",
	KindConnectionStatusChanged: "ConnectionStatusChanged",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Kinds lists every kind, in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindNewMessage,
		KindMessageRead,
		KindMessageEdited,
		KindMessageDeleted,
		KindTypingStart,
		KindTypingStop,
		KindPresenceChanged,
		KindConnectionStatusChanged,
	}
}

// Event is implemented only by the types in this package.
type Event interface {
	Kind() Kind
	sealed()
}

type Handler func(Event)

type NewMessage struct {
	ConversationId string         `json:"conversationId"`
	Message        entity.Message `json:"message"`
}

type MessageRead struct {
	ConversationId string   `json:"conversationId"`
	UserId         string   `json:"userId"`
	MessageIds     []string `json:"messageIds"`
}

type MessageEdited struct {
	ConversationId string `json:"conversationId"`
	MessageId      string `json:"messageId"`
	Content        string `json:"content"`
}

type MessageDeleted struct {
	ConversationId string `json:"conversationId"`
	MessageId      string `json:"messageId"`
}

type TypingStart struct {
	ConversationId string `json:"conversationId"`
	UserId         string `json:"userId"`
}

type TypingStop struct {
	ConversationId string `json:"conversationId"`
	UserId         string `json:"userId"`
}

type PresenceChanged struct {
	UserId string `json:"userId"`
	Online bool   `json:"online"`
}

type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	}
	return "unknown"
}

// ConnectionStatusChanged is emitted locally by the connection manager; it never
// crosses the wire. Err carries the reason for a drop or the terminal give-up.
type ConnectionStatusChanged struct {
	Status  ConnectionStatus
	Attempt int
	Err     error
}

func (NewMessage) Kind() Kind              { return KindNewMessage }
func (MessageRead) Kind() Kind             { return KindMessageRead }
func (MessageEdited) Kind() Kind           { return KindMessageEdited }
func (MessageDeleted) Kind() Kind          { return KindMessageDeleted }
func (TypingStart) Kind() Kind             { return KindTypingStart }
func (TypingStop) Kind() Kind              { return KindTypingStop }
func (PresenceChanged) Kind() Kind         { return KindPresenceChanged }
func (ConnectionStatusChanged) Kind() Kind { return KindConnectionStatusChanged }

func (NewMessage) sealed()              {}
func (MessageRead) sealed()             {}
func (MessageEdited) sealed()           {}
func (MessageDeleted) sealed()          {}
func (TypingStart) sealed()             {}
func (TypingStop) sealed()              {}
func (PresenceChanged) sealed()         {}
func (ConnectionStatusChanged) sealed() {}
