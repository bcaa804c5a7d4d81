package entity

import "slices"

type MessageKind string

const (
	MessageKindText   MessageKind = "text"
	MessageKindImage  MessageKind = "image"
	MessageKindFile   MessageKind = "file"
	MessageKindSystem MessageKind = "system"
)

// Valid reports whether k is one of the known kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case MessageKindText, MessageKindImage, MessageKindFile, MessageKindSystem:
		return true
	}
	return false
}

// MessageStatus is client-side delivery state. It is never persisted.
type MessageStatus string

const (
	MessageStatusPending MessageStatus = "pending"
	MessageStatusSent    MessageStatus = "sent"
	MessageStatusFailed  MessageStatus = "failed"
)

type Attachment struct {
	Url      string `bson:"url" json:"url"`
	Name     string `bson:"name,omitempty" json:"name,omitempty"`
	MimeType string `bson:"mimeType,omitempty" json:"mimeType,omitempty"`
	Size     int64  `bson:"size,omitempty" json:"size,omitempty"`
}

type Message struct {
	Id             string        `bson:"_id" json:"id"`
	ClientId       string        `bson:"clientId,omitempty" json:"clientId,omitempty"`
	ConversationId string        `bson:"conversationId" json:"conversationId"`
	SenderId       string        `bson:"senderId" json:"senderId"`
	Content        string        `bson:"content" json:"content"`
	Kind           MessageKind   `bson:"kind" json:"kind"`
	Attachments    []Attachment  `bson:"attachments,omitempty" json:"attachments,omitempty"`
	ReadBy         []string      `bson:"readBy" json:"readBy"`
	ReplyTo        string        `bson:"replyTo,omitempty" json:"replyTo,omitempty"`
	Timestamp      int64         `bson:"timestamp" json:"timestamp"`
	Edited         bool          `bson:"edited,omitempty" json:"edited,omitempty"`
	Deleted        bool          `bson:"deleted,omitempty" json:"deleted,omitempty"`
	Status         MessageStatus `bson:"-" json:"status,omitempty"`
}

// IsReadBy reports whether userId is in the reader set.
func (m *Message) IsReadBy(userId string) bool {
	return slices.Contains(m.ReadBy, userId)
}

// MarkReadBy adds userId to the reader set and reports whether it was added.
func (m *Message) MarkReadBy(userId string) bool {
	if userId == "" || m.IsReadBy(userId) {
		return false
	}
	m.ReadBy = append(m.ReadBy, userId)
	return true
}

// Normalize puts the sender into the reader set and defaults the kind.
func (m *Message) Normalize() {
	if m.Kind == "" {
		m.Kind = MessageKindText
	}
	m.MarkReadBy(m.SenderId)
}

// Clone returns a deep copy safe to hand out of a store.
func (m Message) Clone() Message {
	m.ReadBy = slices.Clone(m.ReadBy)
	m.Attachments = slices.Clone(m.Attachments)
	return m
}

// Summary is the denormalized form kept on a conversation.
func (m Message) Summary() *MessageSummary {
	return &MessageSummary{
		Id:        m.Id,
		SenderId:  m.SenderId,
		Content:   m.Content,
		Kind:      m.Kind,
		Timestamp: m.Timestamp,
		Deleted:   m.Deleted,
	}
}

type MessageSummary struct {
	Id        string      `bson:"id" json:"id"`
	SenderId  string      `bson:"senderId" json:"senderId"`
	Content   string      `bson:"content" json:"content"`
	Kind      MessageKind `bson:"kind" json:"kind"`
	Timestamp int64       `bson:"timestamp" json:"timestamp"`
	Deleted   bool        `bson:"deleted,omitempty" json:"deleted,omitempty"`
}

type MessageIndexFilter struct {
	ConversationId string
	Limit          int
	Offset         int
}

type SendMessageRequest struct {
	ClientId    string       `json:"clientId,omitempty"`
	Content     string       `json:"content"`
	Kind        MessageKind  `json:"kind"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReplyTo     string       `json:"replyTo,omitempty"`
}

type MarkReadRequest struct {
	MessageIds []string `json:"messageIds"`
}

type EditMessageRequest struct {
	Content string `json:"content"`
}
