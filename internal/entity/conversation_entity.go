package entity

import "slices"

type ConversationKind string

const (
	ConversationKindDirect ConversationKind = "direct"
	ConversationKindGroup  ConversationKind = "group"
)

type Conversation struct {
	Id           string           `bson:"_id" json:"id"`
	Kind         ConversationKind `bson:"kind" json:"kind"`
	Name         string           `bson:"name,omitempty" json:"name,omitempty"`
	Participants []string         `bson:"participants" json:"participants"`
	LastMessage  *MessageSummary  `bson:"lastMessage,omitempty" json:"lastMessage,omitempty"`
	UnreadCount  int              `bson:"-" json:"unreadCount"`
	CreatedBy    string           `bson:"createdBy,omitempty" json:"createdBy,omitempty"`
	UpdatedAt    int64            `bson:"updatedAt" json:"updatedAt"`
}

func (c *Conversation) HasParticipant(userId string) bool {
	return slices.Contains(c.Participants, userId)
}

func (c Conversation) Clone() Conversation {
	c.Participants = slices.Clone(c.Participants)
	if c.LastMessage != nil {
		last := *c.LastMessage
		c.LastMessage = &last
	}
	return c
}

type CreateConversationRequest struct {
	Kind           ConversationKind `json:"kind"`
	Name           string           `json:"name,omitempty"`
	ParticipantIds []string         `json:"participantIds"`
}
