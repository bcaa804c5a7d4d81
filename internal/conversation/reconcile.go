package conversation

import (
	"slices"

	"wesync/internal/entity"
)

// Reconcile patches an optimistic message with the server's copy of it. The
// result keeps the client id, takes the server's id, timestamp and content, and
// unions the reader sets so no local read mark is lost.
func Reconcile(optimistic, echo entity.Message) entity.Message {
	out := optimistic.Clone()

	if echo.Id != "" {
		out.Id = echo.Id
	}
	if out.ClientId == "" {
		out.ClientId = echo.ClientId
	}
	if echo.ConversationId != "" {
		out.ConversationId = echo.ConversationId
	}
	if echo.SenderId != "" {
		out.SenderId = echo.SenderId
	}
	if echo.Timestamp != 0 {
		out.Timestamp = echo.Timestamp
	}
	if echo.Kind != "" {
		out.Kind = echo.Kind
	}
	if echo.Content != "" || echo.Deleted {
		out.Content = echo.Content
	}
	if echo.Attachments != nil {
		out.Attachments = slices.Clone(echo.Attachments)
	}
	if echo.ReplyTo != "" {
		out.ReplyTo = echo.ReplyTo
	}
	out.Edited = out.Edited || echo.Edited
	out.Deleted = out.Deleted || echo.Deleted
	out.ReadBy = unionReaders(out.ReadBy, echo.ReadBy)
	out.Status = entity.MessageStatusSent
	out.Normalize()

	return out
}

// mergeFetched overlays a fetched copy on a message already held locally.
func mergeFetched(local, fetched entity.Message) entity.Message {
	out := fetched.Clone()
	if out.ClientId == "" {
		out.ClientId = local.ClientId
	}
	out.ReadBy = unionReaders(out.ReadBy, local.ReadBy)
	out.Deleted = out.Deleted || local.Deleted
	out.Status = entity.MessageStatusSent
	out.Normalize()
	return out
}

func unionReaders(a, b []string) []string {
	out := slices.Clone(a)
	for _, id := range b {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
