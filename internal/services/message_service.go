package services

import (
	"context"
	"strings"

	"github.com/markdave123-py/SupraChat/internal/core"
	"github.com/markdave123-py/SupraChat/internal/models"
)

type MessageService struct {
	db core.DbClient
}

func NewMessageService(db core.DbClient) *MessageService {
	return &MessageService{db: db}
}

// Send stores a message written by caller and returns the stored row.
func (s *MessageService) Send(ctx context.Context, caller models.SessionUser, msg models.NewMessage) (*models.Message, error) {
	if msg.SenderID != caller.ID {
		return nil, &core.BackendError{Code: core.CodeForbidden, Message: "sender_id must be the signed-in user"}
	}
	if strings.TrimSpace(msg.Content) == "" || msg.ReceiverID == "" {
		return nil, invalid("content and receiver_id are required")
	}
	if msg.MessageType == "" {
		msg.MessageType = models.MessageText
	}
	if !msg.MessageType.Valid() {
		return nil, invalid("unknown message_type " + string(msg.MessageType))
	}
	return s.db.InsertMessage(ctx, msg)
}

// Conversation returns the pair's history. The caller must be one side.
func (s *MessageService) Conversation(ctx context.Context, caller models.SessionUser, userA, userB string) ([]models.Message, error) {
	if userA == "" || userB == "" {
		return nil, invalid("user_a and user_b are required")
	}
	if caller.ID != userA && caller.ID != userB {
		return nil, &core.BackendError{Code: core.CodeForbidden, Message: "not a participant of this conversation"}
	}
	return s.db.ListConversation(ctx, userA, userB)
}
