package event

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate checks payload struct tags. A single instance caches struct metadata.
var validate = validator.New()

// JoinChatPayload selects the chat to subscribe to.
type JoinChatPayload struct {
	ChatID uint `json:"chat_id" validate:"required"`
}

// SendMessagePayload carries a new message for a chat.
type SendMessagePayload struct {
	ChatID uint   `json:"chat_id" validate:"required"`
	Text   string `json:"text" validate:"required,max=4000"`
}

// GetChatMessagesPayload selects the chat whose history to read. Limit and
// Offset are optional; zero Limit returns the full history.
type GetChatMessagesPayload struct {
	ChatID uint `json:"chat_id" validate:"required"`
	Limit  int  `json:"limit,omitempty" validate:"omitempty,min=1,max=500"`
	Offset int  `json:"offset,omitempty" validate:"omitempty,min=0"`
}

// CloseChatPayload selects the chat to close.
type CloseChatPayload struct {
	ChatID uint `json:"chat_id" validate:"required"`
}

// DecodePayload unmarshals a request's raw data into dst and validates it.
// An empty raw payload is decoded as the zero value, which fails validation
// for payloads with required fields.
func DecodePayload(raw json.RawMessage, dst any) error {
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("malformed payload: %w", err)
		}
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}
