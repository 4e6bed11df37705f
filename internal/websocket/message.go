package websocket

import (
	"encoding/json"
	"fmt"
	"time"
)

// creates a message with a marshaled payload
func NewMessage(msgType string, payload any) (*Message, error) {
	msg := &Message{
		Type:      msgType,
		Timestamp: time.Now(),
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}

		msg.Payload = data
	}

	return msg, nil
}

// decodes the message payload into target
func (m *Message) UnmarshalPayload(target any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("message has no payload")
	}

	if err := json.Unmarshal(m.Payload, target); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	return nil
}
