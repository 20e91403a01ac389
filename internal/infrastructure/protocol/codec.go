// Package protocol implements the wire envelope codec and the command
// dispatcher that routes decoded messages to the receiver's input layer.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"tvlink/internal/core/domain"
)

// NewMessage builds an envelope of the given kind, marshalling payload into
// the opaque payload document. A nil payload is allowed.
func NewMessage(kind domain.MessageKind, payload interface{}) (*domain.Message, error) {
	msg := &domain.Message{
		Kind:      kind,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		msg.Payload = raw
	}
	return msg, nil
}

// Encode serializes the envelope for the wire.
func Encode(msg *domain.Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", msg.Kind, err)
	}
	return data, nil
}

// Decode parses and shape-validates one frame. Anything that does not parse
// as the envelope, or carries an empty kind, is rejected; the caller logs
// and drops it without disturbing the read loop.
func Decode(data []byte) (*domain.Message, error) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	if msg.Kind == "" {
		return nil, fmt.Errorf("%w: missing type", domain.ErrMalformedMessage)
	}
	return &msg, nil
}
