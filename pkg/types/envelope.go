package types

import "encoding/json"

// DecodeEnvelope parses one inbound frame. Only the envelope is decoded
// here; the payload is decoded by the handler for its type.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrInvalidEnvelope
	}
	if env.Type == "" {
		return nil, ErrInvalidEnvelope
	}
	return &env, nil
}

// NewMessage builds an outbound frame.
func NewMessage(msgType string, data interface{}) *OutboundMessage {
	return &OutboundMessage{Type: msgType, Data: data}
}
