package transport

import (
	"encoding/json"
	"fmt"
)

// Reserved and well known message types.
const (
	TypePing       = "ping"
	TypePong       = "pong"
	TypeOpenModal  = "openModal"
	TypeCloseModal = "closeModal"
	FieldType      = "type"
	FieldRequestID = "requestId"
	FieldSecret    = "secret"
)

// Payload is an outbound JSON object.
type Payload map[string]any

// Message is an inbound JSON object.
type Message struct {
	Type      string
	RequestID string
	Fields    map[string]any
	Raw       json.RawMessage

	closed <-chan struct{}
}

// Closed returns a channel closed once the socket that delivered the message is
// gone. It is nil for messages not received from a socket.
func (m Message) Closed() <-chan struct{} { return m.closed }

// Decode unmarshals the whole message into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Raw, v); err != nil {
		return fmt.Errorf("could not decode %q message: %w", m.Type, err)
	}
	return nil
}

// String returns a string field, empty if missing or not a string.
func (m Message) String(key string) string {
	s, _ := m.Fields[key].(string)
	return s
}

// parseMessage parses a frame, only JSON objects are valid messages.
func parseMessage(data []byte) (Message, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return Message{}, fmt.Errorf("invalid JSON frame: %w", err)
	}

	fields, ok := v.(map[string]any)
	if !ok {
		return Message{}, fmt.Errorf("frame is a %T, not an object", v)
	}

	msg := Message{Fields: fields, Raw: json.RawMessage(data)}
	msg.Type, _ = fields[FieldType].(string)
	switch id := fields[FieldRequestID].(type) {
	case string:
		msg.RequestID = id
	case float64:
		msg.RequestID = fmt.Sprintf("%.0f", id)
	}
	return msg, nil
}
