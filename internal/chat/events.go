package chat

import "encoding/json"

// Client -> server event types.
const (
	EventSend = "send"
	EventPing = "ping"
)

// Server -> client event types.
const (
	EventHistory = "history"
	EventMessage = "message"
	EventError   = "error"
	EventPong    = "pong"
)

// InboundEvent is every frame a client may send. Identity fields are never
// read from the client.
type InboundEvent struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

type HistoryEvent struct {
	Type     string          `json:"type"`
	Messages []MessageRecord `json:"messages"`
}

type MessageEvent struct {
	Type    string        `json:"type"`
	Message MessageRecord `json:"message"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PongEvent struct {
	Type string `json:"type"`
}

func encodeMessage(m *ChatMessage) ([]byte, error) {
	return json.Marshal(MessageEvent{Type: EventMessage, Message: m.Record()})
}

func encodeHistory(msgs []ChatMessage) ([]byte, error) {
	return json.Marshal(HistoryEvent{Type: EventHistory, Messages: records(msgs)})
}

func encodeError(code, message string) []byte {
	// Marshalling two strings cannot fail.
	data, _ := json.Marshal(ErrorEvent{Type: EventError, Code: code, Message: message})
	return data
}

var pongFrame, _ = json.Marshal(PongEvent{Type: EventPong})
