// Package hub fans messages out to websocket clients through a single
// owning goroutine.
package hub

// MessageType indicates the websocket frame type.
type MessageType int

const (
	// TextMessage is a UTF-8 (usually JSON) frame.
	TextMessage MessageType = iota
	// BinaryMessage is an opaque binary frame.
	BinaryMessage
)

// Message is one frame queued for every client.
type Message struct {
	Type MessageType
	Data []byte
}

// NewTextMessage wraps pre-encoded text.
func NewTextMessage(data []byte) Message {
	return Message{Type: TextMessage, Data: data}
}

// NewBinaryMessage wraps binary data.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}
