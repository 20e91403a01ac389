package domain

import "encoding/json"

// MessageKind is the closed vocabulary of wire message types.
type MessageKind string

const (
	// Remote-control commands (controller -> receiver).
	KindNavigate MessageKind = "navigate"
	KindClick    MessageKind = "click"
	KindActivate MessageKind = "activate"
	KindInput    MessageKind = "input"
	KindKeypress MessageKind = "keypress"
	KindGesture  MessageKind = "gesture"
	KindVolume   MessageKind = "volume"
	KindGetState MessageKind = "get_state"

	// Receiver state pushes (receiver -> controller).
	KindAppState    MessageKind = "app_state"
	KindPageChanged MessageKind = "page_changed"
	KindAck         MessageKind = "ack"

	// Call signaling.
	KindIncomingCall  MessageKind = "incoming_call"
	KindCallAnswered  MessageKind = "call_answered"
	KindCallDeclined  MessageKind = "call_declined"
	KindCallCancelled MessageKind = "call_cancelled"
	KindCallEnded     MessageKind = "call_ended"

	// Liveness.
	KindPing MessageKind = "ping"
	KindPong MessageKind = "pong"
)

// Message is the wire envelope. The transport delivers whole frames, so no
// extra framing is layered on top; the payload stays opaque until dispatch.
type Message struct {
	Kind      MessageKind     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts"`
}

// AppState is the receiver-side snapshot pushed to controllers.
type AppState struct {
	CurrentPage string `json:"current_page"`
	Title       string `json:"title"`
}
