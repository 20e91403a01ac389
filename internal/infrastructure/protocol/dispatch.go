package protocol

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"tvlink/internal/core/domain"
	"tvlink/internal/core/ports"
)

// gestureKeys maps touch gestures onto the key presses the navigation layer
// understands.
var gestureKeys = map[string]string{
	"swipe_left":  "ArrowLeft",
	"swipe_right": "ArrowRight",
	"swipe_up":    "ArrowUp",
	"swipe_down":  "ArrowDown",
	"tap":         "Return",
}

type navigatePayload struct {
	Page string `json:"page"`
}

type selectorPayload struct {
	Selector string `json:"selector"`
}

type inputPayload struct {
	Selector string `json:"selector"`
	Value    string `json:"value"`
}

type keypressPayload struct {
	Key string `json:"key"`
}

type gesturePayload struct {
	Gesture string `json:"gesture"`
}

type volumePayload struct {
	Action string `json:"action"`
}

type pingPayload struct {
	Timestamp int64 `json:"ts"`
}

// AckPayload confirms command execution back to the sender.
type AckPayload struct {
	Command string `json:"command"`
	Status  string `json:"status"`
}

// Dispatcher routes decoded command messages onto the receiver's input
// layer. Call-signaling kinds are forwarded to an optional sink instead;
// unknown kinds are logged and dropped so future peers stay compatible.
type Dispatcher struct {
	exec   ports.CommandExecutor
	onCall func(*domain.Message)
	logger *zap.SugaredLogger
}

func NewDispatcher(exec ports.CommandExecutor, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{exec: exec, logger: logger}
}

// SetCallSink registers the consumer for call-signaling kinds.
func (d *Dispatcher) SetCallSink(fn func(*domain.Message)) {
	d.onCall = fn
}

// Dispatch routes one message and returns the reply to send back, if the
// protocol defines one. A nil, nil return means the message was consumed
// (or dropped) with nothing to say. Errors cover malformed payloads and
// failed execution; the caller logs them and keeps the channel open.
func (d *Dispatcher) Dispatch(msg *domain.Message) (*domain.Message, error) {
	switch msg.Kind {
	case domain.KindNavigate:
		var p navigatePayload
		if err := d.unmarshal(msg, &p); err != nil {
			return nil, err
		}
		if err := d.exec.Navigate(p.Page); err != nil {
			return nil, fmt.Errorf("navigate %q: %w", p.Page, err)
		}
		return d.ack(msg.Kind)

	case domain.KindClick, domain.KindActivate:
		var p selectorPayload
		if err := d.unmarshal(msg, &p); err != nil {
			return nil, err
		}
		if err := d.exec.Activate(p.Selector); err != nil {
			return nil, fmt.Errorf("activate %q: %w", p.Selector, err)
		}
		return d.ack(msg.Kind)

	case domain.KindInput:
		var p inputPayload
		if err := d.unmarshal(msg, &p); err != nil {
			return nil, err
		}
		if err := d.exec.Input(p.Selector, p.Value); err != nil {
			return nil, fmt.Errorf("input into %q: %w", p.Selector, err)
		}
		return d.ack(msg.Kind)

	case domain.KindKeypress:
		var p keypressPayload
		if err := d.unmarshal(msg, &p); err != nil {
			return nil, err
		}
		if err := d.exec.KeyPress(p.Key); err != nil {
			return nil, fmt.Errorf("keypress %q: %w", p.Key, err)
		}
		return d.ack(msg.Kind)

	case domain.KindGesture:
		var p gesturePayload
		if err := d.unmarshal(msg, &p); err != nil {
			return nil, err
		}
		key, ok := gestureKeys[p.Gesture]
		if !ok {
			return nil, fmt.Errorf("%w: gesture %q", domain.ErrMalformedMessage, p.Gesture)
		}
		if err := d.exec.KeyPress(key); err != nil {
			return nil, fmt.Errorf("gesture %q: %w", p.Gesture, err)
		}
		return d.ack(msg.Kind)

	case domain.KindVolume:
		var p volumePayload
		if err := d.unmarshal(msg, &p); err != nil {
			return nil, err
		}
		if err := d.exec.Volume(p.Action); err != nil {
			return nil, fmt.Errorf("volume %q: %w", p.Action, err)
		}
		return d.ack(msg.Kind)

	case domain.KindGetState:
		state, err := d.exec.AppState()
		if err != nil {
			return nil, fmt.Errorf("read app state: %w", err)
		}
		return NewMessage(domain.KindAppState, state)

	case domain.KindPing:
		var p pingPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			p.Timestamp = msg.Timestamp
		}
		return NewMessage(domain.KindPong, pingPayload{Timestamp: p.Timestamp})

	case domain.KindIncomingCall, domain.KindCallAnswered, domain.KindCallDeclined,
		domain.KindCallCancelled, domain.KindCallEnded:
		if d.onCall != nil {
			d.onCall(msg)
		} else {
			d.logger.Debugw("no call sink registered, dropping", "kind", msg.Kind)
		}
		return nil, nil

	default:
		// Unknown kinds are expected from newer peers; lower severity than
		// malformed frames.
		d.logger.Debugw("dropping message of unknown kind", "kind", msg.Kind)
		return nil, nil
	}
}

func (d *Dispatcher) unmarshal(msg *domain.Message, into interface{}) error {
	if len(msg.Payload) == 0 {
		return fmt.Errorf("%w: %s without payload", domain.ErrMalformedMessage, msg.Kind)
	}
	if err := json.Unmarshal(msg.Payload, into); err != nil {
		return fmt.Errorf("%w: bad %s payload: %v", domain.ErrMalformedMessage, msg.Kind, err)
	}
	return nil
}

func (d *Dispatcher) ack(kind domain.MessageKind) (*domain.Message, error) {
	return NewMessage(domain.KindAck, AckPayload{Command: string(kind), Status: "executed"})
}
