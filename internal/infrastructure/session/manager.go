// Package session owns the single logical control channel to a chosen
// receiver: connect, heartbeat liveness, reconnect with backoff, and a typed
// state-event stream.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tvlink/internal/core/domain"
	"tvlink/internal/infrastructure/monitoring"
	"tvlink/internal/infrastructure/protocol"
	"tvlink/pkg/backoff"
)

type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventReconnecting EventType = "reconnecting"
	EventError        EventType = "error"
)

// Event is one observed session transition. Attempt is populated for
// reconnect events, Err for error events.
type Event struct {
	Type      EventType
	State     State
	Candidate *domain.Candidate
	Attempt   int
	Err       error
}

type Config struct {
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	PongWindow     time.Duration
	WriteTimeout   time.Duration
	AutoReconnect  bool
	Backoff        backoff.Policy
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		PingInterval:   30 * time.Second,
		PongWindow:     10 * time.Second,
		WriteTimeout:   10 * time.Second,
		AutoReconnect:  true,
		Backoff:        backoff.Default(),
	}
}

// Manager maintains at most one live socket. Superseding Connect calls tear
// the previous socket and timers down before dialing again, so two sockets
// never race to deliver to the same consumer.
type Manager struct {
	cfg     Config
	logger  *zap.SugaredLogger
	metrics *monitoring.Metrics
	dialer  *websocket.Dialer
	id      string

	mu         sync.Mutex
	state      State
	target     *domain.Candidate
	conn       *websocket.Conn
	attempt    int
	gen        uint64
	sessCtx    context.Context
	sessCancel context.CancelFunc

	writeMu sync.Mutex

	handlerMu sync.RWMutex
	handler   func(*domain.Message)

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

func NewManager(cfg Config, logger *zap.SugaredLogger, metrics *monitoring.Metrics) *Manager {
	return &Manager{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout},
		id:      uuid.NewString(),
		state:   StateIdle,
		subs:    make(map[int]chan Event),
	}
}

// ID is the transport identifier of this manager, attached to presence
// updates so the signaling server can route pushes to this channel.
func (m *Manager) ID() string { return m.id }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Target() *domain.Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// SetHandler registers the consumer for inbound non-heartbeat messages.
// Delivery order matches wire order.
func (m *Manager) SetHandler(fn func(*domain.Message)) {
	m.handlerMu.Lock()
	m.handler = fn
	m.handlerMu.Unlock()
}

// Subscribe registers a state-event observer. Multiple observers see the
// same stream; the returned func unsubscribes and closes the channel.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
			close(ch)
		})
	}
}

// Connect opens the channel to the candidate. Any previous session is fully
// torn down first. It returns once the socket is open, or with an error on
// dial/connect-timeout failure; with auto-reconnect enabled, a failed dial
// still arms the background retry loop.
func (m *Manager) Connect(ctx context.Context, cand *domain.Candidate) error {
	if cand == nil {
		return fmt.Errorf("connect: nil candidate")
	}

	m.mu.Lock()
	m.teardownLocked()
	m.gen++
	gen := m.gen
	m.target = cand
	m.setStateLocked(StateConnecting)
	sctx, cancel := context.WithCancel(context.Background())
	m.sessCtx = sctx
	m.sessCancel = cancel
	m.mu.Unlock()

	conn, err := m.dial(ctx, cand)
	if err != nil {
		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return err
		}
		if m.cfg.AutoReconnect {
			m.setStateLocked(StateReconnecting)
			m.mu.Unlock()
			m.emit(Event{Type: EventError, State: StateReconnecting, Candidate: cand, Err: err})
			go m.reconnectLoop(sctx, gen, cand)
		} else {
			m.setStateLocked(StateIdle)
			m.mu.Unlock()
			m.emit(Event{Type: EventError, State: StateIdle, Candidate: cand, Err: err})
		}
		return err
	}

	m.mu.Lock()
	if m.gen != gen {
		// Superseded or disconnected while dialing.
		m.mu.Unlock()
		conn.Close()
		return domain.ErrSessionClosed
	}
	m.conn = conn
	m.attempt = 0
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	m.logger.Infow("session connected", "candidate", cand.ID, "endpoint", cand.Endpoint())
	m.emit(Event{Type: EventConnected, State: StateConnected, Candidate: cand})

	go m.runConn(sctx, gen, conn, cand)
	return nil
}

// Disconnect closes the channel gracefully and cancels every session timer
// (heartbeat and backoff). Idempotent; the session ends in Closed and stays
// there until a fresh Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	alreadyClosed := m.state == StateClosed
	m.gen++
	m.teardownLocked()
	m.setStateLocked(StateClosed)
	cand := m.target
	m.mu.Unlock()

	if !alreadyClosed {
		m.logger.Infow("session disconnected by caller")
		m.emit(Event{Type: EventDisconnected, State: StateClosed, Candidate: cand})
	}
}

// Send serializes and writes the message. It fails loudly with
// ErrNotConnected instead of buffering while the channel is down.
func (m *Manager) Send(msg *domain.Message) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		return domain.ErrNotConnected
	}
	if err := m.writeMessage(conn, msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Kind, err)
	}
	m.metrics.Message(string(msg.Kind), "out")
	return nil
}

func (m *Manager) dial(ctx context.Context, cand *domain.Candidate) (*websocket.Conn, error) {
	url := fmt.Sprintf("ws://%s/ws?client_id=%s", cand.Endpoint(), m.id)

	dctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := m.dialer.DialContext(dctx, url, nil)
	if err != nil {
		if dctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrConnectTimeout, cand.Endpoint())
		}
		return nil, fmt.Errorf("dial %s: %w", cand.Endpoint(), err)
	}
	return conn, nil
}

func (m *Manager) writeMessage(conn *websocket.Conn, msg *domain.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// runConn services one open socket: inbound delivery, heartbeat pings, and
// the pong deadline. The heartbeat and backoff timers are never armed at the
// same time: this loop exits before connLost can schedule a reconnect.
func (m *Manager) runConn(ctx context.Context, gen uint64, conn *websocket.Conn, cand *domain.Candidate) {
	msgCh := make(chan *domain.Message, 16)
	errCh := make(chan error, 1)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			msg, err := protocol.Decode(data)
			if err != nil {
				m.logger.Warnw("dropping malformed frame", "error", err)
				continue
			}
			msgCh <- msg
		}
	}()

	pingTicker := time.NewTicker(m.cfg.PingInterval)
	defer pingTicker.Stop()

	var pongTimer *time.Timer
	var pongC <-chan time.Time
	stopPongTimer := func() {
		if pongTimer != nil {
			pongTimer.Stop()
			pongTimer = nil
			pongC = nil
		}
	}
	defer stopPongTimer()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return

		case msg := <-msgCh:
			m.metrics.Message(string(msg.Kind), "in")
			switch msg.Kind {
			case domain.KindPong:
				stopPongTimer()
			case domain.KindPing:
				if pong, err := protocol.NewMessage(domain.KindPong, nil); err == nil {
					m.writeMessage(conn, pong)
				}
			default:
				m.deliver(msg)
			}

		case <-pingTicker.C:
			if pongTimer != nil {
				// Previous ping still unanswered; the pong deadline decides.
				continue
			}
			ping, err := protocol.NewMessage(domain.KindPing, nil)
			if err == nil {
				err = m.writeMessage(conn, ping)
			}
			if err != nil {
				m.logger.Warnw("heartbeat write failed", "error", err)
				conn.Close()
				m.connLost(gen, cand, err)
				return
			}
			pongTimer = time.NewTimer(m.cfg.PongWindow)
			pongC = pongTimer.C

		case <-pongC:
			// Half-open connection: the socket looks alive but the peer is
			// gone. Force close and reconnect.
			pongTimer = nil
			pongC = nil
			m.metrics.HeartbeatMissed()
			m.logger.Warnw("heartbeat timed out, closing channel", "candidate", cand.ID)
			conn.Close()
			m.connLost(gen, cand, fmt.Errorf("heartbeat: no pong within %s", m.cfg.PongWindow))
			return

		case err := <-errCh:
			conn.Close()
			m.connLost(gen, cand, err)
			return
		}
	}
}

func (m *Manager) deliver(msg *domain.Message) {
	m.handlerMu.RLock()
	h := m.handler
	m.handlerMu.RUnlock()
	if h != nil {
		h(msg)
	}
}

// connLost handles an involuntary channel loss for the given generation.
// Stale generations (already superseded or disconnected) are ignored.
func (m *Manager) connLost(gen uint64, cand *domain.Candidate, cause error) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	sctx := m.sessCtx
	if !m.cfg.AutoReconnect {
		m.setStateLocked(StateIdle)
		m.mu.Unlock()
		m.emit(Event{Type: EventDisconnected, State: StateIdle, Candidate: cand, Err: cause})
		return
	}
	m.setStateLocked(StateReconnecting)
	m.mu.Unlock()

	m.logger.Warnw("channel lost", "candidate", cand.ID, "error", cause)
	m.emit(Event{Type: EventDisconnected, State: StateReconnecting, Candidate: cand, Err: cause})

	go m.reconnectLoop(sctx, gen, cand)
}

// reconnectLoop retries with exponential backoff until success, cancellation,
// or an exhausted attempt budget (terminal Closed; a fresh Connect is then
// the caller's decision).
func (m *Manager) reconnectLoop(ctx context.Context, gen uint64, cand *domain.Candidate) {
	for {
		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return
		}
		m.attempt++
		attempt := m.attempt
		m.mu.Unlock()

		if m.cfg.Backoff.Exhausted(attempt) {
			m.mu.Lock()
			if m.gen != gen {
				m.mu.Unlock()
				return
			}
			m.setStateLocked(StateClosed)
			m.mu.Unlock()
			m.logger.Errorw("reconnect budget exhausted", "candidate", cand.ID, "attempts", attempt-1)
			m.emit(Event{Type: EventError, State: StateClosed, Candidate: cand, Err: domain.ErrRetriesExhausted})
			return
		}

		delay := m.cfg.Backoff.Delay(attempt)
		m.logger.Infow("scheduling reconnect", "candidate", cand.ID, "attempt", attempt, "delay", delay)
		m.emit(Event{Type: EventReconnecting, State: StateReconnecting, Candidate: cand, Attempt: attempt})
		m.metrics.Reconnect()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return
		}
		m.setStateLocked(StateConnecting)
		m.mu.Unlock()

		conn, err := m.dial(ctx, cand)
		if err != nil {
			m.mu.Lock()
			if m.gen != gen {
				m.mu.Unlock()
				return
			}
			m.setStateLocked(StateReconnecting)
			m.mu.Unlock()
			m.logger.Warnw("reconnect attempt failed", "candidate", cand.ID, "attempt", attempt, "error", err)
			continue
		}

		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			conn.Close()
			return
		}
		m.conn = conn
		m.attempt = 0 // backoff resets after a successful reconnect
		m.setStateLocked(StateConnected)
		m.mu.Unlock()

		m.logger.Infow("reconnected", "candidate", cand.ID)
		m.emit(Event{Type: EventConnected, State: StateConnected, Candidate: cand})
		go m.runConn(ctx, gen, conn, cand)
		return
	}
}

// teardownLocked cancels the current session context (stopping heartbeat and
// backoff timers) and closes the socket. Caller holds m.mu.
func (m *Manager) teardownLocked() {
	if m.sessCancel != nil {
		m.sessCancel()
		m.sessCancel = nil
		m.sessCtx = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.attempt = 0
}

func (m *Manager) setStateLocked(s State) {
	m.state = s
	m.metrics.SetSessionState(string(s))
}

func (m *Manager) emit(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			// Slow observer; dropping beats blocking the session loop.
		}
	}
}
