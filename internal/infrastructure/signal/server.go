// Package signal is the receiver-side endpoint: it serves the /status probe
// document and the /ws control channel that remotes attach to.
package signal

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tvlink/internal/core/domain"
	"tvlink/internal/infrastructure/monitoring"
	"tvlink/internal/infrastructure/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Identity is what the receiver advertises about itself on /status. The
// device_type marker is what remotes key their probe classification on.
type Identity struct {
	DeviceName   string
	Version      string
	Capabilities []string
}

type Server struct {
	identity   Identity
	dispatcher *protocol.Dispatcher

	connections map[string]*websocket.Conn
	writeLocks  map[string]*sync.Mutex
	mu          sync.RWMutex

	readTimeout  time.Duration
	writeTimeout time.Duration

	logger  *zap.SugaredLogger
	metrics *monitoring.Metrics
}

func NewServer(identity Identity, dispatcher *protocol.Dispatcher, logger *zap.SugaredLogger, metrics *monitoring.Metrics) *Server {
	return &Server{
		identity:     identity,
		dispatcher:   dispatcher,
		connections:  make(map[string]*websocket.Conn),
		writeLocks:   make(map[string]*sync.Mutex),
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		logger:       logger,
		metrics:      metrics,
	}
}

func (s *Server) Register(router *gin.Engine) {
	router.GET("/status", s.handleStatus)
	router.GET("/ws", gin.WrapF(s.HandleWebSocket))
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"app_name":     "SmartTV",
		"device_type":  domain.DeviceTypeMarker,
		"device_name":  s.identity.DeviceName,
		"version":      s.identity.Version,
		"capabilities": s.identity.Capabilities,
		"timestamp":    time.Now().Unix(),
	})
}

func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		s.logger.Warn("missing client_id in query parameters")
		return
	}

	// A reconnecting client replaces its previous socket.
	s.mu.Lock()
	existingConn, isReconnect := s.connections[clientID]
	if isReconnect && existingConn != nil {
		existingConn.Close()
		s.logger.Infow("closing old connection for reconnecting client", "client_id", clientID)
	}
	s.connections[clientID] = conn
	s.writeLocks[clientID] = &sync.Mutex{}
	s.mu.Unlock()

	s.logger.Infow("remote connected", "client_id", clientID, "reconnect", isReconnect)

	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	// New clients see the current app state without asking.
	s.pushCurrentState(clientID, conn)

	messageChan := make(chan *domain.Message, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))
			msg, err := protocol.Decode(data)
			if err != nil {
				s.logger.Warnw("dropping malformed frame", "client_id", clientID, "error", err)
				continue
			}
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			s.metrics.Message(string(msg.Kind), "in")
			reply, err := s.dispatcher.Dispatch(msg)
			if err != nil {
				s.logger.Infow("error handling message from remote", "client_id", clientID, "kind", msg.Kind, "error", err)
				s.sendError(clientID, conn, err.Error())
				continue
			}
			if reply != nil {
				if err := s.writeTo(clientID, conn, reply); err != nil {
					s.logger.Infow("error writing reply", "client_id", clientID, "error", err)
					goto cleanup
				}
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message from remote", "client_id", clientID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.mu.Lock()
	// A reconnect may already have replaced this socket; only drop the
	// registry entry if it is still ours.
	if s.connections[clientID] == conn {
		delete(s.connections, clientID)
		delete(s.writeLocks, clientID)
	}
	s.mu.Unlock()

	s.logger.Infow("remote disconnected", "client_id", clientID)
}

// pushCurrentState sends a synthetic state snapshot to a freshly attached
// client by dispatching get_state on its behalf.
func (s *Server) pushCurrentState(clientID string, conn *websocket.Conn) {
	req, err := protocol.NewMessage(domain.KindGetState, nil)
	if err != nil {
		return
	}
	reply, err := s.dispatcher.Dispatch(req)
	if err != nil || reply == nil {
		s.logger.Warnw("could not push initial state", "client_id", clientID, "error", err)
		return
	}
	if err := s.writeTo(clientID, conn, reply); err != nil {
		s.logger.Warnw("initial state push failed", "client_id", clientID, "error", err)
	}
}

// Broadcast fans a message out to every attached remote. Used for app_state
// pushes on page changes and for call lifecycle notifications.
func (s *Server) Broadcast(msg *domain.Message) error {
	s.mu.RLock()
	conns := make(map[string]*websocket.Conn, len(s.connections))
	for id, conn := range s.connections {
		conns[id] = conn
	}
	s.mu.RUnlock()

	var lastErr error
	for clientID, conn := range conns {
		if err := s.writeTo(clientID, conn, msg); err != nil {
			s.logger.Warnw("broadcast write failed", "client_id", clientID, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// SendTo writes a message to one attached remote, if present.
func (s *Server) SendTo(clientID string, msg *domain.Message) error {
	s.mu.RLock()
	conn, exists := s.connections[clientID]
	s.mu.RUnlock()

	if !exists {
		return domain.ErrNotConnected
	}
	return s.writeTo(clientID, conn, msg)
}

func (s *Server) writeTo(clientID string, conn *websocket.Conn, msg *domain.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	s.mu.RLock()
	lock := s.writeLocks[clientID]
	s.mu.RUnlock()
	if lock != nil {
		lock.Lock()
		defer lock.Unlock()
	}

	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	s.metrics.Message(string(msg.Kind), "out")
	return nil
}

func (s *Server) sendError(clientID string, conn *websocket.Conn, message string) {
	msg, err := protocol.NewMessage(domain.KindAck, protocol.AckPayload{Status: "error: " + message})
	if err != nil {
		return
	}
	s.writeTo(clientID, conn, msg)
}

func (s *Server) ConnectedClients() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]string, 0, len(s.connections))
	for clientID := range s.connections {
		clients = append(clients, clientID)
	}
	return clients
}

func (s *Server) IsClientConnected(clientID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.connections[clientID]
	return exists
}
