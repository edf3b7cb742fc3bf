package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"lottery-backend/internal/config"
	"lottery-backend/internal/events"
	"lottery-backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocket Upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: checkOrigin,
}

// checkOrigin accepts any origin unless cors.allowedOrigins is configured
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || config.AppConfig == nil || len(config.AppConfig.CORS.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range config.AppConfig.CORS.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Connection one live subscriber. An empty Commitment follows every event.
type Connection struct {
	ID         string          `json:"id"`
	Commitment string          `json:"commitment"`
	Conn       *websocket.Conn `json:"-"`
	Send       chan []byte     `json:"-"`
	LastPing   time.Time       `json:"last_ping"`
}

// PushMessage envelope pushed to subscribers
type PushMessage struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id"`
	Data      interface{} `json:"data"`
}

// WebSocketPushService fans bridge events out to dashboards and participants
type WebSocketPushService struct {
	connections map[string]*Connection // key: connectionID
	hub         chan models.BridgeEvent
	register    chan *Connection
	unregister  chan *Connection
	mutex       sync.RWMutex
}

// NewWebSocketPushService create the service and start its hub
func NewWebSocketPushService() *WebSocketPushService {
	service := &WebSocketPushService{
		connections: make(map[string]*Connection),
		hub:         make(chan models.BridgeEvent, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
	}

	go service.run()
	return service
}

func (s *WebSocketPushService) run() {
	for {
		select {
		case conn := <-s.register:
			s.handleRegister(conn)

		case conn := <-s.unregister:
			s.handleUnregister(conn)

		case event := <-s.hub:
			s.handleBroadcast(event)
		}
	}
}

// Handler bus observer; never blocks the emitter
func (s *WebSocketPushService) Handler() events.Handler {
	return func(event models.BridgeEvent) error {
		select {
		case s.hub <- event:
			return nil
		default:
			return fmt.Errorf("push hub full, dropped event seq %d", event.Seq)
		}
	}
}

// RegisterConnection registers a connection with the push service
func (s *WebSocketPushService) RegisterConnection(conn *Connection) {
	s.register <- conn
}

// UnregisterConnection unregisters a connection from the push service
func (s *WebSocketPushService) UnregisterConnection(conn *Connection) {
	s.unregister <- conn
}

func (s *WebSocketPushService) handleRegister(conn *Connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.connections[conn.ID] = conn
	logrus.WithFields(logrus.Fields{
		"conn":       conn.ID,
		"commitment": conn.Commitment,
	}).Info("📱 [WebSocket] connection registered")

	if conn.Send != nil {
		s.sendToConnection(conn, PushMessage{
			Type:      "connection_established",
			Timestamp: time.Now().Format(time.RFC3339),
			MessageID: generateMessageID(),
			Data: map[string]interface{}{
				"connection_id": conn.ID,
				"commitment":    conn.Commitment,
			},
		})
	}
}

func (s *WebSocketPushService) handleUnregister(conn *Connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.connections[conn.ID]; !ok {
		return
	}
	delete(s.connections, conn.ID)

	if conn.Send != nil {
		close(conn.Send)
	}
	if conn.Conn != nil {
		conn.Conn.Close()
	}
	logrus.WithField("conn", conn.ID).Info("📱 [WebSocket] connection unregistered")
}

func (s *WebSocketPushService) handleBroadcast(event models.BridgeEvent) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	message := PushMessage{
		Type:      string(event.Type),
		Timestamp: event.CreatedAt.Format(time.RFC3339),
		MessageID: event.ID,
		Data:      event,
	}
	data, err := json.Marshal(message)
	if err != nil {
		logrus.Errorf("❌ [WebSocket] failed to marshal event: %v", err)
		return
	}

	sent, failed := 0, 0
	for _, conn := range s.connections {
		if conn.Commitment != "" && !strings.EqualFold(conn.Commitment, event.Commitment) {
			continue
		}
		select {
		case conn.Send <- data:
			sent++
		default:
			failed++
			logrus.WithField("conn", conn.ID).Warn("⚠️ [WebSocket] send buffer full, message dropped")
		}
	}
	logrus.WithFields(logrus.Fields{
		"type":   event.Type,
		"seq":    event.Seq,
		"sent":   sent,
		"failed": failed,
	}).Debug("📤 [WebSocket] event pushed")
}

func (s *WebSocketPushService) sendToConnection(conn *Connection, message PushMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		logrus.Errorf("❌ [WebSocket] failed to marshal message: %v", err)
		return
	}
	select {
	case conn.Send <- data:
	default:
		logrus.WithField("conn", conn.ID).Warn("⚠️ [WebSocket] send buffer full")
	}
}

// HandleWebSocket upgrade and serve one subscriber
func (s *WebSocketPushService) HandleWebSocket(w http.ResponseWriter, r *http.Request, commitment string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Errorf("❌ [WebSocket] upgrade failed: %v", err)
		return
	}

	connection := &Connection{
		ID:         generateConnectionID(),
		Commitment: commitment,
		Conn:       conn,
		Send:       make(chan []byte, 256),
		LastPing:   time.Now(),
	}

	s.register <- connection

	go s.handleConnectionWrite(connection)
	go s.handleConnectionRead(connection)
}

func (s *WebSocketPushService) handleConnectionWrite(conn *Connection) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logrus.Warnf("❌ [WebSocket] write failed: %v", err)
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WebSocketPushService) handleConnectionRead(conn *Connection) {
	defer func() {
		s.unregister <- conn
	}()

	conn.Conn.SetReadLimit(512)
	conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.LastPing = time.Now()
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.Warnf("❌ [WebSocket] read error: %v", err)
			}
			break
		}
	}
}

// GetActiveConnections number of live subscribers
func (s *WebSocketPushService) GetActiveConnections() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.connections)
}

func generateConnectionID() string {
	return fmt.Sprintf("conn_%d", time.Now().UnixNano())
}

func generateMessageID() string {
	return fmt.Sprintf("msg_%d", time.Now().UnixNano())
}
