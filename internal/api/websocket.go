// internal/api/websocket.go
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The editor is served from the same origin; tighten in production
		return true
	},
}

// WebSocketClient represents one WebSocket client connection
type WebSocketClient struct {
	conn      WebSocketConnection
	taskID    string
	clientID  string
	send      chan []byte
	closed    int32 // atomic flag, 0=open, 1=closed
	lastPing  time.Time
	createdAt time.Time
}

// WebSocketManager tracks all progress-push connections per task
type WebSocketManager struct {
	connections   map[string]map[WebSocketConnection]*WebSocketClient // taskID -> connections
	register      chan *WebSocketClient
	unregister    chan *WebSocketClient
	cleanup       chan bool
	mutex         sync.RWMutex
	pingTimeout   time.Duration
	cleanupTicker *time.Ticker
}

// Global WebSocket manager
var wsManager = &WebSocketManager{
	connections: make(map[string]map[WebSocketConnection]*WebSocketClient),
	register:    make(chan *WebSocketClient, 256),
	unregister:  make(chan *WebSocketClient, 256),
	cleanup:     make(chan bool, 1),
	pingTimeout: 60 * time.Second,
}

// WebSocketConnection is the connection surface the manager needs.
// Tests substitute an in-memory implementation.
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WebSocketConnWrapper wraps a real websocket.Conn to satisfy the interface
type WebSocketConnWrapper struct {
	*websocket.Conn
}

func init() {
	go wsManager.run()
}

// ========================================
// WebSocketClient methods
// ========================================

// Close safely closes the client connection. The send channel is owned
// and closed by the write pump, never here.
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// IsClosed checks whether the connection is closed
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing records the last ping time
func (client *WebSocketClient) UpdatePing() {
	client.lastPing = time.Now()
}

// IsExpired checks whether the connection has timed out
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}

	return time.Since(client.lastPing) > timeout
}

// SendMessage queues a message without blocking the caller
func (client *WebSocketClient) SendMessage(message map[string]interface{}) error {
	if client.IsClosed() {
		return nil
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	// Double check to narrow the race against the write pump closing
	if client.IsClosed() {
		return nil
	}

	select {
	case client.send <- msgBytes:
		return nil
	default:
		log.Printf("⚠️ send queue full for client %s, message dropped", client.clientID)
		return nil
	}
}

// SendError sends an error message to the client
func (client *WebSocketClient) SendError(errorMsg string) {
	client.SendMessage(map[string]interface{}{
		"type":      "error",
		"error":     errorMsg,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// ========================================
// WebSocketManager methods
// ========================================

// run is the manager's main loop
func (manager *WebSocketManager) run() {
	manager.cleanupTicker = time.NewTicker(30 * time.Second)
	defer manager.cleanupTicker.Stop()

	for {
		select {
		case client := <-manager.register:
			manager.registerClient(client)

		case client := <-manager.unregister:
			manager.unregisterClient(client)

		case <-manager.cleanupTicker.C:
			manager.cleanupExpiredConnections()

		case <-manager.cleanup:
			manager.shutdown()
			return
		}
	}
}

// registerClient registers a new client
func (manager *WebSocketManager) registerClient(client *WebSocketClient) {
	if client == nil {
		return
	}

	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if manager.connections[client.taskID] == nil {
		manager.connections[client.taskID] = make(map[WebSocketConnection]*WebSocketClient)
	}

	manager.connections[client.taskID][client.conn] = client
	client.UpdatePing()

	log.Printf("✅ WebSocket client connected to task %s (client: %s)", client.taskID, client.clientID)
}

// unregisterClient removes and closes a client
func (manager *WebSocketManager) unregisterClient(client *WebSocketClient) {
	if client == nil {
		return
	}

	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if connections, exists := manager.connections[client.taskID]; exists {
		delete(connections, client.conn)

		if len(connections) == 0 {
			delete(manager.connections, client.taskID)
		}
	}

	if !client.IsClosed() {
		client.Close()
	}

	log.Printf("🔌 WebSocket client disconnected (task: %s, client: %s)", client.taskID, client.clientID)
}

// cleanupExpiredConnections removes dead and timed-out connections
func (manager *WebSocketManager) cleanupExpiredConnections() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for taskID, connections := range manager.connections {
		for conn, client := range connections {
			if client.IsClosed() || client.IsExpired(manager.pingTimeout) {
				delete(connections, conn)
				if !client.IsClosed() {
					client.Close()
				}
			}
		}
		if len(connections) == 0 {
			delete(manager.connections, taskID)
		}
	}
}

// processBatch delivers one message to a batch of clients
func (manager *WebSocketManager) processBatch(clients []*WebSocketClient, message []byte) {
	failedCount := 0
	for _, client := range clients {
		if client.IsClosed() {
			continue
		}

		select {
		case client.send <- message:
		default:
			// Queue full; cap how many stragglers go through unregister
			failedCount++
			if failedCount <= 5 {
				go func(c *WebSocketClient) {
					c.Close()
					select {
					case manager.unregister <- c:
					case <-time.After(50 * time.Millisecond):
					}
				}(client)
			} else {
				client.Close()
			}
		}
	}
}

// shutdown closes the manager and every connection it tracks
func (manager *WebSocketManager) shutdown() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	log.Println("🛑 shutting down WebSocket manager...")

	for _, connections := range manager.connections {
		for _, client := range connections {
			client.Close()
		}
	}

	manager.connections = make(map[string]map[WebSocketConnection]*WebSocketClient)

	log.Println("✅ WebSocket manager closed")
}

// GetStatus reports the manager's connection state
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	tasks := make(map[string]interface{})
	totalConnections := 0

	for taskID, connections := range manager.connections {
		activeConnections := 0
		clients := make([]interface{}, 0)

		for _, client := range connections {
			if client != nil && !client.IsClosed() {
				activeConnections++
				clients = append(clients, map[string]interface{}{
					"client_id":    client.clientID,
					"task_id":      client.taskID,
					"connected_at": client.createdAt.Format(time.RFC3339),
					"last_ping":    client.lastPing.Format(time.RFC3339),
				})
			}
		}

		tasks[taskID] = map[string]interface{}{
			"client_count": activeConnections,
			"clients":      clients,
		}
		totalConnections += activeConnections
	}

	return map[string]interface{}{
		"total_tasks":       len(manager.connections),
		"total_connections": totalConnections,
		"tasks":             tasks,
	}
}

// BroadcastToTask sends a message to every client watching a task
func (manager *WebSocketManager) BroadcastToTask(taskID string, message map[string]interface{}) {
	msgBytes, err := json.Marshal(message)
	if err != nil {
		log.Printf("❌ failed to marshal broadcast message: %v", err)
		return
	}

	manager.mutex.RLock()
	connections, exists := manager.connections[taskID]
	if !exists {
		manager.mutex.RUnlock()
		return
	}

	clients := make([]*WebSocketClient, 0, len(connections))
	for _, client := range connections {
		if !client.IsClosed() {
			clients = append(clients, client)
		}
	}
	manager.mutex.RUnlock()

	if len(clients) > 0 {
		manager.processBatch(clients, msgBytes)
	}
}

// ReadJSON reads a JSON message; kept for tests and handlers
func (w *WebSocketConnWrapper) ReadJSON(v interface{}) error {
	return w.Conn.ReadJSON(v)
}

// WriteJSON writes a JSON message; kept for tests and handlers
func (w *WebSocketConnWrapper) WriteJSON(v interface{}) error {
	return w.Conn.WriteJSON(v)
}
