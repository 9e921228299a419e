// internal/api/websocket_handlers.go
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Corphon/StoryLoomMCP/internal/di"
	"github.com/Corphon/StoryLoomMCP/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WebSocketHandler serves the generation progress sockets
type WebSocketHandler struct {
	progressService *services.ProgressService
}

// NewWebSocketHandler creates a WebSocket handler
func NewWebSocketHandler() *WebSocketHandler {
	container := di.GetContainer()

	return &WebSocketHandler{
		progressService: container.Get("progress").(*services.ProgressService),
	}
}

// progressBridges tracks which tasks already have a tracker-to-socket
// bridge goroutine. One bridge serves every client watching the task.
var progressBridges sync.Map

// ensureProgressBridge starts the bridge goroutine for a task unless
// one is already running. The bridge subscribes to the tracker and
// rebroadcasts each update to all connected clients, then exits when
// the task reaches a terminal status.
func ensureProgressBridge(taskID string, tracker *services.ProgressTracker) {
	if _, running := progressBridges.LoadOrStore(taskID, true); running {
		return
	}

	go func() {
		defer progressBridges.Delete(taskID)

		updates := tracker.Subscribe()
		defer tracker.Unsubscribe(updates)

		for update := range updates {
			wsManager.BroadcastToTask(taskID, map[string]interface{}{
				"type":      "progress",
				"task_id":   taskID,
				"progress":  update.Progress,
				"message":   update.Message,
				"status":    update.Status,
				"timestamp": time.Now().Format(time.RFC3339),
			})

			if update.Status != services.TaskStatusRunning {
				return
			}
		}
	}()
}

// GenerationWebSocket upgrades the connection and streams progress
// updates for one generation task until it completes or fails.
func (wh *WebSocketHandler) GenerationWebSocket(c *gin.Context) {
	taskID := c.Param("taskId")
	if taskID == "" {
		http.Error(c.Writer, "task id missing", http.StatusBadRequest)
		return
	}

	tracker, exists := wh.progressService.GetTracker(taskID)
	if !exists {
		http.Error(c.Writer, "task not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("❌ WebSocket upgrade failed for task %s: %v", taskID, err)
		return
	}
	defer conn.Close()

	clientID := c.DefaultQuery("client_id", "editor")

	client := &WebSocketClient{
		conn:      &WebSocketConnWrapper{conn},
		taskID:    taskID,
		clientID:  clientID,
		send:      make(chan []byte, 256),
		closed:    0,
		lastPing:  time.Now(),
		createdAt: time.Now(),
	}

	select {
	case wsManager.register <- client:
	default:
		log.Printf("❌ cannot register WebSocket client, register queue full")
		return
	}

	defer func() {
		done := make(chan bool, 1)
		go func() {
			wsManager.unregister <- client
			done <- true
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			log.Printf("⚠️ WebSocket client unregister timed out")
		}
	}()

	go wh.handleWebSocketWrites(client)
	go wh.handleWebSocketReads(client)

	// Current state first, so late joiners see finished tasks too
	snapshot := tracker.Snapshot()
	snapshot["type"] = "progress"
	client.SendMessage(snapshot)

	ensureProgressBridge(taskID, tracker)

	// Hold the handler open until the task finishes or the client leaves
	select {
	case <-tracker.Done:
		// Let the final broadcast drain before tearing down
		time.Sleep(100 * time.Millisecond)
	case <-c.Request.Context().Done():
	}

	log.Printf("📱 progress socket closed (task: %s, client: %s)", taskID, clientID)
}

// handleWebSocketReads drains client messages and keeps the ping state fresh
func (wh *WebSocketHandler) handleWebSocketReads(client *WebSocketClient) {
	defer func() {
		if !client.IsClosed() {
			select {
			case wsManager.unregister <- client:
			case <-time.After(1 * time.Second):
			}
		}
	}()

	client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if client.IsClosed() {
			break
		}

		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		_, messageBytes, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("❌ WebSocket read error: %v", err)
			}
			break
		}

		var message map[string]interface{}
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			continue
		}

		client.UpdatePing()
		wh.handleMessage(client, message)
	}
}

// handleWebSocketWrites owns the send channel and the socket's write side
func (wh *WebSocketHandler) handleWebSocketWrites(client *WebSocketClient) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		atomic.StoreInt32(&client.closed, 1)
		func() {
			defer func() {
				// Send channel may already be closed by a racing teardown
				_ = recover()
			}()
			close(client.send)
		}()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			if client.IsClosed() {
				return
			}

			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("❌ WebSocket write failed: %v", err)
				return
			}

		case <-ticker.C:
			if client.IsClosed() {
				return
			}

			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			client.UpdatePing()
		}
	}
}

// handleMessage dispatches one inbound client message
func (wh *WebSocketHandler) handleMessage(client *WebSocketClient, message map[string]interface{}) {
	msgType, ok := message["type"].(string)
	if !ok {
		return
	}

	switch msgType {
	case "ping":
		client.SendMessage(map[string]interface{}{
			"type":      "pong",
			"timestamp": time.Now().Unix(),
		})
	case "status":
		if tracker, exists := wh.progressService.GetTracker(client.taskID); exists {
			snapshot := tracker.Snapshot()
			snapshot["type"] = "progress"
			client.SendMessage(snapshot)
		}
	default:
		log.Printf("⚠️ unknown message type: %s", msgType)
	}
}
