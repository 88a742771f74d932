package api

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cardkit/nfc-agent/internal/cardcore"
	"github.com/cardkit/nfc-agent/internal/cardevents"
	"github.com/cardkit/nfc-agent/internal/logging"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local use
	},
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string          `json:"type"`              // Message type
	ID      string          `json:"id,omitempty"`      // Request ID for request/response matching
	Payload json.RawMessage `json:"payload,omitempty"` // Message payload
	Error   string          `json:"error,omitempty"`   // Error message if any
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	conn       *websocket.Conn
	send       chan []byte
	hub        *WSHub
	mu         sync.Mutex
	subscribed map[string]bool // Track readers this client is listening to
}

// WSHub manages all WebSocket connections
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// Run starts the hub's main loop
func (h *WSHub) Run() {
	// Re-panic after logging since hub crash is fatal
	defer logging.RecoverAndLog("WebSocket hub", true)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Global hub instance
var wsHub *WSHub

// InitWebSocket initializes the WebSocket hub and returns the handler
func InitWebSocket() http.HandlerFunc {
	wsHub = NewWSHub()
	go wsHub.Run()

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Error(logging.CatWebSocket, "WebSocket upgrade failed", map[string]any{
				"error":      err.Error(),
				"remoteAddr": r.RemoteAddr,
			})
			return
		}

		logging.Info(logging.CatWebSocket, "Client connected", map[string]any{
			"remoteAddr": r.RemoteAddr,
		})

		client := &WSClient{
			conn:       conn,
			send:       make(chan []byte, 256),
			hub:        wsHub,
			subscribed: make(map[string]bool),
		}

		wsHub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

func (c *WSClient) readPump() {
	// Recover from panics (runs last due to LIFO)
	defer logging.RecoverAndLog("WebSocket readPump", false)
	// Cleanup (runs first)
	defer func() {
		c.mu.Lock()
		for reader := range c.subscribed {
			delete(c.subscribed, reader)
		}
		c.mu.Unlock()

		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512 * 1024) // 512KB max message size
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn(logging.CatWebSocket, "WebSocket unexpected close", map[string]any{
					"error": err.Error(),
				})
			} else {
				logging.Debug(logging.CatWebSocket, "Client disconnected", nil)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("", "invalid message format")
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	// Recover from panics (runs last due to LIFO)
	defer logging.RecoverAndLog("WebSocket writePump", false)
	// Cleanup (runs first)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(message); err != nil {
				return
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(msg WSMessage) {
	logging.Debug(logging.CatWebSocket, "Received message", map[string]any{
		"type": msg.Type,
		"id":   msg.ID,
	})

	switch msg.Type {
	case "list_readers":
		c.handleListReaders(msg.ID)
	case "read_card":
		c.handleReadCard(msg.ID, msg.Payload)
	case "mifare_read":
		c.handleMifareRead(msg.ID, msg.Payload)
	case "mifare_write":
		c.handleMifareWrite(msg.ID, msg.Payload)
	case "authenticate":
		c.handleAuthenticate(msg.ID, msg.Payload)
	case "write_payload":
		c.handleWritePayload(msg.ID, msg.Payload)
	case "subscribe":
		c.handleSubscribe(msg.ID, msg.Payload)
	case "unsubscribe":
		c.handleUnsubscribe(msg.ID, msg.Payload)
	case "version":
		c.handleVersion(msg.ID)
	case "health":
		c.handleHealth(msg.ID)
	default:
		logging.Warn(logging.CatWebSocket, "Unknown message type", map[string]any{
			"type": msg.Type,
		})
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func (c *WSClient) sendResponse(id string, msgType string, payload interface{}) {
	payloadBytes, _ := json.Marshal(payload)
	response := WSMessage{
		Type:    msgType,
		ID:      id,
		Payload: payloadBytes,
	}
	responseBytes, _ := json.Marshal(response)
	c.send <- responseBytes
}

func (c *WSClient) sendError(id string, errMsg string) {
	response := WSMessage{
		Type:  "error",
		ID:    id,
		Error: errMsg,
	}
	responseBytes, _ := json.Marshal(response)
	c.send <- responseBytes
}

// readerNameByIndex resolves a readerIndex (as seen by list_readers) to
// the reader name the agent.Manager keys its state by.
func readerNameByIndex(index int) (string, error) {
	readers := mgr.ListReaders()
	if index < 0 || index >= len(readers) {
		return "", fmt.Errorf("reader index out of range")
	}
	return readers[index].Name, nil
}

func (c *WSClient) handleListReaders(id string) {
	c.sendResponse(id, "readers", mgr.ListReaders())
}

func (c *WSClient) handleReadCard(id string, payload json.RawMessage) {
	var req struct {
		ReaderIndex int `json:"readerIndex"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError(id, "invalid payload")
		return
	}

	name, err := readerNameByIndex(req.ReaderIndex)
	if err != nil {
		c.sendError(id, err.Error())
		return
	}

	card, err := mgr.Card(name)
	if err != nil {
		c.sendError(id, err.Error())
		return
	}

	c.sendResponse(id, "card", card)
}

func (c *WSClient) handleMifareRead(id string, payload json.RawMessage) {
	var req struct {
		ReaderIndex int    `json:"readerIndex"`
		Block       int    `json:"block"`
		Key         string `json:"key"`
		KeyType     string `json:"keyType"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError(id, "invalid payload")
		return
	}

	name, err := readerNameByIndex(req.ReaderIndex)
	if err != nil {
		c.sendError(id, err.Error())
		return
	}

	key, err := parseMifareKey(req.Key)
	if err != nil {
		c.sendError(id, err.Error())
		return
	}

	data, err := mgr.ReadMifareBlock(name, req.Block, key, parseMifareKeyType(req.KeyType))
	if err != nil {
		c.sendError(id, err.Error())
		return
	}

	c.sendResponse(id, "mifare_block", map[string]interface{}{
		"block": req.Block,
		"data":  hex.EncodeToString(data),
	})
}

func (c *WSClient) handleMifareWrite(id string, payload json.RawMessage) {
	var req struct {
		ReaderIndex int    `json:"readerIndex"`
		Block       int    `json:"block"`
		Data        string `json:"data"`
		Key         string `json:"key"`
		KeyType     string `json:"keyType"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError(id, "invalid payload")
		return
	}

	name, err := readerNameByIndex(req.ReaderIndex)
	if err != nil {
		c.sendError(id, err.Error())
		return
	}

	data, err := hex.DecodeString(req.Data)
	if err != nil {
		c.sendError(id, "data must be a hex string")
		return
	}

	key, err := parseMifareKey(req.Key)
	if err != nil {
		c.sendError(id, err.Error())
		return
	}

	if err := mgr.WriteMifareBlock(name, req.Block, data, key, parseMifareKeyType(req.KeyType)); err != nil {
		c.sendError(id, err.Error())
		return
	}

	c.sendResponse(id, "mifare_write_success", map[string]bool{"success": true})
}

func (c *WSClient) handleAuthenticate(id string, payload json.RawMessage) {
	var req struct {
		ReaderIndex int    `json:"readerIndex"`
		Block       int    `json:"block"`
		KeyType     string `json:"keyType"`
		Key         string `json:"key"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError(id, "invalid payload")
		return
	}

	name, err := readerNameByIndex(req.ReaderIndex)
	if err != nil {
		c.sendError(id, err.Error())
		return
	}

	ok, err := mgr.Authenticate(name, byte(req.Block), parseMifareKeyType(req.KeyType), req.Key)
	if err != nil {
		c.sendError(id, err.Error())
		return
	}

	c.sendResponse(id, "authenticated", map[string]bool{"success": ok})
}

func (c *WSClient) handleWritePayload(id string, payload json.RawMessage) {
	var req struct {
		ReaderIndex int               `json:"readerIndex"`
		Label       string            `json:"label"`
		Fields      map[string]string `json:"fields"`
		Block       int               `json:"block"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError(id, "invalid payload")
		return
	}

	name, err := readerNameByIndex(req.ReaderIndex)
	if err != nil {
		c.sendError(id, err.Error())
		return
	}

	if err := mgr.WritePayload(name, req.Label, req.Fields, req.Block); err != nil {
		c.sendError(id, err.Error())
		return
	}

	c.sendResponse(id, "write_success", map[string]string{"success": "payload written"})
}

// handleSubscribe wires the client's send channel directly into the named
// reader's cardevents.Dispatcher: card/card.off/error fan out as they are
// emitted by the reader state machine, rather than being polled for.
func (c *WSClient) handleSubscribe(id string, payload json.RawMessage) {
	var req struct {
		ReaderIndex int `json:"readerIndex"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError(id, "invalid payload")
		return
	}

	name, err := readerNameByIndex(req.ReaderIndex)
	if err != nil {
		c.sendError(id, err.Error())
		return
	}

	events, err := mgr.Events(name)
	if err != nil {
		c.sendError(id, err.Error())
		return
	}

	c.mu.Lock()
	c.subscribed[name] = true
	c.mu.Unlock()

	active := func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.subscribed[name]
	}

	events.On(cardevents.EventCard, func(payload any) {
		if !active() {
			return
		}
		if card, ok := payload.(cardcore.Card); ok {
			c.sendResponse("", "card_detected", map[string]interface{}{
				"readerIndex": req.ReaderIndex,
				"readerName":  name,
				"card":        card,
			})
		}
	})
	events.On(cardevents.EventCardOff, func(payload any) {
		if !active() {
			return
		}
		c.sendResponse("", "card_removed", map[string]interface{}{
			"readerIndex": req.ReaderIndex,
			"readerName":  name,
		})
	})
	events.On(cardevents.EventError, func(payload any) {
		if !active() {
			return
		}
		if err, ok := payload.(error); ok {
			c.sendResponse("", "reader_error", map[string]interface{}{
				"readerIndex": req.ReaderIndex,
				"readerName":  name,
				"error":       err.Error(),
			})
		}
	})

	logging.Info(logging.CatWebSocket, "Client subscribed to reader", map[string]any{
		"reader": name,
	})
	c.sendResponse(id, "subscribed", map[string]interface{}{
		"readerIndex": req.ReaderIndex,
	})
}

func (c *WSClient) handleUnsubscribe(id string, payload json.RawMessage) {
	var req struct {
		ReaderIndex int `json:"readerIndex"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError(id, "invalid payload")
		return
	}

	name, err := readerNameByIndex(req.ReaderIndex)
	if err != nil {
		c.sendError(id, err.Error())
		return
	}

	c.mu.Lock()
	delete(c.subscribed, name)
	c.mu.Unlock()

	logging.Info(logging.CatWebSocket, "Client unsubscribed from reader", map[string]any{
		"reader": name,
	})
	c.sendResponse(id, "unsubscribed", map[string]interface{}{
		"readerIndex": req.ReaderIndex,
	})
}

func (c *WSClient) handleVersion(id string) {
	c.sendResponse(id, "version", map[string]string{
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
	})
}

func (c *WSClient) handleHealth(id string) {
	readers := mgr.ListReaders()
	c.sendResponse(id, "health", map[string]interface{}{
		"status":      "ok",
		"readerCount": len(readers),
	})
}
