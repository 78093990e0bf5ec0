package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamEvent 推送给 WebSocket 客户端的消息
type StreamEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub WebSocket 客户端集合，广播快照变更
type Hub struct {
	clients      map[*websocket.Conn]bool
	mu           sync.Mutex
	logger       *zap.Logger
	writeTimeout time.Duration
	// onConnect 返回新连接的首条消息（可为 nil）
	onConnect func() *StreamEvent
}

// NewHub 创建 Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:      make(map[*websocket.Conn]bool),
		logger:       logger,
		writeTimeout: 5 * time.Second,
	}
}

// OnConnect 设置新连接的初始消息
func (h *Hub) OnConnect(fn func() *StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = fn
}

// ServeWS 升级连接并保持到客户端断开
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade websocket connection", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	clientCount := len(h.clients)
	onConnect := h.onConnect
	if onConnect != nil {
		if ev := onConnect(); ev != nil {
			h.writeLocked(conn, *ev)
		}
	}
	h.mu.Unlock()

	h.logger.Info("Stream client connected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("clients", clientCount),
	)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		clientCount := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Info("Stream client disconnected", zap.Int("clients", clientCount))
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.ServeWS(w, r)
}

// Broadcast 发送事件到所有客户端；写失败的连接由读循环清理
func (h *Hub) Broadcast(event string, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		h.writeLocked(conn, StreamEvent{Event: event, Data: data})
	}
}

func (h *Hub) writeLocked(conn *websocket.Conn, ev StreamEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to marshal stream event", zap.Error(err))
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		h.logger.Debug("Failed to send to stream client", zap.Error(err))
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close 关闭所有连接
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
}
