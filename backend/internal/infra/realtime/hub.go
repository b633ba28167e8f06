// Package realtime 负责把已发布日志的变化推送给公开页与嵌入组件的 WebSocket 连接。
// 每个项目一个房间，连接只读，服务端单向推送。
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	appLogger "releasedock/backend/internal/infra/logger"
	"releasedock/backend/internal/infra/metrics"

	"go.uber.org/zap"
)

const (
	// ReadyType 是连接建立后服务端发出的第一条消息。
	ReadyType = "ready"

	broadcastBuffer = 256
	sendBuffer      = 32
)

// Message 是推送给浏览器的消息。
type Message struct {
	Type      string          `json:"type"`
	ProjectID string          `json:"project_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	SentAt    time.Time       `json:"sent_at"`
}

// Hub 维护 projectID -> 连接集合，所有房间变更都在 Run 的 goroutine 中串行处理。
type Hub struct {
	rooms      map[string]map[*Client]struct{}
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex
	clients int
	logger  *zap.SugaredLogger
}

// NewHub 创建 Hub，需要另起 goroutine 调用 Run。
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		broadcast:  make(chan Message, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     appLogger.S().With("component", "realtime.hub"),
	}
}

// Run 处理注册、注销与广播，ctx 取消后关闭所有连接并返回。
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for projectID, room := range h.rooms {
				for client := range room {
					h.drop(projectID, client)
				}
			}
			return

		case client := <-h.register:
			room, ok := h.rooms[client.projectID]
			if !ok {
				room = make(map[*Client]struct{})
				h.rooms[client.projectID] = room
			}
			room[client] = struct{}{}
			h.adjustClients(1)

			ready, _ := json.Marshal(Message{Type: ReadyType, ProjectID: client.projectID, SentAt: time.Now().UTC()})
			client.send <- ready

		case client := <-h.unregister:
			if _, ok := h.rooms[client.projectID][client]; ok {
				h.drop(client.projectID, client)
			}

		case msg := <-h.broadcast:
			room := h.rooms[msg.ProjectID]
			if len(room) == 0 {
				continue
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				h.logger.Errorw("marshal live message failed", "project_id", msg.ProjectID, "error", err)
				continue
			}
			for client := range room {
				select {
				case client.send <- payload:
				default:
					// 发送缓冲已满，说明客户端跟不上，直接断开。
					h.logger.Warnw("live client lagging, disconnecting", "project_id", msg.ProjectID)
					h.drop(msg.ProjectID, client)
				}
			}
		}
	}
}

// Publish 非阻塞地投递一条消息；队列已满时丢弃并记录日志，调用方永远不会被推送阻塞。
func (h *Hub) Publish(projectID, msgType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Errorw("marshal live payload failed", "project_id", projectID, "type", msgType, "error", err)
		return
	}
	msg := Message{Type: msgType, ProjectID: projectID, Payload: raw, SentAt: time.Now().UTC()}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warnw("live broadcast queue full, message dropped", "project_id", projectID, "type", msgType)
	}
}

// Clients 返回当前连接数。
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients
}

func (h *Hub) drop(projectID string, client *Client) {
	room := h.rooms[projectID]
	delete(room, client)
	if len(room) == 0 {
		delete(h.rooms, projectID)
	}
	close(client.send)
	h.adjustClients(-1)
}

func (h *Hub) adjustClients(delta int) {
	h.mu.Lock()
	h.clients += delta
	h.mu.Unlock()
	metrics.AddLiveFeedClients(delta)
}
