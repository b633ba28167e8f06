package realtime

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxInbound = 512
)

// ErrHubClosed 表示 Hub 已停止，不再接受新连接。
var ErrHubClosed = errors.New("realtime hub closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 嵌入组件运行在客户自己的域名下。
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client 是一个订阅某项目日志推送的连接。
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	projectID string
	send      chan []byte
}

// ServeWs 升级连接并挂到项目房间，读写各一个 goroutine。
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, projectID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := &Client{
		hub:       hub,
		conn:      conn,
		projectID: projectID,
		send:      make(chan []byte, sendBuffer),
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		_ = conn.Close()
		return ErrHubClosed
	case <-r.Context().Done():
		_ = conn.Close()
		return context.Cause(r.Context())
	}

	go client.writePump()
	go client.readPump()
	return nil
}

// readPump 只用于感知断开与处理 pong，浏览器发来的内容一律丢弃。
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInbound)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debugw("live client closed", "project_id", c.projectID, "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
