package sse

import (
	"context"
	"sync"

	"github.com/bitfantasy/nimo-change/internal/plm/events"
	"go.uber.org/zap"
)

// Client 一个 SSE 连接
type Client struct {
	ID     string
	UserID string
	// Types 订阅的事件类型，为空表示全部
	Types  map[string]bool
	Events chan events.Event
}

// Accepts 客户端是否订阅了该事件类型
func (c *Client) Accepts(e events.Event) bool {
	return len(c.Types) == 0 || c.Types[e.Type]
}

// Hub 管理所有 SSE 连接，作为事件发布者接收已提交的生命周期事件
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Register 注册连接
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.logger.Debug("sse client registered",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID),
		zap.Int("total", len(h.clients)))
}

// Unregister 注销连接并关闭其事件通道，重复调用无效
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		close(client.Events)
		delete(h.clients, clientID)
		h.logger.Debug("sse client unregistered",
			zap.String("client_id", clientID),
			zap.Int("total", len(h.clients)))
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast 发给所有订阅了该类型的连接，缓冲已满的连接跳过
func (h *Hub) Broadcast(e events.Event) {
	h.send(e, func(*Client) bool { return true })
}

// SendToUser 只发给指定用户的连接
func (h *Hub) SendToUser(userID string, e events.Event) {
	h.send(e, func(c *Client) bool { return c.UserID == userID })
}

func (h *Hub) send(e events.Event, match func(*Client) bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client) || !client.Accepts(e) {
			continue
		}
		select {
		case client.Events <- e:
		default:
			h.logger.Warn("sse client buffer full, skipping event",
				zap.String("client_id", client.ID),
				zap.String("type", e.Type))
		}
	}
}

// Publish 实现 events.Publisher
func (h *Hub) Publish(_ context.Context, e events.Event) error {
	h.Broadcast(e)
	return nil
}
