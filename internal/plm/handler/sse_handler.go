package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-change/internal/plm/events"
	"github.com/bitfantasy/nimo-change/internal/plm/sse"
	"github.com/gin-gonic/gin"
)

// SSEHandler 生命周期事件推送
type SSEHandler struct {
	hub       *sse.Hub
	heartbeat time.Duration
	buffer    int
}

func NewSSEHandler(hub *sse.Hub) *SSEHandler {
	return &SSEHandler{hub: hub, heartbeat: 30 * time.Second, buffer: 64}
}

// Stream GET /events?token=&types=change_request,part
// 每个事件以 "<type>_update" 为事件名，data 为事件 JSON
func (h *SSEHandler) Stream(c *gin.Context) {
	client := &sse.Client{
		ID:     fmt.Sprintf("%s_%d", GetUserID(c), time.Now().UnixNano()),
		UserID: GetUserID(c),
		Types:  parseTypes(c.Query("types")),
		Events: make(chan events.Event, h.buffer),
	}
	h.hub.Register(client)
	defer h.hub.Unregister(client.ID)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("connected", gin.H{"client_id": client.ID})
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case e, ok := <-client.Events:
			if !ok {
				return
			}
			c.SSEvent(e.Type+"_update", e)
		case t := <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"time": t.Unix()})
		}
		c.Writer.Flush()
	}
}

func parseTypes(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	types := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[t] = true
		}
	}
	return types
}
