package sse

import (
	"context"
	"testing"

	"github.com/bitfantasy/nimo-change/internal/plm/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(id, userID string, size int, types ...string) *Client {
	c := &Client{ID: id, UserID: userID, Events: make(chan events.Event, size)}
	if len(types) > 0 {
		c.Types = make(map[string]bool)
		for _, t := range types {
			c.Types[t] = true
		}
	}
	return c
}

func TestHub_PublishBroadcasts(t *testing.T) {
	hub := NewHub(nil)
	a := newClient("a", "u1", 1)
	b := newClient("b", "u2", 1)
	hub.Register(a)
	hub.Register(b)
	require.Equal(t, 2, hub.ClientCount())

	err := hub.Publish(context.Background(), events.Event{
		Type:      events.TypeChangeRequest,
		Action:    "submitted",
		SubjectID: "cr-1",
		Name:      "CR-001",
	})
	require.NoError(t, err)

	for _, c := range []*Client{a, b} {
		ev := <-c.Events
		assert.Equal(t, events.TypeChangeRequest, ev.Type)
		assert.Equal(t, "CR-001", ev.Name)
	}

	hub.Unregister("a")
	hub.Unregister("a")
	assert.Equal(t, 1, hub.ClientCount())
	_, open := <-a.Events
	assert.False(t, open)
}

func TestHub_TypeFilter(t *testing.T) {
	hub := NewHub(nil)
	parts := newClient("p", "u1", 2, events.TypePart)
	hub.Register(parts)

	hub.Broadcast(events.Event{Type: events.TypeChangeRequest, Name: "CR-001"})
	hub.Broadcast(events.Event{Type: events.TypePart, Name: "F001.A/1"})

	require.Len(t, parts.Events, 1)
	assert.Equal(t, "F001.A/1", (<-parts.Events).Name)
}

func TestHub_SendToUser(t *testing.T) {
	hub := NewHub(nil)
	a := newClient("a", "u1", 1)
	b := newClient("b", "u2", 1)
	hub.Register(a)
	hub.Register(b)

	hub.SendToUser("u2", events.Event{Type: events.TypePart})
	assert.Len(t, a.Events, 0)
	assert.Len(t, b.Events, 1)
}

func TestHub_FullBufferDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	c := newClient("c", "u1", 0)
	hub.Register(c)

	hub.Broadcast(events.Event{Type: events.TypePart})
	hub.SendToUser("u1", events.Event{Type: events.TypePart})
}
