package sse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, c *Client) string {
	t.Helper()
	select {
	case msg := <-c.ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return ""
	}
}

func TestSendToGroup(t *testing.T) {
	h := NewHub(time.Minute)

	a := h.AddClient("a")
	b := h.AddClient("b")
	h.AddClient("c")

	h.Join("a", "video-1")
	h.Join("b", "video-1")
	assert.Equal(t, 2, h.GroupSize("video-1"))

	h.SendToGroup("video-1", `{"status":"processing"}`)

	assert.Equal(t, "data: {\"status\":\"processing\"}\n\n", recv(t, a))
	assert.Equal(t, "data: {\"status\":\"processing\"}\n\n", recv(t, b))

	// 不在组里的客户端收不到
	cClient := h.clients["c"]
	select {
	case msg := <-cClient.ch:
		t.Fatalf("unexpected message for non-member: %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendToGroupJSON(t *testing.T) {
	h := NewHub(time.Minute)
	a := h.AddClient("a")
	h.Join("a", "video-1")

	h.SendToGroupJSON("video-1", map[string]string{"type": "status_changed"})
	msg := recv(t, a)
	assert.Contains(t, msg, `"type":"status_changed"`)
	assert.True(t, len(msg) > 8 && msg[:6] == "data: ")
}

func TestLeaveAndRemove(t *testing.T) {
	h := NewHub(time.Minute)
	a := h.AddClient("a")
	h.Join("a", "g")
	require.Equal(t, 1, h.GroupSize("g"))

	h.Leave("a", "g")
	assert.Zero(t, h.GroupSize("g"))

	h.Join("a", "g")
	h.RemoveClient("a")
	assert.Zero(t, h.GroupSize("g"))

	select {
	case <-a.done:
	case <-time.After(time.Second):
		t.Fatal("done channel not closed on removal")
	}
}

func TestSlowClientDoesNotBlock(t *testing.T) {
	h := NewHub(time.Minute)
	h.AddClient("slow")
	h.Join("slow", "g")

	// 缓冲写满后继续发送不会阻塞
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			h.SendToGroup("g", "x")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("send blocked on a slow client")
	}
}
