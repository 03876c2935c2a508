package eventbus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventWireShape(t *testing.T) {
	evt := Event{
		Type: TypeStatusChanged,
		Data: map[string]interface{}{
			"document_id": "d1",
			"old_status":  "processing",
			"new_status":  "ocr_complete",
		},
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339),
	}
	payload, err := json.Marshal(evt)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "document.status_changed", decoded["type"])
	assert.Equal(t, "2026-03-01T12:00:00Z", decoded["timestamp"])

	data, ok := decoded["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "d1", data["document_id"])
	assert.Equal(t, "processing", data["old_status"])
	assert.Equal(t, "ocr_complete", data["new_status"])
}

func TestDecodeData(t *testing.T) {
	evt := Event{
		Type: TypeStatusChanged,
		Data: map[string]interface{}{
			"document_id": "d1",
			"old_status":  "pending",
			"new_status":  "processing",
		},
	}
	var data StatusChangedData
	require.NoError(t, DecodeData(evt, &data))
	assert.Equal(t, StatusChangedData{
		DocumentID: "d1",
		OldStatus:  "pending",
		NewStatus:  "processing",
	}, data)
}

func TestHubBroadcast(t *testing.T) {
	hub, err := NewHub(HubConfig{RedisURL: "redis://localhost:6379/0", ClientBuffer: 2})
	require.NoError(t, err)

	a := hub.Register()
	b := hub.Register()
	assert.Equal(t, 2, hub.ClientCount())

	hub.Broadcast([]byte(`{"type":"document.created"}`))

	assert.Equal(t, `{"type":"document.created"}`, string(<-a))
	assert.Equal(t, `{"type":"document.created"}`, string(<-b))

	hub.Unregister(a)
	assert.Equal(t, 1, hub.ClientCount())

	// Unregister is idempotent.
	hub.Unregister(a)
	assert.Equal(t, 1, hub.ClientCount())
}

func TestHubDropsSlowClients(t *testing.T) {
	hub, err := NewHub(HubConfig{RedisURL: "redis://localhost:6379/0", ClientBuffer: 1})
	require.NoError(t, err)

	slow := hub.Register()
	hub.Broadcast([]byte("one"))
	// Buffer is full now; the next broadcast drops the client.
	hub.Broadcast([]byte("two"))

	assert.Equal(t, 0, hub.ClientCount())

	// The channel was closed after delivering the buffered message.
	assert.Equal(t, "one", string(<-slow))
	_, open := <-slow
	assert.False(t, open)
}
