package services

import (
	"encoding/json"
	"testing"
	"time"

	"lottery-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch chan []byte) PushMessage {
	t.Helper()
	select {
	case data := <-ch:
		var msg PushMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
	return PushMessage{}
}

func TestPushFiltersByCommitment(t *testing.T) {
	svc := NewWebSocketPushService()
	all := &Connection{ID: "all", Send: make(chan []byte, 8)}
	mine := &Connection{ID: "mine", Commitment: "0xaa", Send: make(chan []byte, 8)}
	svc.RegisterConnection(all)
	svc.RegisterConnection(mine)
	assert.Equal(t, "connection_established", receive(t, all.Send).Type)
	assert.Equal(t, "connection_established", receive(t, mine.Send).Type)

	handler := svc.Handler()
	require.NoError(t, handler(models.BridgeEvent{ID: "1", Seq: 1, Type: models.BridgeEventPoolLocked}))
	require.NoError(t, handler(models.BridgeEvent{ID: "2", Seq: 2, Type: models.BridgeEventWithdrawalSettled, Commitment: "0xAA"}))

	assert.Equal(t, string(models.BridgeEventPoolLocked), receive(t, all.Send).Type)
	assert.Equal(t, string(models.BridgeEventWithdrawalSettled), receive(t, all.Send).Type)
	assert.Equal(t, string(models.BridgeEventWithdrawalSettled), receive(t, mine.Send).Type)

	svc.UnregisterConnection(mine)
	assert.Eventually(t, func() bool { return svc.GetActiveConnections() == 1 }, time.Second, 5*time.Millisecond)
}
