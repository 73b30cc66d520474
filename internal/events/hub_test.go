package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotSinceOverwritesOldest(t *testing.T) {
	h := NewHub(3)
	for i := range 5 {
		h.Publish(TypeTick, map[string]int{"n": i})
	}

	all := h.SnapshotSince(0, nil)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].ID)
	assert.Equal(t, int64(5), all[2].ID)

	var data map[string]int
	require.NoError(t, json.Unmarshal(all[2].Data, &data))
	assert.Equal(t, 4, data["n"])

	since := h.SnapshotSince(4, nil)
	require.Len(t, since, 1)
	assert.Equal(t, int64(5), since[0].ID)
	assert.Equal(t, int64(5), h.LastID())
}

func TestSnapshotSinceFiltersByPrefix(t *testing.T) {
	h := NewHub(10)
	h.Publish(TypeTick, nil)
	h.Publish(TypeCommandStarted, nil)
	h.Publish(TypeCleanupFinished, nil)
	h.Publish(TypeCommandFailed, nil)

	got := h.SnapshotSince(0, Prefix("command."))
	require.Len(t, got, 2)
	assert.Equal(t, TypeCommandStarted, got[0].Type)
	assert.Equal(t, TypeCommandFailed, got[1].Type)

	assert.Len(t, h.SnapshotSince(0, Prefix("cleanup.", "dispatch.")), 2)
	assert.Nil(t, Prefix("", " "))
}

func TestSubscribeReceivesAndCancels(t *testing.T) {
	h := NewHub(4)
	ch, cancel := h.Subscribe(nil)

	h.Publish(TypeCommandStarted, map[string]string{"command": "SayHello"})
	ev := <-ch
	assert.Equal(t, TypeCommandStarted, ev.Type)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic.
	h.Publish(TypeCommandFinished, nil)
	assert.JSONEq(t, `{}`, string(h.SnapshotSince(1, nil)[0].Data))
}

func TestSubscribeFilterAndDrops(t *testing.T) {
	h := NewHub(4)
	ch, cancel := h.Subscribe(Prefix(TypeCommandFailed))
	defer cancel()

	h.Publish(TypeTick, nil)
	for range subscriberBuffer + 2 {
		h.Publish(TypeCommandFailed, nil)
	}

	first := <-ch
	assert.Equal(t, TypeCommandFailed, first.Type)
	assert.Equal(t, int64(2), first.ID)
	assert.Equal(t, int64(2), h.Dropped())
}

func TestNilHubPublish(t *testing.T) {
	var h *Hub
	assert.NotPanics(t, func() { h.Publish(TypeTick, nil) })
}
