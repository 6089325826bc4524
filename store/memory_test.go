package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readJSON(t *testing.T, snap Snapshot) map[string]any {
	t.Helper()
	require.True(t, snap.Exists)

	var out map[string]any
	require.NoError(t, json.Unmarshal(snap.Data, &out))

	return out
}

func TestWriteAndRead(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	require.NoError(t, mem.Write(ctx, "rooms/AAAAAA", map[string]any{"phase": "lobby", "round": 0}))

	snap, err := mem.Read(ctx, "rooms/AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, "lobby", readJSON(t, snap)["phase"])

	snap, err = mem.Read(ctx, "rooms/AAAAAA/phase")
	require.NoError(t, err)
	require.True(t, snap.Exists)
	assert.Equal(t, json.RawMessage(`"lobby"`), snap.Data)

	snap, err = mem.Read(ctx, "rooms/MISSIN")
	require.NoError(t, err)
	assert.False(t, snap.Exists)
}

func TestMergeTouchesOnlyNamedFields(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	require.NoError(t, mem.Write(ctx, "rooms/AAAAAA", map[string]any{
		"phase": "lobby",
		"players": map[string]any{
			"p1": map[string]any{"name": "Ana", "score": 0},
		},
	}))

	// Slash-separated keys address nested fields, leaving siblings
	// alone.
	require.NoError(t, mem.Merge(ctx, "rooms/AAAAAA", map[string]any{
		"phase":            "playing",
		"players/p1/score": 1,
		"players/p2":       map[string]any{"name": "Bob", "score": 0},
	}))

	snap, err := mem.Read(ctx, "rooms/AAAAAA")
	require.NoError(t, err)
	doc := readJSON(t, snap)

	assert.Equal(t, "playing", doc["phase"])
	players := doc["players"].(map[string]any)
	assert.Equal(t, float64(1), players["p1"].(map[string]any)["score"])
	assert.Equal(t, "Ana", players["p1"].(map[string]any)["name"])
	assert.Equal(t, "Bob", players["p2"].(map[string]any)["name"])
}

func TestNilValuesDelete(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	require.NoError(t, mem.Write(ctx, "rooms/AAAAAA", map[string]any{
		"players":            map[string]any{"p1": map[string]any{"name": "Ana"}},
		"winnerAnnouncement": map[string]any{"playerId": "p1"},
	}))

	require.NoError(t, mem.Merge(ctx, "rooms/AAAAAA", map[string]any{
		"winnerAnnouncement": nil,
	}))

	snap, err := mem.Read(ctx, "rooms/AAAAAA/winnerAnnouncement")
	require.NoError(t, err)
	assert.False(t, snap.Exists)

	// Writing nil at a document root deletes the document.
	require.NoError(t, mem.Write(ctx, "rooms/AAAAAA", nil))

	snap, err = mem.Read(ctx, "rooms/AAAAAA")
	require.NoError(t, err)
	assert.False(t, snap.Exists)
}

func TestDeletePrunesEmptyParents(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	require.NoError(t, mem.Write(ctx, "rooms/AAAAAA/players/p1", map[string]any{"name": "Ana"}))
	require.NoError(t, mem.Delete(ctx, "rooms/AAAAAA/players/p1"))

	snap, err := mem.Read(ctx, "rooms/AAAAAA")
	require.NoError(t, err)
	assert.False(t, snap.Exists, "empty shells should not survive deletion")
}

func TestSubscribeDeliversInitialAndUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mem := NewMemory()

	require.NoError(t, mem.Write(ctx, "rooms/AAAAAA", map[string]any{"round": 1}))

	ch, err := mem.Subscribe(ctx, "rooms/AAAAAA")
	require.NoError(t, err)

	snap := <-ch
	assert.Equal(t, float64(1), readJSON(t, snap)["round"])

	require.NoError(t, mem.Merge(ctx, "rooms/AAAAAA", map[string]any{"round": 2}))

	require.Eventually(t, func() bool {
		select {
		case snap = <-ch:
			return readJSON(t, snap)["round"] == float64(2)
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	// A write inside the subtree also wakes the subscriber.
	require.NoError(t, mem.Write(ctx, "rooms/AAAAAA/players/p1", map[string]any{"name": "Ana"}))

	require.Eventually(t, func() bool {
		select {
		case snap = <-ch:
			_, ok := readJSON(t, snap)["players"]
			return ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	// Writes to other rooms do not.
	require.NoError(t, mem.Write(ctx, "rooms/BBBBBB", map[string]any{"round": 9}))

	select {
	case extra := <-ch:
		t.Fatalf("unexpected delivery for unrelated write: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeSeesDeletion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mem := NewMemory()

	require.NoError(t, mem.Write(ctx, "rooms/AAAAAA", map[string]any{"round": 1}))

	ch, err := mem.Subscribe(ctx, "rooms/AAAAAA")
	require.NoError(t, err)
	<-ch

	require.NoError(t, mem.Delete(ctx, "rooms/AAAAAA"))

	require.Eventually(t, func() bool {
		select {
		case snap := <-ch:
			return !snap.Exists
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestSubscriberRemovedOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mem := NewMemory()

	_, err := mem.Subscribe(ctx, "rooms/AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Subscribers())

	cancel()

	require.Eventually(t, func() bool {
		return mem.Subscribers() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestCompareAndSet(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	require.NoError(t, mem.Write(ctx, "rooms/AAAAAA", map[string]any{"round": 1}))

	snap, err := mem.Read(ctx, "rooms/AAAAAA")
	require.NoError(t, err)

	ok, err := mem.CompareAndSet(ctx, "rooms/AAAAAA", snap.Rev, map[string]any{"round": 2})
	require.NoError(t, err)
	assert.True(t, ok)

	// The stale revision no longer wins.
	ok, err = mem.CompareAndSet(ctx, "rooms/AAAAAA", snap.Rev, map[string]any{"round": 99})
	require.NoError(t, err)
	assert.False(t, ok)

	cur, err := mem.Read(ctx, "rooms/AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, float64(2), readJSON(t, cur)["round"])
}

func TestTransactRetriesAndAborts(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	require.NoError(t, mem.Write(ctx, "rooms/AAAAAA", map[string]any{"round": 1}))

	// An aborting update leaves the document untouched.
	require.NoError(t, mem.Transact(ctx, "rooms/AAAAAA", func(Snapshot) (any, bool) {
		return nil, false
	}))

	snap, err := mem.Read(ctx, "rooms/AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, float64(1), readJSON(t, snap)["round"])

	// A conflicting writer on the first attempt forces a retry that
	// must observe the fresh value.
	first := true
	err = mem.Transact(ctx, "rooms/AAAAAA", func(cur Snapshot) (any, bool) {
		doc := readJSON(t, cur)
		if first {
			first = false
			require.NoError(t, mem.Merge(ctx, "rooms/AAAAAA", map[string]any{"round": 5}))
		}
		doc["round"] = doc["round"].(float64) + 1
		return doc, true
	})
	require.NoError(t, err)

	snap, err = mem.Read(ctx, "rooms/AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, float64(6), readJSON(t, snap)["round"], "increment must apply to the post-conflict value")
}

func TestRootsTracksRoomActivity(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	require.NoError(t, mem.Write(ctx, "rooms/AAAAAA", map[string]any{"round": 1}))
	require.NoError(t, mem.Write(ctx, "rooms/BBBBBB", map[string]any{"round": 1}))
	require.NoError(t, mem.Delete(ctx, "rooms/BBBBBB"))

	roots := mem.Roots("rooms/")
	assert.Contains(t, roots, "rooms/AAAAAA")
	assert.NotContains(t, roots, "rooms/BBBBBB", "deleted rooms are not reported")
}
