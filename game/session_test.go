package game_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pibaps/wrong-sms/deck"
	"github.com/Pibaps/wrong-sms/game"
	"github.com/Pibaps/wrong-sms/room"
	"github.com/Pibaps/wrong-sms/store"
)

// stubRand always picks index zero, which makes dealing sequential and
// judge selection deterministic (the lowest sorted player ID).
type stubRand struct{}

func (stubRand) IntN(int) int { return 0 }

func waitRoom(t *testing.T, s *game.Session, cond func(*room.Room) bool) *room.Room {
	t.Helper()

	var got *room.Room
	require.Eventually(t, func() bool {
		got = s.Current()
		return got != nil && cond(got)
	}, 2*time.Second, 5*time.Millisecond)

	return got
}

func waitGone(t *testing.T, s *game.Session) {
	t.Helper()

	require.Eventually(t, func() bool {
		return s.Current() == nil
	}, 2*time.Second, 5*time.Millisecond)
}

// setupLobby creates a room with three joined players: p1 (host, with
// deterministic randomness so p1 always judges first), p2, and p3.
func setupLobby(t *testing.T, opts ...game.Option) (*store.Memory, string, [3]*game.Session) {
	t.Helper()

	mem := store.NewMemory()
	ctx := context.Background()

	hostOpts := append([]game.Option{game.WithRand(stubRand{})}, opts...)
	s1 := game.NewSession(mem, "p1", "Ana", hostOpts...)
	s2 := game.NewSession(mem, "p2", "Bob", opts...)
	s3 := game.NewSession(mem, "p3", "Cleo", opts...)

	code, err := s1.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, s2.Join(ctx, code))
	require.NoError(t, s3.Join(ctx, code))

	for _, s := range []*game.Session{s1, s2, s3} {
		waitRoom(t, s, func(r *room.Room) bool {
			return len(r.Players) == 3
		})
	}

	return mem, code, [3]*game.Session{s1, s2, s3}
}

func TestNewPlayerIDFormat(t *testing.T) {
	seen := map[string]bool{}

	for i := 0; i < 100; i++ {
		id := game.NewPlayerID()

		require.Len(t, id, 36, "ids are canonical UUID strings")
		assert.False(t, seen[id], "duplicate id %q", id)
		seen[id] = true
	}
}

func TestCreateRoom(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	s := game.NewSession(mem, "p1", "Ana")

	code, err := s.Create(ctx)
	require.NoError(t, err)

	normalized, ok := room.NormalizeCode(code)
	require.True(t, ok)
	assert.Equal(t, normalized, code)

	r := waitRoom(t, s, func(r *room.Room) bool { return true })
	assert.Equal(t, room.PhaseLobby, r.Phase)
	assert.Equal(t, 0, r.Round)
	assert.Equal(t, "p1", r.Host)
	assert.True(t, s.IsHost())
	assert.False(t, s.IsJudge())
}

func TestJoinErrors(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	s := game.NewSession(mem, "p1", "Ana")
	code, err := s.Create(ctx)
	require.NoError(t, err)

	joiner := game.NewSession(mem, "p2", "Bob")

	assert.ErrorIs(t, joiner.Join(ctx, "nope"), room.ErrInvalidCode)
	assert.ErrorIs(t, joiner.Join(ctx, "ZZZZZ9"), room.ErrRoomNotFound)

	// Codes are looked up case-insensitively.
	require.NoError(t, joiner.Join(ctx, strings.ToLower(code)))

	for i := 3; i <= room.MaxPlayers; i++ {
		extra := game.NewSession(mem, fmt.Sprintf("p%02d", i), "Extra")
		require.NoError(t, extra.Join(ctx, code))
	}

	late := game.NewSession(mem, "p99", "Late")
	assert.ErrorIs(t, late.Join(ctx, code), room.ErrRoomFull)
}

func TestJoinRehydratesExistingPlayer(t *testing.T) {
	mem, code, sessions := setupLobby(t)
	ctx := context.Background()
	s2 := sessions[1]

	// Give p2 a score so rehydration is observable.
	require.NoError(t, mem.Merge(ctx, store.PlayerPath(code, "p2"), map[string]any{
		"score": 2,
	}))
	waitRoom(t, s2, func(r *room.Room) bool { return r.Players["p2"].Score == 2 })

	// A reconnect while the record survived keeps it intact.
	require.NoError(t, s2.Rejoin(ctx, code))

	r := waitRoom(t, s2, func(r *room.Room) bool { return len(r.Players) == 3 })
	assert.Len(t, r.Players, 3, "rejoin must not duplicate the player")
	assert.Equal(t, 2, r.Players["p2"].Score, "rejoin must not reset the record")
}

func TestSetReadyGatesStart(t *testing.T) {
	_, _, sessions := setupLobby(t)
	ctx := context.Background()
	s1, s2 := sessions[0], sessions[1]

	require.NoError(t, s2.SetReady(ctx, false))
	waitRoom(t, s1, func(r *room.Room) bool { return !r.Players["p2"].Ready })

	assert.ErrorIs(t, s1.Start(ctx), room.ErrNotEnoughPlayers)

	require.NoError(t, s2.SetReady(ctx, true))
	waitRoom(t, s1, func(r *room.Room) bool { return r.Players["p2"].Ready })

	require.NoError(t, s1.Start(ctx))
}

func TestExtendDeckIsHostOnlyAndAppendOnly(t *testing.T) {
	_, _, sessions := setupLobby(t)
	ctx := context.Background()
	s1, s2 := sessions[0], sessions[1]

	base := waitRoom(t, s1, func(r *room.Room) bool { return true })
	prompts := len(base.Deck.Prompts)

	assert.ErrorIs(t, s2.ExtendDeck(ctx, deck.Deck{Prompts: []string{"x"}}), room.ErrUnauthorized)

	extra := deck.Deck{Prompts: []string{"Nouveau SMS: ___"}, Responses: []string{"une réponse de plus"}}
	require.NoError(t, s1.ExtendDeck(ctx, extra))

	r := waitRoom(t, s1, func(r *room.Room) bool {
		return len(r.Deck.Prompts) == prompts+1
	})
	assert.Equal(t, base.Deck.Prompts, r.Deck.Prompts[:prompts], "existing cards keep their place")
	assert.Contains(t, r.DeckRemaining.Prompts, "Nouveau SMS: ___")
	assert.Contains(t, r.DeckRemaining.Responses, "une réponse de plus")
}

func TestLeaveTransfersHost(t *testing.T) {
	_, _, sessions := setupLobby(t)
	ctx := context.Background()
	s1, s2, s3 := sessions[0], sessions[1], sessions[2]

	require.NoError(t, s1.Leave(ctx))

	r := waitRoom(t, s2, func(r *room.Room) bool { return len(r.Players) == 2 })
	assert.Equal(t, "p2", r.Host, "host moves to the lowest remaining player ID")
	assert.True(t, s2.IsHost())
	assert.False(t, s3.IsHost())
}

func TestLastPlayerOutDeletesRoom(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	s := game.NewSession(mem, "p1", "Ana")
	code, err := s.Create(ctx)
	require.NoError(t, err)
	waitRoom(t, s, func(r *room.Room) bool { return true })

	require.NoError(t, s.Leave(ctx))

	snap, err := mem.Read(ctx, store.RoomPath(code))
	require.NoError(t, err)
	assert.False(t, snap.Exists, "a room must never exist with no players")
}

func TestRoomDeletionResetsWatchers(t *testing.T) {
	mem, code, sessions := setupLobby(t)
	ctx := context.Background()

	require.NoError(t, mem.Delete(ctx, store.RoomPath(code)))

	for _, s := range sessions {
		waitGone(t, s)
		assert.Empty(t, s.Code())
	}

	// Teardown releases the subscriptions too, not just the local
	// state.
	require.Eventually(t, func() bool {
		return mem.Subscribers() == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEndGameIsHostOnly(t *testing.T) {
	_, _, sessions := setupLobby(t)
	ctx := context.Background()
	s1, s2 := sessions[0], sessions[1]

	assert.ErrorIs(t, s2.End(ctx), room.ErrUnauthorized)

	require.NoError(t, s1.End(ctx))

	r := waitRoom(t, s2, func(r *room.Room) bool { return r.Phase == room.PhaseResults })
	assert.Equal(t, room.PhaseResults, r.Phase)
}

func TestQuarantinedSnapshotsNeverReachGameLogic(t *testing.T) {
	mem, code, sessions := setupLobby(t)
	ctx := context.Background()
	s2 := sessions[1]

	waitRoom(t, s2, func(r *room.Room) bool { return len(r.Players) == 3 })

	// Corrupt the document: host pointing at nobody.
	require.NoError(t, mem.Merge(ctx, store.RoomPath(code), map[string]any{
		"host": "ghost",
	}))

	// The session keeps serving the last valid snapshot.
	time.Sleep(50 * time.Millisecond)
	r := s2.Current()
	require.NotNil(t, r)
	assert.Equal(t, "p1", r.Host)

	// Repairing the document resumes normal delivery.
	require.NoError(t, mem.Merge(ctx, store.RoomPath(code), map[string]any{
		"host": "p3",
	}))
	waitRoom(t, s2, func(r *room.Room) bool { return r.Host == "p3" })
}

func TestOtherPlayers(t *testing.T) {
	_, _, sessions := setupLobby(t)

	others := sessions[1].OtherPlayers()
	require.Len(t, others, 2)
	assert.Equal(t, "p1", others[0].ID)
	assert.Equal(t, "p3", others[1].ID)
	assert.Equal(t, "Ana", others[0].Name)
	assert.False(t, others[0].Played)
}
