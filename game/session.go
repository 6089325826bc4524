/*
Copyright © 2026 Pibaps
*/

// Package game is the client-side core of Wrong SMS. Every participant
// runs its own Session against the shared room document; there is no
// authoritative server, so all mutating commands are role-gated and
// written so that concurrent clients racing on the same field either
// commute or resolve through the store's revision arbitration.
package game

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Pibaps/wrong-sms/deck"
	"github.com/Pibaps/wrong-sms/room"
	"github.com/Pibaps/wrong-sms/store"
)

const (
	// winnerDisplayDelay is how long the winner announcement stays on
	// screen before the next round is dealt.
	winnerDisplayDelay = 4 * time.Second

	// announceGrace is how long non-judge clients wait past the
	// announcement deadline before advancing the round themselves.
	// This keeps the game moving when the judge disconnects during
	// the delay, without racing a healthy judge's own timer.
	announceGrace = 2 * time.Second
)

// NewPlayerID generates the opaque identifier a client keeps for its
// lifetime. Callers persist it themselves across sessions.
func NewPlayerID() string {
	return uuid.NewString()
}

// Session is one client's handle on a room. All methods are safe for
// use from a single goroutine alongside the internal watch loop.
type Session struct {
	adapter  store.Adapter
	playerID string
	name     string
	rng      deck.Rand
	delay    time.Duration
	logf     func(format string, args ...any)
	onChange func(code string, r *room.Room)

	mu       sync.Mutex
	code     string
	cur      *room.Room
	cancel   context.CancelFunc
	advTimer *time.Timer
}

// Option configures a Session.
type Option func(*Session)

// WithRand injects a deterministic randomness source for tests.
func WithRand(rng deck.Rand) Option {
	return func(s *Session) { s.rng = rng }
}

// WithWinnerDelay overrides the winner display delay.
func WithWinnerDelay(d time.Duration) Option {
	return func(s *Session) { s.delay = d }
}

// WithLogger routes session diagnostics somewhere visible.
func WithLogger(logf func(format string, args ...any)) Option {
	return func(s *Session) { s.logf = logf }
}

// WithOnChange registers a callback invoked with every validated room
// snapshot, and with a nil room when the room is deleted. The UI layer
// derives its entire view from this.
func WithOnChange(fn func(code string, r *room.Room)) Option {
	return func(s *Session) { s.onChange = fn }
}

// NewSession creates a session for one player identity. The adapter
// decides whether the client talks to an in-process store or a relay.
func NewSession(adapter store.Adapter, playerID, playerName string, opts ...Option) *Session {
	s := &Session{
		adapter:  adapter,
		playerID: playerID,
		name:     playerName,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		delay:    winnerDisplayDelay,
		logf:     func(string, ...any) {},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// PlayerID returns the identity this session acts as.
func (s *Session) PlayerID() string {
	return s.playerID
}

// Code returns the joined room code, or "" outside a room.
func (s *Session) Code() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.code
}

// Current returns the latest validated room snapshot, or nil.
func (s *Session) Current() *room.Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cur
}

// Create opens a new room with this player as host and only member,
// and starts watching it. It returns the room code other players join
// with.
func (s *Session) Create(ctx context.Context) (string, error) {
	var code string

	// Regenerate on the off chance the code is taken.
	for {
		code = room.NewCode()

		snap, err := s.adapter.Read(ctx, store.RoomPath(code))
		if err != nil {
			return "", fmt.Errorf("create room: %w", err)
		}
		if !snap.Exists {
			break
		}
	}

	doc := room.New(s.playerID, s.name, deck.Default())
	if err := s.adapter.Write(ctx, store.RoomPath(code), doc); err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}

	if err := s.watchRoom(code); err != nil {
		return "", err
	}

	return code, nil
}

// Join adds this player to an existing room. Joining is permitted
// after play has started: the late joiner enters with an empty hand
// and is dealt a full one at the next round boundary. A player ID that
// is already present is rehydrated, never duplicated.
func (s *Session) Join(ctx context.Context, code string) error {
	code, ok := room.NormalizeCode(code)
	if !ok {
		return room.ErrInvalidCode
	}

	snap, err := s.adapter.Read(ctx, store.RoomPath(code))
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	if !snap.Exists {
		return room.ErrRoomNotFound
	}

	var doc room.Room
	if err := snap.Decode(&doc); err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	if _, joined := doc.Players[s.playerID]; !joined {
		if len(doc.Players) >= room.MaxPlayers {
			return room.ErrRoomFull
		}

		err := s.adapter.Write(ctx, store.PlayerPath(code, s.playerID), room.NewPlayer(s.name))
		if err != nil {
			return fmt.Errorf("join room: %w", err)
		}
	}

	return s.watchRoom(code)
}

// Rejoin re-enters a room the client was previously part of, keeping
// the existing player record when it survived. It reports
// room.ErrRoomNotFound when the room is gone.
func (s *Session) Rejoin(ctx context.Context, code string) error {
	return s.Join(ctx, code)
}

// SetReady toggles this player's lobby readiness. No phase validation
// is applied.
func (s *Session) SetReady(ctx context.Context, ready bool) error {
	code, err := s.joinedRoom()
	if err != nil {
		return err
	}

	return s.adapter.Merge(ctx, store.PlayerPath(code, s.playerID), map[string]any{
		"ready": ready,
	})
}

// ExtendDeck appends extra cards to the room catalogue and to the
// drawable pools. Host only. Cards already drawn are never removed, so
// the catalogue is append-only for the life of the room.
func (s *Session) ExtendDeck(ctx context.Context, extra deck.Deck) error {
	code, err := s.joinedRoom()
	if err != nil {
		return err
	}

	var unauthorized bool

	err = s.adapter.Transact(ctx, store.RoomPath(code), func(snap store.Snapshot) (any, bool) {
		doc, ok := s.decode(snap)
		if !ok {
			return nil, false
		}
		if doc.Host != s.playerID {
			unauthorized = true
			return nil, false
		}

		doc.Deck = doc.Deck.Append(extra)
		doc.DeckRemaining = doc.DeckRemaining.Append(extra)

		return doc, true
	})
	if err != nil {
		return fmt.Errorf("extend deck: %w", err)
	}
	if unauthorized {
		return room.ErrUnauthorized
	}

	return nil
}

// Leave removes this player from the room. Host role transfers to the
// lowest remaining player ID; a departing judge hands the round over
// so the game cannot stall; the last player out deletes the room
// document entirely.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	code := s.code
	cancel := s.cancel
	s.code = ""
	s.cur = nil
	s.cancel = nil
	s.stopAdvanceTimerLocked()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if code == "" {
		return nil
	}

	err := s.adapter.Transact(ctx, store.RoomPath(code), func(snap store.Snapshot) (any, bool) {
		if !snap.Exists {
			return nil, false
		}

		doc, ok := s.decode(snap)
		if !ok {
			return nil, false
		}
		if _, joined := doc.Players[s.playerID]; !joined {
			return nil, false
		}

		wasJudge := doc.Phase == room.PhasePlaying && doc.CurrentJudge == s.playerID

		delete(doc.Players, s.playerID)

		// A room must never exist with an empty player set.
		if len(doc.Players) == 0 {
			return nil, true
		}

		if doc.Host == s.playerID {
			doc.TransferHost()
		}

		// Drop this player's contribution from the reveal so the
		// remaining snapshot stays consistent.
		if len(doc.RevealedCards) > 0 {
			kept := doc.RevealedCards[:0]
			for _, rc := range doc.RevealedCards {
				if rc.PlayerID != s.playerID {
					kept = append(kept, rc)
				}
			}
			doc.RevealedCards = kept
		}

		if wasJudge {
			// Abandon the round rather than leave it waiting on a
			// judge who is gone.
			s.advance(doc, s.pickJudge(doc))
		}

		return doc, true
	})
	if err != nil {
		return fmt.Errorf("leave room: %w", err)
	}

	return nil
}

// End moves the room to the results phase. Host only.
func (s *Session) End(ctx context.Context) error {
	code, err := s.joinedRoom()
	if err != nil {
		return err
	}

	cur := s.Current()
	if cur == nil || cur.Host != s.playerID {
		return room.ErrUnauthorized
	}

	return s.adapter.Merge(ctx, store.RoomPath(code), map[string]any{
		"phase": room.PhaseResults,
	})
}

// IsHost reports whether this player currently holds the host role.
func (s *Session) IsHost() bool {
	cur := s.Current()

	return cur != nil && cur.Host == s.playerID
}

// IsJudge reports whether this player is the current round's judge.
func (s *Session) IsJudge() bool {
	cur := s.Current()

	return cur != nil && cur.Phase == room.PhasePlaying && cur.CurrentJudge == s.playerID
}

// PlayerInfo is the derived per-player view handed to the UI layer.
// Played exposes only whether a card has been submitted, never which
// one.
type PlayerInfo struct {
	ID     string
	Name   string
	Score  int
	Ready  bool
	Played bool
}

// OtherPlayers lists every joined player except this one, ordered by
// player ID for stable display.
func (s *Session) OtherPlayers() []PlayerInfo {
	cur := s.Current()
	if cur == nil {
		return nil
	}

	var out []PlayerInfo
	for _, id := range sortedPlayerIDs(cur.Players) {
		if id == s.playerID {
			continue
		}
		p := cur.Players[id]
		out = append(out, PlayerInfo{
			ID:     id,
			Name:   p.Name,
			Score:  p.Score,
			Ready:  p.Ready,
			Played: p.PlayedCard != "",
		})
	}

	return out
}

func (s *Session) joinedRoom() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.code == "" {
		return "", room.ErrNotInRoom
	}

	return s.code, nil
}

// decode unmarshals and validates a room snapshot. Malformed documents
// are quarantined: logged and never handed to game logic.
func (s *Session) decode(snap store.Snapshot) (*room.Room, bool) {
	if !snap.Exists {
		return nil, false
	}

	var doc room.Room
	if err := snap.Decode(&doc); err != nil {
		s.logf("GAME: Discarding undecodable snapshot: %v", err)
		return nil, false
	}
	if err := doc.Validate(); err != nil {
		s.logf("GAME: Quarantining invalid snapshot: %v", err)
		return nil, false
	}

	return &doc, true
}

func (s *Session) watchRoom(code string) error {
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := s.adapter.Subscribe(ctx, store.RoomPath(code))
	if err != nil {
		cancel()
		return fmt.Errorf("watch room: %w", err)
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.stopAdvanceTimerLocked()
	s.code = code
	s.cancel = cancel
	s.mu.Unlock()

	go s.watch(code, ch)

	return nil
}

func (s *Session) watch(code string, ch <-chan store.Snapshot) {
	for snap := range ch {
		if !snap.Exists {
			s.mu.Lock()
			var cancel context.CancelFunc
			if s.code == code {
				s.code = ""
				s.cur = nil
				cancel = s.cancel
				s.cancel = nil
			}
			s.stopAdvanceTimerLocked()
			s.mu.Unlock()

			// Tear down the subscription so the pump goroutine does
			// not outlive the room.
			if cancel != nil {
				cancel()
			}

			if s.onChange != nil {
				s.onChange(code, nil)
			}

			return
		}

		doc, ok := s.decode(snap)
		if !ok {
			continue
		}

		s.mu.Lock()
		s.cur = doc
		s.mu.Unlock()

		s.scheduleExpiredAdvance(doc)

		if s.onChange != nil {
			s.onChange(code, doc)
		}
	}
}

// scheduleExpiredAdvance arms a timer at the announcement deadline
// plus grace, re-armed on every snapshot, so that any client pushes
// the game forward when the judge vanished during the display delay.
// Without it a quiescent room would never re-evaluate the stored
// deadline. The revision transaction makes the advance exactly-once
// no matter how many clients fire.
func (s *Session) scheduleExpiredAdvance(doc *room.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopAdvanceTimerLocked()

	if doc.Phase != room.PhasePlaying || doc.Winner == nil {
		return
	}

	fromRound := doc.Round
	winnerID := doc.Winner.PlayerID

	wait := time.Until(doc.Winner.ClearAt) + announceGrace
	if wait < 0 {
		wait = 0
	}

	s.advTimer = time.AfterFunc(wait, func() {
		if err := s.advanceRound(context.Background(), fromRound, winnerID); err != nil {
			s.logf("GAME: Stalled round advance failed: %v", err)
		}
	})
}

// stopAdvanceTimerLocked cancels the pending fallback advance, if
// any. Callers hold s.mu.
func (s *Session) stopAdvanceTimerLocked() {
	if s.advTimer != nil {
		s.advTimer.Stop()
		s.advTimer = nil
	}
}

func sortedPlayerIDs(players map[string]*room.Player) []string {
	ids := make([]string, 0, len(players))
	for id := range players {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}
