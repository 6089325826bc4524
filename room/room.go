/*
Copyright © 2026 Pibaps
*/

// Package room defines the shared session document that every client
// of a game reads and writes through the realtime store, plus the
// schema validation applied at each read boundary. The document is the
// only source of truth; there is no server-side game logic.
package room

import (
	"fmt"
	"time"

	"github.com/Pibaps/wrong-sms/deck"
)

// Phase is the coarse, persisted state of a room.
type Phase string

const (
	PhaseLobby   Phase = "lobby"
	PhasePlaying Phase = "playing"
	PhaseResults Phase = "results"
)

// MaxPlayers is the room capacity.
const MaxPlayers = 10

// MinPlayers is the number of joined players required to start or to
// keep a round going.
const MinPlayers = 3

// HandSize is the number of response cards each player holds while a
// round is active.
const HandSize = 7

// Player is one joined participant's subtree of the room document.
type Player struct {
	Name       string   `json:"name"`
	Score      int      `json:"score"`
	Hand       []string `json:"hand"`
	PlayedCard string   `json:"playedCard,omitempty"`
	Ready      bool     `json:"ready"`
}

// RevealedCard pairs a played card with the player who submitted it.
// The sequence published to the document is shuffled so the judge
// cannot map cards back to players before choosing.
type RevealedCard struct {
	Text     string `json:"text"`
	PlayerID string `json:"playerId"`
}

// WinnerAnnouncement is the transient state shown to everyone between
// winner selection and the next round. ClearAt is stored in the
// document so that any client, not only the judge who wrote it, can
// advance the round once the deadline has passed.
type WinnerAnnouncement struct {
	PlayerName string    `json:"playerName"`
	CardText   string    `json:"cardText"`
	PlayerID   string    `json:"playerId"`
	ClearAt    time.Time `json:"clearAt"`
}

// Room is the full session document, keyed in the store by room code.
type Room struct {
	Host          string              `json:"host"`
	Phase         Phase               `json:"phase"`
	Round         int                 `json:"round"`
	CurrentJudge  string              `json:"currentJudge,omitempty"`
	CurrentPrompt string              `json:"currentPrompt,omitempty"`
	Players       map[string]*Player  `json:"players"`
	Deck          deck.Deck           `json:"deck"`
	DeckRemaining deck.Deck           `json:"deckRemaining"`
	RevealedCards []RevealedCard      `json:"revealedCards,omitempty"`
	Winner        *WinnerAnnouncement `json:"winnerAnnouncement,omitempty"`
}

// New returns a fresh lobby document with hostID as its host and sole
// player, using catalogue as both the full deck and the remaining
// pools.
func New(hostID, hostName string, catalogue deck.Deck) *Room {
	return &Room{
		Host:  hostID,
		Phase: PhaseLobby,
		Round: 0,
		Players: map[string]*Player{
			hostID: NewPlayer(hostName),
		},
		Deck:          catalogue.Clone(),
		DeckRemaining: catalogue.Clone(),
	}
}

// NewPlayer returns the document subtree for a player who just joined:
// empty hand, zero score, ready to play.
func NewPlayer(name string) *Player {
	return &Player{
		Name:  name,
		Hand:  []string{},
		Ready: true,
	}
}

// Validate checks the structural invariants of a snapshot before it is
// allowed into game logic. Snapshots that fail validation are
// quarantined by the caller rather than propagated.
func (r *Room) Validate() error {
	switch r.Phase {
	case PhaseLobby, PhasePlaying, PhaseResults:
	default:
		return fmt.Errorf("unknown phase %q", r.Phase)
	}

	if len(r.Players) == 0 {
		return fmt.Errorf("room has no players")
	}

	if len(r.Players) > MaxPlayers {
		return fmt.Errorf("room has %d players, capacity is %d", len(r.Players), MaxPlayers)
	}

	if _, ok := r.Players[r.Host]; !ok {
		return fmt.Errorf("host %q is not a joined player", r.Host)
	}

	if r.Round < 0 {
		return fmt.Errorf("negative round %d", r.Round)
	}

	if r.Phase == PhasePlaying {
		if _, ok := r.Players[r.CurrentJudge]; !ok {
			return fmt.Errorf("judge %q is not a joined player", r.CurrentJudge)
		}
		if r.CurrentPrompt == "" {
			return fmt.Errorf("playing phase without a prompt")
		}
	}

	for id, p := range r.Players {
		if p == nil {
			return fmt.Errorf("player %q has no record", id)
		}
		if p.Score < 0 {
			return fmt.Errorf("player %q has negative score %d", id, p.Score)
		}
	}

	for _, rc := range r.RevealedCards {
		if _, ok := r.Players[rc.PlayerID]; !ok {
			return fmt.Errorf("revealed card from unknown player %q", rc.PlayerID)
		}
		if rc.PlayerID == r.CurrentJudge {
			return fmt.Errorf("revealed card from the judge")
		}
	}

	return nil
}

// AllPlayersReady reports whether the lobby can start: at least
// MinPlayers joined and every one of them ready.
func (r *Room) AllPlayersReady() bool {
	if len(r.Players) < MinPlayers {
		return false
	}

	for _, p := range r.Players {
		if !p.Ready {
			return false
		}
	}

	return true
}

// TransferHost reassigns the host role to the lowest remaining player
// ID, so every client resolves the same successor without
// coordination. It returns the new host ID, or "" when the room is
// empty.
func (r *Room) TransferHost() string {
	var next string
	for id := range r.Players {
		if next == "" || id < next {
			next = id
		}
	}
	r.Host = next

	return next
}

// AllPlayersPlayed reports whether every non-judge player has submitted
// a card this round. Players without a hand joined mid-round and sit
// out until the next deal, so they are not waited on. False when
// nobody has submitted.
func (r *Room) AllPlayersPlayed() bool {
	submitted := 0

	for id, p := range r.Players {
		if id == r.CurrentJudge {
			continue
		}
		if p.PlayedCard == "" {
			if len(p.Hand) == 0 {
				continue
			}
			return false
		}
		submitted++
	}

	return submitted > 0
}

// PlayedCards collects the {text, playerId} contributions of every
// non-judge player who has played this round, in unspecified order.
func (r *Room) PlayedCards() []RevealedCard {
	var cards []RevealedCard

	for id, p := range r.Players {
		if id == r.CurrentJudge || p.PlayedCard == "" {
			continue
		}
		cards = append(cards, RevealedCard{Text: p.PlayedCard, PlayerID: id})
	}

	return cards
}
