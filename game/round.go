/*
Copyright © 2026 Pibaps
*/

package game

import (
	"context"
	"fmt"
	"time"

	"github.com/Pibaps/wrong-sms/deck"
	"github.com/Pibaps/wrong-sms/room"
	"github.com/Pibaps/wrong-sms/store"
)

// Start begins play. Host only, and every joined player must be ready
// with at least room.MinPlayers present. Each player is dealt a hand
// of seven response cards from the shared pool, a prompt is drawn, and
// a first judge is picked at random. The whole transition lands in the
// document as a single write.
func (s *Session) Start(ctx context.Context) error {
	code, err := s.joinedRoom()
	if err != nil {
		return err
	}

	var cmdErr error

	err = s.adapter.Transact(ctx, store.RoomPath(code), func(snap store.Snapshot) (any, bool) {
		doc, ok := s.decode(snap)
		if !ok {
			return nil, false
		}
		if doc.Phase != room.PhaseLobby {
			return nil, false
		}
		if doc.Host != s.playerID {
			cmdErr = room.ErrUnauthorized
			return nil, false
		}
		if !doc.AllPlayersReady() {
			cmdErr = room.ErrNotEnoughPlayers
			return nil, false
		}

		for _, id := range sortedPlayerIDs(doc.Players) {
			var hand []string
			hand, doc.DeckRemaining.Responses = deck.Draw(doc.DeckRemaining.Responses, room.HandSize, s.rng)
			doc.Players[id].Hand = hand
			doc.Players[id].PlayedCard = ""
		}

		var prompt []string
		prompt, doc.DeckRemaining.Prompts = deck.Draw(doc.DeckRemaining.Prompts, 1, s.rng)
		if len(prompt) == 0 {
			cmdErr = fmt.Errorf("start game: prompt catalogue is empty")
			return nil, false
		}

		doc.Phase = room.PhasePlaying
		doc.Round = 1
		doc.CurrentPrompt = prompt[0]
		doc.CurrentJudge = s.pickJudge(doc)

		return doc, true
	})
	if err != nil {
		return fmt.Errorf("start game: %w", err)
	}

	return cmdErr
}

// Play submits the card at cardIndex from this player's hand. The
// judge cannot play, and at most one card is accepted per round. The
// write touches only this player's own subtree, so concurrent
// submissions from different players commute.
func (s *Session) Play(ctx context.Context, cardIndex int) error {
	code, err := s.joinedRoom()
	if err != nil {
		return err
	}

	cur := s.Current()
	if cur == nil || cur.Phase != room.PhasePlaying {
		return nil
	}
	if cur.CurrentJudge == s.playerID {
		return room.ErrUnauthorized
	}

	me, joined := cur.Players[s.playerID]
	if !joined {
		return room.ErrUnauthorized
	}
	// One submission per round; a second play would silently discard
	// the first card.
	if me.PlayedCard != "" {
		return nil
	}
	if cardIndex < 0 || cardIndex >= len(me.Hand) {
		return room.ErrInvalidIndex
	}

	card := me.Hand[cardIndex]
	hand := make([]string, 0, len(me.Hand)-1)
	hand = append(hand, me.Hand[:cardIndex]...)
	hand = append(hand, me.Hand[cardIndex+1:]...)

	return s.adapter.Merge(ctx, store.PlayerPath(code, s.playerID), map[string]any{
		"hand":       hand,
		"playedCard": card,
	})
}

// Reveal publishes the shuffled set of played cards once every
// non-judge player has submitted. Judge only; publishing is guarded by
// the document revision so a round can only be revealed once.
func (s *Session) Reveal(ctx context.Context) error {
	code, err := s.joinedRoom()
	if err != nil {
		return err
	}

	var cmdErr error

	err = s.adapter.Transact(ctx, store.RoomPath(code), func(snap store.Snapshot) (any, bool) {
		doc, ok := s.decode(snap)
		if !ok {
			return nil, false
		}
		if doc.Phase != room.PhasePlaying || len(doc.RevealedCards) > 0 {
			return nil, false
		}
		if doc.CurrentJudge != s.playerID {
			cmdErr = room.ErrUnauthorized
			return nil, false
		}
		if !doc.AllPlayersPlayed() {
			return nil, false
		}

		cards := doc.PlayedCards()
		if len(cards) == 0 {
			return nil, false
		}

		// Shuffled so the judge cannot map cards back to players.
		doc.RevealedCards = deck.Shuffle(cards, s.rng)

		return doc, true
	})
	if err != nil {
		return fmt.Errorf("reveal cards: %w", err)
	}

	return cmdErr
}

// SelectWinner awards the round to the player behind the revealed card
// at revealedIndex. Judge only. Exactly one score is incremented, the
// announcement is published with its clearing deadline, and after the
// display delay the next round is dealt with the winner as judge.
func (s *Session) SelectWinner(ctx context.Context, revealedIndex int) error {
	code, err := s.joinedRoom()
	if err != nil {
		return err
	}

	var (
		cmdErr    error
		fromRound int
		winnerID  string
		awarded   bool
	)

	err = s.adapter.Transact(ctx, store.RoomPath(code), func(snap store.Snapshot) (any, bool) {
		cmdErr = nil
		awarded = false

		doc, ok := s.decode(snap)
		if !ok {
			return nil, false
		}
		if doc.Phase != room.PhasePlaying || doc.Winner != nil {
			return nil, false
		}
		if doc.CurrentJudge != s.playerID {
			cmdErr = room.ErrUnauthorized
			return nil, false
		}
		if revealedIndex < 0 || revealedIndex >= len(doc.RevealedCards) {
			cmdErr = room.ErrInvalidIndex
			return nil, false
		}

		winning := doc.RevealedCards[revealedIndex]
		winner, joined := doc.Players[winning.PlayerID]
		if !joined {
			return nil, false
		}

		winner.Score++
		doc.Winner = &room.WinnerAnnouncement{
			PlayerName: winner.Name,
			CardText:   winning.Text,
			PlayerID:   winning.PlayerID,
			ClearAt:    time.Now().Add(s.delay),
		}

		fromRound = doc.Round
		winnerID = winning.PlayerID
		awarded = true

		return doc, true
	})
	if err != nil {
		return fmt.Errorf("select winner: %w", err)
	}
	if cmdErr != nil {
		return cmdErr
	}
	if !awarded {
		return nil
	}

	// The judge owns the happy-path timer, scoped to the command's
	// ctx so a client tearing down stops issuing writes. Recovery
	// does not depend on it: every client arms a fallback timer at
	// the stored deadline plus grace when the announcement snapshot
	// arrives.
	go func() {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := s.advanceRound(context.Background(), fromRound, winnerID); err != nil {
			s.logf("GAME: Round advance failed: %v", err)
		}
	}()

	return nil
}

// advanceRound clears the winner announcement and deals the next
// round, or moves to results when too few players remain. The round
// number acts as the arbitration token: whichever client commits first
// wins, every other attempt aborts against the fresh snapshot.
func (s *Session) advanceRound(ctx context.Context, fromRound int, newJudge string) error {
	code, err := s.joinedRoom()
	if err != nil {
		return err
	}

	return s.adapter.Transact(ctx, store.RoomPath(code), func(snap store.Snapshot) (any, bool) {
		doc, ok := s.decode(snap)
		if !ok {
			return nil, false
		}
		if doc.Phase != room.PhasePlaying || doc.Round != fromRound {
			return nil, false
		}

		judge := newJudge
		if _, joined := doc.Players[judge]; !joined {
			judge = s.pickJudge(doc)
		}

		s.advance(doc, judge)

		return doc, true
	})
}

// advance mutates doc into the next round: hands topped back up to
// seven, played cards cleared, a fresh prompt drawn (recycling the
// full catalogue when the pool runs dry), judge rotated, round
// incremented. Below the player minimum it ends the game instead.
func (s *Session) advance(doc *room.Room, newJudge string) {
	doc.Winner = nil
	doc.RevealedCards = nil

	if len(doc.Players) < room.MinPlayers {
		doc.Phase = room.PhaseResults
		doc.CurrentJudge = ""
		doc.CurrentPrompt = ""

		return
	}

	for _, id := range sortedPlayerIDs(doc.Players) {
		p := doc.Players[id]
		if deficit := room.HandSize - len(p.Hand); deficit > 0 {
			var drawn []string
			drawn, doc.DeckRemaining.Responses = deck.Draw(doc.DeckRemaining.Responses, deficit, s.rng)
			p.Hand = append(p.Hand, drawn...)
		}
		p.PlayedCard = ""
	}

	// Prompts recycle: a prompt seen earlier in the game may come up
	// again once the pool is exhausted.
	doc.DeckRemaining.Prompts = deck.RefillIfEmpty(doc.DeckRemaining.Prompts, doc.Deck.Prompts)

	var prompt []string
	prompt, doc.DeckRemaining.Prompts = deck.Draw(doc.DeckRemaining.Prompts, 1, s.rng)
	if len(prompt) > 0 {
		doc.CurrentPrompt = prompt[0]
	}

	doc.CurrentJudge = newJudge
	doc.Round++
}

// pickJudge selects a judge uniformly at random among joined players.
func (s *Session) pickJudge(doc *room.Room) string {
	ids := sortedPlayerIDs(doc.Players)
	if len(ids) == 0 {
		return ""
	}

	return ids[s.rng.IntN(len(ids))]
}
