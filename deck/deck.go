/*
Copyright © 2026 Pibaps
*/

// Package deck holds the card catalogue for a game and the draw
// bookkeeping used by every client. Cards are plain strings; a Deck is
// split into prompts (the SMS shown each round) and responses (the
// cards held in hands).
package deck

// Rand is the randomness source used for draws and shuffles. It is
// satisfied by *rand.Rand from math/rand/v2 and by deterministic test
// doubles.
type Rand interface {
	IntN(n int) int
}

// Deck is a card catalogue. The zero value is an empty catalogue.
type Deck struct {
	Prompts   []string `json:"prompts"`
	Responses []string `json:"responses"`
}

// Clone returns a deep copy, so a remaining-pool can be mutated without
// touching the catalogue it was derived from.
func (d Deck) Clone() Deck {
	return Deck{
		Prompts:   append([]string(nil), d.Prompts...),
		Responses: append([]string(nil), d.Responses...),
	}
}

// Append extends the catalogue with extra cards. Existing entries are
// never removed or reordered.
func (d Deck) Append(extra Deck) Deck {
	return Deck{
		Prompts:   append(append([]string(nil), d.Prompts...), extra.Prompts...),
		Responses: append(append([]string(nil), d.Responses...), extra.Responses...),
	}
}

// Draw removes up to count cards chosen uniformly at random without
// replacement from pool and returns them along with the remaining pool.
// If the pool holds fewer than count cards, every remaining card is
// drawn. The input slice is not modified.
func Draw(pool []string, count int, rng Rand) (drawn, remaining []string) {
	remaining = append([]string(nil), pool...)

	for i := 0; i < count && len(remaining) > 0; i++ {
		j := rng.IntN(len(remaining))
		drawn = append(drawn, remaining[j])
		remaining = append(remaining[:j], remaining[j+1:]...)
	}

	return drawn, remaining
}

// RefillIfEmpty resets an exhausted pool back to the full catalogue.
// Previously drawn cards become drawable again, so repeats across the
// lifetime of a game are possible once the catalogue cycles.
func RefillIfEmpty(remaining, full []string) []string {
	if len(remaining) > 0 {
		return remaining
	}

	return append([]string(nil), full...)
}

// Shuffle returns a uniformly permuted copy of cards (Fisher-Yates).
func Shuffle[T any](cards []T, rng Rand) []T {
	out := append([]T(nil), cards...)

	for i := len(out) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		out[i], out[j] = out[j], out[i]
	}

	return out
}
