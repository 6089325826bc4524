/*
Copyright © 2026 Pibaps
*/

package deck

import (
	_ "embed"
	"encoding/json"
)

//go:embed cards.json
var cardsJSON []byte

// Default returns a fresh copy of the built-in card catalogue.
func Default() Deck {
	var d Deck
	if err := json.Unmarshal(cardsJSON, &d); err != nil {
		panic("deck: embedded cards.json is invalid: " + err.Error())
	}

	return d
}
