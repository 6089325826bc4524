/*
Copyright © 2026 Pibaps
*/

package room

import (
	"crypto/rand"
	"strings"
)

const (
	codeLength  = 6
	codeLetters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// NewCode generates a random 6-character base-36 room code.
func NewCode() string {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}

	out := make([]byte, codeLength)
	for i := range out {
		out[i] = codeLetters[int(buf[i])%len(codeLetters)]
	}

	return string(out)
}

// NormalizeCode canonicalizes a user-entered room code to uppercase and
// reports whether it is a well-formed 6-character base-36 code.
func NormalizeCode(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != codeLength {
		return "", false
	}

	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(codeLetters, rune(code[i])) {
			return "", false
		}
	}

	return code, true
}
