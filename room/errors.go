/*
Copyright © 2026 Pibaps
*/

package room

import "errors"

var (
	// ErrRoomNotFound is returned when a room code does not resolve
	// to an existing session document.
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoomFull is returned when a join would exceed MaxPlayers.
	ErrRoomFull = errors.New("room is full")

	// ErrInvalidCode is returned for malformed room codes.
	ErrInvalidCode = errors.New("invalid room code")

	// ErrInvalidIndex is returned when a card or reveal index is out
	// of range.
	ErrInvalidIndex = errors.New("index out of range")

	// ErrUnauthorized is returned when an action requires a role
	// (host or judge) the caller does not hold.
	ErrUnauthorized = errors.New("action not permitted for this player")

	// ErrNotEnoughPlayers is returned when a game cannot start with
	// fewer than MinPlayers ready players.
	ErrNotEnoughPlayers = errors.New("not enough ready players")

	// ErrNotInRoom is returned when an action requires a joined room.
	ErrNotInRoom = errors.New("not currently in a room")
)
