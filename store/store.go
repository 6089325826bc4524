/*
Copyright © 2026 Pibaps
*/

// Package store is the realtime key-value layer that game clients
// synchronize through. Documents form a JSON tree addressed by
// slash-separated paths; subscribers receive a full snapshot of their
// subtree immediately and again after every change, in write order.
//
// Two implementations are provided: Memory, the in-process tree used
// by the relay and by tests, and Remote, a client for the relay's
// WebSocket endpoint. Game logic depends only on Adapter and never
// sees which one it is talking to.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Snapshot is the state of one subtree at a point in time. Rev is the
// revision of the enclosing document and increases with every write
// that touches it.
type Snapshot struct {
	Exists bool
	Rev    int64
	Data   json.RawMessage
}

// Decode unmarshals the snapshot into v. It fails on a missing
// subtree.
func (s Snapshot) Decode(v any) error {
	if !s.Exists {
		return ErrNotFound
	}

	return json.Unmarshal(s.Data, v)
}

// ErrNotFound is returned when a read or decode targets a path with no
// value.
var ErrNotFound = errors.New("store: path not found")

// ErrConflict is returned when a transaction cannot commit after
// repeated revision conflicts.
var ErrConflict = errors.New("store: too many conflicting writers")

// Adapter is the store contract consumed by game clients.
//
// Write replaces the subtree at path; a nil value deletes it. Merge
// updates only the named fields under path, leaving siblings
// untouched; field keys may themselves be slash-separated sub-paths,
// and a nil field value deletes that field. A single Write or Merge
// call is atomic at its subtree.
//
// Transact implements optimistic single-writer arbitration: update is
// called with the current snapshot and returns the replacement value,
// or commit=false to abort. The replacement is applied only if the
// document revision is unchanged; on a conflict the update is retried
// against the fresh snapshot.
type Adapter interface {
	Read(ctx context.Context, path string) (Snapshot, error)
	Subscribe(ctx context.Context, path string) (<-chan Snapshot, error)
	Write(ctx context.Context, path string, value any) error
	Merge(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	Transact(ctx context.Context, path string, update func(Snapshot) (any, bool)) error
}

// RoomPath returns the document path for a room code.
func RoomPath(code string) string {
	return "rooms/" + code
}

// PlayerPath returns the path of one player's subtree within a room.
func PlayerPath(code, playerID string) string {
	return "rooms/" + code + "/players/" + playerID
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}

	return strings.Split(path, "/")
}

// docRoot identifies the document a path belongs to for revision
// tracking: the first two segments ("rooms/ABC123"), or the whole
// path when it is shorter.
func docRoot(segs []string) string {
	if len(segs) >= 2 {
		return segs[0] + "/" + segs[1]
	}

	return strings.Join(segs, "/")
}

// overlaps reports whether two paths address overlapping subtrees,
// i.e. one is an ancestor of (or equal to) the other.
func overlaps(a, b []string) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
