/*
Copyright © 2026 Pibaps
*/

package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Memory is the in-process store implementation. It backs the relay
// binary and stands in for the hosted store in tests.
type Memory struct {
	mu   sync.Mutex
	tree map[string]any
	revs map[string]int64
	subs map[*subscriber]struct{}

	lastWrite map[string]time.Time
}

type subscriber struct {
	path []string
	ch   chan Snapshot
	sig  chan struct{}
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		tree:      make(map[string]any),
		revs:      make(map[string]int64),
		subs:      make(map[*subscriber]struct{}),
		lastWrite: make(map[string]time.Time),
	}
}

// normalize round-trips a value through JSON so the tree only ever
// holds maps, slices, and JSON scalars regardless of the Go type
// written.
func normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}

	return out, nil
}

func (m *Memory) get(segs []string) (any, bool) {
	var cur any = m.tree

	for _, seg := range segs {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[seg]
		if !ok {
			return nil, false
		}
	}

	return cur, true
}

// set writes value at segs, creating intermediate maps. A nil value
// removes the entry and prunes empty parents.
func (m *Memory) set(segs []string, value any) {
	if len(segs) == 0 {
		return
	}

	if value == nil {
		m.remove(segs)
		return
	}

	node := m.tree
	for _, seg := range segs[:len(segs)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[seg] = child
		}
		node = child
	}

	node[segs[len(segs)-1]] = value
}

func (m *Memory) remove(segs []string) {
	var parents []map[string]any

	node := m.tree
	for _, seg := range segs[:len(segs)-1] {
		parents = append(parents, node)
		child, ok := node[seg].(map[string]any)
		if !ok {
			return
		}
		node = child
	}

	delete(node, segs[len(segs)-1])

	// Prune now-empty intermediate maps so a deleted document does
	// not linger as an empty shell.
	for i := len(parents) - 1; i >= 0; i-- {
		if len(node) == 0 {
			delete(parents[i], segs[i])
		}
		node = parents[i]
	}
}

func (m *Memory) snapshotLocked(segs []string) (Snapshot, error) {
	rev := m.revs[docRoot(segs)]

	value, ok := m.get(segs)
	if !ok {
		return Snapshot{Exists: false, Rev: rev}, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{Exists: true, Rev: rev, Data: raw}, nil
}

// touched bumps the document revision and wakes overlapping
// subscribers. Callers hold m.mu.
func (m *Memory) touched(segs []string) {
	root := docRoot(segs)
	m.revs[root]++
	m.lastWrite[root] = time.Now()

	for sub := range m.subs {
		if !overlaps(sub.path, segs) {
			continue
		}
		select {
		case sub.sig <- struct{}{}:
		default:
		}
	}
}

// Read implements Adapter.
func (m *Memory) Read(_ context.Context, path string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.snapshotLocked(splitPath(path))
}

// Write implements Adapter.
func (m *Memory) Write(_ context.Context, path string, value any) error {
	norm, err := normalize(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	segs := splitPath(path)
	m.set(segs, norm)
	m.touched(segs)

	return nil
}

// Merge implements Adapter. All named fields are applied under one
// lock acquisition, so the update is atomic at this subtree.
func (m *Memory) Merge(_ context.Context, path string, fields map[string]any) error {
	norm := make(map[string]any, len(fields))
	for key, value := range fields {
		v, err := normalize(value)
		if err != nil {
			return err
		}
		norm[key] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	segs := splitPath(path)
	for key, value := range norm {
		m.set(append(append([]string(nil), segs...), splitPath(key)...), value)
	}
	m.touched(segs)

	return nil
}

// Delete implements Adapter.
func (m *Memory) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	segs := splitPath(path)
	m.remove(segs)
	m.touched(segs)

	return nil
}

// CompareAndSet writes value at path only if the document revision
// still equals rev. It reports whether the write was applied. This is
// the primitive Transact is built on, and the relay exposes it to
// Remote clients.
func (m *Memory) CompareAndSet(_ context.Context, path string, rev int64, value any) (bool, error) {
	norm, err := normalize(value)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	segs := splitPath(path)
	if m.revs[docRoot(segs)] != rev {
		return false, nil
	}

	m.set(segs, norm)
	m.touched(segs)

	return true, nil
}

const casRetries = 16

// Transact implements Adapter via an optimistic read-update-CAS loop.
func (m *Memory) Transact(ctx context.Context, path string, update func(Snapshot) (any, bool)) error {
	for i := 0; i < casRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		snap, err := m.Read(ctx, path)
		if err != nil {
			return err
		}

		value, commit := update(snap)
		if !commit {
			return nil
		}

		ok, err := m.CompareAndSet(ctx, path, snap.Rev, value)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}

	return ErrConflict
}

// Subscribe implements Adapter. The channel receives the current
// snapshot immediately, then a fresh snapshot after every overlapping
// write until ctx is cancelled. Deliveries are coalesced but never
// skipped: each change is covered by a snapshot at least as new.
func (m *Memory) Subscribe(ctx context.Context, path string) (<-chan Snapshot, error) {
	sub := &subscriber{
		path: splitPath(path),
		ch:   make(chan Snapshot, 1),
		sig:  make(chan struct{}, 1),
	}
	sub.sig <- struct{}{}

	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	go m.pump(ctx, sub)

	return sub.ch, nil
}

func (m *Memory) pump(ctx context.Context, sub *subscriber) {
	defer func() {
		m.mu.Lock()
		delete(m.subs, sub)
		m.mu.Unlock()
		close(sub.ch)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.sig:
		}

		m.mu.Lock()
		snap, err := m.snapshotLocked(sub.path)
		m.mu.Unlock()
		if err != nil {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case sub.ch <- snap:
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (m *Memory) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.subs)
}

// Roots lists the document roots currently present under prefix,
// along with their last write time. The relay's reaper uses this to
// find idle rooms.
func (m *Memory) Roots(prefix string) map[string]time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]time.Time)
	for root, t := range m.lastWrite {
		if _, ok := m.get(splitPath(root)); !ok {
			continue
		}
		if prefix == "" || (len(root) > len(prefix) && root[:len(prefix)] == prefix) {
			out[root] = t
		}
	}

	return out
}
