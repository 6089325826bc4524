/*
Copyright © 2026 Pibaps
*/

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Remote is an Adapter backed by a WebSocket connection to the relay.
// A single connection multiplexes any number of concurrent requests
// and subscriptions.
type Remote struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan Reply
	subs    map[string][]*remoteSub

	done    chan struct{}
	readErr error
}

type remoteSub struct {
	ch     chan Snapshot
	ctx    context.Context
	closed bool
}

// Dial connects to a relay sync endpoint, e.g.
// ws://host:8080/sync/ws.
func Dial(ctx context.Context, url string) (*Remote, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("store: dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	r := &Remote{
		conn:    conn,
		pending: make(map[int64]chan Reply),
		subs:    make(map[string][]*remoteSub),
		done:    make(chan struct{}),
	}

	go r.readLoop()

	return r, nil
}

// Close tears down the connection. Pending requests fail and all
// subscription channels are closed.
func (r *Remote) Close() error {
	return r.conn.Close()
}

func (r *Remote) readLoop() {
	for {
		var reply Reply
		if err := r.conn.ReadJSON(&reply); err != nil {
			r.mu.Lock()
			r.readErr = err
			for _, ch := range r.pending {
				close(ch)
			}
			r.pending = make(map[int64]chan Reply)
			for _, subs := range r.subs {
				for _, sub := range subs {
					if !sub.closed {
						sub.closed = true
						close(sub.ch)
					}
				}
			}
			r.mu.Unlock()
			close(r.done)

			return
		}

		if reply.Event == EventSnapshot {
			r.dispatch(reply)
			continue
		}

		r.mu.Lock()
		ch, ok := r.pending[reply.ID]
		if ok {
			delete(r.pending, reply.ID)
		}
		r.mu.Unlock()

		if ok {
			ch <- reply
		}
	}
}

func (r *Remote) dispatch(reply Reply) {
	r.mu.Lock()
	subs := r.subs[reply.Path]
	kept := subs[:0]
	for _, sub := range subs {
		if sub.ctx.Err() != nil {
			sub.closed = true
			close(sub.ch)
			continue
		}
		kept = append(kept, sub)
	}
	r.subs[reply.Path] = kept
	r.mu.Unlock()

	for _, sub := range kept {
		select {
		case sub.ch <- reply.snapshot():
		case <-sub.ctx.Done():
		}
	}
}

func (r *Remote) request(ctx context.Context, req Request) (Reply, error) {
	r.mu.Lock()
	if r.readErr != nil {
		err := r.readErr
		r.mu.Unlock()

		return Reply{}, fmt.Errorf("store: connection lost: %w", err)
	}
	r.nextID++
	req.ID = r.nextID
	ch := make(chan Reply, 1)
	r.pending[req.ID] = ch
	r.mu.Unlock()

	r.writeMu.Lock()
	err := r.conn.WriteJSON(req)
	r.writeMu.Unlock()
	if err != nil {
		r.mu.Lock()
		delete(r.pending, req.ID)
		r.mu.Unlock()

		return Reply{}, fmt.Errorf("store: send: %w", err)
	}

	select {
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.pending, req.ID)
		r.mu.Unlock()

		return Reply{}, ctx.Err()
	case reply, ok := <-ch:
		if !ok {
			return Reply{}, errors.New("store: connection closed")
		}
		if !reply.OK && reply.Error != "" {
			return reply, fmt.Errorf("store: %s", reply.Error)
		}

		return reply, nil
	}
}

// Read implements Adapter.
func (r *Remote) Read(ctx context.Context, path string) (Snapshot, error) {
	reply, err := r.request(ctx, Request{Op: OpRead, Path: path})
	if err != nil {
		return Snapshot{}, err
	}

	return reply.snapshot(), nil
}

// Write implements Adapter.
func (r *Remote) Write(ctx context.Context, path string, value any) error {
	raw, err := marshalValue(value)
	if err != nil {
		return err
	}

	_, err = r.request(ctx, Request{Op: OpWrite, Path: path, Value: raw})

	return err
}

// Merge implements Adapter.
func (r *Remote) Merge(ctx context.Context, path string, fields map[string]any) error {
	enc := make(map[string]json.RawMessage, len(fields))
	for key, value := range fields {
		raw, err := marshalValue(value)
		if err != nil {
			return err
		}
		enc[key] = raw
	}

	_, err := r.request(ctx, Request{Op: OpMerge, Path: path, Fields: enc})

	return err
}

// Delete implements Adapter.
func (r *Remote) Delete(ctx context.Context, path string) error {
	_, err := r.request(ctx, Request{Op: OpDelete, Path: path})

	return err
}

// Transact implements Adapter with a read/update/compare-and-set loop
// against the relay.
func (r *Remote) Transact(ctx context.Context, path string, update func(Snapshot) (any, bool)) error {
	for i := 0; i < casRetries; i++ {
		snap, err := r.Read(ctx, path)
		if err != nil {
			return err
		}

		value, commit := update(snap)
		if !commit {
			return nil
		}

		raw, err := marshalValue(value)
		if err != nil {
			return err
		}

		reply, err := r.request(ctx, Request{Op: OpCAS, Path: path, Rev: snap.Rev, Value: raw})
		if err != nil {
			return err
		}
		if !reply.Conflict {
			return nil
		}
	}

	return ErrConflict
}

// Subscribe implements Adapter. The relay answers with the current
// snapshot first, then pushes a fresh one after every change.
func (r *Remote) Subscribe(ctx context.Context, path string) (<-chan Snapshot, error) {
	sub := &remoteSub{
		ch:  make(chan Snapshot, 16),
		ctx: ctx,
	}

	r.mu.Lock()
	r.subs[path] = append(r.subs[path], sub)
	r.mu.Unlock()

	if _, err := r.request(ctx, Request{Op: OpSubscribe, Path: path}); err != nil {
		r.mu.Lock()
		subs := r.subs[path]
		for i, s := range subs {
			if s == sub {
				r.subs[path] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		r.mu.Unlock()

		return nil, err
	}

	return sub.ch, nil
}

// marshalValue keeps nil as a JSON null so deletes survive the wire.
func marshalValue(value any) (json.RawMessage, error) {
	if value == nil {
		return json.RawMessage("null"), nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("store: encode value: %w", err)
	}

	return raw, nil
}
