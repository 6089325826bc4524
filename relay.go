// Wrong SMS sync relay
//
// Each room is one shared JSON document that every connected player
// mutates directly; the relay holds the document tree and broadcasts
// snapshots, but runs no game logic at all. Correctness lives in the
// clients (the game package): all the relay guarantees is ordered
// snapshot delivery per room and a revision compare-and-set for the
// operations that need single-writer arbitration.
//
// Features:
// - WebSocket sync endpoint: /sync/ws
// - Store operations: subscribe, read, write, merge, delete, cas
// - Operations are restricted to well-formed room subtrees
// - Rooms auto-reaped after a configurable idle timeout
// - In-browser QR button to share a room join link, backed by go-qrcode

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/Pibaps/wrong-sms/room"
	"github.com/Pibaps/wrong-sms/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type syncClient struct {
	conn *websocket.Conn
	send chan store.Reply
}

func (c *syncClient) writePump(ctx context.Context) {
	defer c.conn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func (c *syncClient) reply(ctx context.Context, msg store.Reply) {
	select {
	case c.send <- msg:
	case <-ctx.Done():
	}
}

// validRoomPath reports whether a requested path addresses a room
// document or something inside one. The relay stores nothing else.
func validRoomPath(path string) bool {
	segs := strings.SplitN(strings.Trim(path, "/"), "/", 3)
	if len(segs) < 2 || segs[0] != "rooms" {
		return false
	}

	code, ok := room.NormalizeCode(segs[1])

	return ok && code == segs[1]
}

// readPump applies incoming store operations for one connection.
func (c *syncClient) readPump(ctx context.Context, cfg *Config, mem *store.Memory) {
	for {
		var req store.Request
		if err := c.conn.ReadJSON(&req); err != nil {
			return
		}

		if !validRoomPath(req.Path) {
			c.reply(ctx, store.Reply{ID: req.ID, Error: "path outside rooms"})
			continue
		}

		switch req.Op {
		case store.OpSubscribe:
			ch, err := mem.Subscribe(ctx, req.Path)
			if err != nil {
				c.reply(ctx, store.Reply{ID: req.ID, Error: err.Error()})
				continue
			}

			go func(path string) {
				for snap := range ch {
					c.reply(ctx, store.Reply{
						Event:  store.EventSnapshot,
						Path:   path,
						Exists: snap.Exists,
						Rev:    snap.Rev,
						Data:   snap.Data,
					})
				}
			}(req.Path)

			c.reply(ctx, store.Reply{ID: req.ID, OK: true})

		case store.OpRead:
			snap, err := mem.Read(ctx, req.Path)
			if err != nil {
				c.reply(ctx, store.Reply{ID: req.ID, Error: err.Error()})
				continue
			}
			c.reply(ctx, store.Reply{ID: req.ID, OK: true, Exists: snap.Exists, Rev: snap.Rev, Data: snap.Data})

		case store.OpWrite:
			value, err := decodeValue(req.Value)
			if err != nil {
				c.reply(ctx, store.Reply{ID: req.ID, Error: err.Error()})
				continue
			}
			if err := mem.Write(ctx, req.Path, value); err != nil {
				c.reply(ctx, store.Reply{ID: req.ID, Error: err.Error()})
				continue
			}
			c.reply(ctx, store.Reply{ID: req.ID, OK: true})

		case store.OpMerge:
			fields := make(map[string]any, len(req.Fields))
			ok := true
			for key, raw := range req.Fields {
				value, err := decodeValue(raw)
				if err != nil {
					c.reply(ctx, store.Reply{ID: req.ID, Error: err.Error()})
					ok = false
					break
				}
				fields[key] = value
			}
			if !ok {
				continue
			}
			if err := mem.Merge(ctx, req.Path, fields); err != nil {
				c.reply(ctx, store.Reply{ID: req.ID, Error: err.Error()})
				continue
			}
			c.reply(ctx, store.Reply{ID: req.ID, OK: true})

		case store.OpDelete:
			if err := mem.Delete(ctx, req.Path); err != nil {
				c.reply(ctx, store.Reply{ID: req.ID, Error: err.Error()})
				continue
			}
			c.reply(ctx, store.Reply{ID: req.ID, OK: true})

		case store.OpCAS:
			value, err := decodeValue(req.Value)
			if err != nil {
				c.reply(ctx, store.Reply{ID: req.ID, Error: err.Error()})
				continue
			}
			applied, err := mem.CompareAndSet(ctx, req.Path, req.Rev, value)
			if err != nil {
				c.reply(ctx, store.Reply{ID: req.ID, Error: err.Error()})
				continue
			}
			c.reply(ctx, store.Reply{ID: req.ID, OK: true, Conflict: !applied})

		default:
			c.reply(ctx, store.Reply{ID: req.ID, Error: "unknown op"})

			logf(cfg, "ROOMS: Ignoring unknown op %q for %q", req.Op, req.Path)
		}
	}
}

func decodeValue(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}

	return value, nil
}

// serveSync upgrades a connection to the store protocol.
func serveSync(cfg *Config, mem *store.Memory) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "ROOMS: Upgrade error from %s: %v", realIP(r), err)
			return
		}

		logf(cfg, "ROOMS: Client %s connected", realIP(r))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		client := &syncClient{
			conn: conn,
			send: make(chan store.Reply, 64),
		}

		go client.writePump(ctx)
		client.readPump(ctx, cfg, mem)
	}
}

// reaperLoop periodically deletes room documents that have seen no
// writes for longer than idleTimeout. Rooms normally disappear when
// the last player leaves; this catches abandoned ones.
func reaperLoop(cfg *Config, mem *store.Memory, idleTimeout time.Duration) {
	ticker := time.NewTicker(idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-idleTimeout)

		for root, last := range mem.Roots("rooms/") {
			if last.Before(cutoff) {
				logf(cfg, "ROOMS: Reaping idle room %s", root)
				_ = mem.Delete(context.Background(), root)
			}
		}
	}
}

// qrHandler generates a PNG QR code pointing at the join URL for a
// room, so a phone can scan into the game.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code, ok := room.NormalizeCode(ps.ByName("code"))
	if !ok {
		http.Error(w, "invalid room code", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	path := strings.TrimSuffix(r.URL.Path, "/qr")
	url := scheme + "://" + r.Host + strings.TrimSuffix(path, ps.ByName("code")) + code

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// registerSyncRelay sets up routes so that:
//   - /sync/ws         → WebSocket store endpoint shared by all rooms
//   - $path/:code/qr   → PNG QR code for that room's join URL
func registerSyncRelay(cfg *Config, path string, mux *httprouter.Router) {
	mem := store.NewMemory()

	if cfg.sessionTimeout > 0 {
		go reaperLoop(cfg, mem, cfg.sessionTimeout)
	}

	mux.GET(cfg.prefix+"/sync/ws", serveSync(cfg, mem))

	mux.GET(cfg.prefix+path+"/:code/qr", qrHandler)
}
