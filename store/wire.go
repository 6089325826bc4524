/*
Copyright © 2026 Pibaps
*/

package store

import "encoding/json"

// Wire frames exchanged between Remote clients and the relay. One
// request gets exactly one correlated reply; snapshot events arrive
// unsolicited for every subscribed path.

const (
	OpSubscribe = "subscribe"
	OpRead      = "read"
	OpWrite     = "write"
	OpMerge     = "merge"
	OpDelete    = "delete"
	OpCAS       = "cas"
)

// Request is a client-to-relay frame.
type Request struct {
	ID     int64                      `json:"id"`
	Op     string                     `json:"op"`
	Path   string                     `json:"path"`
	Value  json.RawMessage            `json:"value,omitempty"`
	Fields map[string]json.RawMessage `json:"fields,omitempty"`
	Rev    int64                      `json:"rev,omitempty"`
}

// EventSnapshot marks an unsolicited snapshot push.
const EventSnapshot = "snapshot"

// Reply is a relay-to-client frame: a correlated response when ID is
// set, a pushed event when Event is set.
type Reply struct {
	ID       int64           `json:"id,omitempty"`
	OK       bool            `json:"ok,omitempty"`
	Error    string          `json:"error,omitempty"`
	Conflict bool            `json:"conflict,omitempty"`
	Event    string          `json:"event,omitempty"`
	Path     string          `json:"path,omitempty"`
	Exists   bool            `json:"exists,omitempty"`
	Rev      int64           `json:"rev,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

func (r Reply) snapshot() Snapshot {
	return Snapshot{Exists: r.Exists, Rev: r.Rev, Data: r.Data}
}
