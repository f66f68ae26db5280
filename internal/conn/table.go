package conn

import "sync"

// Table is the connection-table component: a map from locally-chosen
// connection ID to the Connection that owns it. Grounded on the relay
// engine's session table (internal/relay/engine.go's sync.Map-backed
// Relay.sessions), generalized from forwarding state (*session) to QUIC
// endpoint state (*Connection). Reads dominate writes — lookups happen on
// every inbound datagram, inserts/removals only at connection setup/teardown
// — which is exactly what sync.Map is tuned for.
type Table struct {
	m sync.Map // string(ConnectionID) -> *Connection
}

// Insert adds c under its LocalCID.
func (t *Table) Insert(c *Connection) {
	t.InsertKey(c.LocalCID, c)
}

// InsertKey adds c under an explicit key, for registering a connection
// under a peer-chosen CID it doesn't itself own yet (e.g. a responder
// registering under the client's original destination CID while the
// handshake is still in flight) — mirroring the relay engine's
// server-SCID-snooping registration in handleBackendResponse.
func (t *Table) InsertKey(key []byte, c *Connection) {
	t.m.Store(string(key), c)
}

// Lookup returns the Connection owning cid, if any.
func (t *Table) Lookup(cid []byte) (*Connection, bool) {
	v, ok := t.m.Load(string(cid))
	if !ok {
		return nil, false
	}
	return v.(*Connection), true
}

// Remove drops the entry for cid.
func (t *Table) Remove(cid []byte) {
	t.m.Delete(string(cid))
}

// Range calls fn for every connection currently in the table; fn returning
// false stops iteration early, matching sync.Map.Range's own contract.
func (t *Table) Range(fn func(c *Connection) bool) {
	t.m.Range(func(_, v interface{}) bool {
		return fn(v.(*Connection))
	})
}

// Len reports the number of connections currently tracked; a connection
// registered under more than one key (see InsertKey) counts once. O(n);
// intended for the admin API's summary endpoint, not hot-path use.
func (t *Table) Len() int {
	seen := map[*Connection]struct{}{}
	t.m.Range(func(_, v interface{}) bool {
		seen[v.(*Connection)] = struct{}{}
		return true
	})
	return len(seen)
}
