// Package peers tracks the directly connected peer set and the peers seen by
// browsing. A Store is owned by the mesh service and is not safe for
// concurrent use.
package peers

import (
    "sort"
    "time"

    "github.com/hashicorp/golang-lru/v2/expirable"
    "go.uber.org/zap"

    "meshchat/pkg/transport"
)

// Peer is a device known to the local node.
type Peer struct {
    ID    transport.PeerID `json:"id"`
    State transport.State  `json:"state"`
    Kind  transport.Kind   `json:"kind,omitempty"`
    Addr  string           `json:"addr,omitempty"`
    // Since is when State last changed.
    Since time.Time `json:"since"`
}

// RouteInvalidator drops every route through a peer.
type RouteInvalidator interface {
    InvalidateVia(peer transport.PeerID) int
}

// Store keeps connected peers in connection order. Browsed peers are kept
// in a bounded cache so that a missed goodbye does not pin them forever.
type Store struct {
    connected []Peer
    known     *expirable.LRU[transport.PeerID, Peer]
    routes    RouteInvalidator
    now       func() time.Time
}

const (
    knownSize = 1024
    knownTTL  = 10 * time.Minute
)

func NewStore(routes RouteInvalidator) *Store {
    return &Store{
        known:  expirable.NewLRU[transport.PeerID, Peer](knownSize, nil, knownTTL),
        routes: routes,
        now:    time.Now,
    }
}

// Found records a peer reported by browsing.
func (s *Store) Found(pi transport.PeerInfo) {
    p, ok := s.known.Peek(pi.ID)
    if !ok {
        p = Peer{ID: pi.ID, State: transport.StateNotConnected, Since: s.now()}
        if _, direct := s.FindDirectPeer(pi.ID); direct { p.State = transport.StateConnected }
    }
    p.Kind, p.Addr = pi.Kind, pi.Addr
    s.known.Add(pi.ID, p)
}

// Lost forgets a browsed peer. A live connection is unaffected.
func (s *Store) Lost(id transport.PeerID) { s.known.Remove(id) }

// Known returns browsed peers sorted by id.
func (s *Store) Known() []Peer {
    out := s.known.Values()
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out
}

// Lookup returns the browsed record of id.
func (s *Store) Lookup(id transport.PeerID) (Peer, bool) { return s.known.Peek(id) }

// Connecting marks a dial in progress.
func (s *Store) Connecting(id transport.PeerID) {
    if _, ok := s.FindDirectPeer(id); ok { return }
    s.setKnownState(id, transport.StateConnecting)
}

// Connected appends id to the connected set. It reports false when the
// peer was already connected.
func (s *Store) Connected(id transport.PeerID) bool {
    if _, ok := s.FindDirectPeer(id); ok { return false }
    p := Peer{ID: id, State: transport.StateConnected, Since: s.now()}
    if k, ok := s.known.Peek(id); ok { p.Kind, p.Addr = k.Kind, k.Addr }
    s.connected = append(s.connected, p)
    s.setKnownState(id, transport.StateConnected)
    zap.L().Info("peer connected", zap.String("peer", string(id)), zap.Int("connected", len(s.connected)))
    return true
}

// Disconnected removes id from the connected set and purges every route
// whose next hop is id. It reports false when id was not connected.
func (s *Store) Disconnected(id transport.PeerID) bool {
    idx := s.index(id)
    if idx < 0 {
        s.setKnownState(id, transport.StateNotConnected)
        return false
    }
    s.connected = append(s.connected[:idx], s.connected[idx+1:]...)
    s.setKnownState(id, transport.StateNotConnected)
    purged := 0
    if s.routes != nil { purged = s.routes.InvalidateVia(id) }
    zap.L().Info("peer disconnected", zap.String("peer", string(id)), zap.Int("routes_purged", purged), zap.Int("connected", len(s.connected)))
    return true
}

// FindDirectPeer is a linear scan; the connected set is small.
func (s *Store) FindDirectPeer(id transport.PeerID) (Peer, bool) {
    if i := s.index(id); i >= 0 { return s.connected[i], true }
    return Peer{}, false
}

// ConnectedIDs returns the connected peers in connection order.
func (s *Store) ConnectedIDs() []transport.PeerID {
    out := make([]transport.PeerID, len(s.connected))
    for i, p := range s.connected { out[i] = p.ID }
    return out
}

func (s *Store) Len() int { return len(s.connected) }

// Clear drops all peer state without touching routes.
func (s *Store) Clear() {
    s.connected = nil
    s.known.Purge()
}

func (s *Store) index(id transport.PeerID) int {
    for i, p := range s.connected {
        if p.ID == id { return i }
    }
    return -1
}

func (s *Store) setKnownState(id transport.PeerID, st transport.State) {
    p, ok := s.known.Peek(id)
    if !ok { return }
    if p.State != st { p.State, p.Since = st, s.now() }
    s.known.Add(id, p)
}
