package transport

import (
    "sort"
    "sync"
)

// Manager keeps at most one canonical Session per peer and applies a
// policy to deduplicate concurrent inbound/outbound links.
type Manager struct {
    local PeerID

    mu    sync.RWMutex
    peers map[PeerID]*entry
}

type entry struct {
    s        Session
    outbound bool
}

func NewManager(local PeerID) *Manager { return &Manager{local: local, peers: make(map[PeerID]*entry)} }

// AddSession registers an authenticated session for its peer. If the session
// loses the election it is closed and (false, nil) is returned. If it replaced
// an existing canonical session, the old one is returned (already closed).
func (m *Manager) AddSession(s Session, outbound bool) (accepted bool, old Session) {
    pid := s.Peer().ID
    m.mu.Lock()
    cur := m.peers[pid]
    if cur == nil {
        m.peers[pid] = &entry{s: s, outbound: outbound}
        m.mu.Unlock()
        return true, nil
    }
    cand := &entry{s: s, outbound: outbound}
    if !m.better(pid, cand, cur) {
        m.mu.Unlock()
        _ = s.Close()
        return false, nil
    }
    m.peers[pid] = cand
    m.mu.Unlock()
    _ = cur.s.Close()
    return true, cur.s
}

// GetSession returns the current canonical session for a peer (if any).
func (m *Manager) GetSession(id PeerID) Session {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if e := m.peers[id]; e != nil { return e.s }
    return nil
}

// RemoveSession drops s if it is still the canonical session of its peer.
// It reports whether the peer lost its link as a result.
func (m *Manager) RemoveSession(s Session) bool {
    pid := s.Peer().ID
    m.mu.Lock()
    defer m.mu.Unlock()
    e := m.peers[pid]
    if e == nil || e.s != s { return false }
    delete(m.peers, pid)
    return true
}

// ClosePeer closes the canonical session for a peer and clears it.
func (m *Manager) ClosePeer(id PeerID) bool {
    m.mu.Lock()
    e := m.peers[id]
    delete(m.peers, id)
    m.mu.Unlock()
    if e == nil { return false }
    _ = e.s.Close()
    return true
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
    m.mu.Lock()
    all := m.peers
    m.peers = make(map[PeerID]*entry)
    m.mu.Unlock()
    for _, e := range all { _ = e.s.Close() }
}

// ListPeers returns all peer IDs with a canonical session, sorted.
func (m *Manager) ListPeers() []PeerID {
    m.mu.RLock(); defer m.mu.RUnlock()
    out := make([]PeerID, 0, len(m.peers))
    for id := range m.peers { out = append(out, id) }
    sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
    return out
}

// Preference order across kinds; higher is better.
func baseRank(k Kind) int {
    switch k {
    case KindMem:
        return 120
    case KindQUICDirect:
        return 100
    case KindTCPDirect:
        return 90
    default:
        return 0
    }
}

// better decides whether a should replace b as canonical for peer. Both ends
// of a crossing dial must reach the same answer, so after kind ranking the
// link dialed by the lexicographically smaller peer wins.
func (m *Manager) better(peer PeerID, a, b *entry) bool {
    ra := baseRank(a.s.TransportKind())
    rb := baseRank(b.s.TransportKind())
    if ra != rb { return ra > rb }

    dialer := func(e *entry) PeerID {
        if e.outbound { return m.local }
        return peer
    }
    da, db := dialer(a), dialer(b)
    if da != db {
        lo := m.local
        if peer < lo { lo = peer }
        return da == lo
    }
    // Same dialer: the newer link is a reconnect.
    return a.s.Quality().EstablishedAt.After(b.s.Quality().EstablishedAt)
}
