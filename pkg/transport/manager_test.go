package transport

import (
    "context"
    "errors"
    "net"
    "testing"
    "time"
)

type stubSession struct {
    peer   PeerID
    kind   Kind
    at     time.Time
    closed bool
}

func (s *stubSession) Peer() PeerInfo                               { return PeerInfo{ID: s.peer, Kind: s.kind} }
func (s *stubSession) TransportKind() Kind                          { return s.kind }
func (s *stubSession) LocalAddr() net.Addr                          { return nil }
func (s *stubSession) RemoteAddr() net.Addr                         { return nil }
func (s *stubSession) OpenStream(context.Context, StreamClass) (Stream, error) { return nil, errors.New("no stream") }
func (s *stubSession) Quality() Quality                             { return Quality{EstablishedAt: s.at} }
func (s *stubSession) Close() error                                 { s.closed = true; return nil }

func TestCrossingDialsAgree(t *testing.T) {
    now := time.Now()
    // alice < bob, so the link alice dialed wins on both ends
    aliceOut := &stubSession{peer: "bob", kind: KindTCPDirect, at: now}
    aliceIn := &stubSession{peer: "bob", kind: KindTCPDirect, at: now.Add(time.Millisecond)}
    ma := NewManager("alice")
    if ok, _ := ma.AddSession(aliceIn, false); !ok { t.Fatalf("first session rejected") }
    ok, old := ma.AddSession(aliceOut, true)
    if !ok || old != aliceIn || !aliceIn.closed { t.Fatalf("alice kept the inbound link") }

    bobIn := &stubSession{peer: "alice", kind: KindTCPDirect, at: now}
    bobOut := &stubSession{peer: "alice", kind: KindTCPDirect, at: now.Add(time.Millisecond)}
    mb := NewManager("bob")
    mb.AddSession(bobIn, false)
    if ok, _ := mb.AddSession(bobOut, true); ok || !bobOut.closed { t.Fatalf("bob replaced alice's link") }
    if mb.GetSession("alice") != bobIn { t.Fatalf("canonical = %v", mb.GetSession("alice")) }
}

func TestKindRankAndReconnect(t *testing.T) {
    now := time.Now()
    m := NewManager("alice")
    tcp := &stubSession{peer: "bob", kind: KindTCPDirect, at: now}
    m.AddSession(tcp, true)
    q := &stubSession{peer: "bob", kind: KindQUICDirect, at: now}
    if ok, _ := m.AddSession(q, false); !ok { t.Fatalf("quic should outrank tcp") }

    again := &stubSession{peer: "bob", kind: KindQUICDirect, at: now.Add(time.Second)}
    if ok, old := m.AddSession(again, false); !ok || old != q { t.Fatalf("reconnect should replace the older link") }

    // the replaced session going away does not drop the peer
    if m.RemoveSession(q) { t.Fatalf("stale session removed the peer") }
    if !m.RemoveSession(again) || len(m.ListPeers()) != 0 { t.Fatalf("peer still listed: %v", m.ListPeers()) }
}

func TestClosePeerAndCloseAll(t *testing.T) {
    m := NewManager("alice")
    b := &stubSession{peer: "bob", kind: KindMem}
    c := &stubSession{peer: "carol", kind: KindMem}
    m.AddSession(b, true)
    m.AddSession(c, true)
    if got := m.ListPeers(); len(got) != 2 || got[0] != "bob" { t.Fatalf("peers = %v", got) }
    if !m.ClosePeer("bob") || !b.closed || m.ClosePeer("bob") { t.Fatalf("close peer") }
    m.CloseAll()
    if !c.closed || len(m.ListPeers()) != 0 { t.Fatalf("close all") }
}
