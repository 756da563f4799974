package peers

import (
    "testing"

    "meshchat/pkg/transport"
)

type purgeLog struct{ calls []transport.PeerID }

func (p *purgeLog) InvalidateVia(id transport.PeerID) int { p.calls = append(p.calls, id); return 1 }

func TestConnectDisconnect(t *testing.T) {
    pl := &purgeLog{}
    s := NewStore(pl)

    if !s.Connected("bob") { t.Fatalf("first connect not reported") }
    if s.Connected("bob") { t.Fatalf("duplicate connect reported") }
    s.Connected("carol")
    if got := s.ConnectedIDs(); len(got) != 2 || got[0] != "bob" || got[1] != "carol" {
        t.Fatalf("connected = %v", got)
    }
    if p, ok := s.FindDirectPeer("carol"); !ok || p.State != transport.StateConnected {
        t.Fatalf("find carol = %+v %v", p, ok)
    }

    if !s.Disconnected("bob") { t.Fatalf("disconnect not reported") }
    if s.Disconnected("bob") { t.Fatalf("second disconnect reported") }
    if len(pl.calls) != 1 || pl.calls[0] != "bob" { t.Fatalf("routes purged via %v", pl.calls) }
    if _, ok := s.FindDirectPeer("bob"); ok { t.Fatalf("bob still direct") }
}

func TestBrowsedPeerLifecycle(t *testing.T) {
    s := NewStore(nil)
    s.Found(transport.PeerInfo{ID: "dave", Kind: transport.KindQUICDirect, Addr: "10.0.0.4:7946"})
    s.Connecting("dave")
    if p, _ := s.Lookup("dave"); p.State != transport.StateConnecting { t.Fatalf("state = %v", p.State) }
    s.Connected("dave")
    if p, _ := s.FindDirectPeer("dave"); p.Addr != "10.0.0.4:7946" { t.Fatalf("addr not carried: %+v", p) }

    // losing the advert does not drop the link
    s.Lost("dave")
    if _, ok := s.FindDirectPeer("dave"); !ok { t.Fatalf("lost advert dropped the connection") }
    if len(s.Known()) != 0 { t.Fatalf("known = %v", s.Known()) }

    s.Clear()
    if s.Len() != 0 { t.Fatalf("clear left %d peers", s.Len()) }
}
