package discovery

import (
    "testing"

    "meshchat/pkg/protocol"
    "meshchat/pkg/router"
    "meshchat/pkg/transport"
)

type sent struct {
    to       transport.PeerID
    reliable bool
    typ      uint8
    msg      protocol.RouteDiscoveryMessage
}

type fakeNet struct {
    t     *testing.T
    wire  *protocol.Wire
    peers []transport.PeerID
    out   []sent
}

func (f *fakeNet) ConnectedIDs() []transport.PeerID { return f.peers }

func (f *fakeNet) record(to transport.PeerID, b []byte, reliable bool) error {
    h, payload, err := f.wire.Decode(b)
    if err != nil { f.t.Fatalf("decode: %v", err) }
    var m protocol.RouteDiscoveryMessage
    if err := f.wire.Unmarshal(h, payload, &m); err != nil { f.t.Fatalf("unmarshal: %v", err) }
    f.out = append(f.out, sent{to: to, reliable: reliable, typ: h.Type, msg: m})
    return nil
}

func (f *fakeNet) SendReliable(to transport.PeerID, b []byte) error   { return f.record(to, b, true) }
func (f *fakeNet) SendUnreliable(to transport.PeerID, b []byte) error { return f.record(to, b, false) }

func newProto(t *testing.T, local transport.PeerID, peers []transport.PeerID, reply bool) (*Protocol, *fakeNet, *router.Table) {
    wire := protocol.MustWire(protocol.FormatCBOR)
    fn := &fakeNet{t: t, wire: wire, peers: peers}
    tb := router.NewTable()
    return New(local, tb, fn, fn, wire, nil, Options{RouteReply: reply}), fn, tb
}

func TestDiscoverBroadcastsHopZero(t *testing.T) {
    p, fn, _ := newProto(t, "alice", []transport.PeerID{"bob", "dave"}, false)
    if n := p.Discover("carol"); n != 2 { t.Fatalf("sent to %d peers", n) }
    for _, s := range fn.out {
        if s.reliable || s.typ != protocol.FrameDiscovery { t.Fatalf("unexpected send %+v", s) }
        if s.msg.Hops != 0 || s.msg.OriginID != "alice" || s.msg.DestinationID != "carol" { t.Fatalf("msg = %+v", s.msg) }
    }
}

func TestForwardSkipsSenderAndIncrementsHops(t *testing.T) {
    p, fn, tb := newProto(t, "bob", []transport.PeerID{"alice", "carol", "dave"}, false)
    out := p.HandleDiscovery("alice", protocol.RouteDiscoveryMessage{DestinationID: "carol", OriginID: "alice", Hops: 0})
    if out != Forwarded { t.Fatalf("outcome = %v", out) }
    if len(fn.out) != 2 { t.Fatalf("forwarded to %d peers", len(fn.out)) }
    for _, s := range fn.out {
        if s.to == "alice" { t.Fatalf("query bounced back to sender") }
        if s.msg.Hops != 1 { t.Fatalf("hops = %d", s.msg.Hops) }
    }
    if tb.Len() != 0 { t.Fatalf("one-way discovery must not teach forwarders routes: %v", tb.Snapshot()) }
}

func TestDestinationLearnsReverseRoute(t *testing.T) {
    p, fn, tb := newProto(t, "carol", []transport.PeerID{"bob"}, false)
    out := p.HandleDiscovery("bob", protocol.RouteDiscoveryMessage{DestinationID: "carol", OriginID: "alice", Hops: 1})
    if out != Found { t.Fatalf("outcome = %v", out) }
    r, ok := tb.Lookup("alice")
    if !ok || r.NextHop != "bob" || r.HopCount != 2 { t.Fatalf("route = %+v %v", r, ok) }
    if len(fn.out) != 0 { t.Fatalf("destination sent %d frames without route reply", len(fn.out)) }
}

func TestHopLimitStopsFlood(t *testing.T) {
    p, fn, _ := newProto(t, "bob", []transport.PeerID{"alice", "carol"}, false)
    if out := p.HandleDiscovery("alice", protocol.RouteDiscoveryMessage{DestinationID: "zed", OriginID: "alice", Hops: 5}); out != Dropped {
        t.Fatalf("outcome = %v", out)
    }
    if len(fn.out) != 0 { t.Fatalf("hops=5 query forwarded") }
    if out := p.HandleDiscovery("alice", protocol.RouteDiscoveryMessage{DestinationID: "zed", OriginID: "alice", Hops: 4}); out != Forwarded {
        t.Fatalf("hops=4 outcome = %v", out)
    }
    if fn.out[0].msg.Hops != 5 { t.Fatalf("forwarded hops = %d", fn.out[0].msg.Hops) }
}

func TestRouteReplyClosesTheLoop(t *testing.T) {
    // alice - bob - carol, alice looks for carol
    bob, bobNet, bobTable := newProto(t, "bob", []transport.PeerID{"alice", "carol"}, true)
    carol, carolNet, carolTable := newProto(t, "carol", []transport.PeerID{"bob"}, true)
    alice, _, aliceTable := newProto(t, "alice", []transport.PeerID{"bob"}, true)

    bob.HandleDiscovery("alice", protocol.RouteDiscoveryMessage{DestinationID: "carol", OriginID: "alice", Hops: 0})
    if r, ok := bobTable.Lookup("alice"); !ok || r.HopCount != 1 { t.Fatalf("bob reverse route = %+v", r) }

    carol.HandleDiscovery("bob", bobNet.out[0].msg)
    if r, _ := carolTable.Lookup("alice"); r.HopCount != 2 { t.Fatalf("carol route = %+v", r) }
    if len(carolNet.out) != 1 || !carolNet.out[0].reliable || carolNet.out[0].typ != protocol.FrameRouteReply {
        t.Fatalf("carol reply = %+v", carolNet.out)
    }

    bobNet.out = nil
    if out := bob.HandleRouteReply("carol", carolNet.out[0].msg); out != Forwarded { t.Fatalf("bob relay outcome = %v", out) }
    if bobNet.out[0].to != "alice" { t.Fatalf("reply relayed to %s", bobNet.out[0].to) }

    if out := alice.HandleRouteReply("bob", bobNet.out[0].msg); out != Found { t.Fatalf("alice outcome = %v", out) }
    r, ok := aliceTable.Lookup("carol")
    if !ok || r.NextHop != "bob" || r.HopCount != 2 { t.Fatalf("alice forward route = %+v %v", r, ok) }
}
