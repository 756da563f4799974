// Package discovery floods bounded route queries through the mesh.
//
// A query carries the wanted destination, the origin and the hops taken so
// far. The destination learns a reverse route to the origin through the
// neighbor the query arrived from; other peers pass the query on to every
// neighbor except that one until the hop limit is reached. Queries are not
// deduplicated: the routing table only accepts strictly shorter routes, so
// re-evaluating copies is harmless.
//
// With RouteReply enabled, forwarders also learn the reverse route and the
// destination answers with a reply that walks those routes back to the
// origin, so the origin learns a forward route as well.
package discovery

import (
    "go.uber.org/zap"

    "meshchat/pkg/observability"
    "meshchat/pkg/protocol"
    "meshchat/pkg/router"
    "meshchat/pkg/transport"
)

const DefaultHopLimit = 5

// Sender transmits encoded frames to one neighbor.
type Sender interface {
    SendReliable(transport.PeerID, []byte) error
    SendUnreliable(transport.PeerID, []byte) error
}

// Neighbors lists the directly connected peers.
type Neighbors interface {
    ConnectedIDs() []transport.PeerID
}

type Options struct {
    HopLimit   uint32
    RouteReply bool
}

// Outcome is what happened to an inbound query or reply.
type Outcome int

const (
    Dropped Outcome = iota
    Found
    Forwarded
)

func (o Outcome) String() string {
    switch o {
    case Found:
        return "found"
    case Forwarded:
        return "forwarded"
    default:
        return "dropped"
    }
}

type Protocol struct {
    local transport.PeerID
    opts  Options
    table *router.Table
    peers Neighbors
    out   Sender
    wire  *protocol.Wire
    rec   *observability.Recorder
}

func New(local transport.PeerID, table *router.Table, peers Neighbors, out Sender, wire *protocol.Wire, rec *observability.Recorder, opts Options) *Protocol {
    if opts.HopLimit == 0 { opts.HopLimit = DefaultHopLimit }
    return &Protocol{local: local, opts: opts, table: table, peers: peers, out: out, wire: wire, rec: rec}
}

// Discover broadcasts a query for dest to every connected peer and returns
// how many peers it was handed to. There is no completion signal; a route
// shows up in the table if and when it is learned.
func (p *Protocol) Discover(dest transport.PeerID) int {
    m := protocol.RouteDiscoveryMessage{DestinationID: string(dest), OriginID: string(p.local), Hops: 0}
    n := p.broadcast(m, "")
    p.rec.Discovery("originated")
    zap.L().Debug("discovery originated", zap.String("dest", string(dest)), zap.Int("peers", n))
    return n
}

// HandleDiscovery processes a query received from neighbor from.
func (p *Protocol) HandleDiscovery(from transport.PeerID, m protocol.RouteDiscoveryMessage) Outcome {
    if m.DestinationID == string(p.local) {
        p.learn(m.OriginID, from, m.Hops+1)
        p.rec.Discovery("found")
        zap.L().Debug("discovery reached destination", zap.String("origin", m.OriginID), zap.String("via", string(from)), zap.Uint32("hops", m.Hops))
        if p.opts.RouteReply { p.reply(from, m) }
        return Found
    }
    if m.Hops >= p.opts.HopLimit {
        p.rec.Discovery("dropped")
        zap.L().Debug("discovery dropped at hop limit", zap.String("dest", m.DestinationID), zap.String("origin", m.OriginID), zap.Uint32("hops", m.Hops))
        return Dropped
    }
    if p.opts.RouteReply { p.learn(m.OriginID, from, m.Hops+1) }
    m.Hops++
    n := p.broadcast(m, from)
    p.rec.Discovery("forwarded")
    zap.L().Debug("discovery forwarded", zap.String("dest", m.DestinationID), zap.String("origin", m.OriginID), zap.Uint32("hops", m.Hops), zap.Int("peers", n))
    return Forwarded
}

// HandleRouteReply processes a reply travelling back to the query origin.
// In a reply OriginID is the replying destination and DestinationID is the
// peer that started the query.
func (p *Protocol) HandleRouteReply(from transport.PeerID, m protocol.RouteDiscoveryMessage) Outcome {
    p.learn(m.OriginID, from, m.Hops+1)
    if m.DestinationID == string(p.local) {
        zap.L().Debug("route reply received", zap.String("dest", m.OriginID), zap.String("via", string(from)), zap.Uint32("hops", m.Hops+1))
        return Found
    }
    r, ok := p.table.Lookup(transport.PeerID(m.DestinationID))
    if !ok || r.NextHop == string(from) || m.Hops > p.opts.HopLimit {
        zap.L().Debug("route reply dropped", zap.String("toward", m.DestinationID), zap.Bool("route", ok))
        return Dropped
    }
    m.Hops++
    b, err := p.wire.Encode(protocol.FrameRouteReply, m)
    if err != nil { return Dropped }
    if err := p.out.SendReliable(transport.PeerID(r.NextHop), b); err != nil {
        zap.L().Debug("route reply send failed", zap.String("next_hop", r.NextHop), zap.Error(err))
        return Dropped
    }
    return Forwarded
}

func (p *Protocol) reply(to transport.PeerID, q protocol.RouteDiscoveryMessage) {
    m := protocol.RouteDiscoveryMessage{DestinationID: q.OriginID, OriginID: string(p.local), Hops: 0}
    b, err := p.wire.Encode(protocol.FrameRouteReply, m)
    if err != nil { return }
    if err := p.out.SendReliable(to, b); err != nil {
        zap.L().Debug("route reply send failed", zap.String("next_hop", string(to)), zap.Error(err))
    }
}

func (p *Protocol) learn(dest string, via transport.PeerID, hops uint32) {
    if dest == "" || dest == string(p.local) { return }
    p.table.Update(protocol.Route{Destination: dest, NextHop: string(via), HopCount: hops})
}

func (p *Protocol) broadcast(m protocol.RouteDiscoveryMessage, except transport.PeerID) int {
    b, err := p.wire.Encode(protocol.FrameDiscovery, m)
    if err != nil {
        zap.L().Warn("encode discovery", zap.Error(err))
        return 0
    }
    n := 0
    for _, id := range p.peers.ConnectedIDs() {
        if id == except { continue }
        if err := p.out.SendUnreliable(id, b); err != nil {
            zap.L().Debug("discovery send failed", zap.String("peer", string(id)), zap.Error(err))
            continue
        }
        n++
    }
    return n
}
