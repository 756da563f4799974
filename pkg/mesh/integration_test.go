package mesh

import (
    "context"
    "crypto/ed25519"
    "crypto/rand"
    "testing"
    "time"

    "meshchat/pkg/config"
    "meshchat/pkg/core/netstack"
    "meshchat/pkg/protocol"
    "meshchat/pkg/transport"
    "meshchat/pkg/transport/mem"
)

type node struct {
    s   *Service
    sub *Subscription
}

func (n node) id() transport.PeerID { return n.s.Local() }

// startNode runs a service on the in-memory network. Browsing is off so the
// topology is exactly the listed dials.
func startNode(t *testing.T, n *mem.Network, name string, routeReply bool, dial ...string) node {
    t.Helper()
    _, priv, err := ed25519.GenerateKey(rand.Reader)
    if err != nil { t.Fatalf("keygen: %v", err) }
    var dials []config.PeerDialConfig
    for _, d := range dial { dials = append(dials, config.PeerDialConfig{Address: d}) }
    host, err := netstack.New([]netstack.Endpoint{{Transport: mem.NewOn(n), Listen: []string{name}, Dial: dials}}, netstack.Options{
        DisplayName: name,
        Priv:        priv,
        Wire:        protocol.MustWire(protocol.FormatCBOR),
        Net:         config.NetConfig{DialBackoffInitialMS: 10, DialBackoffMaxMS: 50, HelloTimeoutMS: 1000, ConnectTimeoutMS: 1000, SendQueue: 32},
    })
    if err != nil { t.Fatalf("host %s: %v", name, err) }

    cfg := config.DefaultMesh()
    cfg.RouteReply = routeReply
    cfg.AutoConnect = false
    s, err := New(cfg, host.Local(), host)
    if err != nil { t.Fatalf("mesh %s: %v", name, err) }
    sub := s.Subscribe(256)
    if err := s.Start(context.Background()); err != nil { t.Fatalf("start %s: %v", name, err) }
    t.Cleanup(func() { _ = s.Stop() })
    return node{s: s, sub: sub}
}

func waitFor(t *testing.T, what string, cond func() bool) {
    t.Helper()
    deadline := time.Now().Add(5 * time.Second)
    for time.Now().Before(deadline) {
        if cond() { return }
        time.Sleep(5 * time.Millisecond)
    }
    t.Fatalf("timed out waiting for %s", what)
}

// chain starts a - b - c where a and c only know b.
func chain(t *testing.T, routeReply bool) (a, b, c node) {
    n := mem.NewNetwork()
    b = startNode(t, n, "bob", routeReply)
    a = startNode(t, n, "alice", routeReply, "bob")
    c = startNode(t, n, "carol", routeReply, "bob")
    waitFor(t, "chain links", func() bool {
        return len(b.s.ConnectedPeerIDs()) == 2 && len(a.s.ConnectedPeerIDs()) == 1 && len(c.s.ConnectedPeerIDs()) == 1
    })
    return a, b, c
}

func TestMeshDirectNeighbours(t *testing.T) {
    a, b, _ := chain(t, false)
    msg, err := a.s.SendMessage(context.Background(), b.id(), "hi bob", protocol.MessageText, nil)
    if err != nil { t.Fatalf("send: %v", err) }
    ev := nextEvent(t, b.sub, EventMessageReceived)
    if ev.Message.Message.ID != msg.ID || ev.Message.HopCount != 0 || ev.Message.From != a.id() { t.Fatalf("received %+v", ev.Message) }
}

func TestMeshOneWayDiscovery(t *testing.T) {
    a, b, c := chain(t, false)

    // alice has no path to carol yet: the message waits and a flood goes out
    if _, err := a.s.SendMessage(context.Background(), c.id(), "queued", protocol.MessageText, nil); err != nil { t.Fatalf("send: %v", err) }
    if a.s.PendingCount() != 1 { t.Fatalf("pending = %d", a.s.PendingCount()) }

    // the flood teaches carol the way back, alice learns nothing
    waitFor(t, "carol route to alice", func() bool { return c.s.IsConnectedViaMesh(a.id()) })
    if a.s.IsConnectedViaMesh(c.id()) { t.Fatalf("alice learned carol without a reply") }

    msg, err := c.s.SendMessage(context.Background(), a.id(), "back", protocol.MessageText, nil)
    if err != nil { t.Fatalf("reply send: %v", err) }
    ev := nextEvent(t, a.sub, EventMessageReceived)
    if ev.Message.Message.ID != msg.ID || ev.Message.From != b.id() || ev.Message.HopCount == 0 { t.Fatalf("received %+v", ev.Message) }
    if a.s.PendingCount() != 1 { t.Fatalf("alice queue should still hold the first message") }
}

func TestMeshRouteReplyDrainsQueue(t *testing.T) {
    a, b, c := chain(t, true)

    msg, err := a.s.SendMessage(context.Background(), c.id(), "via bob", protocol.MessageText, nil)
    if err != nil { t.Fatalf("send: %v", err) }
    ev := nextEvent(t, c.sub, EventMessageReceived)
    if ev.Message.Message.ID != msg.ID || ev.Message.Message.Content != "via bob" || ev.Message.From != b.id() { t.Fatalf("received %+v", ev.Message) }
    if !a.s.IsConnectedViaMesh(c.id()) { t.Fatalf("alice should route to carol through bob: %v", a.s.Routes()) }
    waitFor(t, "alice status sent", func() bool {
        st, _ := a.s.DeliveryStatus(msg.ID)
        return st == StatusSent
    })
    if a.s.PendingCount() != 0 { t.Fatalf("pending = %d", a.s.PendingCount()) }
}

func TestMeshRelayLossPurgesRoutes(t *testing.T) {
    a, b, c := chain(t, true)
    if _, err := a.s.SendMessage(context.Background(), c.id(), "x", protocol.MessageText, nil); err != nil { t.Fatalf("send: %v", err) }
    waitFor(t, "mesh route", func() bool { return a.s.IsConnectedViaMesh(c.id()) })

    if err := b.s.Stop(); err != nil { t.Fatalf("stop bob: %v", err) }
    waitFor(t, "alice notices bob left", func() bool { return len(a.s.ConnectedPeerIDs()) == 0 })
    if len(a.s.Routes()) != 0 { t.Fatalf("routes via bob kept: %v", a.s.Routes()) }
    if a.s.IsConnectedViaMesh(c.id()) { t.Fatalf("carol still reported reachable") }
}
