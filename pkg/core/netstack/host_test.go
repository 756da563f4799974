package netstack

import (
    "context"
    "crypto/ed25519"
    "crypto/rand"
    "sync"
    "testing"
    "time"

    "meshchat/pkg/config"
    "meshchat/pkg/protocol"
    "meshchat/pkg/transport"
    "meshchat/pkg/transport/mem"
)

type frame struct {
    from transport.PeerID
    b    []byte
}

type recorder struct {
    mu     sync.Mutex
    states map[transport.PeerID][]transport.State
    found  map[transport.PeerID]transport.PeerInfo
    frames chan frame
}

func newRecorder() *recorder {
    return &recorder{states: map[transport.PeerID][]transport.State{}, found: map[transport.PeerID]transport.PeerInfo{}, frames: make(chan frame, 16)}
}

func (r *recorder) PeerFound(pi transport.PeerInfo) { r.mu.Lock(); r.found[pi.ID] = pi; r.mu.Unlock() }
func (r *recorder) PeerLost(id transport.PeerID)    { r.mu.Lock(); delete(r.found, id); r.mu.Unlock() }
func (r *recorder) StateChanged(id transport.PeerID, s transport.State) {
    r.mu.Lock(); r.states[id] = append(r.states[id], s); r.mu.Unlock()
}
func (r *recorder) Received(id transport.PeerID, b []byte) { r.frames <- frame{id, b} }

func (r *recorder) last(id transport.PeerID) (transport.State, bool) {
    r.mu.Lock(); defer r.mu.Unlock()
    ss := r.states[id]
    if len(ss) == 0 { return 0, false }
    return ss[len(ss)-1], true
}

func (r *recorder) hasFound(id transport.PeerID) bool {
    r.mu.Lock(); defer r.mu.Unlock()
    _, ok := r.found[id]
    return ok
}

func waitFor(t *testing.T, what string, cond func() bool) {
    t.Helper()
    deadline := time.Now().Add(3 * time.Second)
    for time.Now().Before(deadline) {
        if cond() { return }
        time.Sleep(5 * time.Millisecond)
    }
    t.Fatalf("timed out waiting for %s", what)
}

func newHost(t *testing.T, n *mem.Network, name string, listen []string, dial []config.PeerDialConfig) *Host {
    t.Helper()
    _, priv, err := ed25519.GenerateKey(rand.Reader)
    if err != nil { t.Fatalf("keygen: %v", err) }
    h, err := New([]Endpoint{{Transport: mem.NewOn(n), Listen: listen, Dial: dial}}, Options{
        DisplayName: name,
        Priv:        priv,
        Wire:        protocol.MustWire(protocol.FormatCBOR),
        Net:         config.NetConfig{DialBackoffInitialMS: 10, DialBackoffMaxMS: 50, HelloTimeoutMS: 1000, ConnectTimeoutMS: 1000, SendQueue: 8},
        Browser:     n,
    })
    if err != nil { t.Fatalf("new host: %v", err) }
    return h
}

func TestHostDialHelloAndSend(t *testing.T) {
    n := mem.NewNetwork()
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    a := newHost(t, n, "alice", []string{"alice"}, nil)
    ra := newRecorder()
    if err := a.Start(ctx, ra); err != nil { t.Fatalf("start a: %v", err) }
    defer a.Stop()

    b := newHost(t, n, "bob", nil, []config.PeerDialConfig{{Address: "alice", PeerID: string(a.Local())}})
    rb := newRecorder()
    if err := b.Start(ctx, rb); err != nil { t.Fatalf("start b: %v", err) }
    defer b.Stop()

    waitFor(t, "bob connected to alice", func() bool { s, ok := rb.last(a.Local()); return ok && s == transport.StateConnected })
    waitFor(t, "alice sees bob", func() bool { s, ok := ra.last(b.Local()); return ok && s == transport.StateConnected })
    rb.mu.Lock()
    first := rb.states[a.Local()][0]
    rb.mu.Unlock()
    if first != transport.StateConnecting { t.Fatalf("first state = %v", first) }

    if err := b.SendReliable(a.Local(), []byte("ping")); err != nil { t.Fatalf("send: %v", err) }
    select {
    case f := <-ra.frames:
        if f.from != b.Local() || string(f.b) != "ping" { t.Fatalf("frame = %+v", f) }
    case <-time.After(2 * time.Second):
        t.Fatalf("no reliable frame")
    }

    if err := a.SendUnreliable(b.Local(), []byte("flood")); err != nil { t.Fatalf("send unreliable: %v", err) }
    select {
    case f := <-rb.frames:
        if string(f.b) != "flood" { t.Fatalf("frame = %q", f.b) }
    case <-time.After(2 * time.Second):
        t.Fatalf("no datagram")
    }

    if err := a.SendReliable("nobody-aaaaaaaa", []byte("x")); err != ErrNoSession { t.Fatalf("expected ErrNoSession, got %v", err) }
}

func TestHostDisconnectReportsBothSides(t *testing.T) {
    n := mem.NewNetwork()
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    a := newHost(t, n, "alice", []string{"alice"}, nil)
    ra := newRecorder()
    _ = a.Start(ctx, ra)
    defer a.Stop()
    b := newHost(t, n, "bob", []string{"bob"}, nil)
    rb := newRecorder()
    _ = b.Start(ctx, rb)
    defer b.Stop()

    waitFor(t, "browse", func() bool { return rb.hasFound(a.Local()) })
    if err := b.Connect(ctx, transport.PeerInfo{ID: a.Local(), Kind: transport.KindMem, Addr: "alice"}); err != nil {
        t.Fatalf("connect: %v", err)
    }
    waitFor(t, "alice sees bob", func() bool { s, ok := ra.last(b.Local()); return ok && s == transport.StateConnected })

    if err := b.Disconnect(a.Local()); err != nil { t.Fatalf("disconnect: %v", err) }
    waitFor(t, "bob reports down", func() bool { s, _ := rb.last(a.Local()); return s == transport.StateNotConnected })
    waitFor(t, "alice reports down", func() bool { s, _ := ra.last(b.Local()); return s == transport.StateNotConnected })
    if len(b.Peers()) != 0 { t.Fatalf("peers after disconnect: %v", b.Peers()) }
}

func TestHostConnectFailureReportsNotConnected(t *testing.T) {
    n := mem.NewNetwork()
    ctx := context.Background()
    a := newHost(t, n, "alice", nil, nil)
    ra := newRecorder()
    _ = a.Start(ctx, ra)
    defer a.Stop()

    err := a.Connect(ctx, transport.PeerInfo{ID: "ghost-aaaaaaaa", Kind: transport.KindMem, Addr: "nowhere"})
    if err == nil { t.Fatalf("expected dial error") }
    if s, _ := ra.last("ghost-aaaaaaaa"); s != transport.StateNotConnected { t.Fatalf("state = %v", s) }
}

func TestNewByKindUnknown(t *testing.T) {
    if _, err := NewByKind("carrier-pigeon"); err == nil {
        t.Fatalf("expected error")
    } else if _, ok := err.(ErrUnknownKind); !ok {
        t.Fatalf("unexpected error type %T", err)
    }
}
