package netstack

import (
    "context"
    "crypto/ed25519"
    "errors"
    "fmt"
    "sync"
    "time"

    "go.uber.org/zap"

    "meshchat/pkg/config"
    "meshchat/pkg/identity"
    "meshchat/pkg/protocol"
    "meshchat/pkg/transport"
    "meshchat/pkg/transport/mem"
    tquic "meshchat/pkg/transport/quic"
    ttcp "meshchat/pkg/transport/tcp"
)

var (
    ErrNoSession  = transport.ErrNoSession
    ErrQueueFull  = errors.New("peer send queue full")
    ErrNotStarted = errors.New("host not started")
    ErrNoEndpoint = errors.New("no transport for peer kind")
)

// ErrUnknownKind is returned for transport kinds this build does not know.
type ErrUnknownKind string

func (e ErrUnknownKind) Error() string { return "unknown transport kind: " + string(e) }

// Browser advertises the local node and reports nearby peers.
// mem.Network and mdns.Browser implement it.
type Browser interface {
    Advertise(ctx context.Context, self transport.PeerInfo) (func(), error)
    Browse(ctx context.Context, found func(transport.PeerInfo), lost func(transport.PeerID)) error
}

// Endpoint is one transport with the addresses to listen on and dial.
type Endpoint struct {
    Transport transport.Transport
    Listen    []string
    Dial      []config.PeerDialConfig
}

type Options struct {
    DisplayName string
    Priv        ed25519.PrivateKey
    Wire        *protocol.Wire
    Net         config.NetConfig
    Browser     Browser
    // MaxSkew bounds hello timestamps; zero means five minutes.
    MaxSkew time.Duration
}

// Host is the link layer under the mesh: it owns listeners, dials, the
// hello handshake and one writer goroutine per connected peer.
type Host struct {
    local     transport.PeerID
    opts      Options
    endpoints []Endpoint
    mgr       *transport.Manager

    mu      sync.Mutex
    handler transport.Handler
    links   map[transport.PeerID]*link
    dialing map[transport.PeerID]bool
    ctx     context.Context
    cancel  context.CancelFunc
    closers []func()
    stopped bool
    wg      sync.WaitGroup
}

func New(endpoints []Endpoint, opts Options) (*Host, error) {
    if len(opts.Priv) != ed25519.PrivateKeySize { return nil, errors.New("netstack: private key required") }
    if opts.Wire == nil {
        w, err := protocol.NewWire(protocol.FormatCBOR)
        if err != nil { return nil, err }
        opts.Wire = w
    }
    n := opts.Net
    if n.SendQueue <= 0 || n.ConnectTimeoutMS <= 0 || n.HelloTimeoutMS <= 0 {
        def := config.DefaultNet()
        if n.SendQueue <= 0 { n.SendQueue = def.SendQueue }
        if n.ConnectTimeoutMS <= 0 { n.ConnectTimeoutMS = def.ConnectTimeoutMS }
        if n.HelloTimeoutMS <= 0 { n.HelloTimeoutMS = def.HelloTimeoutMS }
        if n.DialBackoffInitialMS <= 0 { n.DialBackoffInitialMS = def.DialBackoffInitialMS }
        if n.DialBackoffMaxMS <= 0 { n.DialBackoffMaxMS = def.DialBackoffMaxMS }
    }
    opts.Net = n
    local := identity.PeerIDFor(opts.DisplayName, opts.Priv.Public().(ed25519.PublicKey))
    return &Host{
        local:     local,
        opts:      opts,
        endpoints: endpoints,
        mgr:       transport.NewManager(local),
        links:     make(map[transport.PeerID]*link),
        dialing:   make(map[transport.PeerID]bool),
    }, nil
}

// Local returns the PeerId derived from the host key.
func (h *Host) Local() transport.PeerID { return h.local }

// Start listens on every endpoint, advertises and browses through the
// Browser, and starts the static dial loops. Events go to handler.
func (h *Host) Start(ctx context.Context, handler transport.Handler) error {
    h.mu.Lock()
    if h.ctx != nil && !h.stopped {
        h.mu.Unlock()
        return errors.New("netstack: already started")
    }
    h.ctx, h.cancel = context.WithCancel(ctx)
    h.handler = handler
    h.stopped = false
    h.closers = nil
    ctx = h.ctx
    h.mu.Unlock()

    var self *transport.PeerInfo
    for _, ep := range h.endpoints {
        tr := ep.Transport
        for _, addr := range ep.Listen {
            l, err := tr.Listen(ctx, addr)
            if err != nil {
                zap.L().Error("listen failed", zap.String("kind", tr.Kind().String()), zap.String("addr", addr), zap.Error(err))
                continue
            }
            zap.L().Info("listening", zap.String("kind", tr.Kind().String()), zap.String("addr", l.Addr().String()))
            h.addCloser(func() { _ = l.Close() })
            if self == nil { self = &transport.PeerInfo{ID: h.local, Kind: tr.Kind(), Addr: l.Addr().String()} }
            h.wg.Add(1)
            go func() { defer h.wg.Done(); h.acceptLoop(ctx, l) }()
        }
        for _, d := range ep.Dial {
            h.wg.Add(1)
            go func() { defer h.wg.Done(); h.dialLoop(ctx, tr, d) }()
        }
    }

    if b := h.opts.Browser; b != nil {
        if self != nil {
            stop, err := b.Advertise(ctx, *self)
            if err != nil {
                zap.L().Warn("advertise failed", zap.Error(err))
            } else {
                h.addCloser(stop)
            }
        }
        found := func(pi transport.PeerInfo) {
            if pi.ID == h.local || pi.ID == "" { return }
            handler.PeerFound(pi)
        }
        lost := func(id transport.PeerID) {
            if id == h.local { return }
            handler.PeerLost(id)
        }
        if err := b.Browse(ctx, found, lost); err != nil {
            zap.L().Warn("browse failed", zap.Error(err))
        }
    }
    return nil
}

// Stop closes listeners and every link. No state events are emitted for
// links torn down by Stop.
func (h *Host) Stop() error {
    h.mu.Lock()
    if h.ctx == nil || h.stopped {
        h.mu.Unlock()
        return nil
    }
    h.stopped = true
    h.cancel()
    closers := h.closers
    h.closers = nil
    links := h.links
    h.links = make(map[transport.PeerID]*link)
    h.mu.Unlock()

    for i := len(closers) - 1; i >= 0; i-- { closers[i]() }
    for _, l := range links { l.stop() }
    h.mgr.CloseAll()
    h.wg.Wait()
    return nil
}

func (h *Host) addCloser(f func()) { h.mu.Lock(); h.closers = append(h.closers, f); h.mu.Unlock() }

func (h *Host) isStopped() bool { h.mu.Lock(); defer h.mu.Unlock(); return h.stopped }

func (h *Host) emit(f func(transport.Handler)) {
    h.mu.Lock()
    hd, stopped := h.handler, h.stopped
    h.mu.Unlock()
    if hd == nil || stopped { return }
    f(hd)
}

// EndpointsFromConfig builds transports per config. Unknown kinds are an error.
func EndpointsFromConfig(cfg []config.TransportConfig) ([]Endpoint, error) {
    out := make([]Endpoint, 0, len(cfg))
    for _, tc := range cfg {
        tr, err := NewByKind(tc.Kind)
        if err != nil { return nil, fmt.Errorf("transport %q: %w", tc.Kind, err) }
        out = append(out, Endpoint{Transport: tr, Listen: tc.Listen, Dial: tc.Dial})
    }
    return out, nil
}

// NewByKind constructs a Transport by string kind.
func NewByKind(kind string) (transport.Transport, error) {
    switch kind {
    case "tcp":
        return ttcp.New(), nil
    case "quic":
        t, err := tquic.New()
        if err != nil { return nil, err }
        return t, nil
    case "mem", "inproc":
        return mem.New(), nil
    default:
        return nil, ErrUnknownKind(kind)
    }
}
