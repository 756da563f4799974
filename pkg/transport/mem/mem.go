package mem

import (
    "bufio"
    "context"
    "errors"
    "net"
    "sync"
    "time"

    "meshchat/pkg/transport"
)

var (
    ErrNoListener = errors.New("mem: no such listener")
    ErrClosed     = errors.New("mem: session closed")
)

// Network is an in-process address space shared by mem transports. It also
// acts as an advertising/browsing medium so tests can exercise peer discovery.
type Network struct {
    mu        sync.Mutex
    listeners map[string]*listener
    adverts   map[transport.PeerID]transport.PeerInfo
    watchers  map[int]*watcher
    nextWatch int
}

type watcher struct {
    found func(transport.PeerInfo)
    lost  func(transport.PeerID)
}

func NewNetwork() *Network {
    return &Network{
        listeners: make(map[string]*listener),
        adverts:   make(map[transport.PeerID]transport.PeerInfo),
        watchers:  make(map[int]*watcher),
    }
}

var defaultNetwork = NewNetwork()

// Transport is an in-process transport using net.Pipe for the stream and
// buffered channels for datagrams.
type Transport struct {
    net *Network
}

// New returns a transport on the process-wide default network.
func New() *Transport { return &Transport{net: defaultNetwork} }

// NewOn returns a transport on n.
func NewOn(n *Network) *Transport { return &Transport{net: n} }

// Network returns the address space this transport lives on.
func (t *Transport) Network() *Network { return t.net }

func (t *Transport) Kind() transport.Kind { return transport.KindMem }

func (t *Transport) Listen(ctx context.Context, name string) (transport.Listener, error) {
    n := t.net
    n.mu.Lock(); defer n.mu.Unlock()
    if _, ok := n.listeners[name]; ok {
        return nil, errors.New("mem: listener already exists")
    }
    l := &listener{name: name, newCh: make(chan *session, 8), closeCh: make(chan struct{})}
    n.listeners[name] = l
    go func() {
        select {
        case <-ctx.Done():
        case <-l.closeCh:
        }
        _ = l.Close()
        n.mu.Lock()
        if n.listeners[name] == l { delete(n.listeners, name) }
        n.mu.Unlock()
    }()
    return l, nil
}

func (t *Transport) Dial(ctx context.Context, name string, peer transport.PeerInfo) (transport.Session, error) {
    t.net.mu.Lock(); l := t.net.listeners[name]; t.net.mu.Unlock()
    if l == nil { return nil, ErrNoListener }
    c1, c2 := net.Pipe()
    now := time.Now()
    srvDg := make(chan []byte, 64)
    cliDg := make(chan []byte, 64)
    srv := &session{peer: transport.PeerInfo{ID: transport.TempPeerID(transport.KindMem, memAddr("dial:"+name)), Kind: transport.KindMem, Addr: name}, c: c1, dgIn: srvDg, dgOut: cliDg, closed: make(chan struct{}), establishedAt: now}
    cli := &session{peer: peer, c: c2, dgIn: cliDg, dgOut: srvDg, closed: make(chan struct{}), establishedAt: now}
    srv.remote, cli.remote = cli, srv
    select {
    case l.newCh <- srv:
    case <-l.closeCh:
        _ = c1.Close(); _ = c2.Close()
        return nil, ErrNoListener
    case <-ctx.Done():
        _ = c1.Close(); _ = c2.Close()
        return nil, ctx.Err()
    }
    return cli, nil
}

type listener struct {
    name      string
    newCh     chan *session
    closeCh   chan struct{}
    closeOnce sync.Once
}

func (l *listener) Addr() net.Addr { return memAddr(l.name) }

func (l *listener) Accept(ctx context.Context) (transport.Session, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-l.closeCh:
        return nil, errors.New("mem listener closed")
    case s := <-l.newCh:
        return s, nil
    }
}

func (l *listener) Close() error {
    l.closeOnce.Do(func() { close(l.closeCh) })
    return nil
}

type memAddr string
func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

type session struct {
    mu     sync.Mutex
    wmu    sync.Mutex
    peer   transport.PeerInfo
    c      net.Conn
    br     *bufio.Reader
    bw     *bufio.Writer
    remote *session

    dgIn   chan []byte
    dgOut  chan []byte
    closed chan struct{}
    once   sync.Once

    establishedAt time.Time
    lastSeen      time.Time
}

func (s *session) Peer() transport.PeerInfo { s.mu.Lock(); defer s.mu.Unlock(); return s.peer }
func (s *session) SetPeer(pi transport.PeerInfo) { s.mu.Lock(); s.peer = pi; s.mu.Unlock() }
func (s *session) TransportKind() transport.Kind { return transport.KindMem }
func (s *session) LocalAddr() net.Addr { return s.c.LocalAddr() }
func (s *session) RemoteAddr() net.Addr { return s.c.RemoteAddr() }

func (s *session) OpenStream(_ context.Context, _ transport.StreamClass) (transport.Stream, error) {
    return s, nil
}

func (s *session) Quality() transport.Quality {
    s.mu.Lock(); defer s.mu.Unlock()
    return transport.Quality{EstablishedAt: s.establishedAt, LastSeen: s.lastSeen}
}

func (s *session) Close() error {
    s.once.Do(func() { close(s.closed) })
    if s.remote != nil { s.remote.once.Do(func() { close(s.remote.closed) }) }
    return s.c.Close()
}

// SendBytes writes one length-prefixed frame.
func (s *session) SendBytes(b []byte) error {
    s.wmu.Lock(); defer s.wmu.Unlock()
    if s.bw == nil { s.bw = bufio.NewWriter(s.c) }
    if err := transport.WriteFrame(s.bw, b); err != nil { return err }
    s.mu.Lock(); s.lastSeen = time.Now(); s.mu.Unlock()
    return nil
}

// RecvBytes reads the next frame. Only one reader may call it.
func (s *session) RecvBytes() ([]byte, error) {
    if s.br == nil { s.br = bufio.NewReader(s.c) }
    buf, err := transport.ReadFrame(s.br)
    if err != nil { return nil, err }
    s.mu.Lock(); s.lastSeen = time.Now(); s.mu.Unlock()
    return buf, nil
}

// SendDatagram queues b for the remote end and drops it when the remote
// buffer is full.
func (s *session) SendDatagram(b []byte) error {
    select {
    case <-s.closed:
        return ErrClosed
    default:
    }
    pkt := append([]byte(nil), b...)
    select {
    case s.dgOut <- pkt:
    default:
    }
    return nil
}

func (s *session) ReceiveDatagram(ctx context.Context) ([]byte, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-s.closed:
        return nil, ErrClosed
    case b := <-s.dgIn:
        return b, nil
    }
}
