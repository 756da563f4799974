package tcp

import (
    "bufio"
    "context"
    "errors"
    "net"
    "sync"
    "time"

    "meshchat/pkg/transport"
)

// writeTimeout bounds a single frame write so a stalled peer cannot wedge
// the link writer forever.
const writeTimeout = 10 * time.Second

// Transport implements a stream-based TCP transport with length-prefixed frames (u32 LE).
// TCP has no native datagram channel; unreliable frames share the stream.
type Transport struct {
    KeepAlive time.Duration
}

func New() *Transport { return &Transport{KeepAlive: 15 * time.Second} }

func (t *Transport) Kind() transport.Kind { return transport.KindTCPDirect }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
    lc := net.ListenConfig{KeepAlive: t.KeepAlive}
    l, err := lc.Listen(ctx, "tcp", address)
    if err != nil { return nil, err }
    tl := &listener{l: l, newCh: make(chan *session, 8), closeCh: make(chan struct{})}
    go tl.acceptLoop()
    go func() { <-ctx.Done(); _ = tl.Close() }()
    return tl, nil
}

func (t *Transport) Dial(ctx context.Context, address string, peer transport.PeerInfo) (transport.Session, error) {
    d := &net.Dialer{KeepAlive: t.KeepAlive}
    c, err := d.DialContext(ctx, "tcp", address)
    if err != nil { return nil, err }
    peer.Kind = transport.KindTCPDirect
    if peer.Addr == "" { peer.Addr = address }
    return newSession(c, peer), nil
}

type listener struct {
    l         net.Listener
    newCh     chan *session
    closeCh   chan struct{}
    closeOnce sync.Once
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Session, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-l.closeCh:
        return nil, errors.New("tcp listener closed")
    case s := <-l.newCh:
        return s, nil
    }
}

func (l *listener) Close() error {
    l.closeOnce.Do(func() { close(l.closeCh) })
    return l.l.Close()
}

func (l *listener) acceptLoop() {
    for {
        c, err := l.l.Accept()
        if err != nil { return }
        peer := transport.PeerInfo{ID: transport.TempPeerID(transport.KindTCPDirect, c.RemoteAddr()), Kind: transport.KindTCPDirect, Addr: c.RemoteAddr().String()}
        s := newSession(c, peer)
        select {
        case l.newCh <- s:
        case <-l.closeCh:
            _ = s.Close()
            return
        }
    }
}

func newSession(c net.Conn, peer transport.PeerInfo) *session {
    if tc, ok := c.(*net.TCPConn); ok { _ = tc.SetNoDelay(true) }
    return &session{
        peer:          peer,
        c:             c,
        br:            bufio.NewReader(c),
        bw:            bufio.NewWriter(c),
        establishedAt: time.Now(),
    }
}

type session struct {
    mu   sync.Mutex
    wmu  sync.Mutex
    peer transport.PeerInfo
    c    net.Conn
    br   *bufio.Reader
    bw   *bufio.Writer
    establishedAt time.Time
    lastSeen      time.Time
}

func (s *session) Peer() transport.PeerInfo { s.mu.Lock(); defer s.mu.Unlock(); return s.peer }
func (s *session) SetPeer(pi transport.PeerInfo) { s.mu.Lock(); s.peer = pi; s.mu.Unlock() }
func (s *session) TransportKind() transport.Kind { return transport.KindTCPDirect }
func (s *session) LocalAddr() net.Addr { return s.c.LocalAddr() }
func (s *session) RemoteAddr() net.Addr { return s.c.RemoteAddr() }

func (s *session) OpenStream(_ context.Context, _ transport.StreamClass) (transport.Stream, error) { return s, nil }
func (s *session) Quality() transport.Quality {
    s.mu.Lock(); defer s.mu.Unlock()
    return transport.Quality{EstablishedAt: s.establishedAt, LastSeen: s.lastSeen}
}
func (s *session) Close() error { return s.c.Close() }

func (s *session) SendBytes(b []byte) error {
    s.wmu.Lock(); defer s.wmu.Unlock()
    _ = s.c.SetWriteDeadline(time.Now().Add(writeTimeout))
    if err := transport.WriteFrame(s.bw, b); err != nil { return err }
    s.mu.Lock(); s.lastSeen = time.Now(); s.mu.Unlock()
    return nil
}

func (s *session) RecvBytes() ([]byte, error) {
    buf, err := transport.ReadFrame(s.br)
    if err != nil { return nil, err }
    s.mu.Lock(); s.lastSeen = time.Now(); s.mu.Unlock()
    return buf, nil
}
