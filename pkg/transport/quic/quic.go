package quic

import (
    "bufio"
    "context"
    "crypto/rand"
    "crypto/rsa"
    "crypto/tls"
    "crypto/x509"
    "errors"
    "math/big"
    "net"
    "sync"
    "time"

    quicgo "github.com/quic-go/quic-go"

    "meshchat/pkg/transport"
)

const alpn = "meshchat"

// Transport implements QUIC sessions: one bidirectional stream with
// length-prefixed frames for the reliable channel and QUIC datagrams for the
// unreliable one. Peer identity is verified by the hello handshake, not TLS.
type Transport struct {
    tlsConf  *tls.Config
    quicConf *quicgo.Config
}

func New() (*Transport, error) {
    // Ephemeral self-signed certificate for the server side.
    cert, err := selfSignedCert()
    if err != nil { return nil, err }
    tlsConf := &tls.Config{
        Certificates: []tls.Certificate{cert},
        NextProtos:   []string{alpn},
        MinVersion:   tls.VersionTLS13,
    }
    qconf := &quicgo.Config{
        EnableDatagrams: true,
        KeepAlivePeriod: 10 * time.Second,
        MaxIdleTimeout:  30 * time.Second,
    }
    return &Transport{tlsConf: tlsConf, quicConf: qconf}, nil
}

func (t *Transport) Kind() transport.Kind { return transport.KindQUICDirect }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
    l, err := quicgo.ListenAddr(address, t.tlsConf, t.quicConf)
    if err != nil { return nil, err }
    ql := &listener{l: l, newCh: make(chan *session, 8), closeCh: make(chan struct{})}
    go ql.acceptLoop(ctx)
    go func() { <-ctx.Done(); _ = ql.Close() }()
    return ql, nil
}

func (t *Transport) Dial(ctx context.Context, address string, peer transport.PeerInfo) (transport.Session, error) {
    tlsClient := &tls.Config{
        InsecureSkipVerify: true, // identity is verified by the signed hello
        NextProtos:         []string{alpn},
        MinVersion:         tls.VersionTLS13,
    }
    c, err := quicgo.DialAddr(ctx, address, tlsClient, t.quicConf)
    if err != nil { return nil, err }
    peer.Kind = transport.KindQUICDirect
    if peer.Addr == "" { peer.Addr = address }
    return &session{peer: peer, c: c, establishedAt: time.Now()}, nil
}

// ---- Listener ----

type listener struct {
    l         *quicgo.Listener
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
        return nil, errors.New("quic listener closed")
    case s := <-l.newCh:
        return s, nil
    }
}

func (l *listener) Close() error {
    l.closeOnce.Do(func() { close(l.closeCh) })
    return l.l.Close()
}

func (l *listener) acceptLoop(ctx context.Context) {
    for {
        c, err := l.l.Accept(ctx)
        if err != nil { return }
        raddr := c.RemoteAddr()
        s := &session{
            peer:          transport.PeerInfo{ID: transport.TempPeerID(transport.KindQUICDirect, raddr), Kind: transport.KindQUICDirect, Addr: raddr.String()},
            c:             c,
            inbound:       true,
            establishedAt: time.Now(),
        }
        select {
        case l.newCh <- s:
        case <-l.closeCh:
            _ = s.Close()
            return
        }
    }
}

// ---- Session/Streams ----

type session struct {
    mu   sync.Mutex
    peer transport.PeerInfo
    c    quicgo.Connection

    inbound       bool
    establishedAt time.Time
    lastSeen      time.Time

    ctrl *qstream
}

func (s *session) Peer() transport.PeerInfo { s.mu.Lock(); defer s.mu.Unlock(); return s.peer }
func (s *session) SetPeer(pi transport.PeerInfo) { s.mu.Lock(); s.peer = pi; s.mu.Unlock() }
func (s *session) TransportKind() transport.Kind { return transport.KindQUICDirect }
func (s *session) LocalAddr() net.Addr { return s.c.LocalAddr() }
func (s *session) RemoteAddr() net.Addr { return s.c.RemoteAddr() }

// OpenStream returns the control stream. The dialer opens it, the listener
// side accepts it; the dialer must write first for the accept to complete.
func (s *session) OpenStream(ctx context.Context, _ transport.StreamClass) (transport.Stream, error) {
    s.mu.Lock()
    if s.ctrl != nil {
        st := s.ctrl
        s.mu.Unlock()
        return st, nil
    }
    s.mu.Unlock()

    var (
        qs  quicgo.Stream
        err error
    )
    if s.inbound {
        qs, err = s.c.AcceptStream(ctx)
    } else {
        qs, err = s.c.OpenStreamSync(ctx)
    }
    if err != nil { return nil, err }
    st := &qstream{s: qs, br: bufio.NewReader(qs), bw: bufio.NewWriter(qs), parent: s}
    s.mu.Lock()
    if s.ctrl == nil { s.ctrl = st } else { st = s.ctrl }
    s.mu.Unlock()
    return st, nil
}

func (s *session) Quality() transport.Quality {
    s.mu.Lock(); defer s.mu.Unlock()
    return transport.Quality{EstablishedAt: s.establishedAt, LastSeen: s.lastSeen}
}

func (s *session) Close() error { return s.c.CloseWithError(0, "") }

func (s *session) SendDatagram(b []byte) error { return s.c.SendDatagram(b) }

func (s *session) ReceiveDatagram(ctx context.Context) ([]byte, error) {
    b, err := s.c.ReceiveDatagram(ctx)
    if err != nil { return nil, err }
    s.touch()
    return b, nil
}

func (s *session) touch() { s.mu.Lock(); s.lastSeen = time.Now(); s.mu.Unlock() }

// qstream implements transport.Stream over a QUIC bidirectional stream with u32 LE framing.
type qstream struct {
    mu     sync.Mutex
    s      quicgo.Stream
    br     *bufio.Reader
    bw     *bufio.Writer
    parent *session
}

func (st *qstream) SendBytes(b []byte) error {
    st.mu.Lock(); defer st.mu.Unlock()
    if err := transport.WriteFrame(st.bw, b); err != nil { return err }
    st.parent.touch()
    return nil
}

func (st *qstream) RecvBytes() ([]byte, error) {
    buf, err := transport.ReadFrame(st.br)
    if err != nil { return nil, err }
    st.parent.touch()
    return buf, nil
}

func (st *qstream) Close() error { return st.s.Close() }

// ---- Helpers ----

// selfSignedCert generates a short-lived self-signed TLS certificate for local QUIC use.
func selfSignedCert() (tls.Certificate, error) {
    priv, err := rsa.GenerateKey(rand.Reader, 2048)
    if err != nil { return tls.Certificate{}, err }
    tmpl := x509.Certificate{
        SerialNumber: big.NewInt(time.Now().UnixNano()),
        NotBefore:    time.Now().Add(-time.Minute),
        NotAfter:     time.Now().Add(24 * time.Hour),
        KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
        ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
        BasicConstraintsValid: true,
        DNSNames:     []string{"localhost"},
    }
    der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
    if err != nil { return tls.Certificate{}, err }
    return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
