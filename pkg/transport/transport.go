package transport

import (
    "context"
    "errors"
    "net"
    "time"
)

// ErrNoSession is returned by senders when the peer has no live link.
var ErrNoSession = errors.New("no session for peer")

// Kind identifies transport/link type for policy decisions.
type Kind int

const (
    KindUnknown Kind = iota
    KindQUICDirect
    KindTCPDirect
    KindMem
)

func (k Kind) String() string {
    switch k {
    case KindQUICDirect:
        return "quic"
    case KindTCPDirect:
        return "tcp"
    case KindMem:
        return "mem"
    default:
        return "unknown"
    }
}

// StreamClass labels streams within a session. Only the control stream
// carries mesh frames today.
type StreamClass int

const (
    StreamControl StreamClass = iota
)

// PeerID is an opaque stable peer identity (display name plus key-derived suffix).
type PeerID string

// PeerInfo bundles peer identity and addressing hints.
type PeerInfo struct {
    ID   PeerID
    Kind Kind
    Addr string // transport-dependent address string
}

// Quality captures link quality metrics used by the manager to rank sessions.
type Quality struct {
    RTT           time.Duration
    EstablishedAt time.Time
    LastSeen      time.Time
}

// Stream is a bidirectional frame stream.
// Exactly one reader and one writer goroutine are expected.
type Stream interface {
    // SendBytes sends one frame as opaque bytes.
    SendBytes([]byte) error
    // RecvBytes receives the next frame.
    RecvBytes() ([]byte, error)
    Close() error
}

// Session represents a canonical connection to a peer.
type Session interface {
    Peer() PeerInfo
    TransportKind() Kind
    LocalAddr() net.Addr
    RemoteAddr() net.Addr

    // OpenStream opens/returns the stream of the given class. Transports without
    // multiplexing return a single shared stream.
    OpenStream(ctx context.Context, cls StreamClass) (Stream, error)

    // Quality snapshot for ranking/monitoring.
    Quality() Quality

    Close() error
}

// DatagramSession is implemented by sessions that have a native unreliable
// channel next to their stream.
type DatagramSession interface {
    SendDatagram([]byte) error
    ReceiveDatagram(ctx context.Context) ([]byte, error)
}

// Listener accepts inbound sessions.
type Listener interface {
    // Accept blocks until an inbound session is available or ctx is done.
    Accept(ctx context.Context) (Session, error)
    Addr() net.Addr
    Close() error
}

// Transport provides dialing/listening for a specific link kind.
type Transport interface {
    Kind() Kind
    Listen(ctx context.Context, address string) (Listener, error)
    Dial(ctx context.Context, address string, peer PeerInfo) (Session, error)
}
