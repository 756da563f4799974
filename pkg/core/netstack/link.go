package netstack

import (
    "context"
    "sync"

    "go.uber.org/zap"

    "meshchat/pkg/transport"
)

// link is the canonical session of one peer plus its writer goroutine.
// Sends only enqueue, so callers never block on the network.
type link struct {
    peer transport.PeerID
    s    transport.Session
    st   transport.Stream
    dg   transport.DatagramSession
    q    chan []byte
    done chan struct{}
    once sync.Once
}

func (l *link) stop() {
    l.once.Do(func() {
        close(l.done)
        _ = l.s.Close()
    })
}

func (l *link) writer() {
    for {
        select {
        case <-l.done:
            return
        case b := <-l.q:
            if err := l.st.SendBytes(b); err != nil {
                zap.L().Warn("link write failed", zap.String("peer", string(l.peer)), zap.Error(err))
                l.stop()
                return
            }
        }
    }
}

// attach makes an authenticated session available for sending and starts
// reading from it. It returns the link now serving the peer.
func (h *Host) attach(s transport.Session, st transport.Stream, outbound bool) *link {
    pid := s.Peer().ID
    accepted, old := h.mgr.AddSession(s, outbound)
    if !accepted {
        zap.L().Debug("duplicate session dropped", zap.String("peer", string(pid)), zap.Bool("outbound", outbound))
        h.mu.Lock(); cur := h.links[pid]; h.mu.Unlock()
        return cur
    }
    l := &link{peer: pid, s: s, st: st, q: make(chan []byte, h.opts.Net.SendQueue), done: make(chan struct{})}
    if dg, ok := s.(transport.DatagramSession); ok { l.dg = dg }

    h.mu.Lock()
    if h.stopped {
        h.mu.Unlock()
        l.stop()
        return nil
    }
    prev := h.links[pid]
    h.links[pid] = l
    ctx := h.ctx
    h.mu.Unlock()
    if prev != nil { prev.stop() }

    go l.writer()
    go h.readStream(l)
    if l.dg != nil { go h.readDatagrams(ctx, l) }

    zap.L().Info("peer link up", zap.String("peer", string(pid)), zap.String("kind", s.TransportKind().String()), zap.Bool("outbound", outbound), zap.Bool("replaced", old != nil))
    if old == nil {
        h.emit(func(hd transport.Handler) { hd.StateChanged(pid, transport.StateConnected) })
    }
    return l
}

// detach tears l down and reports the peer as disconnected when l was
// still its canonical link.
func (h *Host) detach(l *link) {
    l.stop()
    h.mu.Lock()
    if h.links[l.peer] == l { delete(h.links, l.peer) }
    h.mu.Unlock()
    if h.mgr.RemoveSession(l.s) {
        zap.L().Info("peer link down", zap.String("peer", string(l.peer)))
        h.emit(func(hd transport.Handler) { hd.StateChanged(l.peer, transport.StateNotConnected) })
    }
}

func (h *Host) readStream(l *link) {
    defer h.detach(l)
    for {
        b, err := l.st.RecvBytes()
        if err != nil {
            select {
            case <-l.done:
            default:
                zap.L().Debug("link read ended", zap.String("peer", string(l.peer)), zap.Error(err))
            }
            return
        }
        h.emit(func(hd transport.Handler) { hd.Received(l.peer, b) })
    }
}

func (h *Host) readDatagrams(ctx context.Context, l *link) {
    ctx, cancel := context.WithCancel(ctx)
    defer cancel()
    go func() {
        select {
        case <-l.done:
            cancel()
        case <-ctx.Done():
        }
    }()
    for {
        b, err := l.dg.ReceiveDatagram(ctx)
        if err != nil { return }
        h.emit(func(hd transport.Handler) { hd.Received(l.peer, b) })
    }
}

func (h *Host) link(id transport.PeerID) *link {
    h.mu.Lock(); defer h.mu.Unlock()
    return h.links[id]
}

// SendReliable queues b on the peer's ordered stream.
func (h *Host) SendReliable(id transport.PeerID, b []byte) error {
    l := h.link(id)
    if l == nil { return ErrNoSession }
    select {
    case <-l.done:
        return ErrNoSession
    default:
    }
    select {
    case l.q <- b:
        return nil
    default:
        return ErrQueueFull
    }
}

// SendUnreliable sends b as a datagram when the session has them, otherwise
// on the stream. A full queue drops the frame.
func (h *Host) SendUnreliable(id transport.PeerID, b []byte) error {
    l := h.link(id)
    if l == nil { return ErrNoSession }
    if l.dg != nil {
        if err := l.dg.SendDatagram(b); err == nil { return nil }
    }
    select {
    case l.q <- b:
    default:
        zap.L().Debug("unreliable frame dropped", zap.String("peer", string(id)))
    }
    return nil
}

// Disconnect closes the link to id; the usual NotConnected event follows.
func (h *Host) Disconnect(id transport.PeerID) error {
    l := h.link(id)
    if l == nil { return ErrNoSession }
    h.detach(l)
    return nil
}

// Peers returns the peers with a live link, sorted.
func (h *Host) Peers() []transport.PeerID { return h.mgr.ListPeers() }
