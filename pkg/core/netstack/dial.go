package netstack

import (
    "context"
    "fmt"
    "math/rand/v2"
    "time"

    "go.uber.org/zap"

    "meshchat/pkg/config"
    "meshchat/pkg/transport"
)

// Connect makes one attempt to reach pi, bounded by the connect timeout.
// It reports Connecting, then Connected or NotConnected. Connecting to a
// peer that already has a link is a no-op.
func (h *Host) Connect(ctx context.Context, pi transport.PeerInfo) error {
    if h.isStopped() { return ErrNotStarted }
    tr := h.transportFor(pi.Kind)
    if tr == nil { return fmt.Errorf("%w: %s", ErrNoEndpoint, pi.Kind) }
    _, err := h.connect(ctx, tr, pi)
    return err
}

func (h *Host) transportFor(k transport.Kind) transport.Transport {
    for _, ep := range h.endpoints {
        if k == transport.KindUnknown || ep.Transport.Kind() == k { return ep.Transport }
    }
    return nil
}

func (h *Host) connect(ctx context.Context, tr transport.Transport, pi transport.PeerInfo) (*link, error) {
    known := pi.ID != "" && !transport.IsTemp(pi.ID)
    if known {
        if l := h.link(pi.ID); l != nil { return l, nil }
        h.mu.Lock()
        if h.dialing[pi.ID] {
            h.mu.Unlock()
            return nil, nil
        }
        h.dialing[pi.ID] = true
        h.mu.Unlock()
        defer func() { h.mu.Lock(); delete(h.dialing, pi.ID); h.mu.Unlock() }()
        h.emit(func(hd transport.Handler) { hd.StateChanged(pi.ID, transport.StateConnecting) })
    }

    l, err := h.dialOnce(ctx, tr, pi)
    if err != nil {
        zap.L().Warn("connect failed", zap.String("kind", tr.Kind().String()), zap.String("addr", pi.Addr), zap.String("peer", string(pi.ID)), zap.Error(err))
        if known && h.link(pi.ID) == nil {
            h.emit(func(hd transport.Handler) { hd.StateChanged(pi.ID, transport.StateNotConnected) })
        }
        return nil, err
    }
    return l, nil
}

func (h *Host) dialOnce(ctx context.Context, tr transport.Transport, pi transport.PeerInfo) (*link, error) {
    ctx, cancel := context.WithTimeout(ctx, h.opts.Net.ConnectTimeout())
    defer cancel()
    s, err := tr.Dial(ctx, pi.Addr, pi)
    if err != nil { return nil, err }
    st, err := h.authenticate(ctx, s, true)
    if err != nil {
        _ = s.Close()
        return nil, err
    }
    if got := s.Peer().ID; pi.ID != "" && !transport.IsTemp(pi.ID) && got != pi.ID {
        _ = s.Close()
        return nil, fmt.Errorf("dialed %s but peer is %s", pi.ID, got)
    }
    l := h.attach(s, st, true)
    if l == nil { return nil, ErrNotStarted }
    return l, nil
}

// dialLoop keeps a configured peer connected, backing off between failures.
func (h *Host) dialLoop(ctx context.Context, tr transport.Transport, d config.PeerDialConfig) {
    pi := transport.PeerInfo{ID: transport.PeerID(d.PeerID), Kind: tr.Kind(), Addr: d.Address}
    initial := time.Duration(h.opts.Net.DialBackoffInitialMS) * time.Millisecond
    maxBackoff := time.Duration(h.opts.Net.DialBackoffMaxMS) * time.Millisecond
    jitter := time.Duration(h.opts.Net.DialBackoffJitterMS) * time.Millisecond
    backoff := initial

    for {
        l, err := h.connect(ctx, tr, pi)
        if err == nil && l != nil {
            backoff = initial
            select {
            case <-ctx.Done():
                return
            case <-l.done:
            }
        }
        select {
        case <-ctx.Done():
            return
        case <-time.After(withJitter(backoff, jitter)):
        }
        if err != nil { backoff = nextBackoff(backoff, maxBackoff) }
    }
}

func nextBackoff(d, limit time.Duration) time.Duration {
    d *= 2
    if d > limit { d = limit }
    return d
}

func withJitter(d, jitter time.Duration) time.Duration {
    if jitter <= 0 { return d }
    return d + time.Duration(rand.Int64N(int64(jitter)))
}
