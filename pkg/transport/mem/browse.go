package mem

import (
    "context"

    "meshchat/pkg/transport"
)

// Advertise publishes self on the network until the returned stop func is
// called or ctx is done.
func (n *Network) Advertise(ctx context.Context, self transport.PeerInfo) (func(), error) {
    n.mu.Lock()
    n.adverts[self.ID] = self
    ws := n.snapshotWatchers()
    n.mu.Unlock()
    for _, w := range ws { w.found(self) }

    stopped := make(chan struct{})
    stop := func() {
        select {
        case <-stopped:
            return
        default:
            close(stopped)
        }
        n.mu.Lock()
        delete(n.adverts, self.ID)
        ws := n.snapshotWatchers()
        n.mu.Unlock()
        for _, w := range ws { w.lost(self.ID) }
    }
    go func() {
        select {
        case <-ctx.Done():
            stop()
        case <-stopped:
        }
    }()
    return stop, nil
}

// Browse reports every advertised peer, then keeps reporting arrivals and
// departures until ctx is done.
func (n *Network) Browse(ctx context.Context, found func(transport.PeerInfo), lost func(transport.PeerID)) error {
    n.mu.Lock()
    id := n.nextWatch
    n.nextWatch++
    n.watchers[id] = &watcher{found: found, lost: lost}
    current := make([]transport.PeerInfo, 0, len(n.adverts))
    for _, pi := range n.adverts { current = append(current, pi) }
    n.mu.Unlock()

    for _, pi := range current { found(pi) }
    go func() {
        <-ctx.Done()
        n.mu.Lock(); delete(n.watchers, id); n.mu.Unlock()
    }()
    return nil
}

func (n *Network) snapshotWatchers() []*watcher {
    out := make([]*watcher, 0, len(n.watchers))
    for _, w := range n.watchers { out = append(out, w) }
    return out
}
