// Package mesh is the chat connectivity core: it tracks connected peers,
// keeps the routing table, relays envelopes and retries queued messages.
//
// All state is owned by one mutex. Every transport callback, send, drain
// and sweep runs to completion under it, and change notifications are
// published before it is released.
package mesh

import (
    "context"
    "errors"
    "fmt"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"
    "github.com/hashicorp/golang-lru/v2/expirable"
    "go.uber.org/zap"

    "meshchat/pkg/config"
    "meshchat/pkg/core/discovery"
    "meshchat/pkg/core/relay"
    "meshchat/pkg/core/retryq"
    "meshchat/pkg/observability"
    "meshchat/pkg/peers"
    "meshchat/pkg/protocol"
    "meshchat/pkg/router"
    "meshchat/pkg/transport"
)

// Transport is the link layer the service runs on; netstack.Host
// implements it.
type Transport interface {
    Start(ctx context.Context, h transport.Handler) error
    Stop() error
    Connect(ctx context.Context, pi transport.PeerInfo) error
    Disconnect(id transport.PeerID) error
    SendReliable(id transport.PeerID, b []byte) error
    SendUnreliable(id transport.PeerID, b []byte) error
}

type Option func(*Service)

// WithRecorder sets the metrics recorder.
func WithRecorder(r *observability.Recorder) Option { return func(s *Service) { s.rec = r } }

// Archive is written every event synchronously, before subscribers see
// it. Unlike a subscription it never misses an event.
type Archive interface {
    Record(Event) error
}

// WithArchive sets the archive written under the service lock.
func WithArchive(a Archive) Option { return func(s *Service) { s.archive = a } }

type Service struct {
    cfg     config.MeshConfig
    local   transport.PeerID
    tr      Transport
    wire    *protocol.Wire
    rec     *observability.Recorder
    archive Archive

    mu       sync.Mutex
    active   bool
    ctx      context.Context
    cancel   context.CancelFunc
    drainDue bool

    peers  *peers.Store
    table  *router.Table
    disc   *discovery.Protocol
    relay  *relay.Engine
    queue  *retryq.Queue
    status *expirable.LRU[string, Status]
    subs   map[*Subscription]struct{}

    wg sync.WaitGroup
}

func New(cfg config.MeshConfig, local transport.PeerID, tr Transport, opts ...Option) (*Service, error) {
    if local == "" { return nil, errors.New("mesh: local peer id required") }
    if tr == nil { return nil, errors.New("mesh: transport required") }
    def := config.DefaultMesh()
    if cfg.HopLimit <= 0 { cfg.HopLimit = def.HopLimit }
    if cfg.StatusCacheSize <= 0 { cfg.StatusCacheSize = def.StatusCacheSize }
    if cfg.StatusTTL <= 0 { cfg.StatusTTL = def.StatusTTL }
    if cfg.EventBuffer <= 0 { cfg.EventBuffer = def.EventBuffer }
    if cfg.SweepInterval <= 0 { cfg.SweepInterval = def.SweepInterval }

    format, err := protocol.ParseFormat(cfg.WireFormat)
    if err != nil { return nil, err }
    wire, err := protocol.NewWire(format)
    if err != nil { return nil, err }

    s := &Service{cfg: cfg, local: local, tr: tr, wire: wire, subs: make(map[*Subscription]struct{})}
    for _, o := range opts { o(s) }

    s.table = router.NewTable()
    s.table.OnChange = s.routeChanged
    s.peers = peers.NewStore(s.table)
    s.disc = discovery.New(local, s.table, s.peers, tr, wire, s.rec, discovery.Options{
        HopLimit:   uint32(cfg.HopLimit),
        RouteReply: cfg.RouteReply,
    })
    order := retryq.NewestFirst
    if cfg.DrainOrder == config.DrainFIFO { order = retryq.OldestFirst }
    s.queue = retryq.New(cfg.MaxAttempts, cfg.PendingTTL, order)
    s.relay = &relay.Engine{
        Local:    local,
        Peers:    s.peers,
        Table:    s.table,
        Queue:    s.queue,
        Discover: s.disc,
        Out:      tr,
        Wire:     wire,
        Rec:      s.rec,
        MaxFrame: cfg.MaxMessageBytes,
        MaxHops:  uint32(cfg.MaxRelayHops),
        Deliver:  s.delivered,
    }
    s.status = expirable.NewLRU[string, Status](cfg.StatusCacheSize, nil, cfg.StatusTTL)
    return s, nil
}

// Local returns this node's PeerId.
func (s *Service) Local() transport.PeerID { return s.local }

// Start begins advertising, browsing and listening through the transport.
func (s *Service) Start(ctx context.Context) error {
    s.mu.Lock()
    if s.active {
        s.mu.Unlock()
        return errors.New("mesh: already started")
    }
    s.active = true
    s.ctx, s.cancel = context.WithCancel(ctx)
    ctx = s.ctx
    s.mu.Unlock()

    // the transport may report peers synchronously, so the lock is not held
    if err := s.tr.Start(ctx, handler{s}); err != nil {
        s.mu.Lock()
        s.active = false
        s.cancel()
        s.mu.Unlock()
        return fmt.Errorf("start transport: %w", err)
    }
    s.wg.Add(1)
    go s.sweepLoop(ctx)
    zap.L().Info("mesh started", zap.String("local", string(s.local)), zap.String("wire", s.wire.Format().String()), zap.Bool("route_reply", s.cfg.RouteReply))
    return nil
}

// Stop tears down every session and clears peers, routes and the queue.
// Subscriptions are closed. Stopping a stopped service is a no-op.
func (s *Service) Stop() error {
    s.mu.Lock()
    if !s.active {
        s.mu.Unlock()
        return nil
    }
    s.active = false
    s.cancel()
    for _, p := range s.queue.Clear() { s.status.Add(p.Message.ID, StatusFailed) }
    s.peers.Clear()
    s.table.Clear()
    for sub := range s.subs {
        delete(s.subs, sub)
        close(sub.ch)
    }
    s.rec.Gauges(0, 0, 0)
    s.mu.Unlock()

    err := s.tr.Stop()
    s.wg.Wait()
    zap.L().Info("mesh stopped", zap.String("local", string(s.local)))
    return err
}

// SendMessage builds a message for recipient and sends it. A nil error
// means sent or queued for best-effort delivery, not delivered.
func (s *Service) SendMessage(ctx context.Context, recipient transport.PeerID, content string, typ protocol.MessageType, attachments [][]byte) (protocol.OutgoingMessage, error) {
    if typ == "" { typ = protocol.MessageText }
    msg := protocol.OutgoingMessage{
        ID:          uuid.NewString(),
        RecipientID: string(recipient),
        Content:     content,
        Type:        typ,
        Attachments: attachments,
        TimestampMS: time.Now().UnixMilli(),
    }
    if err := ctx.Err(); err != nil { return msg, err }
    _, err := s.Send(msg)
    return msg, err
}

// Send routes a prepared message and reports the path taken.
func (s *Service) Send(msg protocol.OutgoingMessage) (relay.Path, error) {
    if msg.RecipientID == "" { return "", fmt.Errorf("%w: empty recipient", ErrPeerNotFound) }
    if msg.RecipientID == string(s.local) { return "", fmt.Errorf("%w: cannot send to self", ErrPeerNotFound) }
    if !msg.Type.Valid() { return "", fmt.Errorf("invalid message type %q", msg.Type) }
    if msg.ID == "" { msg.ID = uuid.NewString() }

    var (
        path relay.Path
        err  error
    )
    s.locked(func() {
        if !s.active {
            err = ErrNotActive
            return
        }
        path, err = s.relay.Send(msg)
        switch {
        case err != nil:
            s.setStatus(msg.ID, StatusFailed)
        case path == relay.PathQueued:
            s.setStatus(msg.ID, StatusQueued)
        default:
            s.setStatus(msg.ID, StatusSent)
        }
        if err == nil { s.rec.Sent(string(path)) }
    })
    if err != nil {
        zap.L().Debug("send failed", zap.String("id", msg.ID), zap.String("to", msg.RecipientID), zap.Error(err))
    }
    return path, classify(err)
}

// ConnectedPeerIDs returns the directly connected peers, sorted.
func (s *Service) ConnectedPeerIDs() []transport.PeerID {
    s.mu.Lock()
    ids := s.peers.ConnectedIDs()
    s.mu.Unlock()
    sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
    return ids
}

// IsConnectedViaMesh reports whether id is reachable only through other
// peers: a route with a positive hop count exists and id is not a direct peer.
func (s *Service) IsConnectedViaMesh(id transport.PeerID) bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    if _, direct := s.peers.FindDirectPeer(id); direct { return false }
    r, ok := s.table.Lookup(id)
    return ok && r.HopCount > 0
}

// Routes returns the routing table sorted by destination.
func (s *Service) Routes() []protocol.Route {
    s.mu.Lock(); defer s.mu.Unlock()
    return s.table.Snapshot()
}

// KnownPeers returns peers seen by browsing.
func (s *Service) KnownPeers() []peers.Peer {
    s.mu.Lock(); defer s.mu.Unlock()
    return s.peers.Known()
}

// Pending returns the queued messages in insertion order.
func (s *Service) Pending() []retryq.Pending {
    s.mu.Lock(); defer s.mu.Unlock()
    return s.queue.Snapshot()
}

func (s *Service) PendingCount() int {
    s.mu.Lock(); defer s.mu.Unlock()
    return s.queue.Len()
}

// DeliveryStatus returns the last known status of a message id.
func (s *Service) DeliveryStatus(id string) (Status, bool) { return s.status.Get(id) }

// Connect dials a peer through the transport.
func (s *Service) Connect(ctx context.Context, pi transport.PeerInfo) error {
    s.mu.Lock()
    active := s.active
    s.mu.Unlock()
    if !active { return ErrNotActive }
    return s.tr.Connect(ctx, pi)
}

// Disconnect closes the direct link to id.
func (s *Service) Disconnect(id transport.PeerID) error {
    s.mu.Lock()
    active := s.active
    _, direct := s.peers.FindDirectPeer(id)
    s.mu.Unlock()
    if !active { return ErrNotActive }
    if !direct { return fmt.Errorf("%w: %s", ErrPeerNotFound, id) }
    return s.tr.Disconnect(id)
}

// Subscribe returns a feed of change notifications. buffer <= 0 uses the
// configured default.
func (s *Service) Subscribe(buffer int) *Subscription {
    if buffer <= 0 { buffer = s.cfg.EventBuffer }
    ch := make(chan Event, buffer)
    sub := &Subscription{C: ch, ch: ch, s: s}
    s.mu.Lock()
    s.subs[sub] = struct{}{}
    s.mu.Unlock()
    return sub
}

// locked runs fn in the serialized context, then drains the retry queue if
// fn made a path usable again.
func (s *Service) locked(fn func()) {
    s.mu.Lock()
    defer s.mu.Unlock()
    fn()
    if s.drainDue && s.active {
        s.drainDue = false
        s.drain()
    }
    s.rec.Gauges(s.peers.Len(), s.table.Len(), s.queue.Len())
}

func (s *Service) drain() {
    if s.queue.Len() == 0 { return }
    res := s.queue.Drain(func(m protocol.OutgoingMessage) error {
        path, err := s.relay.Retry(m)
        if err == nil {
            s.rec.Sent(string(path))
            s.setStatus(m.ID, StatusSent)
        }
        return err
    })
    for _, d := range res.Dropped { s.failed(d) }
    if len(res.Sent)+len(res.Dropped) > 0 {
        zap.L().Info("pending queue drained", zap.Int("sent", len(res.Sent)), zap.Int("dropped", len(res.Dropped)), zap.Int("kept", res.Kept))
    }
}

func (s *Service) sweepLoop(ctx context.Context) {
    defer s.wg.Done()
    t := time.NewTicker(s.cfg.SweepInterval)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-t.C:
            s.sweep()
        }
    }
}

func (s *Service) sweep() {
    s.locked(func() {
        if !s.active { return }
        for _, d := range s.queue.Sweep() { s.failed(d) }
    })
}

func (s *Service) failed(d retryq.Drop) {
    s.rec.PendingDropped(string(d.Reason))
    s.setStatus(d.Message.ID, StatusFailed)
    s.publish(Event{Kind: EventDeliveryFailed, Failure: &DeliveryFailure{Message: d.Message, Reason: string(d.Reason), Attempts: d.Attempts}})
}

func (s *Service) setStatus(id string, st Status) {
    if cur, ok := s.status.Peek(id); ok && cur == st { return }
    s.status.Add(id, st)
    s.publish(Event{Kind: EventStatusChanged, Status: &StatusUpdate{MessageID: id, Status: st}})
}

func (s *Service) delivered(r relay.Received) {
    s.setStatus(r.Message.ID, StatusReceived)
    s.publish(Event{Kind: EventMessageReceived, Message: &ReceivedMessage{Message: r.Message, HopCount: r.HopCount, From: r.From, ReceivedAt: r.At}})
}

func (s *Service) routeChanged(c router.Change) {
    if c.Kind == router.RouteAdded { s.drainDue = true }
    s.publish(Event{Kind: EventRoutesChanged, Routes: s.table.Snapshot()})
}

func (s *Service) publish(ev Event) {
    if ev.At.IsZero() { ev.At = time.Now() }
    if s.archive != nil {
        if err := s.archive.Record(ev); err != nil {
            zap.L().Warn("archive record failed", zap.Stringer("kind", ev.Kind), zap.Error(err))
        }
    }
    for sub := range s.subs {
        select {
        case sub.ch <- ev:
        default:
            zap.L().Warn("subscriber slow, event dropped", zap.Stringer("kind", ev.Kind))
        }
    }
}
