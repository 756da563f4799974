package mesh

import (
    "context"

    "go.uber.org/zap"

    "meshchat/pkg/protocol"
    "meshchat/pkg/transport"
)

// handler feeds transport events into the serialized context.
type handler struct{ s *Service }

func (h handler) PeerFound(pi transport.PeerInfo) {
    s := h.s
    var (
        dial bool
        ctx  context.Context
    )
    s.locked(func() {
        if !s.active { return }
        s.peers.Found(pi)
        _, direct := s.peers.FindDirectPeer(pi.ID)
        // only the smaller id dials so two nodes do not race each other
        dial = s.cfg.AutoConnect && !direct && s.local < pi.ID
        if dial {
            ctx = s.ctx
            s.wg.Add(1)
        }
    })
    if !dial { return }
    go func() {
        defer s.wg.Done()
        if err := s.tr.Connect(ctx, pi); err != nil {
            zap.L().Debug("auto connect failed", zap.String("peer", string(pi.ID)), zap.Error(err))
        }
    }()
}

func (h handler) PeerLost(id transport.PeerID) {
    s := h.s
    s.locked(func() {
        if !s.active { return }
        s.peers.Lost(id)
    })
}

func (h handler) StateChanged(id transport.PeerID, st transport.State) {
    s := h.s
    s.locked(func() {
        if !s.active { return }
        switch st {
        case transport.StateConnecting:
            s.peers.Connecting(id)
        case transport.StateConnected:
            if !s.peers.Connected(id) { return }
            s.table.Update(protocol.Route{Destination: string(id), NextHop: string(id), HopCount: 0})
            s.publish(Event{Kind: EventPeersChanged, Peers: s.peers.ConnectedIDs()})
            s.drainDue = true
        case transport.StateNotConnected:
            if !s.peers.Disconnected(id) { return }
            s.publish(Event{Kind: EventPeersChanged, Peers: s.peers.ConnectedIDs()})
        }
    })
}

func (h handler) Received(from transport.PeerID, frame []byte) {
    s := h.s
    s.locked(func() {
        if !s.active { return }
        hdr, payload, err := s.wire.Decode(frame)
        if err != nil {
            zap.L().Debug("bad frame", zap.String("from", string(from)), zap.Error(err))
            return
        }
        switch hdr.Type {
        case protocol.FrameEnvelope:
            var env protocol.Envelope
            if err := s.wire.Unmarshal(hdr, payload, &env); err != nil { break }
            s.relay.HandleEnvelope(from, env)
            return
        case protocol.FrameDiscovery:
            var m protocol.RouteDiscoveryMessage
            if err := s.wire.Unmarshal(hdr, payload, &m); err != nil { break }
            s.disc.HandleDiscovery(from, m)
            return
        case protocol.FrameRouteReply:
            var m protocol.RouteDiscoveryMessage
            if err := s.wire.Unmarshal(hdr, payload, &m); err != nil { break }
            if !s.cfg.RouteReply { return }
            s.disc.HandleRouteReply(from, m)
            return
        default:
            zap.L().Debug("unexpected frame", zap.String("from", string(from)), zap.String("type", protocol.FrameName(hdr.Type)))
            return
        }
        zap.L().Debug("undecodable frame", zap.String("from", string(from)), zap.String("type", protocol.FrameName(hdr.Type)))
    })
}
