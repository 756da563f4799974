// Package relay decides how each outbound message leaves the node and
// forwards envelopes addressed to other peers.
package relay

import (
    "errors"
    "fmt"
    "time"

    "go.uber.org/zap"

    "meshchat/pkg/observability"
    "meshchat/pkg/peers"
    "meshchat/pkg/protocol"
    "meshchat/pkg/router"
    "meshchat/pkg/transport"
)

var (
    ErrMessageTooLarge   = errors.New("message too large")
    ErrRouteNotAvailable = errors.New("route next hop not connected")
    ErrPeerNotFound      = errors.New("peer not connected")
    ErrNoRoute           = errors.New("no route")
)

// SendError wraps a transport failure on a path chosen for a local message.
type SendError struct {
    Peer transport.PeerID
    Err  error
}

func (e *SendError) Error() string { return fmt.Sprintf("send to %s: %v", e.Peer, e.Err) }
func (e *SendError) Unwrap() error { return e.Err }

// Path names how a local message left the node.
type Path string

const (
    PathDirect Path = "direct"
    PathMesh   Path = "mesh"
    PathQueued Path = "queued"
)

type Sender interface {
    SendReliable(transport.PeerID, []byte) error
}

// DirectPeers answers whether a peer is in the connected set.
type DirectPeers interface {
    FindDirectPeer(transport.PeerID) (peers.Peer, bool)
}

type Queue interface {
    Enqueue(protocol.OutgoingMessage)
}

type Discoverer interface {
    Discover(dest transport.PeerID) int
}

// Received is an envelope that reached its recipient.
type Received struct {
    Message  protocol.OutgoingMessage
    HopCount uint32
    From     transport.PeerID
    At       time.Time
}

type Engine struct {
    Local    transport.PeerID
    Peers    DirectPeers
    Table    *router.Table
    Queue    Queue
    Discover Discoverer
    Out      Sender
    Wire     *protocol.Wire
    Rec      *observability.Recorder
    // MaxFrame limits the encoded envelope frame; zero disables the check.
    MaxFrame int
    // MaxHops drops relayed envelopes that already travelled this many
    // hops; zero disables the check.
    MaxHops uint32
    // Deliver receives envelopes addressed to Local.
    Deliver func(Received)
}

// CheckSize rejects messages whose envelope frame would exceed MaxFrame.
func (e *Engine) CheckSize(msg protocol.OutgoingMessage) error {
    if e.MaxFrame <= 0 { return nil }
    env := protocol.Envelope{Message: msg, Route: protocol.Route{Destination: msg.RecipientID, NextHop: msg.RecipientID}}
    b, err := e.Wire.Encode(protocol.FrameEnvelope, env)
    if err != nil { return err }
    if len(b) > e.MaxFrame { return fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(b), e.MaxFrame) }
    return nil
}

// Send transmits directly, through the routing table, or queues the
// message and starts a discovery when neither path exists.
func (e *Engine) Send(msg protocol.OutgoingMessage) (Path, error) {
    if err := e.CheckSize(msg); err != nil { return "", err }
    path, err := e.trySend(msg)
    if !errors.Is(err, ErrNoRoute) { return path, err }
    e.Queue.Enqueue(msg)
    n := e.Discover.Discover(transport.PeerID(msg.RecipientID))
    zap.L().Debug("message queued", zap.String("id", msg.ID), zap.String("to", msg.RecipientID), zap.Int("discovery_peers", n))
    return PathQueued, nil
}

// Retry is Send without queueing, for messages already in the queue. With
// no route it restarts discovery and returns ErrNoRoute.
func (e *Engine) Retry(msg protocol.OutgoingMessage) (Path, error) {
    path, err := e.trySend(msg)
    if errors.Is(err, ErrNoRoute) { e.Discover.Discover(transport.PeerID(msg.RecipientID)) }
    return path, err
}

func (e *Engine) trySend(msg protocol.OutgoingMessage) (Path, error) {
    dest := transport.PeerID(msg.RecipientID)
    if _, ok := e.Peers.FindDirectPeer(dest); ok {
        env := protocol.Envelope{Message: msg, Route: protocol.Route{Destination: msg.RecipientID, NextHop: msg.RecipientID, HopCount: 0}}
        if err := e.transmit(dest, env); err != nil {
            if errors.Is(err, transport.ErrNoSession) { return PathDirect, fmt.Errorf("%w: %s", ErrPeerNotFound, dest) }
            return PathDirect, &SendError{Peer: dest, Err: err}
        }
        return PathDirect, nil
    }
    r, ok := e.Table.Lookup(dest)
    if !ok { return "", ErrNoRoute }
    next := transport.PeerID(r.NextHop)
    if _, ok := e.Peers.FindDirectPeer(next); !ok {
        e.stale(r)
        return PathMesh, fmt.Errorf("%w: %s via %s", ErrRouteNotAvailable, dest, next)
    }
    r.HopCount++
    if err := e.transmit(next, protocol.Envelope{Message: msg, Route: r}); err != nil {
        if errors.Is(err, transport.ErrNoSession) {
            e.stale(r)
            return PathMesh, fmt.Errorf("%w: %s via %s", ErrRouteNotAvailable, dest, next)
        }
        return PathMesh, &SendError{Peer: next, Err: err}
    }
    return PathMesh, nil
}

// stale drops routes through a next hop that is gone; they are not
// repaired here.
func (e *Engine) stale(r protocol.Route) {
    n := e.Table.InvalidateVia(transport.PeerID(r.NextHop))
    zap.L().Debug("stale route", zap.String("dest", r.Destination), zap.String("via", r.NextHop), zap.Int("purged", n))
}

func (e *Engine) transmit(to transport.PeerID, env protocol.Envelope) error {
    b, err := e.Wire.Encode(protocol.FrameEnvelope, env)
    if err != nil { return err }
    return e.Out.SendReliable(to, b)
}

// Outcome of an inbound envelope.
type Outcome int

const (
    Dropped Outcome = iota
    Delivered
    Forwarded
)

// HandleEnvelope delivers env locally or forwards it one hop closer to its
// recipient. Relay failures are dropped without notifying anyone, and an
// envelope is never sent back to the peer it came from.
func (e *Engine) HandleEnvelope(from transport.PeerID, env protocol.Envelope) Outcome {
    dest := transport.PeerID(env.Message.RecipientID)
    if dest == e.Local {
        e.Rec.Received()
        zap.L().Debug("envelope delivered", zap.String("id", env.Message.ID), zap.String("from", string(from)), zap.Uint32("hops", env.Route.HopCount))
        if e.Deliver != nil {
            e.Deliver(Received{Message: env.Message, HopCount: env.Route.HopCount, From: from, At: time.Now()})
        }
        return Delivered
    }

    if e.MaxHops > 0 && env.Route.HopCount >= e.MaxHops { return e.drop(env, from, "hop_limit") }
    next, ok := e.nextHop(dest)
    if !ok { return e.drop(env, from, "no_route") }
    if next == from { return e.drop(env, from, "loop") }
    if _, ok := e.Peers.FindDirectPeer(next); !ok { return e.drop(env, from, "stale_route") }

    env.Route.HopCount++
    env.Route.NextHop = string(next)
    if err := e.transmit(next, env); err != nil {
        zap.L().Debug("relay send failed", zap.String("id", env.Message.ID), zap.String("next_hop", string(next)), zap.Error(err))
        return e.drop(env, from, "send_failed")
    }
    e.Rec.Relayed()
    zap.L().Debug("envelope relayed", zap.String("id", env.Message.ID), zap.String("from", string(from)), zap.String("next_hop", string(next)), zap.Uint32("hops", env.Route.HopCount))
    return Forwarded
}

func (e *Engine) nextHop(dest transport.PeerID) (transport.PeerID, bool) {
    if _, ok := e.Peers.FindDirectPeer(dest); ok { return dest, true }
    r, ok := e.Table.Lookup(dest)
    if !ok { return "", false }
    return transport.PeerID(r.NextHop), true
}

func (e *Engine) drop(env protocol.Envelope, from transport.PeerID, reason string) Outcome {
    e.Rec.Dropped(reason)
    zap.L().Debug("envelope dropped", zap.String("id", env.Message.ID), zap.String("to", env.Message.RecipientID), zap.String("from", string(from)), zap.String("reason", reason))
    return Dropped
}
