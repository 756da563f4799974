package mesh

import (
    "fmt"
    "time"

    "meshchat/pkg/protocol"
    "meshchat/pkg/transport"
)

type EventKind int

const (
    EventPeersChanged EventKind = iota + 1
    EventRoutesChanged
    EventMessageReceived
    EventDeliveryFailed
    EventStatusChanged
)

func (k EventKind) String() string {
    switch k {
    case EventPeersChanged:
        return "peers"
    case EventRoutesChanged:
        return "routes"
    case EventMessageReceived:
        return "message"
    case EventDeliveryFailed:
        return "delivery_failed"
    case EventStatusChanged:
        return "status"
    default:
        return "unknown"
    }
}

func (k EventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *EventKind) UnmarshalText(b []byte) error {
    for c := EventPeersChanged; c <= EventStatusChanged; c++ {
        if c.String() == string(b) {
            *k = c
            return nil
        }
    }
    return fmt.Errorf("unknown event kind %q", b)
}

// Status is the delivery state of a message id as seen by this node.
type Status string

const (
    StatusQueued   Status = "queued"
    StatusSent     Status = "sent"
    StatusFailed   Status = "failed"
    StatusReceived Status = "received"
)

// ReceivedMessage is a message addressed to this node.
type ReceivedMessage struct {
    Message    protocol.OutgoingMessage `json:"message"`
    HopCount   uint32                   `json:"hopCount"`
    From       transport.PeerID         `json:"from"`
    ReceivedAt time.Time                `json:"receivedAt"`
}

// DeliveryFailure reports a queued message given up on.
type DeliveryFailure struct {
    Message  protocol.OutgoingMessage `json:"message"`
    Reason   string                   `json:"reason"`
    Attempts int                      `json:"attempts"`
}

type StatusUpdate struct {
    MessageID string `json:"messageID"`
    Status    Status `json:"status"`
}

// Event is one change notification. Only the field matching Kind is set.
type Event struct {
    Kind    EventKind          `json:"kind"`
    At      time.Time          `json:"at"`
    Peers   []transport.PeerID `json:"peers,omitempty"`
    Routes  []protocol.Route   `json:"routes,omitempty"`
    Message *ReceivedMessage   `json:"message,omitempty"`
    Failure *DeliveryFailure   `json:"failure,omitempty"`
    Status  *StatusUpdate      `json:"status,omitempty"`
}

// Subscription receives events on C until Close or until the service stops.
// Events that do not fit in the buffer are dropped.
type Subscription struct {
    C  <-chan Event
    ch chan Event
    s  *Service
}

func (sub *Subscription) Close() {
    s := sub.s
    s.mu.Lock()
    defer s.mu.Unlock()
    if _, ok := s.subs[sub]; !ok { return }
    delete(s.subs, sub)
    close(sub.ch)
}
