package protocol

import "time"

// Frame types (fits in uint8).
const (
    FrameUnknown uint8 = iota
    FrameHello         // link handshake, first frame on every session
    FrameEnvelope      // chat message with its route state, reliable channel
    FrameDiscovery     // route discovery flood, unreliable channel
    FrameRouteReply    // optional reverse answer to a discovery, reliable channel
)

// FrameName returns a short label for logs and metrics.
func FrameName(t uint8) string {
    switch t {
    case FrameHello:
        return "hello"
    case FrameEnvelope:
        return "envelope"
    case FrameDiscovery:
        return "discovery"
    case FrameRouteReply:
        return "route_reply"
    default:
        return "unknown"
    }
}

// MessageType distinguishes user text from system notices.
type MessageType string

const (
    MessageText   MessageType = "text"
    MessageSystem MessageType = "system"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool { return t == MessageText || t == MessageSystem }

// OutgoingMessage is the immutable chat payload created by the sender.
type OutgoingMessage struct {
    ID          string      `json:"id" cbor:"1,keyasint"`
    RecipientID string      `json:"recipientID" cbor:"2,keyasint"`
    Content     string      `json:"content" cbor:"3,keyasint"`
    Type        MessageType `json:"type" cbor:"4,keyasint"`
    Attachments [][]byte    `json:"attachments,omitempty" cbor:"5,keyasint,omitempty"`
    TimestampMS int64       `json:"timestamp" cbor:"6,keyasint"`
}

// Timestamp returns the creation time.
func (m OutgoingMessage) Timestamp() time.Time { return time.UnixMilli(m.TimestampMS) }

// Route is the path descriptor carried with an envelope and stored in the
// routing table.
type Route struct {
    Destination string `json:"destination" cbor:"1,keyasint"`
    NextHop     string `json:"nextHop" cbor:"2,keyasint"`
    HopCount    uint32 `json:"hopCount" cbor:"3,keyasint"`
}

// Envelope is the wire unit exchanged between peers. Route.HopCount is
// incremented once per forward.
type Envelope struct {
    Message OutgoingMessage `json:"message" cbor:"1,keyasint"`
    Route   Route           `json:"route" cbor:"2,keyasint"`
}

// RouteDiscoveryMessage floods the mesh looking for DestinationID.
type RouteDiscoveryMessage struct {
    DestinationID string `json:"destinationID" cbor:"1,keyasint"`
    OriginID      string `json:"originID" cbor:"2,keyasint"`
    Hops          uint32 `json:"hops" cbor:"3,keyasint"`
}

// Hello is the signed identity frame exchanged when a session opens.
type Hello struct {
    Version   uint32 `json:"ver,omitempty" cbor:"1,keyasint,omitempty"`
    PeerID    string `json:"peer_id" cbor:"2,keyasint"`
    NodeName  string `json:"node_name,omitempty" cbor:"3,keyasint,omitempty"`
    Alg       string `json:"alg" cbor:"4,keyasint"`
    PubKey    []byte `json:"pubkey" cbor:"5,keyasint"`
    Nonce     []byte `json:"nonce" cbor:"6,keyasint"`
    Timestamp int64  `json:"ts_unix_ms" cbor:"7,keyasint"`
    Sig       []byte `json:"sig" cbor:"8,keyasint"`
}

// ContentType constants for codec lookup.
const (
    ContentUnknown = "application/octet-stream"
    ContentCBOR    = "application/cbor"
    ContentJSON    = "application/json"
    ContentProto   = "application/x-protobuf"
)
