package transport

import (
    "fmt"
    "net"
)

// MutablePeer is an optional interface that Sessions implement to allow
// updating the peer identity after the hello handshake.
type MutablePeer interface {
    SetPeer(PeerInfo)
}

// TempPeerID builds a temporary peer id from transport kind and remote address.
// It is used before the hello handshake completes.
func TempPeerID(kind Kind, addr net.Addr) PeerID {
    if addr == nil { return PeerID(fmt.Sprintf("temp:%s:unknown", kind)) }
    return PeerID(fmt.Sprintf("temp:%s:%s", kind, addr.String()))
}

// IsTemp reports whether id was produced by TempPeerID.
func IsTemp(id PeerID) bool { return len(id) > 5 && id[:5] == "temp:" }
