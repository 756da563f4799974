package transport

// State is the connection state reported for a peer link.
type State int

const (
    StateNotConnected State = iota
    StateConnecting
    StateConnected
)

func (s State) String() string {
    switch s {
    case StateConnecting:
        return "connecting"
    case StateConnected:
        return "connected"
    default:
        return "not_connected"
    }
}

// Handler receives link-layer events. Implementations must not block for
// long; callbacks arrive from accept, dial, browse and read goroutines.
type Handler interface {
    // PeerFound reports a peer seen by browsing; it is not connected yet.
    PeerFound(PeerInfo)
    // PeerLost reports a browsed peer that stopped advertising.
    PeerLost(PeerID)
    // StateChanged reports connection state transitions of a peer link.
    StateChanged(PeerID, State)
    // Received delivers one frame read from a peer on either channel.
    Received(PeerID, []byte)
}
