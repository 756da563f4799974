package mesh

import (
    "errors"
    "fmt"

    "meshchat/pkg/core/relay"
)

var (
    // ErrNotActive is returned while the service is stopped.
    ErrNotActive = errors.New("mesh not active")
    // ErrPeerNotFound means the peer is not in the connected set although a
    // direct link was expected.
    ErrPeerNotFound = relay.ErrPeerNotFound
    // ErrRouteNotAvailable means the stored route points at a next hop that
    // is no longer connected.
    ErrRouteNotAvailable = relay.ErrRouteNotAvailable
    // ErrMessageTooLarge means the encoded envelope exceeds the configured limit.
    ErrMessageTooLarge = relay.ErrMessageTooLarge
    // ErrSendFailed wraps the transport error of a direct or mesh send.
    ErrSendFailed = errors.New("send failed")
)

// classify maps relay outcomes onto the service errors. Errors that already
// match a sentinel pass through.
func classify(err error) error {
    if err == nil { return nil }
    var se *relay.SendError
    if errors.As(err, &se) { return fmt.Errorf("%w: %w", ErrSendFailed, err) }
    return err
}
