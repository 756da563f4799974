package netstack

import (
    "context"
    "errors"
    "fmt"

    "meshchat/pkg/handshake"
    "meshchat/pkg/protocol"
    "meshchat/pkg/transport"
)

var ErrSelfConnect = errors.New("hello from own peer id")

// authenticate runs the hello exchange on a fresh session within the hello
// timeout. The dialer writes first. On success the session carries the
// verified PeerId.
func (h *Host) authenticate(ctx context.Context, s transport.Session, outbound bool) (transport.Stream, error) {
    ctx, cancel := context.WithTimeout(ctx, h.opts.Net.HelloTimeout())
    defer cancel()

    type result struct {
        st  transport.Stream
        id  transport.PeerID
        err error
    }
    done := make(chan result, 1)
    go func() {
        st, id, err := h.exchangeHello(ctx, s, outbound)
        done <- result{st, id, err}
    }()
    var r result
    select {
    case r = <-done:
    case <-ctx.Done():
        // closing unblocks the pending read
        _ = s.Close()
        <-done
        return nil, fmt.Errorf("hello: %w", ctx.Err())
    }
    if r.err != nil { return nil, r.err }

    pi := s.Peer()
    pi.ID = r.id
    if mp, ok := s.(transport.MutablePeer); ok { mp.SetPeer(pi) }
    if s.Peer().ID != r.id { return nil, errors.New("hello: session does not accept a peer id") }
    return r.st, nil
}

func (h *Host) exchangeHello(ctx context.Context, s transport.Session, outbound bool) (transport.Stream, transport.PeerID, error) {
    st, err := s.OpenStream(ctx, transport.StreamControl)
    if err != nil { return nil, "", err }
    hello, _, err := handshake.BuildHello(h.opts.DisplayName, h.opts.Priv)
    if err != nil { return nil, "", err }
    out, err := h.opts.Wire.Encode(protocol.FrameHello, hello)
    if err != nil { return nil, "", err }

    if outbound {
        if err := st.SendBytes(out); err != nil { return nil, "", err }
    }
    in, err := st.RecvBytes()
    if err != nil { return nil, "", err }
    hdr, payload, err := h.opts.Wire.Decode(in)
    if err != nil { return nil, "", err }
    if hdr.Type != protocol.FrameHello { return nil, "", fmt.Errorf("hello: unexpected %s frame", protocol.FrameName(hdr.Type)) }
    var remote protocol.Hello
    if err := h.opts.Wire.Unmarshal(hdr, payload, &remote); err != nil { return nil, "", err }
    id, err := handshake.VerifyHello(remote, h.opts.MaxSkew)
    if err != nil { return nil, "", err }
    if id == h.local { return nil, "", ErrSelfConnect }
    if !outbound {
        if err := st.SendBytes(out); err != nil { return nil, "", err }
    }
    return st, id, nil
}
