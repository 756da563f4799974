package netstack

import (
    "context"

    "go.uber.org/zap"

    "meshchat/pkg/transport"
)

func (h *Host) acceptLoop(ctx context.Context, l transport.Listener) {
    for {
        s, err := l.Accept(ctx)
        if err != nil {
            select {
            case <-ctx.Done():
                return
            default:
            }
            zap.L().Warn("accept failed", zap.String("addr", l.Addr().String()), zap.Error(err))
            return
        }
        zap.L().Debug("inbound session", zap.String("kind", s.TransportKind().String()), zap.String("raddr", s.RemoteAddr().String()))
        go h.serveInbound(ctx, s)
    }
}

func (h *Host) serveInbound(ctx context.Context, s transport.Session) {
    st, err := h.authenticate(ctx, s, false)
    if err != nil {
        zap.L().Warn("inbound hello failed", zap.String("raddr", s.RemoteAddr().String()), zap.Error(err))
        _ = s.Close()
        return
    }
    h.attach(s, st, false)
}
