package httpgw

import (
    "net/http"
    "time"

    "github.com/gorilla/websocket"
    "go.uber.org/zap"
)

const (
    writeWait  = 10 * time.Second
    pongWait   = 60 * time.Second
    pingPeriod = pongWait * 9 / 10
)

// handleEvents streams mesh change notifications as JSON text frames until
// the client goes away or the mesh stops.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
    ws, err := s.upgrader.Upgrade(w, r, nil)
    if err != nil {
        zap.L().Debug("websocket upgrade failed", zap.Error(err))
        return
    }
    defer ws.Close()
    sub := s.mesh.Subscribe(0)
    defer sub.Close()

    // the read side only exists to notice the client closing
    gone := make(chan struct{})
    ws.SetReadLimit(512)
    _ = ws.SetReadDeadline(time.Now().Add(pongWait))
    ws.SetPongHandler(func(string) error { return ws.SetReadDeadline(time.Now().Add(pongWait)) })
    go func() {
        defer close(gone)
        for {
            if _, _, err := ws.ReadMessage(); err != nil { return }
        }
    }()

    ping := time.NewTicker(pingPeriod)
    defer ping.Stop()
    for {
        select {
        case <-gone:
            return
        case ev, ok := <-sub.C:
            _ = ws.SetWriteDeadline(time.Now().Add(writeWait))
            if !ok {
                _ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "mesh stopped"))
                return
            }
            if err := ws.WriteJSON(ev); err != nil {
                zap.L().Debug("event feed write failed", zap.Error(err))
                return
            }
        case <-ping.C:
            _ = ws.SetWriteDeadline(time.Now().Add(writeWait))
            if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil { return }
        }
    }
}
