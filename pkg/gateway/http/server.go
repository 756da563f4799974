// Package httpgw serves the node's local JSON API for chat UIs and
// meshchat-ctl.
package httpgw

import (
    "bufio"
    "context"
    "errors"
    "net"
    "net/http"
    "time"

    "github.com/gorilla/mux"
    "github.com/gorilla/websocket"
    "go.uber.org/zap"

    "meshchat/pkg/inbox"
    "meshchat/pkg/mesh"
    "meshchat/pkg/observability"
    "meshchat/pkg/peers"
    "meshchat/pkg/protocol"
    "meshchat/pkg/transport"
)

// Mesh is the part of mesh.Service the API exposes.
type Mesh interface {
    Local() transport.PeerID
    ConnectedPeerIDs() []transport.PeerID
    KnownPeers() []peers.Peer
    Routes() []protocol.Route
    IsConnectedViaMesh(id transport.PeerID) bool
    PendingCount() int
    SendMessage(ctx context.Context, recipient transport.PeerID, content string, typ protocol.MessageType, attachments [][]byte) (protocol.OutgoingMessage, error)
    DeliveryStatus(id string) (mesh.Status, bool)
    Subscribe(buffer int) *mesh.Subscription
}

// Inbox is the stored history; it may be nil.
type Inbox interface {
    Messages(after uint64, limit int) ([]inbox.Entry, error)
    Status(id string) (inbox.StatusRecord, error)
}

type Server struct {
    mesh     Mesh
    inbox    Inbox
    rec      *observability.Recorder
    router   *mux.Router
    upgrader websocket.Upgrader
    srv      *http.Server
}

func New(m Mesh, in Inbox, rec *observability.Recorder) *Server {
    s := &Server{
        mesh:  m,
        inbox: in,
        rec:   rec,
        // nil CheckOrigin refuses browsers on other origins
        upgrader: websocket.Upgrader{},
    }
    s.router = s.routes()
    return s
}

func (s *Server) routes() *mux.Router {
    r := mux.NewRouter()
    r.Use(logRequests)
    v1 := r.PathPrefix("/v1").Subrouter()
    v1.HandleFunc("/peers", s.handlePeers).Methods(http.MethodGet)
    v1.HandleFunc("/peers/{id}/mesh", s.handlePeerMesh).Methods(http.MethodGet)
    v1.HandleFunc("/routes", s.handleRoutes).Methods(http.MethodGet)
    v1.HandleFunc("/messages", s.handleSend).Methods(http.MethodPost)
    v1.HandleFunc("/messages/{id}/status", s.handleStatus).Methods(http.MethodGet)
    v1.HandleFunc("/inbox", s.handleInbox).Methods(http.MethodGet)
    v1.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
    r.Handle("/metrics", s.rec.Handler()).Methods(http.MethodGet)
    return r
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves on addr in the background and returns the bound address.
func (s *Server) Start(addr string) (net.Addr, error) {
    l, err := net.Listen("tcp", addr)
    if err != nil { return nil, err }
    s.srv = &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
    go func() {
        if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
            zap.L().Error("gateway stopped", zap.Error(err))
        }
    }()
    zap.L().Info("gateway listening", zap.String("addr", l.Addr().String()))
    return l.Addr(), nil
}

// Shutdown stops the server. Open websocket feeds end when the mesh
// service stops and closes their subscriptions.
func (s *Server) Shutdown(ctx context.Context) error {
    if s.srv == nil { return nil }
    return s.srv.Shutdown(ctx)
}

type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (w *statusRecorder) WriteHeader(code int) { w.status = code; w.ResponseWriter.WriteHeader(code) }

// Hijack lets the websocket upgrade see through the wrapper.
func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    h, ok := w.ResponseWriter.(http.Hijacker)
    if !ok { return nil, nil, errors.New("hijack not supported") }
    w.status = http.StatusSwitchingProtocols
    return h.Hijack()
}

func logRequests(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
        next.ServeHTTP(rw, r)
        fields := []zap.Field{zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Int("status", rw.status), zap.Duration("took", time.Since(start))}
        if rw.status >= 500 {
            zap.L().Warn("api request failed", fields...)
            return
        }
        zap.L().Debug("api request", fields...)
    })
}
