package httpgw

import (
    "encoding/json"
    "errors"
    "mime"
    "net/http"
    "strconv"

    "github.com/gorilla/mux"
    "go.uber.org/zap"

    "meshchat/pkg/inbox"
    "meshchat/pkg/mesh"
    "meshchat/pkg/peers"
    "meshchat/pkg/protocol"
    "meshchat/pkg/transport"
)

// maxBody bounds POST bodies; the mesh enforces the real message limit.
const maxBody = 8 << 20

type errorBody struct {
    Error struct {
        Code    string `json:"code"`
        Message string `json:"message"`
    } `json:"error"`
}

type PeersResponse struct {
    Local     transport.PeerID   `json:"local"`
    Connected []transport.PeerID `json:"connected"`
    Known     []peers.Peer       `json:"known"`
    Pending   int                `json:"pending"`
}

type PeerMeshResponse struct {
    Peer    transport.PeerID `json:"peer"`
    Direct  bool             `json:"direct"`
    ViaMesh bool             `json:"viaMesh"`
    Route   *protocol.Route  `json:"route,omitempty"`
}

type SendRequest struct {
    Recipient   transport.PeerID     `json:"recipient"`
    Content     string               `json:"content"`
    Type        protocol.MessageType `json:"type,omitempty"`
    Attachments [][]byte             `json:"attachments,omitempty"`
}

type SendResponse struct {
    Message protocol.OutgoingMessage `json:"message"`
    Status  mesh.Status              `json:"status"`
}

type StatusResponse struct {
    MessageID string      `json:"messageID"`
    Status    mesh.Status `json:"status"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    if err := json.NewEncoder(w).Encode(v); err != nil {
        zap.L().Debug("api encode failed", zap.Error(err))
    }
}

func writeError(w http.ResponseWriter, code int, kind string, err error) {
    var body errorBody
    body.Error.Code = kind
    body.Error.Message = err.Error()
    writeJSON(w, code, body)
}

// sendError maps mesh errors onto HTTP statuses.
func sendError(w http.ResponseWriter, err error) {
    switch {
    case errors.Is(err, mesh.ErrNotActive):
        writeError(w, http.StatusServiceUnavailable, "not_active", err)
    case errors.Is(err, mesh.ErrMessageTooLarge):
        writeError(w, http.StatusRequestEntityTooLarge, "message_too_large", err)
    case errors.Is(err, mesh.ErrPeerNotFound):
        writeError(w, http.StatusNotFound, "peer_not_found", err)
    case errors.Is(err, mesh.ErrRouteNotAvailable):
        writeError(w, http.StatusConflict, "route_not_available", err)
    case errors.Is(err, mesh.ErrSendFailed):
        writeError(w, http.StatusBadGateway, "send_failed", err)
    default:
        writeError(w, http.StatusBadRequest, "bad_request", err)
    }
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
    resp := PeersResponse{
        Local:     s.mesh.Local(),
        Connected: s.mesh.ConnectedPeerIDs(),
        Known:     s.mesh.KnownPeers(),
        Pending:   s.mesh.PendingCount(),
    }
    if resp.Connected == nil { resp.Connected = []transport.PeerID{} }
    if resp.Known == nil { resp.Known = []peers.Peer{} }
    writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePeerMesh(w http.ResponseWriter, r *http.Request) {
    id := transport.PeerID(mux.Vars(r)["id"])
    resp := PeerMeshResponse{Peer: id, ViaMesh: s.mesh.IsConnectedViaMesh(id)}
    for _, p := range s.mesh.ConnectedPeerIDs() {
        if p == id { resp.Direct = true }
    }
    for _, rt := range s.mesh.Routes() {
        if rt.Destination == string(id) {
            resp.Route = &rt
        }
    }
    writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
    routes := s.mesh.Routes()
    if routes == nil { routes = []protocol.Route{} }
    writeJSON(w, http.StatusOK, routes)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
    if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
        writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", errors.New("content type must be application/json"))
        return
    }
    var req SendRequest
    dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
    dec.DisallowUnknownFields()
    if err := dec.Decode(&req); err != nil {
        writeError(w, http.StatusBadRequest, "bad_request", err)
        return
    }
    if req.Recipient == "" {
        writeError(w, http.StatusBadRequest, "bad_request", errors.New("recipient required"))
        return
    }
    msg, err := s.mesh.SendMessage(r.Context(), req.Recipient, req.Content, req.Type, req.Attachments)
    if err != nil {
        sendError(w, err)
        return
    }
    st, _ := s.mesh.DeliveryStatus(msg.ID)
    writeJSON(w, http.StatusAccepted, SendResponse{Message: msg, Status: st})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
    id := mux.Vars(r)["id"]
    if st, ok := s.mesh.DeliveryStatus(id); ok {
        writeJSON(w, http.StatusOK, StatusResponse{MessageID: id, Status: st})
        return
    }
    if s.inbox != nil {
        rec, err := s.inbox.Status(id)
        if err == nil {
            writeJSON(w, http.StatusOK, StatusResponse{MessageID: id, Status: rec.Status})
            return
        }
        if !errors.Is(err, inbox.ErrNotFound) {
            writeError(w, http.StatusInternalServerError, "inbox", err)
            return
        }
    }
    writeError(w, http.StatusNotFound, "not_found", errors.New("unknown message id"))
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
    if s.inbox == nil {
        writeError(w, http.StatusNotFound, "inbox_disabled", errors.New("inbox disabled"))
        return
    }
    after, err := queryUint(r, "after", 0)
    if err != nil {
        writeError(w, http.StatusBadRequest, "bad_request", err)
        return
    }
    limit, err := queryUint(r, "limit", defaultPage)
    if err != nil {
        writeError(w, http.StatusBadRequest, "bad_request", err)
        return
    }
    if limit == 0 || limit > maxPage { limit = maxPage }
    entries, err := s.inbox.Messages(after, int(limit))
    if err != nil {
        writeError(w, http.StatusInternalServerError, "inbox", err)
        return
    }
    writeJSON(w, http.StatusOK, entries)
}

const (
    defaultPage = 100
    maxPage     = 1000
)

func queryUint(r *http.Request, key string, def uint64) (uint64, error) {
    v := r.URL.Query().Get(key)
    if v == "" { return def, nil }
    return strconv.ParseUint(v, 10, 64)
}
