package main

import (
    "bytes"
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"

    httpgw "meshchat/pkg/gateway/http"
    "meshchat/pkg/mesh"
    "meshchat/pkg/protocol"
)

func runCtl(t *testing.T, api string, args ...string) (string, error) {
    t.Helper()
    cmd := newRootCmd()
    var out bytes.Buffer
    cmd.SetOut(&out)
    cmd.SetArgs(append([]string{"--api", api}, args...))
    err := cmd.Execute()
    return out.String(), err
}

func TestSendPostsMessage(t *testing.T) {
    var got httpgw.SendRequest
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodPost || r.URL.Path != "/v1/messages" { http.NotFound(w, r); return }
        _ = json.NewDecoder(r.Body).Decode(&got)
        w.WriteHeader(http.StatusAccepted)
        _ = json.NewEncoder(w).Encode(httpgw.SendResponse{Message: protocol.OutgoingMessage{ID: "m-1"}, Status: mesh.StatusQueued})
    }))
    defer srv.Close()

    out, err := runCtl(t, srv.URL, "send", "carol-abcdefgh", "hello there")
    if err != nil { t.Fatalf("send: %v", err) }
    if got.Recipient != "carol-abcdefgh" || got.Content != "hello there" || got.Type != protocol.MessageText { t.Fatalf("request = %+v", got) }
    if strings.TrimSpace(out) != "m-1\tqueued" { t.Fatalf("out = %q", out) }
}

func TestAPIErrorSurfaced(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        w.WriteHeader(http.StatusServiceUnavailable)
        _, _ = w.Write([]byte(`{"error":{"code":"not_active","message":"mesh not active"}}`))
    }))
    defer srv.Close()

    _, err := runCtl(t, strings.TrimPrefix(srv.URL, "http://"), "status", "m-1")
    if err == nil || !strings.Contains(err.Error(), "not_active") { t.Fatalf("err = %v", err) }
}

func TestRoutesTable(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        _ = json.NewEncoder(w).Encode([]protocol.Route{{Destination: "carol", NextHop: "bob", HopCount: 2}})
    }))
    defer srv.Close()
    out, err := runCtl(t, srv.URL, "routes")
    if err != nil { t.Fatalf("routes: %v", err) }
    if out != "carol\tvia bob\thops 2\n" { t.Fatalf("out = %q", out) }
}

func TestWSURL(t *testing.T) {
    c, _ := newClient("localhost:7947", 0)
    if got := c.wsURL("/v1/events"); got != "ws://localhost:7947/v1/events" { t.Fatalf("ws url = %q", got) }
    c, _ = newClient("https://node.local/", 0)
    if got := c.wsURL("/v1/events"); got != "wss://node.local/v1/events" { t.Fatalf("ws url = %q", got) }
}
