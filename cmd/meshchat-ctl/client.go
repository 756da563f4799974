package main

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "strings"
    "time"
)

// client talks to a node's local API.
type client struct {
    base string
    http *http.Client
}

func newClient(api string, timeout time.Duration) (*client, error) {
    if !strings.Contains(api, "://") { api = "http://" + api }
    u, err := url.Parse(api)
    if err != nil { return nil, fmt.Errorf("bad --api: %w", err) }
    return &client{base: strings.TrimRight(u.String(), "/"), http: &http.Client{Timeout: timeout}}, nil
}

type apiError struct {
    Error struct {
        Code    string `json:"code"`
        Message string `json:"message"`
    } `json:"error"`
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
    var body io.Reader
    if in != nil {
        b, err := json.Marshal(in)
        if err != nil { return err }
        body = bytes.NewReader(b)
    }
    req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
    if err != nil { return err }
    if in != nil { req.Header.Set("Content-Type", "application/json") }
    resp, err := c.http.Do(req)
    if err != nil { return err }
    defer resp.Body.Close()
    if resp.StatusCode >= 300 {
        var e apiError
        if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error.Code != "" {
            return fmt.Errorf("%s: %s", e.Error.Code, e.Error.Message)
        }
        return fmt.Errorf("%s %s: %s", method, path, resp.Status)
    }
    if out == nil { return nil }
    return json.NewDecoder(resp.Body).Decode(out)
}

// wsURL returns the websocket address of path.
func (c *client) wsURL(path string) string {
    switch {
    case strings.HasPrefix(c.base, "https://"):
        return "wss://" + strings.TrimPrefix(c.base, "https://") + path
    default:
        return "ws://" + strings.TrimPrefix(c.base, "http://") + path
    }
}
