package main

import (
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "strconv"
    "time"

    "github.com/gorilla/websocket"
    "github.com/spf13/cobra"

    httpgw "meshchat/pkg/gateway/http"
    "meshchat/pkg/inbox"
    "meshchat/pkg/mesh"
    "meshchat/pkg/protocol"
    "meshchat/pkg/transport"
)

type globals struct {
    api     string
    timeout time.Duration
}

func newRootCmd() *cobra.Command {
    g := &globals{}
    root := &cobra.Command{
        Use:           "meshchat-ctl",
        Short:         "inspect and drive a running meshchat node",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    root.PersistentFlags().StringVar(&g.api, "api", "127.0.0.1:7947", "node API address")
    root.PersistentFlags().DurationVar(&g.timeout, "timeout", 5*time.Second, "request timeout")
    root.AddCommand(peersCmd(g), routesCmd(g), sendCmd(g), statusCmd(g), inboxCmd(g), watchCmd(g))
    return root
}

func (g *globals) client() (*client, error) { return newClient(g.api, g.timeout) }

func printJSON(w io.Writer, v any) error {
    enc := json.NewEncoder(w)
    enc.SetIndent("", "  ")
    return enc.Encode(v)
}

func peersCmd(g *globals) *cobra.Command {
    return &cobra.Command{
        Use:   "peers [peer-id]",
        Short: "list connected peers, or show how one peer is reached",
        Args:  cobra.MaximumNArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            c, err := g.client()
            if err != nil { return err }
            if len(args) == 1 {
                var pm httpgw.PeerMeshResponse
                if err := c.do(cmd.Context(), http.MethodGet, "/v1/peers/"+url.PathEscape(args[0])+"/mesh", nil, &pm); err != nil { return err }
                return printJSON(cmd.OutOrStdout(), pm)
            }
            var resp httpgw.PeersResponse
            if err := c.do(cmd.Context(), http.MethodGet, "/v1/peers", nil, &resp); err != nil { return err }
            return printJSON(cmd.OutOrStdout(), resp)
        },
    }
}

func routesCmd(g *globals) *cobra.Command {
    return &cobra.Command{
        Use:   "routes",
        Short: "print the routing table",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            c, err := g.client()
            if err != nil { return err }
            var routes []protocol.Route
            if err := c.do(cmd.Context(), http.MethodGet, "/v1/routes", nil, &routes); err != nil { return err }
            w := cmd.OutOrStdout()
            for _, r := range routes { fmt.Fprintf(w, "%s\tvia %s\thops %d\n", r.Destination, r.NextHop, r.HopCount) }
            return nil
        },
    }
}

func sendCmd(g *globals) *cobra.Command {
    var system bool
    cmd := &cobra.Command{
        Use:   "send <peer-id> <text>",
        Short: "send a chat message",
        Args:  cobra.ExactArgs(2),
        RunE: func(cmd *cobra.Command, args []string) error {
            c, err := g.client()
            if err != nil { return err }
            req := httpgw.SendRequest{Recipient: transport.PeerID(args[0]), Content: args[1], Type: protocol.MessageText}
            if system { req.Type = protocol.MessageSystem }
            var resp httpgw.SendResponse
            if err := c.do(cmd.Context(), http.MethodPost, "/v1/messages", req, &resp); err != nil { return err }
            fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", resp.Message.ID, resp.Status)
            return nil
        },
    }
    cmd.Flags().BoolVar(&system, "system", false, "send as a system message")
    return cmd
}

func statusCmd(g *globals) *cobra.Command {
    return &cobra.Command{
        Use:   "status <message-id>",
        Short: "show the delivery status of a message",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            c, err := g.client()
            if err != nil { return err }
            var st httpgw.StatusResponse
            if err := c.do(cmd.Context(), http.MethodGet, "/v1/messages/"+url.PathEscape(args[0])+"/status", nil, &st); err != nil { return err }
            fmt.Fprintln(cmd.OutOrStdout(), st.Status)
            return nil
        },
    }
}

func inboxCmd(g *globals) *cobra.Command {
    var (
        after uint64
        limit int
    )
    cmd := &cobra.Command{
        Use:   "inbox",
        Short: "list received messages",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            c, err := g.client()
            if err != nil { return err }
            q := url.Values{}
            q.Set("after", strconv.FormatUint(after, 10))
            q.Set("limit", strconv.Itoa(limit))
            var entries []inbox.Entry
            if err := c.do(cmd.Context(), http.MethodGet, "/v1/inbox?"+q.Encode(), nil, &entries); err != nil { return err }
            w := cmd.OutOrStdout()
            for _, e := range entries {
                fmt.Fprintf(w, "%d\t%s\t%s (hops %d)\t%s\n", e.Seq, e.ReceivedAt.Format(time.RFC3339), e.Message.ID, e.HopCount, e.Message.Content)
            }
            return nil
        },
    }
    cmd.Flags().Uint64Var(&after, "after", 0, "only entries with a larger sequence number")
    cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries")
    return cmd
}

func watchCmd(g *globals) *cobra.Command {
    return &cobra.Command{
        Use:   "watch",
        Short: "stream peer, route and message events",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            c, err := g.client()
            if err != nil { return err }
            ws, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), c.wsURL("/v1/events"), nil)
            if err != nil { return err }
            defer ws.Close()
            go func() {
                <-cmd.Context().Done()
                _ = ws.Close()
            }()
            w := cmd.OutOrStdout()
            for {
                var ev mesh.Event
                if err := ws.ReadJSON(&ev); err != nil {
                    if cmd.Context().Err() != nil || websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) { return nil }
                    return err
                }
                fmt.Fprintln(w, describe(ev))
            }
        },
    }
}

func describe(ev mesh.Event) string {
    ts := ev.At.Format("15:04:05")
    switch ev.Kind {
    case mesh.EventPeersChanged:
        return fmt.Sprintf("%s peers %v", ts, ev.Peers)
    case mesh.EventRoutesChanged:
        return fmt.Sprintf("%s routes %d", ts, len(ev.Routes))
    case mesh.EventMessageReceived:
        if ev.Message == nil { break }
        return fmt.Sprintf("%s message %s via %s (hops %d): %s", ts, ev.Message.Message.ID, ev.Message.From, ev.Message.HopCount, ev.Message.Message.Content)
    case mesh.EventDeliveryFailed:
        if ev.Failure == nil { break }
        return fmt.Sprintf("%s delivery failed %s to %s (%s)", ts, ev.Failure.Message.ID, ev.Failure.Message.RecipientID, ev.Failure.Reason)
    case mesh.EventStatusChanged:
        if ev.Status == nil { break }
        return fmt.Sprintf("%s status %s %s", ts, ev.Status.MessageID, ev.Status.Status)
    }
    return fmt.Sprintf("%s %s", ts, ev.Kind)
}
