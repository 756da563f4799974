// Package mdns advertises the local node and browses for peers on the LAN
// using multicast DNS service discovery.
package mdns

import (
    "context"
    "fmt"
    "net"
    "sort"
    "strconv"
    "strings"
    "time"

    "github.com/grandcat/zeroconf"
    "go.uber.org/zap"

    "meshchat/pkg/transport"
)

// Config selects the DNS-SD service advertised and browsed.
type Config struct {
    Service string // e.g. _meshchat._tcp
    Domain  string // e.g. local.
    Port    int    // port of the listener peers should dial
}

// Browser implements advertising and browsing over zeroconf.
type Browser struct {
    cfg Config
}

func New(cfg Config) *Browser {
    if cfg.Service == "" { cfg.Service = "_meshchat._tcp" }
    if cfg.Domain == "" { cfg.Domain = "local." }
    return &Browser{cfg: cfg}
}

// Advertise registers self until stop is called or ctx is done.
func (b *Browser) Advertise(ctx context.Context, self transport.PeerInfo) (func(), error) {
    port := b.cfg.Port
    if port == 0 { port = portOf(self.Addr) }
    if port == 0 { return nil, fmt.Errorf("mdns: no port to advertise for %q", self.Addr) }
    txt := []string{"id=" + string(self.ID), "kind=" + self.Kind.String()}
    server, err := zeroconf.Register(string(self.ID), b.cfg.Service, b.cfg.Domain, port, txt, nil)
    if err != nil { return nil, err }
    zap.L().Info("mdns advertising", zap.String("service", b.cfg.Service), zap.String("peer", string(self.ID)), zap.Int("port", port))

    done := make(chan struct{})
    stop := func() {
        select {
        case <-done:
        default:
            close(done)
            server.Shutdown()
        }
    }
    go func() {
        select {
        case <-ctx.Done():
            stop()
        case <-done:
        }
    }()
    return stop, nil
}

// Browse resolves advertised peers until ctx is done. Entries with a zero TTL
// are goodbye announcements and reported as lost. Goodbyes are often never
// received, so a peer whose record expires without being seen again is
// reported as lost too.
func (b *Browser) Browse(ctx context.Context, found func(transport.PeerInfo), lost func(transport.PeerID)) error {
    resolver, err := zeroconf.NewResolver(nil)
    if err != nil { return err }
    entries := make(chan *zeroconf.ServiceEntry)
    go func(results <-chan *zeroconf.ServiceEntry) {
        seen := newSightings(lostGrace)
        tick := time.NewTicker(sweepEvery)
        defer tick.Stop()
        for {
            select {
            case <-ctx.Done():
                return
            case entry, ok := <-results:
                if !ok { return }
                pi, ok := peerFromEntry(entry)
                if !ok { continue }
                if entry.TTL == 0 {
                    seen.forget(pi.ID)
                    lost(pi.ID)
                    continue
                }
                seen.add(pi.ID, entry.TTL, time.Now())
                found(pi)
            case now := <-tick.C:
                for _, id := range seen.expired(now) {
                    zap.L().Debug("mdns record expired", zap.String("peer", string(id)))
                    lost(id)
                }
            }
        }
    }(entries)
    return resolver.Browse(ctx, b.cfg.Service, b.cfg.Domain, entries)
}

const (
    // the resolver re-queries at most a minute apart once a record lapses
    lostGrace  = 2 * time.Minute
    sweepEvery = 30 * time.Second
)

// sightings holds the time each browsed peer's record lapses.
type sightings struct {
    grace time.Duration
    until map[transport.PeerID]time.Time
}

func newSightings(grace time.Duration) *sightings {
    return &sightings{grace: grace, until: make(map[transport.PeerID]time.Time)}
}

func (s *sightings) add(id transport.PeerID, ttl uint32, now time.Time) {
    s.until[id] = now.Add(time.Duration(ttl)*time.Second + s.grace)
}

func (s *sightings) forget(id transport.PeerID) { delete(s.until, id) }

// expired removes and returns the peers whose record lapsed before now.
func (s *sightings) expired(now time.Time) []transport.PeerID {
    var out []transport.PeerID
    for id, t := range s.until {
        if now.After(t) {
            delete(s.until, id)
            out = append(out, id)
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
    return out
}

func peerFromEntry(e *zeroconf.ServiceEntry) (transport.PeerInfo, bool) {
    var pi transport.PeerInfo
    for _, kv := range e.Text {
        k, v, ok := strings.Cut(kv, "=")
        if !ok { continue }
        switch k {
        case "id":
            pi.ID = transport.PeerID(v)
        case "kind":
            pi.Kind = ParseKind(v)
        }
    }
    if pi.ID == "" { pi.ID = transport.PeerID(e.Instance) }
    var ip net.IP
    if len(e.AddrIPv4) > 0 {
        ip = e.AddrIPv4[0]
    } else if len(e.AddrIPv6) > 0 {
        ip = e.AddrIPv6[0]
    }
    if ip == nil || e.Port == 0 { return pi, pi.ID != "" && e.TTL == 0 }
    pi.Addr = net.JoinHostPort(ip.String(), strconv.Itoa(e.Port))
    return pi, true
}

// ParseKind maps a kind string back to a transport.Kind.
func ParseKind(s string) transport.Kind {
    switch s {
    case "quic":
        return transport.KindQUICDirect
    case "tcp":
        return transport.KindTCPDirect
    case "mem":
        return transport.KindMem
    default:
        return transport.KindUnknown
    }
}

func portOf(addr string) int {
    _, p, err := net.SplitHostPort(addr)
    if err != nil { return 0 }
    n, _ := strconv.Atoi(p)
    return n
}
