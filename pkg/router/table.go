// Package router holds the mesh routing table: one route per destination,
// replaced only by a strictly shorter one.
package router

import (
    "sort"

    "go.uber.org/zap"

    "meshchat/pkg/protocol"
    "meshchat/pkg/transport"
)

// ChangeKind tells whether a route was stored or removed.
type ChangeKind int

const (
    RouteAdded ChangeKind = iota + 1
    RouteRemoved
)

func (k ChangeKind) String() string {
    if k == RouteAdded { return "added" }
    return "removed"
}

// Change is reported for every mutation of the table.
type Change struct {
    Kind  ChangeKind
    Route protocol.Route
}

// Table is not safe for concurrent use; the mesh service serializes access.
// OnChange, when set, is called after each mutation has been applied.
type Table struct {
    routes   map[string]protocol.Route
    OnChange func(Change)
}

func NewTable() *Table { return &Table{routes: make(map[string]protocol.Route)} }

// Lookup returns the current route to dest.
func (t *Table) Lookup(dest transport.PeerID) (protocol.Route, bool) {
    r, ok := t.routes[string(dest)]
    return r, ok
}

// Update stores candidate if there is no route to its destination yet or
// its hop count is strictly smaller than the stored one.
func (t *Table) Update(candidate protocol.Route) bool {
    if candidate.Destination == "" || candidate.NextHop == "" { return false }
    if cur, ok := t.routes[candidate.Destination]; ok && candidate.HopCount >= cur.HopCount {
        zap.L().Debug("route ignored (worse)",
            zap.String("dest", candidate.Destination),
            zap.String("via", candidate.NextHop), zap.Uint32("hops", candidate.HopCount),
            zap.String("current_via", cur.NextHop), zap.Uint32("current_hops", cur.HopCount))
        return false
    }
    t.routes[candidate.Destination] = candidate
    zap.L().Info("route learned", zap.String("dest", candidate.Destination), zap.String("via", candidate.NextHop), zap.Uint32("hops", candidate.HopCount))
    t.notify(Change{Kind: RouteAdded, Route: candidate})
    return true
}

// InvalidateVia removes every route whose next hop is peer and returns how
// many were removed. Alternate paths are not retained, so the affected
// destinations stay unreachable until a fresh discovery succeeds.
func (t *Table) InvalidateVia(peer transport.PeerID) int {
    var removed []protocol.Route
    for dest, r := range t.routes {
        if r.NextHop == string(peer) {
            delete(t.routes, dest)
            removed = append(removed, r)
        }
    }
    sort.Slice(removed, func(i, j int) bool { return removed[i].Destination < removed[j].Destination })
    for _, r := range removed {
        zap.L().Debug("route purged", zap.String("dest", r.Destination), zap.String("via", r.NextHop))
        t.notify(Change{Kind: RouteRemoved, Route: r})
    }
    return len(removed)
}

// Snapshot returns all routes sorted by destination.
func (t *Table) Snapshot() []protocol.Route {
    out := make([]protocol.Route, 0, len(t.routes))
    for _, r := range t.routes { out = append(out, r) }
    sort.Slice(out, func(i, j int) bool { return out[i].Destination < out[j].Destination })
    return out
}

func (t *Table) Len() int { return len(t.routes) }

// Clear empties the table without notifying.
func (t *Table) Clear() { t.routes = make(map[string]protocol.Route) }

func (t *Table) notify(c Change) {
    if t.OnChange != nil { t.OnChange(c) }
}
