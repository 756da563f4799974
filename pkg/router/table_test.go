package router

import (
    "math/rand"
    "testing"

    "meshchat/pkg/protocol"
)

func route(dest, via string, hops uint32) protocol.Route {
    return protocol.Route{Destination: dest, NextHop: via, HopCount: hops}
}

func TestUpdateKeepsMinimumHopCount(t *testing.T) {
    tb := NewTable()
    rng := rand.New(rand.NewSource(7))
    lowest := uint32(1 << 31)
    for i := 0; i < 200; i++ {
        h := uint32(rng.Intn(10))
        tb.Update(route("carol", "bob", h))
        if h < lowest { lowest = h }
        got, ok := tb.Lookup("carol")
        if !ok { t.Fatalf("route missing after update %d", i) }
        if got.HopCount != lowest { t.Fatalf("step %d: hop count %d, want minimum %d", i, got.HopCount, lowest) }
    }
}

func TestUpdateTieDoesNotReplace(t *testing.T) {
    tb := NewTable()
    if !tb.Update(route("carol", "bob", 2)) { t.Fatalf("first route rejected") }
    if tb.Update(route("carol", "dave", 2)) { t.Fatalf("equal hop count replaced stored route") }
    if r, _ := tb.Lookup("carol"); r.NextHop != "bob" { t.Fatalf("next hop = %s", r.NextHop) }
    if !tb.Update(route("carol", "dave", 1)) { t.Fatalf("shorter route rejected") }
}

func TestInvalidateViaPurgesOnlyThatNextHop(t *testing.T) {
    tb := NewTable()
    var changes []Change
    tb.OnChange = func(c Change) { changes = append(changes, c) }

    tb.Update(route("bob", "bob", 0))
    tb.Update(route("carol", "bob", 1))
    tb.Update(route("erin", "bob", 3))
    tb.Update(route("dave", "dave", 0))

    if n := tb.InvalidateVia("bob"); n != 3 { t.Fatalf("removed %d routes", n) }
    for _, r := range tb.Snapshot() {
        if r.NextHop == "bob" { t.Fatalf("route via bob survived: %+v", r) }
    }
    if _, ok := tb.Lookup("dave"); !ok { t.Fatalf("unrelated route removed") }
    if len(changes) != 7 || changes[4].Kind != RouteRemoved || changes[4].Route.Destination != "bob" {
        t.Fatalf("changes = %+v", changes)
    }

    // the destination accepts any route again once purged
    if !tb.Update(route("carol", "dave", 4)) { t.Fatalf("route after purge rejected") }
}
