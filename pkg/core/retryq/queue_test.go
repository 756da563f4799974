package retryq

import (
    "errors"
    "fmt"
    "testing"
    "time"

    "meshchat/pkg/protocol"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newQueue(order Order) (*Queue, *clock) {
    c := &clock{t: time.Unix(1700000000, 0)}
    q := New(3, 5*time.Minute, order)
    q.now = c.now
    return q, c
}

func msg(id string) protocol.OutgoingMessage {
    return protocol.OutgoingMessage{ID: id, RecipientID: "carol", Content: id, Type: protocol.MessageText}
}

var errNoRoute = errors.New("no route")

func TestDrainNewestFirst(t *testing.T) {
    q, _ := newQueue(NewestFirst)
    for i := 1; i <= 3; i++ { q.Enqueue(msg(fmt.Sprint(i))) }
    var order []string
    res := q.Drain(func(m protocol.OutgoingMessage) error { order = append(order, m.ID); return nil })
    if fmt.Sprint(order) != "[3 2 1]" { t.Fatalf("order = %v", order) }
    if len(res.Sent) != 3 || q.Len() != 0 { t.Fatalf("res = %+v len=%d", res, q.Len()) }
}

func TestDrainOldestFirst(t *testing.T) {
    q, _ := newQueue(OldestFirst)
    for i := 1; i <= 3; i++ { q.Enqueue(msg(fmt.Sprint(i))) }
    var order []string
    q.Drain(func(m protocol.OutgoingMessage) error { order = append(order, m.ID); return errNoRoute })
    if fmt.Sprint(order) != "[1 2 3]" { t.Fatalf("order = %v", order) }
    if q.Len() != 3 { t.Fatalf("failed entries removed early") }
}

func TestDroppedAfterThreeAttempts(t *testing.T) {
    q, c := newQueue(NewestFirst)
    q.Enqueue(msg("a"))
    fail := func(protocol.OutgoingMessage) error { return errNoRoute }
    for i := 1; i <= 2; i++ {
        c.advance(time.Second)
        if res := q.Drain(fail); len(res.Dropped) != 0 || q.Snapshot()[0].Attempts != i {
            t.Fatalf("drain %d: res=%+v queue=%+v", i, res, q.Snapshot())
        }
    }
    res := q.Drain(fail)
    if len(res.Dropped) != 1 || res.Dropped[0].Reason != DropAttempts || res.Dropped[0].Attempts != 3 {
        t.Fatalf("third drain = %+v", res)
    }
    if q.Len() != 0 { t.Fatalf("entry kept after attempt limit") }
}

func TestSweepEnforcesTTL(t *testing.T) {
    q, c := newQueue(NewestFirst)
    q.Enqueue(msg("old"))
    c.advance(4 * time.Minute)
    q.Enqueue(msg("young"))
    c.advance(90 * time.Second)

    dropped := q.Sweep()
    if len(dropped) != 1 || dropped[0].Message.ID != "old" || dropped[0].Reason != DropTTL { t.Fatalf("dropped = %+v", dropped) }
    if q.Len() != 1 { t.Fatalf("len = %d", q.Len()) }
}

func TestFailedAttemptRefreshesTTL(t *testing.T) {
    q, c := newQueue(NewestFirst)
    q.Enqueue(msg("a"))
    c.advance(4 * time.Minute)
    q.Drain(func(protocol.OutgoingMessage) error { return errNoRoute })
    c.advance(4 * time.Minute)
    if d := q.Sweep(); len(d) != 0 { t.Fatalf("refreshed entry expired: %+v", d) }
    c.advance(2 * time.Minute)
    if d := q.Sweep(); len(d) != 1 { t.Fatalf("entry outlived ttl") }
}

func TestDrainSkipsExpired(t *testing.T) {
    q, c := newQueue(NewestFirst)
    q.Enqueue(msg("a"))
    c.advance(6 * time.Minute)
    tried := 0
    res := q.Drain(func(protocol.OutgoingMessage) error { tried++; return nil })
    if tried != 0 || len(res.Dropped) != 1 { t.Fatalf("tried=%d res=%+v", tried, res) }
}

func TestEnqueueIgnoresDuplicateID(t *testing.T) {
    q, _ := newQueue(NewestFirst)
    q.Enqueue(msg("a"))
    q.Enqueue(msg("a"))
    if q.Len() != 1 { t.Fatalf("len = %d", q.Len()) }
    if got := q.Clear(); len(got) != 1 || q.Len() != 0 { t.Fatalf("clear = %v", got) }
}
