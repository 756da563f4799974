// Package retryq buffers messages that are waiting for a route.
package retryq

import (
    "time"

    "go.uber.org/zap"

    "meshchat/pkg/protocol"
)

const (
    DefaultMaxAttempts = 3
    DefaultTTL         = 5 * time.Minute
)

// Order selects which queued message a drain tries first.
type Order int

const (
    // NewestFirst walks the queue from the most recently enqueued entry.
    NewestFirst Order = iota
    OldestFirst
)

// Pending is one queued message.
type Pending struct {
    Message     protocol.OutgoingMessage
    Attempts    int
    LastAttempt time.Time
}

// DropReason explains why a message left the queue undelivered.
type DropReason string

const (
    DropAttempts DropReason = "attempts"
    DropTTL      DropReason = "ttl"
)

type Drop struct {
    Pending
    Reason DropReason
}

// Result summarises one drain.
type Result struct {
    Sent    []protocol.OutgoingMessage
    Dropped []Drop
    Kept    int
}

// Queue is not safe for concurrent use; the mesh service serializes access.
type Queue struct {
    items       []*Pending
    maxAttempts int
    ttl         time.Duration
    order       Order
    now         func() time.Time
}

func New(maxAttempts int, ttl time.Duration, order Order) *Queue {
    if maxAttempts <= 0 { maxAttempts = DefaultMaxAttempts }
    if ttl <= 0 { ttl = DefaultTTL }
    return &Queue{maxAttempts: maxAttempts, ttl: ttl, order: order, now: time.Now}
}

// Enqueue appends msg with no attempts. A message already queued under the
// same id is left as is.
func (q *Queue) Enqueue(msg protocol.OutgoingMessage) {
    for _, p := range q.items {
        if p.Message.ID == msg.ID { return }
    }
    q.items = append(q.items, &Pending{Message: msg, LastAttempt: q.now()})
}

// Drain offers every queued message to try once. A message try accepts is
// removed; a refused one gains an attempt and is dropped when it reaches the
// attempt limit. Expired entries are swept first and never tried.
func (q *Queue) Drain(try func(protocol.OutgoingMessage) error) Result {
    res := Result{Dropped: q.Sweep()}
    if len(q.items) == 0 { return res }

    batch := make([]*Pending, len(q.items))
    copy(batch, q.items)
    if q.order == NewestFirst {
        for i, j := 0, len(batch)-1; i < j; i, j = i+1, j-1 { batch[i], batch[j] = batch[j], batch[i] }
    }

    remove := make(map[*Pending]bool)
    for _, p := range batch {
        err := try(p.Message)
        if err == nil {
            remove[p] = true
            res.Sent = append(res.Sent, p.Message)
            continue
        }
        p.Attempts++
        p.LastAttempt = q.now()
        if p.Attempts >= q.maxAttempts {
            remove[p] = true
            res.Dropped = append(res.Dropped, Drop{Pending: *p, Reason: DropAttempts})
            zap.L().Info("pending message dropped", zap.String("id", p.Message.ID), zap.String("to", p.Message.RecipientID), zap.Int("attempts", p.Attempts), zap.Error(err))
            continue
        }
        zap.L().Debug("pending retry failed", zap.String("id", p.Message.ID), zap.Int("attempts", p.Attempts), zap.Error(err))
    }
    q.filter(func(p *Pending) bool { return !remove[p] })
    res.Kept = len(q.items)
    return res
}

// Sweep removes entries whose last attempt is older than the TTL,
// regardless of their attempt count.
func (q *Queue) Sweep() []Drop {
    cutoff := q.now().Add(-q.ttl)
    var dropped []Drop
    q.filter(func(p *Pending) bool {
        if p.LastAttempt.Before(cutoff) {
            dropped = append(dropped, Drop{Pending: *p, Reason: DropTTL})
            zap.L().Info("pending message expired", zap.String("id", p.Message.ID), zap.String("to", p.Message.RecipientID), zap.Int("attempts", p.Attempts))
            return false
        }
        return true
    })
    return dropped
}

// Snapshot returns copies of the queued entries in insertion order.
func (q *Queue) Snapshot() []Pending {
    out := make([]Pending, len(q.items))
    for i, p := range q.items { out[i] = *p }
    return out
}

func (q *Queue) Len() int { return len(q.items) }

// Clear empties the queue and returns what was in it.
func (q *Queue) Clear() []Pending {
    out := q.Snapshot()
    q.items = nil
    return out
}

func (q *Queue) filter(keep func(*Pending) bool) {
    kept := q.items[:0]
    for _, p := range q.items {
        if keep(p) { kept = append(kept, p) }
    }
    for i := len(kept); i < len(q.items); i++ { q.items[i] = nil }
    q.items = kept
}
