// Package inbox persists messages addressed to this node and the last
// delivery status of every message the node has seen.
package inbox

import (
    "encoding/binary"
    "encoding/json"
    "errors"
    "fmt"
    "math"
    "os"
    "path/filepath"
    "time"

    bolt "go.etcd.io/bbolt"

    "meshchat/pkg/mesh"
    "meshchat/pkg/protocol"
    "meshchat/pkg/transport"
)

var (
    messagesBucket = []byte("messages")
    statusBucket   = []byte("status")

    ErrNotFound = errors.New("inbox: not found")
)

// Entry is one received message.
type Entry struct {
    Seq        uint64                   `json:"seq"`
    Message    protocol.OutgoingMessage `json:"message"`
    From       transport.PeerID         `json:"from"`
    HopCount   uint32                   `json:"hopCount"`
    ReceivedAt time.Time                `json:"receivedAt"`
}

// StatusRecord is the latest status known for a message id.
type StatusRecord struct {
    MessageID string      `json:"messageID"`
    Status    mesh.Status `json:"status"`
    At        time.Time   `json:"at"`
}

type Store struct {
    db *bolt.DB
}

var _ mesh.Archive = (*Store)(nil)

// Open creates or opens the store at path.
func Open(path string) (*Store, error) {
    if path == "" { return nil, errors.New("inbox path required") }
    if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { return nil, fmt.Errorf("inbox: mkdir: %w", err) }
    db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
    if err != nil { return nil, fmt.Errorf("inbox: open: %w", err) }
    err = db.Update(func(tx *bolt.Tx) error {
        if _, err := tx.CreateBucketIfNotExists(messagesBucket); err != nil { return err }
        _, err := tx.CreateBucketIfNotExists(statusBucket)
        return err
    })
    if err != nil {
        _ = db.Close()
        return nil, fmt.Errorf("inbox: init buckets: %w", err)
    }
    return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Add appends a received message and returns its sequence number.
func (s *Store) Add(m mesh.ReceivedMessage) (uint64, error) {
    var seq uint64
    err := s.db.Update(func(tx *bolt.Tx) error {
        b := tx.Bucket(messagesBucket)
        var err error
        seq, err = b.NextSequence()
        if err != nil { return err }
        data, err := json.Marshal(Entry{Seq: seq, Message: m.Message, From: m.From, HopCount: m.HopCount, ReceivedAt: m.ReceivedAt})
        if err != nil { return err }
        return b.Put(seqKey(seq), data)
    })
    return seq, err
}

// Messages returns up to limit entries with Seq > after, oldest first.
// limit <= 0 returns everything.
func (s *Store) Messages(after uint64, limit int) ([]Entry, error) {
    out := []Entry{}
    if after == math.MaxUint64 { return out, nil }
    err := s.db.View(func(tx *bolt.Tx) error {
        c := tx.Bucket(messagesBucket).Cursor()
        for k, v := c.Seek(seqKey(after + 1)); k != nil; k, v = c.Next() {
            var e Entry
            if err := json.Unmarshal(v, &e); err != nil { return err }
            out = append(out, e)
            if limit > 0 && len(out) >= limit { break }
        }
        return nil
    })
    return out, err
}

// SetStatus records st as the latest status of id.
func (s *Store) SetStatus(id string, st mesh.Status, at time.Time) error {
    data, err := json.Marshal(StatusRecord{MessageID: id, Status: st, At: at})
    if err != nil { return err }
    return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(statusBucket).Put([]byte(id), data) })
}

// Status returns the stored status of id or ErrNotFound.
func (s *Store) Status(id string) (StatusRecord, error) {
    var rec StatusRecord
    err := s.db.View(func(tx *bolt.Tx) error {
        v := tx.Bucket(statusBucket).Get([]byte(id))
        if v == nil { return ErrNotFound }
        return json.Unmarshal(v, &rec)
    })
    return rec, err
}

// Record stores the parts of ev the inbox keeps.
func (s *Store) Record(ev mesh.Event) error {
    switch ev.Kind {
    case mesh.EventMessageReceived:
        if ev.Message == nil { return nil }
        if _, err := s.Add(*ev.Message); err != nil { return err }
        return s.SetStatus(ev.Message.Message.ID, mesh.StatusReceived, ev.At)
    case mesh.EventStatusChanged:
        if ev.Status == nil { return nil }
        return s.SetStatus(ev.Status.MessageID, ev.Status.Status, ev.At)
    case mesh.EventDeliveryFailed:
        if ev.Failure == nil { return nil }
        return s.SetStatus(ev.Failure.Message.ID, mesh.StatusFailed, ev.At)
    }
    return nil
}

func seqKey(seq uint64) []byte {
    k := make([]byte, 8)
    binary.BigEndian.PutUint64(k, seq)
    return k
}
