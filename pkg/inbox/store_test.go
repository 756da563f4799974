package inbox

import (
    "errors"
    "math"
    "path/filepath"
    "testing"
    "time"

    "meshchat/pkg/mesh"
    "meshchat/pkg/protocol"
)

func openTemp(t *testing.T) *Store {
    t.Helper()
    s, err := Open(filepath.Join(t.TempDir(), "sub", "inbox.db"))
    if err != nil { t.Fatalf("open: %v", err) }
    t.Cleanup(func() { _ = s.Close() })
    return s
}

func received(id, content string) mesh.Event {
    return mesh.Event{Kind: mesh.EventMessageReceived, At: time.Now(), Message: &mesh.ReceivedMessage{
        Message:  protocol.OutgoingMessage{ID: id, RecipientID: "carol", Content: content, Type: protocol.MessageText},
        HopCount: 2,
        From:     "bob",
    }}
}

func TestRecordAndPage(t *testing.T) {
    s := openTemp(t)
    for i, id := range []string{"m1", "m2", "m3"} {
        if err := s.Record(received(id, "msg "+id)); err != nil { t.Fatalf("record %d: %v", i, err) }
    }
    all, err := s.Messages(0, 0)
    if err != nil { t.Fatalf("messages: %v", err) }
    if len(all) != 3 || all[0].Message.ID != "m1" || all[2].Seq != 3 || all[1].From != "bob" || all[1].HopCount != 2 { t.Fatalf("all = %+v", all) }

    page, _ := s.Messages(all[0].Seq, 1)
    if len(page) != 1 || page[0].Message.ID != "m2" { t.Fatalf("page = %+v", page) }
    rest, _ := s.Messages(3, 10)
    if len(rest) != 0 { t.Fatalf("rest = %+v", rest) }
    last, err := s.Messages(math.MaxUint64, 0)
    if err != nil || len(last) != 0 { t.Fatalf("after max = %+v, %v", last, err) }

    st, err := s.Status("m2")
    if err != nil || st.Status != mesh.StatusReceived { t.Fatalf("status = %+v, %v", st, err) }
}

func TestStatusTracksLatest(t *testing.T) {
    s := openTemp(t)
    _ = s.Record(mesh.Event{Kind: mesh.EventStatusChanged, Status: &mesh.StatusUpdate{MessageID: "x", Status: mesh.StatusQueued}})
    _ = s.Record(mesh.Event{Kind: mesh.EventDeliveryFailed, Failure: &mesh.DeliveryFailure{Message: protocol.OutgoingMessage{ID: "x"}, Reason: "ttl"}})
    st, err := s.Status("x")
    if err != nil || st.Status != mesh.StatusFailed { t.Fatalf("status = %+v, %v", st, err) }
    if _, err := s.Status("nope"); !errors.Is(err, ErrNotFound) { t.Fatalf("err = %v", err) }
    // events the inbox does not keep are ignored
    if err := s.Record(mesh.Event{Kind: mesh.EventPeersChanged}); err != nil { t.Fatalf("peers event: %v", err) }
}

func TestReopenKeepsMessages(t *testing.T) {
    path := filepath.Join(t.TempDir(), "inbox.db")
    s, err := Open(path)
    if err != nil { t.Fatalf("open: %v", err) }
    _ = s.Record(received("keep", "persisted"))
    _ = s.Close()

    s, err = Open(path)
    if err != nil { t.Fatalf("reopen: %v", err) }
    defer s.Close()
    got, _ := s.Messages(0, 0)
    if len(got) != 1 || got[0].Message.Content != "persisted" { t.Fatalf("got = %+v", got) }
}
