package protocol

import (
    "bytes"
    "testing"
)

func sampleEnvelope() Envelope {
    return Envelope{
        Message: OutgoingMessage{
            ID:          "m-1",
            RecipientID: "carol-abcd1234",
            Content:     "hi <there>",
            Type:        MessageText,
            Attachments: [][]byte{{0xAA, 0xBB}, bytes.Repeat([]byte{1}, 300)},
            TimestampMS: 1700000000123,
        },
        Route: Route{Destination: "carol-abcd1234", NextHop: "bob-0000aaaa", HopCount: 3},
    }
}

func TestEnvelopeSurvivesEveryFormat(t *testing.T) {
    for _, f := range []Format{FormatJSON, FormatCBOR, FormatProto} {
        w, err := NewWire(f)
        if err != nil { t.Fatalf("%s: new wire: %v", f, err) }
        in := sampleEnvelope()
        frame, err := w.Encode(FrameEnvelope, &in)
        if err != nil { t.Fatalf("%s: encode: %v", f, err) }

        // a receiver configured differently must still decode it
        rx, _ := NewWire(FormatJSON)
        h, payload, err := rx.Decode(frame)
        if err != nil { t.Fatalf("%s: decode: %v", f, err) }
        if h.Type != FrameEnvelope || h.Format != f { t.Fatalf("%s: header %#v", f, h) }
        var out Envelope
        if err := rx.Unmarshal(h, payload, &out); err != nil { t.Fatalf("%s: unmarshal: %v", f, err) }
        if out.Message.ID != in.Message.ID || out.Message.Content != in.Message.Content ||
            out.Message.Type != in.Message.Type || out.Message.TimestampMS != in.Message.TimestampMS ||
            out.Route != in.Route || len(out.Message.Attachments) != 2 ||
            !bytes.Equal(out.Message.Attachments[1], in.Message.Attachments[1]) {
            t.Fatalf("%s: mismatch: %#v", f, out)
        }
    }
}

func TestDiscoveryProtoWireSkipsUnknownFields(t *testing.T) {
    d := RouteDiscoveryMessage{DestinationID: "c", OriginID: "a", Hops: 4}
    b, _ := d.MarshalProtoWire()
    // field 15, varint 7: a newer peer's extension
    b = append(b, 0x78, 0x07)
    var out RouteDiscoveryMessage
    if err := out.UnmarshalProtoWire(b); err != nil { t.Fatalf("unmarshal: %v", err) }
    if out != d { t.Fatalf("mismatch: %#v", out) }
}

func TestDecodeTruncatedFrame(t *testing.T) {
    w, _ := NewWire(FormatCBOR)
    frame, err := w.Encode(FrameDiscovery, &RouteDiscoveryMessage{DestinationID: "x", OriginID: "y"})
    if err != nil { t.Fatalf("encode: %v", err) }
    if _, _, err := w.Decode(frame[:len(frame)-1]); err == nil {
        t.Fatalf("expected truncation error")
    }
}

func TestParseFormat(t *testing.T) {
    cases := map[string]Format{"json": FormatJSON, "CBOR": FormatCBOR, "": FormatCBOR, "protobuf": FormatProto}
    for in, want := range cases {
        got, err := ParseFormat(in)
        if err != nil || got != want { t.Fatalf("ParseFormat(%q) = %v, %v", in, got, err) }
    }
    if _, err := ParseFormat("xml"); err == nil { t.Fatalf("expected error") }
}
