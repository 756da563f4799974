package protocol

import (
    "fmt"

    "google.golang.org/protobuf/encoding/protowire"
)

// Protobuf wire encoding of the mesh messages. Field numbers match the cbor
// integer keys so both formats describe the same schema:
//
//  message OutgoingMessage { string id = 1; string recipient_id = 2; string content = 3;
//                            string type = 4; repeated bytes attachments = 5; int64 timestamp = 6; }
//  message Route { string destination = 1; string next_hop = 2; uint32 hop_count = 3; }
//  message Envelope { OutgoingMessage message = 1; Route route = 2; }
//  message RouteDiscoveryMessage { string destination_id = 1; string origin_id = 2; uint32 hops = 3; }
//  message Hello { uint32 ver = 1; string peer_id = 2; string node_name = 3; string alg = 4;
//                  bytes pubkey = 5; bytes nonce = 6; int64 ts_unix_ms = 7; bytes sig = 8; }

func appendString(b []byte, num protowire.Number, s string) []byte {
    if s == "" { return b }
    b = protowire.AppendTag(b, num, protowire.BytesType)
    return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
    if len(v) == 0 { return b }
    b = protowire.AppendTag(b, num, protowire.BytesType)
    return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
    if v == 0 { return b }
    b = protowire.AppendTag(b, num, protowire.VarintType)
    return protowire.AppendVarint(b, v)
}

// walkFields calls fn for every field in b. fn returns the number of value
// bytes it consumed; unknown fields are skipped.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) (int, error)) error {
    for len(b) > 0 {
        num, typ, n := protowire.ConsumeTag(b)
        if n < 0 { return protowire.ParseError(n) }
        b = b[n:]
        m, err := fn(num, typ, b)
        if err != nil { return err }
        if m == 0 {
            m = protowire.ConsumeFieldValue(num, typ, b)
        }
        if m < 0 { return protowire.ParseError(m) }
        b = b[m:]
    }
    return nil
}

func wantType(num protowire.Number, got, want protowire.Type) error {
    if got != want { return fmt.Errorf("proto field %d: wire type %d, want %d", num, got, want) }
    return nil
}

func consumeString(num protowire.Number, typ protowire.Type, v []byte, dst *string) (int, error) {
    if err := wantType(num, typ, protowire.BytesType); err != nil { return 0, err }
    s, n := protowire.ConsumeString(v)
    if n < 0 { return n, nil }
    *dst = s
    return n, nil
}

func consumeBytes(num protowire.Number, typ protowire.Type, v []byte, dst *[]byte) (int, error) {
    if err := wantType(num, typ, protowire.BytesType); err != nil { return 0, err }
    s, n := protowire.ConsumeBytes(v)
    if n < 0 { return n, nil }
    *dst = append([]byte(nil), s...)
    return n, nil
}

func consumeVarint(num protowire.Number, typ protowire.Type, v []byte, dst *uint64) (int, error) {
    if err := wantType(num, typ, protowire.VarintType); err != nil { return 0, err }
    x, n := protowire.ConsumeVarint(v)
    if n < 0 { return n, nil }
    *dst = x
    return n, nil
}

func (m OutgoingMessage) MarshalProtoWire() ([]byte, error) {
    var b []byte
    b = appendString(b, 1, m.ID)
    b = appendString(b, 2, m.RecipientID)
    b = appendString(b, 3, m.Content)
    b = appendString(b, 4, string(m.Type))
    for _, a := range m.Attachments {
        // repeated bytes keep empty elements so indexes survive
        b = protowire.AppendTag(b, 5, protowire.BytesType)
        b = protowire.AppendBytes(b, a)
    }
    b = appendVarint(b, 6, uint64(m.TimestampMS))
    return b, nil
}

func (m *OutgoingMessage) UnmarshalProtoWire(b []byte) error {
    *m = OutgoingMessage{}
    return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
        switch num {
        case 1:
            return consumeString(num, typ, v, &m.ID)
        case 2:
            return consumeString(num, typ, v, &m.RecipientID)
        case 3:
            return consumeString(num, typ, v, &m.Content)
        case 4:
            var s string
            n, err := consumeString(num, typ, v, &s)
            m.Type = MessageType(s)
            return n, err
        case 5:
            var a []byte
            n, err := consumeBytes(num, typ, v, &a)
            if err == nil && n >= 0 { m.Attachments = append(m.Attachments, a) }
            return n, err
        case 6:
            var x uint64
            n, err := consumeVarint(num, typ, v, &x)
            m.TimestampMS = int64(x)
            return n, err
        }
        return 0, nil
    })
}

func (r Route) MarshalProtoWire() ([]byte, error) {
    var b []byte
    b = appendString(b, 1, r.Destination)
    b = appendString(b, 2, r.NextHop)
    b = appendVarint(b, 3, uint64(r.HopCount))
    return b, nil
}

func (r *Route) UnmarshalProtoWire(b []byte) error {
    *r = Route{}
    return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
        switch num {
        case 1:
            return consumeString(num, typ, v, &r.Destination)
        case 2:
            return consumeString(num, typ, v, &r.NextHop)
        case 3:
            var x uint64
            n, err := consumeVarint(num, typ, v, &x)
            r.HopCount = uint32(x)
            return n, err
        }
        return 0, nil
    })
}

func (e Envelope) MarshalProtoWire() ([]byte, error) {
    msg, _ := e.Message.MarshalProtoWire()
    route, _ := e.Route.MarshalProtoWire()
    var b []byte
    b = protowire.AppendTag(b, 1, protowire.BytesType)
    b = protowire.AppendBytes(b, msg)
    b = protowire.AppendTag(b, 2, protowire.BytesType)
    b = protowire.AppendBytes(b, route)
    return b, nil
}

func (e *Envelope) UnmarshalProtoWire(b []byte) error {
    *e = Envelope{}
    return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
        var raw []byte
        switch num {
        case 1:
            n, err := consumeBytes(num, typ, v, &raw)
            if err != nil || n < 0 { return n, err }
            return n, e.Message.UnmarshalProtoWire(raw)
        case 2:
            n, err := consumeBytes(num, typ, v, &raw)
            if err != nil || n < 0 { return n, err }
            return n, e.Route.UnmarshalProtoWire(raw)
        }
        return 0, nil
    })
}

func (d RouteDiscoveryMessage) MarshalProtoWire() ([]byte, error) {
    var b []byte
    b = appendString(b, 1, d.DestinationID)
    b = appendString(b, 2, d.OriginID)
    b = appendVarint(b, 3, uint64(d.Hops))
    return b, nil
}

func (d *RouteDiscoveryMessage) UnmarshalProtoWire(b []byte) error {
    *d = RouteDiscoveryMessage{}
    return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
        switch num {
        case 1:
            return consumeString(num, typ, v, &d.DestinationID)
        case 2:
            return consumeString(num, typ, v, &d.OriginID)
        case 3:
            var x uint64
            n, err := consumeVarint(num, typ, v, &x)
            d.Hops = uint32(x)
            return n, err
        }
        return 0, nil
    })
}

func (h Hello) MarshalProtoWire() ([]byte, error) {
    var b []byte
    b = appendVarint(b, 1, uint64(h.Version))
    b = appendString(b, 2, h.PeerID)
    b = appendString(b, 3, h.NodeName)
    b = appendString(b, 4, h.Alg)
    b = appendBytes(b, 5, h.PubKey)
    b = appendBytes(b, 6, h.Nonce)
    b = appendVarint(b, 7, uint64(h.Timestamp))
    b = appendBytes(b, 8, h.Sig)
    return b, nil
}

func (h *Hello) UnmarshalProtoWire(b []byte) error {
    *h = Hello{}
    return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
        var x uint64
        switch num {
        case 1:
            n, err := consumeVarint(num, typ, v, &x)
            h.Version = uint32(x)
            return n, err
        case 2:
            return consumeString(num, typ, v, &h.PeerID)
        case 3:
            return consumeString(num, typ, v, &h.NodeName)
        case 4:
            return consumeString(num, typ, v, &h.Alg)
        case 5:
            return consumeBytes(num, typ, v, &h.PubKey)
        case 6:
            return consumeBytes(num, typ, v, &h.Nonce)
        case 7:
            n, err := consumeVarint(num, typ, v, &x)
            h.Timestamp = int64(x)
            return n, err
        case 8:
            return consumeBytes(num, typ, v, &h.Sig)
        }
        return 0, nil
    })
}
