package codec

import (
    "bytes"
    "testing"

    "google.golang.org/protobuf/types/known/structpb"
)

func TestJSONCodecKeepsMarkup(t *testing.T) {
    c := JSON()
    in := map[string]any{"a": 1, "b": "<hi & bye>"}
    b, err := c.Marshal(in)
    if err != nil { t.Fatalf("marshal: %v", err) }
    if !bytes.Contains(b, []byte("<hi & bye>")) { t.Fatalf("markup escaped: %s", b) }
    if bytes.HasSuffix(b, []byte("\n")) { t.Fatalf("trailing newline kept") }
    var out map[string]any
    if err := c.Unmarshal(b, &out); err != nil { t.Fatalf("unmarshal: %v", err) }
    if out["a"].(float64) != 1 || out["b"].(string) != "<hi & bye>" {
        t.Fatalf("roundtrip mismatch: %#v", out)
    }
}

func TestCBORCodec(t *testing.T) {
    c, err := CBOR()
    if err != nil { t.Fatalf("new cbor: %v", err) }
    type item struct {
        N uint32 `cbor:"1,keyasint"`
        S string `cbor:"2,keyasint"`
    }
    b, err := c.Marshal(item{N: 42, S: "x"})
    if err != nil { t.Fatalf("marshal: %v", err) }
    var out item
    if err := c.Unmarshal(b, &out); err != nil { t.Fatalf("unmarshal: %v", err) }
    if out.N != 42 || out.S != "x" { t.Fatalf("roundtrip mismatch: %#v", out) }
}

func TestProtoCodecGeneratedMessage(t *testing.T) {
    c := Proto()
    s, err := structpb.NewStruct(map[string]any{"k": "v"})
    if err != nil { t.Fatalf("struct: %v", err) }
    b, err := c.Marshal(s)
    if err != nil { t.Fatalf("marshal: %v", err) }
    var out structpb.Struct
    if err := c.Unmarshal(b, &out); err != nil { t.Fatalf("unmarshal: %v", err) }
    if out.Fields["k"].GetStringValue() != "v" { t.Fatalf("roundtrip mismatch") }
}

type rawWire struct{ b []byte }

func (r rawWire) MarshalProtoWire() ([]byte, error) { return r.b, nil }
func (r *rawWire) UnmarshalProtoWire(b []byte) error { r.b = append([]byte(nil), b...); return nil }

func TestProtoCodecWireTypes(t *testing.T) {
    c := Proto()
    b, err := c.Marshal(rawWire{b: []byte{0x08, 0x01}})
    if err != nil { t.Fatalf("marshal: %v", err) }
    var out rawWire
    if err := c.Unmarshal(b, &out); err != nil { t.Fatalf("unmarshal: %v", err) }
    if !bytes.Equal(out.b, []byte{0x08, 0x01}) { t.Fatalf("mismatch: %x", out.b) }
    if _, err := c.Marshal(42); err == nil { t.Fatalf("expected error for plain value") }
}

func TestRegistryLookup(t *testing.T) {
    r := NewRegistry()
    if r.Get("application/json") == nil || r.Get("application/x-protobuf") == nil {
        t.Fatalf("built-ins missing")
    }
    if r.Get("application/cbor") != nil { t.Fatalf("cbor should be opt-in") }
    c, _ := CBOR()
    r.Register(c)
    if r.Get("application/cbor") == nil { t.Fatalf("cbor not registered") }
}
