package codec

import (
    "fmt"

    "google.golang.org/protobuf/proto"
)

// ProtoWireMarshaler is implemented by types that encode themselves in
// protobuf wire format without generated code.
type ProtoWireMarshaler interface {
    MarshalProtoWire() ([]byte, error)
}

// ProtoWireUnmarshaler is the decoding counterpart of ProtoWireMarshaler.
type ProtoWireUnmarshaler interface {
    UnmarshalProtoWire([]byte) error
}

type protoCodec struct {
    mo proto.MarshalOptions
    uo proto.UnmarshalOptions
}

// Proto returns a Protocol Buffers codec with deterministic marshaling. It
// accepts generated proto.Message values and hand-encoded wire types.
// Content-Type: application/x-protobuf
func Proto() Codec {
    return protoCodec{
        mo: proto.MarshalOptions{Deterministic: true},
        uo: proto.UnmarshalOptions{DiscardUnknown: true},
    }
}

func (p protoCodec) ContentType() string { return "application/x-protobuf" }

func (p protoCodec) Marshal(v any) ([]byte, error) {
    switch m := v.(type) {
    case proto.Message:
        return p.mo.Marshal(m)
    case ProtoWireMarshaler:
        return m.MarshalProtoWire()
    default:
        return nil, fmt.Errorf("protobuf: value does not implement proto.Message: %T", v)
    }
}

func (p protoCodec) Unmarshal(data []byte, v any) error {
    switch m := v.(type) {
    case proto.Message:
        return p.uo.Unmarshal(data, m)
    case ProtoWireUnmarshaler:
        return m.UnmarshalProtoWire(data)
    default:
        return fmt.Errorf("protobuf: target does not implement proto.Message: %T", v)
    }
}
