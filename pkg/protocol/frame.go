package protocol

import (
    "fmt"

    "meshchat/pkg/protocol/codec"
)

// Wire encodes outbound frames in one configured format and decodes inbound
// frames in any registered format.
type Wire struct {
    reg    *codec.Registry
    format Format
}

// NewWire builds a Wire with JSON, CBOR and Proto codecs registered.
func NewWire(format Format) (*Wire, error) {
    reg := codec.NewRegistry()
    c, err := codec.CBOR()
    if err != nil { return nil, err }
    reg.Register(c)
    if _, err := CodecFor(reg, format); err != nil { return nil, err }
    return &Wire{reg: reg, format: format}, nil
}

// MustWire is NewWire that panics on error.
func MustWire(format Format) *Wire {
    w, err := NewWire(format)
    if err != nil { panic(err) }
    return w
}

// Format returns the outbound format.
func (w *Wire) Format() Format { return w.format }

// Encode serializes v and prefixes it with a frame header of type typ.
func (w *Wire) Encode(typ uint8, v any) ([]byte, error) {
    c, err := CodecFor(w.reg, w.format)
    if err != nil { return nil, err }
    body, err := c.Marshal(v)
    if err != nil { return nil, fmt.Errorf("encode %s: %w", FrameName(typ), err) }
    h := Header{Version: Version, Type: typ, Format: w.format, PayloadLen: uint32(len(body))}
    out := make([]byte, HeaderSize+len(body))
    h.put(out)
    copy(out[HeaderSize:], body)
    return out, nil
}

// Decode parses the header of frame and returns it with the payload bytes.
func (w *Wire) Decode(frame []byte) (Header, []byte, error) {
    var h Header
    if err := h.UnmarshalBinary(frame); err != nil { return h, nil, err }
    need := HeaderSize + int(h.PayloadLen)
    if need > len(frame) {
        return h, nil, fmt.Errorf("truncated frame: have %d want %d", len(frame), need)
    }
    return h, frame[HeaderSize:need], nil
}

// Unmarshal decodes payload into v using the format recorded in h.
func (w *Wire) Unmarshal(h Header, payload []byte, v any) error {
    c, err := CodecFor(w.reg, h.Format)
    if err != nil { return err }
    if err := c.Unmarshal(payload, v); err != nil {
        return fmt.Errorf("decode %s: %w", FrameName(h.Type), err)
    }
    return nil
}
