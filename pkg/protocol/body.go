package protocol

import (
    "fmt"
    "strings"

    "meshchat/pkg/protocol/codec"
)

// Format is a compact on-wire indicator of payload encoding, carried in the
// frame header.
type Format uint8

const (
    FormatUnknown Format = iota
    FormatJSON
    FormatCBOR
    FormatProto
)

func (f Format) String() string {
    switch f {
    case FormatJSON:
        return ContentJSON
    case FormatCBOR:
        return ContentCBOR
    case FormatProto:
        return ContentProto
    default:
        return ContentUnknown
    }
}

// ParseFormat accepts the short config names json, cbor and proto.
func ParseFormat(s string) (Format, error) {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "json":
        return FormatJSON, nil
    case "cbor", "":
        return FormatCBOR, nil
    case "proto", "protobuf":
        return FormatProto, nil
    default:
        return FormatUnknown, fmt.Errorf("unknown wire format: %q", s)
    }
}

// CodecFor returns the registered codec for a given format.
func CodecFor(r *codec.Registry, f Format) (codec.Codec, error) {
    switch f {
    case FormatJSON, FormatCBOR, FormatProto:
        if c := r.Get(f.String()); c != nil { return c, nil }
        return nil, fmt.Errorf("codec not registered: %s", f)
    default:
        return nil, fmt.Errorf("unknown format: %d", f)
    }
}
