package protocol

import (
    "errors"
    "testing"
)

func TestHeaderRoundtrip(t *testing.T) {
    h := Header{Version: Version, Type: FrameDiscovery, Format: FormatCBOR, Flags: 0x0102, PayloadLen: 1234}
    b, err := h.MarshalBinary()
    if err != nil { t.Fatalf("marshal: %v", err) }
    if len(b) != HeaderSize { t.Fatalf("header size = %d", len(b)) }

    var h2 Header
    if err := h2.UnmarshalBinary(b); err != nil { t.Fatalf("unmarshal: %v", err) }
    if h2 != h { t.Fatalf("headers differ: %#v vs %#v", h2, h) }
}

func TestHeaderRejectsGarbage(t *testing.T) {
    var h Header
    if err := h.UnmarshalBinary([]byte{1, 2, 3}); !errors.Is(err, ErrShortHeader) {
        t.Fatalf("short: %v", err)
    }
    buf := make([]byte, HeaderSize)
    if err := h.UnmarshalBinary(buf); !errors.Is(err, ErrBadMagic) {
        t.Fatalf("magic: %v", err)
    }
    good := Header{Version: 9, Type: FrameEnvelope}
    b := make([]byte, HeaderSize)
    good.put(b)
    if err := h.UnmarshalBinary(b); !errors.Is(err, ErrBadVersion) {
        t.Fatalf("version: %v", err)
    }
}
