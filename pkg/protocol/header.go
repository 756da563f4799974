package protocol

import (
    "encoding/binary"
    "errors"
)

// Fixed header layout (12 bytes) prepended to every frame on either channel.
// All integer fields are little-endian.
//
//  0 ..1   Magic      'M''C' (0x434d)
//  2       Version    u8
//  3       Type       u8 (Frame*)
//  4       Format     u8 (payload codec)
//  5       Reserved   u8
//  6 ..7   Flags      u16
//  8 ..11  PayloadLen u32
const (
    HeaderSize = 12
    Version    = 1
    magicWord  = uint16(0x434d) // 'M''C'
)

var (
    ErrShortHeader = errors.New("short header")
    ErrBadMagic    = errors.New("bad magic")
    ErrBadVersion  = errors.New("unsupported version")
)

// Header describes one frame.
type Header struct {
    Version    uint8
    Type       uint8
    Format     Format
    Flags      uint16
    PayloadLen uint32
}

// MarshalBinary encodes the header to a 12-byte buffer.
func (h *Header) MarshalBinary() ([]byte, error) {
    buf := make([]byte, HeaderSize)
    h.put(buf)
    return buf, nil
}

func (h *Header) put(buf []byte) {
    binary.LittleEndian.PutUint16(buf[0:2], magicWord)
    buf[2] = h.Version
    buf[3] = h.Type
    buf[4] = byte(h.Format)
    // buf[5] reserved
    binary.LittleEndian.PutUint16(buf[6:8], h.Flags)
    binary.LittleEndian.PutUint32(buf[8:12], h.PayloadLen)
}

// UnmarshalBinary decodes a header from buf.
func (h *Header) UnmarshalBinary(buf []byte) error {
    if len(buf) < HeaderSize {
        return ErrShortHeader
    }
    if binary.LittleEndian.Uint16(buf[0:2]) != magicWord {
        return ErrBadMagic
    }
    h.Version = buf[2]
    if h.Version != Version {
        return ErrBadVersion
    }
    h.Type = buf[3]
    h.Format = Format(buf[4])
    h.Flags = binary.LittleEndian.Uint16(buf[6:8])
    h.PayloadLen = binary.LittleEndian.Uint32(buf[8:12])
    return nil
}
