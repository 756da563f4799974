package transport

import (
    "bufio"
    "encoding/binary"
    "errors"
    "io"
)

// MaxFrameSize bounds a single length-prefixed stream frame.
const MaxFrameSize = 1 << 24

var ErrFrameSize = errors.New("invalid frame size")

// WriteFrame writes b as one u32 LE length-prefixed frame and flushes.
func WriteFrame(w *bufio.Writer, b []byte) error {
    if len(b) > MaxFrameSize { return ErrFrameSize }
    var lenbuf [4]byte
    binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
    if _, err := w.Write(lenbuf[:]); err != nil { return err }
    if _, err := w.Write(b); err != nil { return err }
    return w.Flush()
}

// ReadFrame reads one frame written by WriteFrame.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
    var lenbuf [4]byte
    if _, err := io.ReadFull(r, lenbuf[:]); err != nil { return nil, err }
    n := int(binary.LittleEndian.Uint32(lenbuf[:]))
    if n > MaxFrameSize { return nil, ErrFrameSize }
    buf := make([]byte, n)
    if _, err := io.ReadFull(r, buf); err != nil { return nil, err }
    return buf, nil
}
