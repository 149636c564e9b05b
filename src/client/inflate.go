package client

import (
	"bytes"
	"compress/flate"
	"errors"
	"fmt"
	"io"
)

var (
	zlibSuffix = []byte{0x00, 0x00, 0xff, 0xff}

	ErrZlibHeader = errors.New("invalid zlib-stream header")
)

const inflateWindow = 32 << 10

// Inflater decodes a zlib-stream transport: one deflate stream shared by the
// whole connection, flushed with a sync marker at the end of every logical
// message. Socket messages are buffered until a chunk ends with the marker.
//
// Each logical message is inflated with a fresh flate reader primed with the
// last 32 KiB of output, which is the state the continuous stream would have
// at that point.
type Inflater struct {
	buf     bytes.Buffer
	window  []byte
	reader  io.ReadCloser
	started bool
}

func NewInflater() *Inflater {
	return &Inflater{}
}

// Write appends chunk to the pending buffer. When chunk ends with the sync
// marker the whole buffer is inflated and returned with complete set.
func (z *Inflater) Write(chunk []byte) (frame []byte, complete bool, err error) {
	z.buf.Write(chunk)
	if len(chunk) < len(zlibSuffix) || !bytes.Equal(chunk[len(chunk)-len(zlibSuffix):], zlibSuffix) {
		return nil, false, nil
	}
	defer z.buf.Reset()

	data := z.buf.Bytes()
	if !z.started {
		if err := checkZlibHeader(data); err != nil {
			return nil, false, err
		}
		data = data[2:]
		z.started = true
	}

	src := bytes.NewReader(data)
	if z.reader == nil {
		z.reader = flate.NewReaderDict(src, z.window)
	} else if err := z.reader.(flate.Resetter).Reset(src, z.window); err != nil {
		return nil, false, fmt.Errorf("could not reset inflater: %w", err)
	}

	out, err := io.ReadAll(z.reader)
	// A sync-flushed stream has no final block, so running out of input
	// after the marker is the normal end of a message.
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, false, fmt.Errorf("could not inflate message: %w", err)
	}

	z.remember(out)
	return out, true, nil
}

// Buffered is the number of compressed bytes waiting for a sync marker.
func (z *Inflater) Buffered() int {
	return z.buf.Len()
}

func (z *Inflater) remember(out []byte) {
	z.window = append(z.window, out...)
	if over := len(z.window) - inflateWindow; over > 0 {
		z.window = append(z.window[:0:0], z.window[over:]...)
	}
}

func checkZlibHeader(data []byte) error {
	if len(data) < 2 {
		return ErrZlibHeader
	}
	cmf, flg := data[0], data[1]
	if cmf&0x0f != 8 || (uint16(cmf)<<8|uint16(flg))%31 != 0 {
		return ErrZlibHeader
	}
	if flg&0x20 != 0 {
		return fmt.Errorf("%w: preset dictionary", ErrZlibHeader)
	}
	return nil
}
