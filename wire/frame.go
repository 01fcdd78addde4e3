// Package wire implements the length-prefixed frame codec shared by the
// handshake and the secure channel: a 4-byte big-endian length followed by
// that many bytes. It does not interpret payload contents.
package wire

import (
	"errors"
	"io"

	"github.com/floegence/rdsec/internal/bin"
)

// MaxFrameBytes is the largest frame this codec will emit or accept (2^26).
// Callers MUST NOT attempt to write a larger frame.
const MaxFrameBytes = 1 << 26

// ErrFrameTooLarge is returned when a frame's length prefix exceeds
// MaxFrameBytes, either on write (caller error) or on read (protocol abuse).
var ErrFrameTooLarge = errors.New("wire: frame too large")

// WriteFrame writes len_be_u32(data) || data to w.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameBytes {
		return ErrFrameTooLarge
	}
	var hdr [4]byte
	bin.PutU32BE(hdr[:], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ReadFrame reads one frame from r: a 4-byte big-endian length L followed by
// exactly L bytes. Partial reads are retried internally via io.ReadFull; a
// short read at the stream's end surfaces as io.ErrUnexpectedEOF (or io.EOF
// if the stream ends exactly at a frame boundary, before any header byte is
// read).
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := bin.U32BE(hdr[:])
	if n > MaxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return data, nil
}
