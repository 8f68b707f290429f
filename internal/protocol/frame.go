// Package protocol implements the wire-level frame codec (component A) and
// the tagged application message protocol (component D) for circuitchat.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxPayloadSize is the largest payload the frame codec will accept, matching
// the 65535-byte cap in spec §3.
const MaxPayloadSize = 65535

// HeaderSize is the length of the frame's length prefix.
const HeaderSize = 4

var (
	// ErrFrameTooLarge is returned when a payload exceeds MaxPayloadSize.
	ErrFrameTooLarge = errors.New("frame payload exceeds maximum size")

	// ErrInvalidFrame is returned when a frame is malformed.
	ErrInvalidFrame = errors.New("invalid frame")
)

// WriteFrame writes payload to w as be_u32(len(payload)) || payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return ErrFrameTooLarge
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads exactly one frame from r: a 4-byte big-endian length
// followed by that many payload bytes. A short read of either segment
// surfaces as io.ErrUnexpectedEOF / io.EOF, signalling peer disconnect.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Accumulator implements the incremental read mode required by §4.1 for
// non-blocking drivers: bytes arrive in arbitrary-sized pushes via Feed, and
// Next only yields a frame once the carry buffer holds a complete one.
// Partial reads never yield a partial frame.
type Accumulator struct {
	carry []byte
}

// Feed appends newly read bytes to the carry buffer.
func (a *Accumulator) Feed(b []byte) {
	a.carry = append(a.carry, b...)
}

// Next attempts to drain one complete frame from the carry buffer. It
// returns ok=false if the carry does not yet hold a full frame.
func (a *Accumulator) Next() (payload []byte, ok bool, err error) {
	if len(a.carry) < HeaderSize {
		return nil, false, nil
	}

	length := binary.BigEndian.Uint32(a.carry[:HeaderSize])
	if length > MaxPayloadSize {
		return nil, false, ErrFrameTooLarge
	}

	total := HeaderSize + int(length)
	if len(a.carry) < total {
		return nil, false, nil
	}

	payload = make([]byte, length)
	copy(payload, a.carry[HeaderSize:total])

	remaining := len(a.carry) - total
	rest := make([]byte, remaining)
	copy(rest, a.carry[total:])
	a.carry = rest

	return payload, true, nil
}
