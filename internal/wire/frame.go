// Package wire implements the client-backend frame protocol (spec §6.1):
// fixed binary headers, NUL-terminated/8-byte-padded strings, and
// length-prefixed vectors, all little-endian.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/fourstore/fourstore/internal/ferror"
)

// Magic identifies a client/backend frame, "ID" followed by a one-byte
// protocol version/hash discriminator (spec §6.1).
var Magic = [2]byte{'I', 'D'}

// Version is the discriminator byte carried in every frame header.
const Version = 1

// headerSize is the concrete on-wire layout's width: 2 magic bytes, 1
// version byte, 1 opcode byte, 4 bytes payload length, 4 bytes segment
// id ("[M0 M1 V][op][len:u32][seg:u32]", spec §6.1).
const headerSize = 12

// Header is one frame's fixed-size preamble.
type Header struct {
	Op      Opcode
	Len     uint32 // payload length in bytes, not including this header
	Segment uint32
}

// Frame is a decoded header plus its payload.
type Frame struct {
	Header  Header
	Payload []byte
}

// WriteFrame encodes and writes a complete frame to w.
func WriteFrame(w io.Writer, op Opcode, segment uint32, payload []byte) error {
	buf := make([]byte, headerSize+len(payload))
	buf[0], buf[1] = Magic[0], Magic[1]
	buf[2] = Version
	buf[3] = byte(op)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[8:12], segment)
	copy(buf[headerSize:], payload)
	if _, err := w.Write(buf); err != nil {
		return ferror.Wrap(ferror.KindIO, err, "wire: write frame")
	}
	return nil
}

// ReadFrame reads one frame from r. An opcode unknown to this build, a
// bad magic/version, or an oversized length all surface as a Protocol
// error (spec §4/§8: "unknown opcode, wrong length, pre-auth command" is
// the Protocol-kind failure mode, recoverable by the caller sending an
// ERROR frame and continuing to serve).
func ReadFrame(r io.Reader, maxPayload uint32) (Frame, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return Frame{}, err
		}
		return Frame{}, ferror.Wrap(ferror.KindIO, err, "wire: read frame header")
	}
	if hdr[0] != Magic[0] || hdr[1] != Magic[1] {
		return Frame{}, ferror.New(ferror.KindProtocol, "wire: bad magic %x%x", hdr[0], hdr[1])
	}
	if hdr[2] != Version {
		return Frame{}, ferror.New(ferror.KindProtocol, "wire: unsupported version %d", hdr[2])
	}
	op := Opcode(hdr[3])
	if !op.valid() {
		return Frame{}, ferror.New(ferror.KindProtocol, "wire: unknown opcode %d", hdr[3])
	}
	length := binary.LittleEndian.Uint32(hdr[4:8])
	segment := binary.LittleEndian.Uint32(hdr[8:12])
	if length > maxPayload {
		return Frame{}, ferror.New(ferror.KindProtocol, "wire: payload length %d exceeds max %d", length, maxPayload)
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, ferror.Wrap(ferror.KindIO, err, "wire: read frame payload")
		}
	}
	return Frame{Header: Header{Op: op, Len: length, Segment: segment}, Payload: payload}, nil
}
