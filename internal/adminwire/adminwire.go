// Package adminwire implements frame boundaries for the cluster admin
// protocol (spec §6.2): "AC"<version><op><len:u16>. Semantics (actual
// cluster membership, store lifecycle orchestration) are out of scope;
// this package only lets 4s-admin and a control node agree on where one
// frame ends and the next begins.
package adminwire

import (
	"encoding/binary"
	"io"

	"github.com/fourstore/fourstore/internal/ferror"
)

// Magic identifies an admin-control frame (spec §6.2).
var Magic = [2]byte{'A', 'C'}

const Version = 1

// headerSize: 2 magic + 1 version + 1 op + 2 len = 6 bytes.
const headerSize = 6

// Opcode identifies an admin command or response (spec §6.2).
type Opcode byte

const (
	OpStartKB Opcode = iota + 1
	OpStopKB
	OpCreateKB
	OpDeleteKB
	OpGetKBInfo
	OpGetKBInfoAll

	OpExpectNKB // streaming marker preceding a GET_KB_INFO_ALL response series
	OpKBInfo
	OpDoneOK
	OpError
)

// Frame is one admin-control frame: header plus opaque payload. Callers
// own interpreting Payload; this package only handles framing.
type Frame struct {
	Op      Opcode
	Payload []byte
}

// maxPayload bounds a single frame (the admin protocol's len field is
// 16 bits, so this is already implied, but kept explicit for callers
// that want to pre-size buffers).
const maxPayload = 1<<16 - 1

// WriteFrame encodes and writes one frame.
func WriteFrame(w io.Writer, op Opcode, payload []byte) error {
	if len(payload) > maxPayload {
		return ferror.New(ferror.KindProtocol, "adminwire: payload length %d exceeds %d", len(payload), maxPayload)
	}
	buf := make([]byte, headerSize+len(payload))
	buf[0], buf[1] = Magic[0], Magic[1]
	buf[2] = Version
	buf[3] = byte(op)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(len(payload)))
	copy(buf[headerSize:], payload)
	if _, err := w.Write(buf); err != nil {
		return ferror.Wrap(ferror.KindIO, err, "adminwire: write frame")
	}
	return nil
}

// ReadFrame reads one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return Frame{}, err
		}
		return Frame{}, ferror.Wrap(ferror.KindIO, err, "adminwire: read frame header")
	}
	if hdr[0] != Magic[0] || hdr[1] != Magic[1] {
		return Frame{}, ferror.New(ferror.KindProtocol, "adminwire: bad magic %x%x", hdr[0], hdr[1])
	}
	if hdr[2] != Version {
		return Frame{}, ferror.New(ferror.KindProtocol, "adminwire: unsupported version %d", hdr[2])
	}
	length := binary.LittleEndian.Uint16(hdr[4:6])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, ferror.Wrap(ferror.KindIO, err, "adminwire: read frame payload")
		}
	}
	return Frame{Op: Opcode(hdr[3]), Payload: payload}, nil
}

// Mirror threads the original engine's create-store --mirror flag
// through admin command structs (spec SUPPLEMENTED FEATURES). It is
// contract-only: no replication is implemented, consistent with the
// non-goal on cross-node consistency.
type Mirror bool

// CreateKBRequest is the payload shape for OpCreateKB (contract only;
// actual cluster orchestration is out of scope).
type CreateKBRequest struct {
	KBName     string
	Segments   int
	Mirror     Mirror
}
