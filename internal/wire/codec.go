package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/fourstore/fourstore/internal/ferror"
	"github.com/fourstore/fourstore/internal/rid"
)

// PutString appends s NUL-terminated and zero-padded to the next
// multiple of 8 bytes (spec §6.1 string encoding).
func PutString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	buf = append(buf, 0)
	for len(buf)%8 != 0 {
		buf = append(buf, 0)
	}
	return buf
}

// TakeString reads one NUL-terminated, 8-byte-padded string starting at
// the front of buf, returning the decoded string and the unconsumed
// remainder.
func TakeString(buf []byte) (string, []byte, error) {
	i := bytes.IndexByte(buf, 0)
	if i < 0 {
		return "", nil, ferror.New(ferror.KindProtocol, "wire: unterminated string")
	}
	s := string(buf[:i])
	padded := i + 1
	for padded%8 != 0 {
		padded++
	}
	if padded > len(buf) {
		return "", nil, ferror.New(ferror.KindProtocol, "wire: truncated string padding")
	}
	return s, buf[padded:], nil
}

// PutRIDVector appends a length-prefixed (4-byte count) vector of
// little-endian 8-byte RIDs (spec §6.1 vector encoding).
func PutRIDVector(buf []byte, rids []rid.RID) []byte {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(rids)))
	buf = append(buf, n[:]...)
	for _, r := range rids {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(r))
		buf = append(buf, b[:]...)
	}
	return buf
}

// TakeRIDVector is PutRIDVector's inverse.
func TakeRIDVector(buf []byte) ([]rid.RID, []byte, error) {
	if len(buf) < 4 {
		return nil, nil, ferror.New(ferror.KindProtocol, "wire: truncated vector count")
	}
	n := binary.LittleEndian.Uint32(buf[:4])
	buf = buf[4:]
	need := int(n) * 8
	if len(buf) < need {
		return nil, nil, ferror.New(ferror.KindProtocol, "wire: truncated vector body")
	}
	out := make([]rid.RID, n)
	for i := range out {
		out[i] = rid.RID(binary.LittleEndian.Uint64(buf[i*8 : i*8+8]))
	}
	return out, buf[need:], nil
}

func putUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func takeUint32(buf []byte) (uint32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, ferror.New(ferror.KindProtocol, "wire: truncated uint32")
	}
	return binary.LittleEndian.Uint32(buf[:4]), buf[4:], nil
}
