package server

import (
	"encoding/binary"

	"github.com/fourstore/fourstore/internal/ferror"
	"github.com/fourstore/fourstore/internal/store/bind"
	"github.com/fourstore/fourstore/internal/wire"
)

func takeUint32Local(buf []byte) (uint32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, ferror.New(ferror.KindProtocol, "server: truncated uint32")
	}
	return binary.LittleEndian.Uint32(buf[:4]), buf[4:], nil
}

func decodeBindRequest(buf []byte) (bind.Request, error) { return wire.DecodeBindRequest(buf) }

func encodeBindResult(res bind.Result) []byte { return wire.EncodeBindResult(res) }
