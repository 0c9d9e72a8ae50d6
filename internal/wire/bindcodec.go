package wire

import (
	"github.com/fourstore/fourstore/internal/ferror"
	"github.com/fourstore/fourstore/internal/rid"
	"github.com/fourstore/fourstore/internal/store/bind"
)

// EncodeBindRequest packs a bind.Request as a BIND_LIMIT/REVERSE_BIND
// payload: one flags byte, one direction byte, a distinct byte, a
// same-variable byte, a default-graph-set uint32 plus its RID, a limit
// uint32, then four RID vectors (M,S,P,O) in order (spec §4.10/§6.1).
func EncodeBindRequest(req bind.Request) []byte {
	buf := []byte{byte(req.Flags.Columns), 0, 0, byte(req.Flags.SameVar)}
	if req.Flags.Direction == rid.ByObject {
		buf[1] = 1
	}
	if req.Flags.Distinct {
		buf[2] = 1
	}
	defaultGraphSet := uint32(0)
	if req.Flags.DefaultGraph {
		defaultGraphSet = 1
	}
	buf = putUint32(buf, defaultGraphSet)
	buf = PutRIDVector(buf, []rid.RID{req.Flags.DefaultGraphID})
	buf = putUint32(buf, uint32(req.Limit)) // two's complement; negative = unlimited
	buf = PutRIDVector(buf, req.M)
	buf = PutRIDVector(buf, req.S)
	buf = PutRIDVector(buf, req.P)
	buf = PutRIDVector(buf, req.O)
	return buf
}

// DecodeBindRequest is EncodeBindRequest's inverse.
func DecodeBindRequest(buf []byte) (bind.Request, error) {
	if len(buf) < 4 {
		return bind.Request{}, ferror.New(ferror.KindProtocol, "wire: truncated bind request header")
	}
	columns := bind.Column(buf[0])
	direction := rid.BySubject
	if buf[1] != 0 {
		direction = rid.ByObject
	}
	distinct := buf[2] != 0
	sameVar := bind.SameVariable(buf[3])
	buf = buf[4:]

	defaultGraphSet, buf, err := takeUint32(buf)
	if err != nil {
		return bind.Request{}, err
	}
	defaultGraphRIDs, buf, err := TakeRIDVector(buf)
	if err != nil {
		return bind.Request{}, err
	}
	if len(defaultGraphRIDs) != 1 {
		return bind.Request{}, ferror.New(ferror.KindProtocol, "wire: bind request default-graph vector must hold exactly one rid")
	}

	limit, buf, err := takeUint32(buf)
	if err != nil {
		return bind.Request{}, err
	}

	m, buf, err := TakeRIDVector(buf)
	if err != nil {
		return bind.Request{}, err
	}
	s, buf, err := TakeRIDVector(buf)
	if err != nil {
		return bind.Request{}, err
	}
	p, buf, err := TakeRIDVector(buf)
	if err != nil {
		return bind.Request{}, err
	}
	o, _, err := TakeRIDVector(buf)
	if err != nil {
		return bind.Request{}, err
	}

	return bind.Request{
		Flags: bind.Flags{
			Columns:        columns,
			Direction:      direction,
			Distinct:       distinct,
			SameVar:        sameVar,
			DefaultGraph:   defaultGraphSet != 0,
			DefaultGraphID: defaultGraphRIDs[0],
		},
		M: m, S: s, P: p, O: o,
		// Reinterpret as int32 so a negative (unlimited) sentinel
		// survives the round trip; encode writes uint32(req.Limit),
		// which is limit's two's-complement bit pattern.
		Limit: int(int32(limit)),
	}, nil
}

// EncodeBindResult packs a bind.Result as a MatchWithNoBindings flag
// byte followed by the four RID vectors, in the same order as the
// request (spec §6.1). Callers check Result.NoMatch separately (it is
// carried by the NO_MATCH opcode, not this payload).
func EncodeBindResult(res bind.Result) []byte {
	buf := []byte{0}
	if res.MatchWithNoBindings {
		buf[0] = 1
	}
	buf = PutRIDVector(buf, res.M)
	buf = PutRIDVector(buf, res.S)
	buf = PutRIDVector(buf, res.P)
	buf = PutRIDVector(buf, res.O)
	return buf
}

// DecodeBindResult is EncodeBindResult's inverse for a non-NO_MATCH,
// non-ERROR response payload.
func DecodeBindResult(buf []byte) (bind.Result, error) {
	if len(buf) < 1 {
		return bind.Result{}, ferror.New(ferror.KindProtocol, "wire: truncated bind result header")
	}
	res := bind.Result{MatchWithNoBindings: buf[0] != 0}
	buf = buf[1:]
	var err error
	res.M, buf, err = TakeRIDVector(buf)
	if err != nil {
		return bind.Result{}, err
	}
	res.S, buf, err = TakeRIDVector(buf)
	if err != nil {
		return bind.Result{}, err
	}
	res.P, buf, err = TakeRIDVector(buf)
	if err != nil {
		return bind.Result{}, err
	}
	res.O, _, err = TakeRIDVector(buf)
	if err != nil {
		return bind.Result{}, err
	}
	return res, nil
}
