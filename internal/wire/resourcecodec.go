package wire

import (
	"github.com/fourstore/fourstore/internal/ferror"
	"github.com/fourstore/fourstore/internal/rid"
)

// EncodeResourceAttrList packs a RESOURCE_ATTR_LIST payload: a count,
// then for each resource its (rid, attr) pair followed by its lexical
// string (spec §4.6/§6.1).
func EncodeResourceAttrList(resources []rid.Resource) []byte {
	buf := putUint32(nil, uint32(len(resources)))
	for _, res := range resources {
		buf = PutRIDVector(buf, []rid.RID{res.RID, res.Attr})
		buf = PutString(buf, res.Lex)
	}
	return buf
}

// DecodeResourceAttrList is EncodeResourceAttrList's inverse.
func DecodeResourceAttrList(buf []byte) (int, []rid.Resource, error) {
	count, buf, err := takeUint32(buf)
	if err != nil {
		return 0, nil, err
	}
	out := make([]rid.Resource, 0, count)
	for i := uint32(0); i < count; i++ {
		pair, rest, err := TakeRIDVector(buf)
		if err != nil {
			return 0, nil, err
		}
		if len(pair) != 2 {
			return 0, nil, ferror.New(ferror.KindProtocol, "wire: resource attr list entry must carry 2 rids")
		}
		lex, rest2, err := TakeString(rest)
		if err != nil {
			return 0, nil, err
		}
		out = append(out, rid.Resource{RID: pair[0], Attr: pair[1], Lex: lex})
		buf = rest2
	}
	return int(count), out, nil
}
