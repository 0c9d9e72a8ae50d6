package wire

// Opcode identifies a frame's command or response kind (spec §6.1).
type Opcode byte

const (
	OpAuth Opcode = iota + 1
	OpNoOp
	OpResolveAttr
	OpBindLimit
	OpReverseBind
	OpBindFirst
	OpBindNext
	OpBindDone
	OpPriceBind
	OpInsertResource
	OpCommitResource
	OpInsertQuad
	OpCommitQuad
	OpStartImport
	OpStopImport
	OpDeleteModels
	OpDeleteQuads
	OpNewModels
	OpGetSize
	OpGetSizeReverse
	OpGetQuadFreq
	OpGetImportTimes
	OpGetQueryTimes
	OpSegments
	OpNodeSegments
	OpChooseSegment
	OpBnodeAlloc
	OpTransaction
	OpLock
	OpUnlock

	// Response-only opcodes.
	OpBindList
	OpResourceAttrList
	OpSize
	OpBnodeRange
	OpDoneOK
	OpError
	OpNoMatch

	opcodeCount
)

func (op Opcode) valid() bool { return op >= OpAuth && op < opcodeCount }

var opcodeNames = map[Opcode]string{
	OpAuth:             "AUTH",
	OpNoOp:             "NO_OP",
	OpResolveAttr:      "RESOLVE_ATTR",
	OpBindLimit:        "BIND_LIMIT",
	OpReverseBind:      "REVERSE_BIND",
	OpBindFirst:        "BIND_FIRST",
	OpBindNext:         "BIND_NEXT",
	OpBindDone:         "BIND_DONE",
	OpPriceBind:        "PRICE_BIND",
	OpInsertResource:   "INSERT_RESOURCE",
	OpCommitResource:   "COMMIT_RESOURCE",
	OpInsertQuad:       "INSERT_QUAD",
	OpCommitQuad:       "COMMIT_QUAD",
	OpStartImport:      "START_IMPORT",
	OpStopImport:       "STOP_IMPORT",
	OpDeleteModels:     "DELETE_MODELS",
	OpDeleteQuads:      "DELETE_QUADS",
	OpNewModels:        "NEW_MODELS",
	OpGetSize:          "GET_SIZE",
	OpGetSizeReverse:   "GET_SIZE_REVERSE",
	OpGetQuadFreq:      "GET_QUAD_FREQ",
	OpGetImportTimes:   "GET_IMPORT_TIMES",
	OpGetQueryTimes:    "GET_QUERY_TIMES",
	OpSegments:         "SEGMENTS",
	OpNodeSegments:     "NODE_SEGMENTS",
	OpChooseSegment:    "CHOOSE_SEGMENT",
	OpBnodeAlloc:       "BNODE_ALLOC",
	OpTransaction:      "TRANSACTION",
	OpLock:             "LOCK",
	OpUnlock:           "UNLOCK",
	OpBindList:         "BIND_LIST",
	OpResourceAttrList: "RESOURCE_ATTR_LIST",
	OpSize:             "SIZE",
	OpBnodeRange:       "BNODE_RANGE",
	OpDoneOK:           "DONE_OK",
	OpError:            "ERROR",
	OpNoMatch:          "NO_MATCH",
}

func (op Opcode) String() string {
	if n, ok := opcodeNames[op]; ok {
		return n
	}
	return "UNKNOWN"
}

// RequiresAuth reports whether op must be rejected before a successful
// AUTH frame (spec §6.1: "All other opcodes are rejected before AUTH").
func (op Opcode) RequiresAuth() bool {
	return op != OpAuth && op != OpNoOp
}
