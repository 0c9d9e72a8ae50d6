// Package bind implements the quad-pattern matching primitive (spec §4.10):
// classify a (M?,S?,P?,O?) pattern plus flags, walk the cheapest access
// path among mhash/tbchain, a ptree, or a full ptree scan, and emit up to
// four parallel RID columns.
package bind

import (
	"github.com/fourstore/fourstore/internal/ferror"
	"github.com/fourstore/fourstore/internal/rid"
	"github.com/fourstore/fourstore/internal/store/mhash"
	"github.com/fourstore/fourstore/internal/store/ptree"
)

// Column selects which of M/S/P/O a caller wants returned, spec §4.10.
type Column uint8

const (
	ColM Column = 1 << iota
	ColS
	ColP
	ColO
)

// SameVariable enumerates the 16 equivalence classes on the 4 slots (spec
// §4.10, e.g. AABB means g=s and p=o). Bit i (0..5) gates one of the six
// pairwise equalities: G=S, G=P, G=O, S=P, S=O, P=O.
type SameVariable uint8

const (
	EqGS SameVariable = 1 << iota
	EqGP
	EqGO
	EqSP
	EqSO
	EqPO
)

func (sv SameVariable) holds(q rid.Quad) bool {
	if sv&EqGS != 0 && q.G != q.S {
		return false
	}
	if sv&EqGP != 0 && q.G != q.P {
		return false
	}
	if sv&EqGO != 0 && q.G != q.O {
		return false
	}
	if sv&EqSP != 0 && q.S != q.P {
		return false
	}
	if sv&EqSO != 0 && q.S != q.O {
		return false
	}
	if sv&EqPO != 0 && q.P != q.O {
		return false
	}
	return true
}

// Flags bundles the non-column bind flags (spec §4.10).
type Flags struct {
	Columns        Column
	Direction      rid.Direction // BY_SUBJECT or BY_OBJECT, used by the scan fallbacks and reverse bind
	Distinct       bool
	SameVar        SameVariable
	DefaultGraph   bool // when set, drop rows whose graph equals DefaultGraphRID
	DefaultGraphID rid.RID
}

// Request is one bind call's inputs (spec §4.10). Limit follows the
// original engine's convention (query-backend.c: "limit = (limit == -1)
// ? INT_MAX : limit"): negative means unlimited, 0 means return zero
// rows (a match, not NoMatch — spec §8), and a positive value caps the
// row count.
type Request struct {
	Flags      Flags
	M, S, P, O []rid.RID // constraint vectors; empty means unconstrained/variable
	Offset     int       // must be 0 in this branch
	Limit      int
}

// Result is either NoMatch, a zero-column MatchWithNoBindings, or up to
// four parallel RID columns (spec §4.10).
type Result struct {
	NoMatch             bool
	MatchWithNoBindings bool
	M, S, P, O          []rid.RID
}

// Deps bundles the structures a bind walks. PredicateList enumerates every
// predicate the segment has ever seen an open ptree for (used by the
// distinct-P plan); OpenPtree fetches (subject,object) trees for a
// predicate without creating them (spec plans never create new ptrees).
type Deps struct {
	MHash         *mhash.Hash
	PredicateList func(yield func(rid.RID) bool)
	OpenPtree     func(pred rid.RID) (subject, object *ptree.Tree, ok bool)
	GraphTriples  func(g rid.RID, yield func(s, p, o rid.RID) bool) // reads mhash-backed storage (tbchain or tlist) for one graph
}

// Do executes the bind per the priority-ordered plan table of spec §4.10.
func Do(deps Deps, req Request) (Result, error) {
	if req.Offset != 0 {
		return Result{}, ferror.New(ferror.KindUnsupported, "bind: offset must be 0 in this branch")
	}

	rows := collector{req: req}

	switch {
	case req.Flags.Distinct && req.Flags.Columns == ColM && len(req.S) == 0 && len(req.P) == 0 && len(req.O) == 0:
		for g := range deps.MHash.Keys() {
			if !rows.addRow(rid.Quad{G: g}) {
				break
			}
		}

	case req.Flags.Distinct && req.Flags.Columns == ColP && len(req.S) == 0 && len(req.O) == 0:
		deps.PredicateList(func(p rid.RID) bool {
			if subj, _, ok := deps.OpenPtree(p); ok && subj.Count() > 0 {
				if !rows.addRow(rid.Quad{P: p}) {
					return false
				}
			}
			return true
		})

	case req.Flags.Distinct && req.Flags.Columns == ColO && len(req.P) == 1 && len(req.S) == 0:
		p := req.P[0]
		if subj, _, ok := deps.OpenPtree(p); ok {
			seen := map[rid.RID]bool{}
			for pk, pair := range subj.Traverse(false, 0) {
				_ = pk
				if seen[pair[1]] {
					continue
				}
				seen[pair[1]] = true
				if !rows.addRow(rid.Quad{O: pair[1]}) {
					break
				}
			}
		}

	case len(req.M) > 0 && len(req.S) == 0 && len(req.P) == 0 && len(req.O) == 0:
		planKnownGraph(deps, req, &rows)

	case len(req.P) > 0 && len(req.S) == 0 && len(req.O) == 0 && req.Flags.Direction == rid.BySubject:
		planKnownPredicate(deps, req, &rows)

	case len(req.S) > 0 && len(req.P) > 0:
		planSubjectPredicate(deps, req, &rows)

	case len(req.P) > 0 && len(req.O) > 0:
		planPredicateObject(deps, req, &rows)

	case req.Flags.Direction == rid.BySubject:
		planScanSubject(deps, req, &rows)

	default:
		planScanObject(deps, req, &rows)
	}

	return rows.result(), nil
}

// collector accumulates bound rows, applying the same-variable filter,
// default-graph filter, and the limit short-circuit (spec §4.10).
type collector struct {
	req    Request
	out    Result
	n      int
}

func (c *collector) addRow(q rid.Quad) bool {
	if c.req.Limit == 0 {
		return false
	}
	if c.req.Limit > 0 && c.n >= c.req.Limit {
		return false
	}
	if c.req.Flags.SameVar != 0 && !c.req.Flags.SameVar.holds(q) {
		return true
	}
	if c.req.Flags.DefaultGraph && q.G == c.req.Flags.DefaultGraphID {
		return true
	}
	cols := c.req.Flags.Columns
	if cols&ColM != 0 {
		c.out.M = append(c.out.M, q.G)
	}
	if cols&ColS != 0 {
		c.out.S = append(c.out.S, q.S)
	}
	if cols&ColP != 0 {
		c.out.P = append(c.out.P, q.P)
	}
	if cols&ColO != 0 {
		c.out.O = append(c.out.O, q.O)
	}
	c.n++
	return c.req.Limit < 0 || c.n < c.req.Limit
}

func (c *collector) result() Result {
	if c.req.Limit == 0 {
		// A limit of zero is a match with zero rows, never NoMatch
		// (query-backend.c treats limit==0 as a valid empty bind).
		return Result{}
	}
	if c.n == 0 {
		if c.req.Flags.Columns == 0 {
			return Result{NoMatch: true}
		}
		return Result{}
	}
	if c.req.Flags.Columns == 0 {
		return Result{MatchWithNoBindings: true}
	}
	return c.out
}

// planKnownGraph handles "(m ?s ?p ?o) with known M only": for each m,
// walk mhash to either the tlist (not modeled here directly; callers wire
// GraphTriples over whichever storage backs the graph) or the tbchain,
// with superset verification happening inside tbchain.Iter.
func planKnownGraph(deps Deps, req Request, rows *collector) {
	for _, m := range req.M {
		deps.GraphTriples(m, func(s, p, o rid.RID) bool {
			return rows.addRow(rid.Quad{G: m, S: s, P: p, O: o})
		})
	}
}

// planKnownPredicate handles "(_ _ p _) with known P, empty S": traverse
// the subject ptree of each p.
func planKnownPredicate(deps Deps, req Request, rows *collector) {
	for _, p := range req.P {
		subj, _, ok := deps.OpenPtree(p)
		if !ok {
			continue
		}
		stop := false
		for s, pair := range subj.Traverse(false, 0) {
			if stop {
				break
			}
			if !rows.addRow(rid.Quad{G: pair[0], S: s, P: p, O: pair[1]}) {
				stop = true
			}
		}
	}
}

// planSubjectPredicate handles "(_ s p _) with known S and P": for each
// (s,p) combination, search the subject ptree.
func planSubjectPredicate(deps Deps, req Request, rows *collector) {
	zip := len(req.S) == len(req.P) && req.Flags.Direction == rid.BySubject
	iterate(req.S, req.P, zip, func(s, p rid.RID) bool {
		subj, _, ok := deps.OpenPtree(p)
		if !ok {
			return true
		}
		cont := true
		for pair := range subj.Search(s, rid.Pair{rid.NULL, rid.NULL}) {
			if !rows.addRow(rid.Quad{G: pair[0], S: s, P: p, O: pair[1]}) {
				cont = false
				break
			}
		}
		return cont
	})
}

// planPredicateObject handles "(_ _ p o) with known P and O": same, with
// the object ptree.
func planPredicateObject(deps Deps, req Request, rows *collector) {
	zip := len(req.O) == len(req.P) && req.Flags.Direction == rid.ByObject
	iterate(req.O, req.P, zip, func(o, p rid.RID) bool {
		_, obj, ok := deps.OpenPtree(p)
		if !ok {
			return true
		}
		cont := true
		for pair := range obj.Search(o, rid.Pair{rid.NULL, rid.NULL}) {
			if !rows.addRow(rid.Quad{G: pair[0], S: pair[1], P: p, O: o}) {
				cont = false
				break
			}
		}
		return cont
	})
}

// iterate zips a and b index-wise when zip is true (conjunctive mode,
// spec §4.10), else cross-products them.
func iterate(a, b []rid.RID, zip bool, fn func(a, b rid.RID) bool) {
	if zip {
		for i := range a {
			if !fn(a[i], b[i]) {
				return
			}
		}
		return
	}
	for _, x := range a {
		for _, y := range b {
			if !fn(x, y) {
				return
			}
		}
	}
}

// planScanSubject is the BY_SUBJECT fallback: scan every open ptree in
// subject direction for each s in S.
func planScanSubject(deps Deps, req Request, rows *collector) {
	ss := req.S
	if len(ss) == 0 {
		ss = []rid.RID{rid.NULL}
	}
	deps.PredicateList(func(p rid.RID) bool {
		subj, _, ok := deps.OpenPtree(p)
		if !ok {
			return true
		}
		for _, s := range ss {
			cont := true
			if s == rid.NULL {
				for pk, pair := range subj.Traverse(false, 0) {
					if !rows.addRow(rid.Quad{G: pair[0], S: pk, P: p, O: pair[1]}) {
						cont = false
						break
					}
				}
			} else {
				for pair := range subj.Search(s, rid.Pair{rid.NULL, rid.NULL}) {
					if !rows.addRow(rid.Quad{G: pair[0], S: s, P: p, O: pair[1]}) {
						cont = false
						break
					}
				}
			}
			if !cont {
				return false
			}
		}
		return true
	})
}

// planScanObject is the BY_OBJECT fallback: scan every open ptree in
// object direction for each o in O.
func planScanObject(deps Deps, req Request, rows *collector) {
	os := req.O
	if len(os) == 0 {
		os = []rid.RID{rid.NULL}
	}
	deps.PredicateList(func(p rid.RID) bool {
		_, obj, ok := deps.OpenPtree(p)
		if !ok {
			return true
		}
		for _, o := range os {
			cont := true
			if o == rid.NULL {
				for pk, pair := range obj.Traverse(false, 0) {
					if !rows.addRow(rid.Quad{G: pair[0], S: pair[1], P: p, O: pk}) {
						cont = false
						break
					}
				}
			} else {
				for pair := range obj.Search(o, rid.Pair{rid.NULL, rid.NULL}) {
					if !rows.addRow(rid.Quad{G: pair[0], S: pair[1], P: p, O: o}) {
						cont = false
						break
					}
				}
			}
			if !cont {
				return false
			}
		}
		return true
	})
}

// ReverseBind computes the intersection of subjects that co-occur with
// each of the (p_i, o_i) pairs, optionally intersected with an incoming M
// and S set, returning at most (M, S). It must not be used with object
// binding (spec §4.10) — ByObject direction is rejected as Unsupported,
// matching the documented-but-unreachable rejection in the original
// engine (spec §9 open question).
func ReverseBind(deps Deps, req Request) (Result, error) {
	if req.Flags.Direction == rid.ByObject {
		return Result{}, ferror.New(ferror.KindUnsupported, "reverse_bind: object-direction binding is not supported in this branch")
	}
	if len(req.P) == 0 || len(req.P) != len(req.O) {
		return Result{}, ferror.New(ferror.KindProtocol, "reverse_bind: P and O vectors must be equal length and non-empty")
	}

	if req.Limit == 0 {
		return Result{}, nil
	}

	type subjGraph struct {
		s, g rid.RID
	}
	var candidates map[subjGraph]bool
	for i, p := range req.P {
		o := req.O[i]
		_, obj, ok := deps.OpenPtree(p)
		if !ok {
			return Result{NoMatch: true}, nil
		}
		cur := map[subjGraph]bool{}
		for pair := range obj.Search(o, rid.Pair{rid.NULL, rid.NULL}) {
			g, s := pair[0], pair[1]
			if candidates != nil && !candidates[subjGraph{s, g}] {
				continue
			}
			cur[subjGraph{s, g}] = true
		}
		candidates = cur
		if len(candidates) == 0 {
			return Result{NoMatch: true}, nil
		}
	}

	allowS := toSet(req.S)
	allowM := toSet(req.M)
	reqMasked := req
	reqMasked.Flags.Columns &= ColM | ColS
	rows := collector{req: reqMasked}
	for sg := range candidates {
		if allowS != nil && !allowS[sg.s] {
			continue
		}
		if allowM != nil && !allowM[sg.g] {
			continue
		}
		if !rows.addRow(rid.Quad{G: sg.g, S: sg.s}) {
			break
		}
	}
	return rows.result(), nil
}

func toSet(v []rid.RID) map[rid.RID]bool {
	if len(v) == 0 {
		return nil
	}
	s := make(map[rid.RID]bool, len(v))
	for _, x := range v {
		s[x] = true
	}
	return s
}
