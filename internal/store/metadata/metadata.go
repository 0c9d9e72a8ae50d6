// Package metadata implements the small key/value store for KB
// configuration (spec §6.3/Glossary): name, segment count, salt/hash,
// per-segment role, store UUID. Persisted as metadata.nt, an N-Triples-ish
// serialization keyed by the property IRIs under
// http://4store.org/metadata#.
package metadata

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/fourstore/fourstore/internal/ferror"
)

const prefix = "http://4store.org/metadata#"

// Well-known property names (without the prefix), spec Glossary.
const (
	KBName        = "kb_name"
	NumSegments   = "num_segments"
	Version       = "version"
	Salt          = "salt"
	Hash          = "hash"
	SegmentP      = "segment_p"
	SegmentM      = "segment_m"
	Bnode         = "bnode"
	HashFunction  = "hash_function"
	StoreType     = "store_type"
	ModelData     = "model_data"
	ModelDirs     = "model_dirs"
	ModelFiles    = "model_files"
	UUIDProp      = "uuid"
)

// Metadata is a small ordered multimap: keys may repeat (e.g. per-segment
// role entries), mirroring the original backend's "add" vs "set" split.
type Metadata struct {
	path    string
	entries []entry
}

type entry struct {
	key, val string
}

// Open reads metadata.nt from path. If the file is absent it returns an
// empty Metadata and writes nothing; the file appears on the first Flush.
func Open(path string) (*Metadata, error) {
	m := &Metadata{path: path}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, ferror.Wrap(ferror.KindIO, err, "open metadata %s", path)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := parseLine(line)
		if !ok {
			continue
		}
		m.entries = append(m.entries, entry{k, v})
	}
	if err := sc.Err(); err != nil {
		return nil, ferror.Wrap(ferror.KindIO, err, "read metadata %s", path)
	}
	return m, nil
}

// parseLine parses a turtle-style line of the form:
//   <http://4store.org/metadata#key> "value" .
// value is Go-quoted (matching Flush's strconv.Quote), so embedded quotes and
// backslashes round-trip through strconv.Unquote rather than a bare
// quote search.
func parseLine(line string) (key, val string, ok bool) {
	if !strings.HasPrefix(line, "<"+prefix) {
		return "", "", false
	}
	rest := line[len("<"+prefix):]
	end := strings.IndexByte(rest, '>')
	if end < 0 {
		return "", "", false
	}
	key = rest[:end]
	rest = strings.TrimSpace(rest[end+1:])
	if !strings.HasPrefix(rest, `"`) {
		return "", "", false
	}
	qend := matchingQuote(rest)
	if qend < 0 {
		return "", "", false
	}
	val, err := strconv.Unquote(rest[:qend+1])
	if err != nil {
		return "", "", false
	}
	return key, val, true
}

// matchingQuote returns the index of the closing quote for the Go-quoted
// string starting at s[0], honoring backslash escapes.
func matchingQuote(s string) int {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

// Flush writes the whole metadata set back to disk.
func (m *Metadata) Flush() error {
	f, err := os.Create(m.path)
	if err != nil {
		return ferror.Wrap(ferror.KindIO, err, "create metadata %s", m.path)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, e := range m.entries {
		fmt.Fprintf(w, "<%s%s> %s .\n", prefix, e.key, strconv.Quote(e.val))
	}
	if err := w.Flush(); err != nil {
		return ferror.Wrap(ferror.KindIO, err, "write metadata %s", m.path)
	}
	return f.Sync()
}

// Clear discards every entry without touching disk (caller must Flush).
func (m *Metadata) Clear() { m.entries = nil }

// GetString returns the first value for prop, or def if absent.
func (m *Metadata) GetString(prop, def string) string {
	for _, e := range m.entries {
		if e.key == prop {
			return e.val
		}
	}
	return def
}

// GetInt returns the first value for prop parsed as an integer, or def.
func (m *Metadata) GetInt(prop string, def int64) int64 {
	s := m.GetString(prop, "")
	if s == "" {
		return def
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// GetBool returns true iff the stored value is exactly "true".
func (m *Metadata) GetBool(prop string, def bool) bool {
	s := m.GetString(prop, "")
	if s == "" {
		return def
	}
	return s == "true"
}

// GetIntVector returns every value stored for prop (there may be several,
// e.g. one segment_p entry per segment), parsed as integers.
func (m *Metadata) GetIntVector(prop string) []int64 {
	var out []int64
	for _, e := range m.entries {
		if e.key == prop {
			if n, err := strconv.ParseInt(e.val, 10, 64); err == nil {
				out = append(out, n)
			}
		}
	}
	return out
}

// Set replaces every existing entry for key with a single new one (add if
// none existed).
func (m *Metadata) Set(key, val string) {
	out := m.entries[:0]
	for _, e := range m.entries {
		if e.key != key {
			out = append(out, e)
		}
	}
	m.entries = append(out, entry{key, val})
}

// SetInt is Set with an integer value.
func (m *Metadata) SetInt(key string, val int64) { m.Set(key, strconv.FormatInt(val, 10)) }

// Add appends a new entry without removing existing ones for the same key
// (used for multi-valued properties like per-segment role).
func (m *Metadata) Add(key, val string) { m.entries = append(m.entries, entry{key, val}) }

// AddInt is Add with an integer value.
func (m *Metadata) AddInt(key string, val int64) { m.Add(key, strconv.FormatInt(val, 10)) }

// NewUUID generates and stores a fresh store UUID, returning it.
func (m *Metadata) NewUUID() string {
	id := uuid.New().String()
	m.Set(UUIDProp, id)
	return id
}

// Keys returns the distinct property names present, sorted, mainly for
// debugging/dump tooling.
func (m *Metadata) Keys() []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range m.entries {
		if !seen[e.key] {
			seen[e.key] = true
			out = append(out, e.key)
		}
	}
	sort.Strings(out)
	return out
}
