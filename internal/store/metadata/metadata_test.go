package metadata

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	m, err := Open(filepath.Join(t.TempDir(), "missing.nt"))
	require.NoError(t, err)
	assert.Equal(t, "", m.GetString(KBName, ""))
	assert.Empty(t, m.Keys())
}

func TestSetGetAndFlushReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.nt")
	m, err := Open(path)
	require.NoError(t, err)

	m.Set(KBName, "mykb")
	m.SetInt(NumSegments, 4)
	require.NoError(t, m.Flush())

	m2, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "mykb", m2.GetString(KBName, ""))
	assert.Equal(t, int64(4), m2.GetInt(NumSegments, -1))
}

func TestSetReplacesPriorValue(t *testing.T) {
	m, err := Open(filepath.Join(t.TempDir(), "metadata.nt"))
	require.NoError(t, err)

	m.Set(Salt, "aaaa")
	m.Set(Salt, "bbbb")
	assert.Equal(t, "bbbb", m.GetString(Salt, ""))
	assert.Len(t, m.GetIntVector(Salt), 0)
}

func TestAddAccumulatesMultiValuedKeys(t *testing.T) {
	m, err := Open(filepath.Join(t.TempDir(), "metadata.nt"))
	require.NoError(t, err)

	m.AddInt(SegmentP, 0)
	m.AddInt(SegmentP, 1)
	m.AddInt(SegmentP, 2)
	assert.Equal(t, []int64{0, 1, 2}, m.GetIntVector(SegmentP))
}

func TestGetBoolDefaultsAndParses(t *testing.T) {
	m, err := Open(filepath.Join(t.TempDir(), "metadata.nt"))
	require.NoError(t, err)

	assert.True(t, m.GetBool(ModelFiles, true))
	m.Set(ModelFiles, "true")
	assert.True(t, m.GetBool(ModelFiles, false))
	m.Set(ModelFiles, "false")
	assert.False(t, m.GetBool(ModelFiles, true))
}

func TestNewUUIDIsStoredAndRetrievable(t *testing.T) {
	m, err := Open(filepath.Join(t.TempDir(), "metadata.nt"))
	require.NoError(t, err)

	id := m.NewUUID()
	assert.NotEmpty(t, id)
	assert.Equal(t, id, m.GetString(UUIDProp, ""))
}

func TestKeysSortedAndDeduped(t *testing.T) {
	m, err := Open(filepath.Join(t.TempDir(), "metadata.nt"))
	require.NoError(t, err)

	m.Set(KBName, "a")
	m.AddInt(SegmentP, 0)
	m.AddInt(SegmentP, 1)
	assert.Equal(t, []string{KBName, SegmentP}, m.Keys())
}

func TestClearDiscardsEntriesWithoutTouchingDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.nt")
	m, err := Open(path)
	require.NoError(t, err)
	m.Set(KBName, "mykb")
	require.NoError(t, m.Flush())

	m.Clear()
	assert.Empty(t, m.Keys())

	m2, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "mykb", m2.GetString(KBName, ""), "Clear must not flush")
}

func TestValuesWithQuotesAndSpacesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.nt")
	m, err := Open(path)
	require.NoError(t, err)
	m.Set(KBName, `my "special" kb`)
	require.NoError(t, m.Flush())

	m2, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, `my "special" kb`, m2.GetString(KBName, ""))
}
