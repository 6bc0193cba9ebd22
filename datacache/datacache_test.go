package datacache_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudk/buildprof/datacache"
)

const (
	sha     = "a1b2c3d4e5"
	argHash = "ffeeddccbb"
	cppHash = "0011223344"
	srcPath = "src/map.cpp"
)

func newCache(t *testing.T) *datacache.Cache {
	t.Helper()
	c, err := datacache.New(t.TempDir())
	require.NoError(t, err)
	return c
}

func TestCommitRoundTrip(t *testing.T) {
	c := newCache(t)
	ok := true
	meta := datacache.CommitMeta{
		CommitDate:    1575734000,
		CommitSubject: "fix the frobnicator",
		LastRefresh:   1575735000,
		ConfigureOK:   &ok,
		Targets:       []string{"deps/", "src/"},
	}
	sources := map[string]datacache.SourceMeta{
		srcPath: {
			CompilerArgs:     "g++ -c -o ${TARGET} ${SOURCE}",
			FilteredArgsHash: argHash,
			PreprocessedHash: cppHash,
		},
	}
	require.NoError(t, c.SaveCommit(sha, meta, sources))

	gotMeta, err := c.LoadCommitMeta(sha)
	require.NoError(t, err)
	assert.Equal(t, meta, gotMeta)

	gotSources, err := c.LoadSources(sha)
	require.NoError(t, err)
	assert.Equal(t, sources, gotSources)

	// commit files are sharded by the two leading hash characters
	_, err = os.Stat(filepath.Join(c.Root(), "commits", "a", "1", sha+"-metadata.yml"))
	assert.NoError(t, err)
}

func TestUnknownCommit(t *testing.T) {
	c := newCache(t)
	_, err := c.LoadCommitMeta(sha)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestShortSHA(t *testing.T) {
	c := newCache(t)
	for _, sha := range []string{"", "x"} {
		_, err := c.LoadCommitMeta(sha)
		assert.Error(t, err)
		_, err = c.LoadSources(sha)
		assert.Error(t, err)
		assert.Error(t, c.SaveCommit(sha, datacache.CommitMeta{}, nil))
	}
}

// TestFailedConfigureDropsSources verifies that a commit whose
// configure step failed loses a stale source listing.
func TestFailedConfigureDropsSources(t *testing.T) {
	c := newCache(t)
	ok := true
	sources := map[string]datacache.SourceMeta{
		srcPath: {FilteredArgsHash: argHash},
	}
	require.NoError(t, c.SaveCommit(sha, datacache.CommitMeta{ConfigureOK: &ok}, sources))

	notOK := false
	require.NoError(t, c.SaveCommit(sha, datacache.CommitMeta{ConfigureOK: &notOK}, nil))

	_, err := c.LoadSources(sha)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAppendRecordTrims(t *testing.T) {
	c := newCache(t)
	for i := int64(1); i <= 5; i++ {
		c.AppendRecord(srcPath, argHash, cppHash,
			datacache.CompileRecord{Duration: float64(i), Timestamp: i}, 3)
	}

	records := c.SourceData(srcPath, argHash)[cppHash]
	require.Len(t, records, 3)
	assert.Equal(t, []int64{3, 4, 5}, c.Timestamps(srcPath, argHash, cppHash))
}

func TestPrune(t *testing.T) {
	c := newCache(t)
	for _, ts := range []int64{100, 200, 300} {
		c.AppendRecord(srcPath, argHash, cppHash,
			datacache.CompileRecord{Timestamp: ts}, 0)
	}
	require.NoError(t, c.SaveModified())
	assert.Zero(t, c.Modified())

	c.Prune(srcPath, argHash, 200)
	assert.Equal(t, []int64{200, 300}, c.Timestamps(srcPath, argHash, cppHash))
	assert.Equal(t, 1, c.Modified())

	// pruning nothing leaves the modified set alone
	require.NoError(t, c.SaveModified())
	c.Prune(srcPath, argHash, 50)
	assert.Zero(t, c.Modified())
}

func TestSourceDataRoundTrip(t *testing.T) {
	c := newCache(t)
	c.AppendRecord(srcPath, argHash, cppHash,
		datacache.CompileRecord{Duration: 1.5, Memory: 1 << 20, Timestamp: 100}, 0)
	require.NoError(t, c.SaveModified())

	reopened, err := datacache.New(c.Root())
	require.NoError(t, err)
	records := reopened.SourceData(srcPath, argHash)[cppHash]
	require.Len(t, records, 1)
	assert.Equal(t, 1.5, records[0].Duration)
	assert.Equal(t, int64(1<<20), records[0].Memory)
}

func TestNextCompileThreshold(t *testing.T) {
	assert.Zero(t, datacache.NextCompileThreshold(13, nil))

	// one sample: latest + base*3600*(1.5 - 0.5)
	assert.Equal(t, int64(1000+13*3600),
		datacache.NextCompileThreshold(13, []int64{1000}))

	// the delay grows with the number of samples
	two := datacache.NextCompileThreshold(13, []int64{1000, 1000})
	one := datacache.NextCompileThreshold(13, []int64{1000})
	assert.Greater(t, two, one)
}
