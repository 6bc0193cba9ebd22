package profile

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dudk/buildprof/batch"
	"github.com/dudk/buildprof/digest"
	"github.com/dudk/buildprof/process"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestHashCommand(t *testing.T) {
	sum, err := HashCommand(context.Background(), t.TempDir(), []string{"printf", "abc"})
	require.NoError(t, err)
	assert.Equal(t, digest.Of([]byte("abc")), sum)
}

func TestHashCommandExitStatus(t *testing.T) {
	_, err := HashCommand(context.Background(), t.TempDir(),
		[]string{"sh", "-c", "echo partial; exit 1"})
	var ee *process.ExitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 1, ee.Code)
}

func TestUpdateSources(t *testing.T) {
	dir := t.TempDir()
	content := []byte("int main() { return 0; }\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "map.cpp"), content, 0o644))
	// echoes the content of its last argument, like a preprocessor
	// without the noise
	writeScript(t, dir, "fakecc", `for last; do :; done
cat "$last"
`)

	p := &Profiler{Dir: dir, MaxConcurrent: 2}
	sources, err := p.UpdateSources(context.Background(), []string{
		"rm -f build/prune",
		"./fakecc -O2 -c -o map.o map.cpp",
		"./missingcc -c -o broken.o broken.cpp",
	})
	require.NoError(t, err)
	require.Len(t, sources, 2)

	hashed := sources["map.cpp"]
	assert.Equal(t, digest.Of(content).Hex(), hashed.PreprocessedHash)
	assert.Contains(t, hashed.CompilerArgs, "${SOURCE}")
	assert.Contains(t, hashed.CompilerArgs, "${TARGET}")
	assert.NotEmpty(t, hashed.FilteredArgsHash)

	broken := sources["broken.cpp"]
	assert.Empty(t, broken.PreprocessedHash)
	assert.NotEmpty(t, broken.FilteredArgsHash)
}

func TestUpdateSourcesMaxConcurrent(t *testing.T) {
	p := &Profiler{Dir: t.TempDir()}
	_, err := p.UpdateSources(context.Background(),
		[]string{"cc -c -o map.o map.cpp"})
	assert.ErrorIs(t, err, batch.ErrMaxConcurrent)
}

func TestTimedCompile(t *testing.T) {
	dir := t.TempDir()
	timePath := writeScript(t, dir, "faketime", `echo "compiling..."
echo "1.25 51200 7"
`)

	p := &Profiler{Dir: dir, MaxConcurrent: 1, TimePath: timePath}
	rec := p.TimedCompile(context.Background(), []string{"cc", "-c", "map.cpp"})
	assert.False(t, rec.Failed)
	assert.Equal(t, 1.25, rec.Duration)
	assert.Equal(t, int64(51200), rec.Memory)
	assert.Equal(t, int64(7), rec.PageFaults)
	assert.NotZero(t, rec.Timestamp)
}

func TestTimedCompileExitStatus(t *testing.T) {
	dir := t.TempDir()
	timePath := writeScript(t, dir, "faketime", `echo "2.5 1024 0"
exit 1
`)

	p := &Profiler{Dir: dir, MaxConcurrent: 1, TimePath: timePath}
	rec := p.TimedCompile(context.Background(), []string{"cc", "-c", "map.cpp"})
	assert.True(t, rec.Failed)
	assert.Equal(t, 2.5, rec.Duration)
	assert.NotZero(t, rec.Timestamp)
}

func TestTimedCompileUnparsable(t *testing.T) {
	dir := t.TempDir()
	timePath := writeScript(t, dir, "faketime", `echo "whoops"
`)

	p := &Profiler{Dir: dir, MaxConcurrent: 1, TimePath: timePath}
	rec := p.TimedCompile(context.Background(), []string{"cc", "-c", "map.cpp"})
	assert.True(t, rec.Failed)
	assert.Zero(t, rec.Duration)
	assert.Zero(t, rec.Timestamp)
}

func TestParseTimeOutput(t *testing.T) {
	tests := []struct {
		name   string
		lines  []string
		failed bool
	}{
		{"measurement only", []string{"0.5 256 0"}, false},
		{"after compiler output", []string{"note: compiling", "", "0.5 256 0"}, false},
		{"empty", nil, true},
		{"wrong field count", []string{"0.5 256"}, true},
		{"not numbers", []string{"a b c"}, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.failed, parseTimeOutput(test.lines).Failed)
		})
	}
}

func TestShellCommander(t *testing.T) {
	sc := ShellCommander{Dir: t.TempDir(), Command: `printf 'a\nb\n'`}
	lines, err := sc.BuildCommands(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lines)
}

func TestShellCommanderTargets(t *testing.T) {
	sc := ShellCommander{Dir: t.TempDir(), Command: "echo"}
	lines, err := sc.BuildCommands(context.Background(), "two words", "plain")
	require.NoError(t, err)
	assert.Equal(t, []string{"two words plain"}, lines)
}

func TestShellCommanderFailure(t *testing.T) {
	sc := ShellCommander{Dir: t.TempDir(), Command: "exit 2"}
	_, err := sc.BuildCommands(context.Background())
	var ee *process.ExitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 2, ee.Code)
}

func TestDeadline(t *testing.T) {
	assert.NoError(t, Deadline{}.Check())
	assert.NoError(t, Until(0).Check())
	assert.NoError(t, Until(time.Hour).Check())
	past := Deadline(time.Now().Add(-time.Second))
	assert.ErrorIs(t, past.Check(), ErrDeadline)
}

func TestPickCommit(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	const n = 10
	var first int
	for i := 0; i < 1000; i++ {
		pick := PickCommit(rng, n)
		require.GreaterOrEqual(t, pick, 0)
		require.Less(t, pick, n)
		if pick == 0 {
			first++
		}
	}
	// a cubed draw lands on index 0 whenever x^3 < 1/n
	assert.Greater(t, first, 300)
}
