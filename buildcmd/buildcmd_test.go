package buildcmd_test

import (
	"testing"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudk/buildprof/buildcmd"
)

const compileLine = `g++ -std=c++14 -DNDEBUG -DHAVE_CAIRO -Iinclude -isystem deps/agg ` +
	`-O2 -fPIC -c -o src/map.os src/map.cpp`

func assertLines(t *testing.T, expected, result string) {
	t.Helper()
	if expected == result {
		return
	}
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:       difflib.SplitLines(expected),
		B:       difflib.SplitLines(result),
		Context: 1,
	})
	t.Fatalf("unexpected result:\n%s", diff)
}

func TestParse(t *testing.T) {
	cmd, ok := buildcmd.Parse(compileLine)
	require.True(t, ok)
	assert.Equal(t, "src/map.cpp", cmd.Source)
	assert.Equal(t, "g++", cmd.Args[0])
	assert.Len(t, cmd.Args, 13)
}

func TestParseRejects(t *testing.T) {
	for name, line := range map[string]string{
		"empty":           "",
		"one word":        "true",
		"not a c++ file":  "gcc -c -o main.o main.c",
		"no compile flag": "g++ -E -o - src/map.cpp",
		"no output flag":  "g++ -c src/map.cpp",
		"trailing output": "g++ -c src/map.cpp -o",
		"unbalanced":      `g++ -c -o "src/map.os src/map.cpp`,
		"install step":    "install -m 644 doc/readme.cpp", // no -c/-o pair
	} {
		t.Run(name, func(t *testing.T) {
			_, ok := buildcmd.Parse(line)
			assert.False(t, ok)
		})
	}
}

func TestPreprocessArgs(t *testing.T) {
	cmd, ok := buildcmd.Parse(compileLine)
	require.True(t, ok)

	args := cmd.PreprocessArgs()
	assert.Contains(t, args, "-E")
	assert.NotContains(t, args, "-c")
	assert.Equal(t, "-", args[len(args)-2])
	assert.Equal(t, "src/map.cpp", args[len(args)-1])
	// the original invocation is left untouched
	assert.Contains(t, cmd.Args, "-c")
	assert.Contains(t, cmd.Args, "src/map.os")
}

func TestTemplate(t *testing.T) {
	cmd, ok := buildcmd.Parse(compileLine)
	require.True(t, ok)

	assertLines(t,
		`g++ -std=c++14 -DNDEBUG -DHAVE_CAIRO -Iinclude -isystem deps/agg `+
			`-O2 -fPIC -c -o ${TARGET} ${SOURCE}`,
		cmd.Template())

	args, err := buildcmd.ExpandTemplate(cmd.Template(), "src/map.o", "src/map.cpp")
	require.NoError(t, err)
	assert.Equal(t, append(cmd.Args[:len(cmd.Args)-2:len(cmd.Args)-2], "src/map.o", "src/map.cpp"), args)
}

// TestFilteredArgsHash verifies that defines, include paths and the
// output file do not influence the hash, while codegen options do.
func TestFilteredArgsHash(t *testing.T) {
	cmd, ok := buildcmd.Parse(compileLine)
	require.True(t, ok)
	base := cmd.FilteredArgsHash()

	variant, ok := buildcmd.Parse(`g++ -std=c++14 -DDEBUG -Iother/include ` +
		`-isystem deps/boost -O2 -fPIC -c -o build/map.os src/map.cpp`)
	require.True(t, ok)
	assert.Equal(t, base, variant.FilteredArgsHash())

	optimized, ok := buildcmd.Parse(`g++ -std=c++14 -DNDEBUG -DHAVE_CAIRO -Iinclude ` +
		`-isystem deps/agg -O3 -fPIC -c -o src/map.os src/map.cpp`)
	require.True(t, ok)
	assert.NotEqual(t, base, optimized.FilteredArgsHash())
}

func TestFilteredArgsHashDetachedValues(t *testing.T) {
	// -I value vs -Ivalue and a detached -o value collapse the same way
	a := buildcmd.FilteredArgsHash([]string{"g++", "-I", "include", "-o", "out.o", "-c"})
	b := buildcmd.FilteredArgsHash([]string{"g++", "-Iinclude", "-oout.o", "-c"})
	assert.Equal(t, a, b)

	// -include is not mistaken for a bare -I: it keeps its own value
	// attached and drops only itself
	c := buildcmd.FilteredArgsHash([]string{"g++", "-include", "pch.hpp", "-c"})
	d := buildcmd.FilteredArgsHash([]string{"g++", "pch.hpp", "-c"})
	assert.Equal(t, c, d)
}
