/*
Package buildcmd extracts compiler invocations from dry-run build
output. Every line that compiles a C++ source is turned into a Command
from which the preprocess variant, the stored argument template and the
filtered-arguments hash are derived.
*/
package buildcmd

import (
	"regexp"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/dudk/buildprof/digest"
)

// irrelevantArg matches compiler options that do not change the
// preprocessed output hash: preprocessor defines (-D, -U), include path
// options and the output file option. A bare option consumes the
// following argument as its value.
var irrelevantArg = regexp.MustCompile(`^-(D|U|I|imacros|include|iquote|isystem|o)`)

// Command is a single compiler invocation for one source file.
type Command struct {
	// Source is the compiled file, the last argument of the invocation.
	Source string
	// Args is the full invocation, compiler first.
	Args []string

	compileIdx int // position of -c
	outputIdx  int // position of the -o value
}

// Parse extracts a compile command from one build output line. Lines
// that are not compiler invocations of a C++ source with distinct -c
// and -o options are reported as not ok.
func Parse(line string) (Command, bool) {
	args, err := shellquote.Split(line)
	if err != nil || len(args) < 2 {
		return Command{}, false
	}
	source := args[len(args)-1]
	if !strings.HasSuffix(source, ".cpp") {
		return Command{}, false
	}
	compileIdx := index(args, "-c")
	outputIdx := index(args, "-o")
	if compileIdx < 0 || outputIdx < 0 || outputIdx+1 >= len(args) {
		return Command{}, false
	}
	return Command{
		Source:     source,
		Args:       args,
		compileIdx: compileIdx,
		outputIdx:  outputIdx + 1,
	}, true
}

// PreprocessArgs returns the invocation rewritten to run the
// preprocessor only, with the result on stdout: -c becomes -E and the
// output file becomes "-".
func (c Command) PreprocessArgs() []string {
	args := make([]string, len(c.Args))
	copy(args, c.Args)
	args[c.compileIdx] = "-E"
	args[c.outputIdx] = "-"
	return args
}

// Template returns the invocation in its stored form: quoted for the
// shell, with the output file and the source replaced by ${TARGET} and
// ${SOURCE} placeholders.
func (c Command) Template() string {
	quoted := make([]string, len(c.Args))
	for i, arg := range c.Args {
		quoted[i] = shellquote.Join(arg)
	}
	quoted[c.outputIdx] = "${TARGET}"
	quoted[len(quoted)-1] = "${SOURCE}"
	return strings.Join(quoted, " ")
}

// ExpandTemplate turns a stored invocation template back into argv,
// compiling source into target.
func ExpandTemplate(template, target, source string) ([]string, error) {
	expanded := strings.NewReplacer(
		"${TARGET}", shellquote.Join(target),
		"${SOURCE}", shellquote.Join(source),
	).Replace(template)
	return shellquote.Split(expanded)
}

// FilteredArgsHash hashes the invocation with the options that do not
// affect the preprocessed output removed. Two invocations differing
// only in defines, include paths or the output file map to the same
// hash. The trailing source argument is not part of the hash.
func (c Command) FilteredArgsHash() digest.Sum {
	return FilteredArgsHash(c.Args[:len(c.Args)-1])
}

// FilteredArgsHash hashes an argument list with irrelevant options
// dropped.
func FilteredArgsHash(args []string) digest.Sum {
	relevant := make([]string, 0, len(args))
	skipNext := false
	for _, arg := range args {
		if skipNext {
			skipNext = false
			continue
		}
		if m := irrelevantArg.FindString(arg); m != "" {
			// a bare option takes its value from the next argument
			skipNext = arg == m
			continue
		}
		relevant = append(relevant, shellquote.Join(arg))
	}
	return digest.Of([]byte(strings.Join(relevant, " ")))
}

func index(args []string, arg string) int {
	for i, a := range args {
		if a == arg {
			return i
		}
	}
	return -1
}
