// Package magicktest provides an in-process stand-in for the ImageMagick
// convert and composite commands, for tests that must not depend on an
// installed ImageMagick.
//
// Runner satisfies magick.Runner and interprets the argument vectors with
// pure Go image libraries. Intercept hooks inject failures. Main lets a test
// binary act as the real executables for exec-level tests.
package magicktest

import (
	"bytes"
	"context"
	"encoding/binary"
	"image/color"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/ironsheep/image-magick-mcp/internal/magick"
)

// Call is one recorded invocation.
type Call struct {
	Name string
	Args []string
}

// Command is the base name of the invoked binary ("convert", "composite").
func (c Call) Command() string {
	return commandName(c.Name)
}

// Output is the output file path of the call, with any "TAG:" prefix removed.
func (c Call) Output() string {
	if len(c.Args) == 0 {
		return ""
	}
	out := c.Args[len(c.Args)-1]
	if i := strings.Index(out, ":"); i > 1 && !strings.ContainsAny(out[:i], `/\`) {
		out = out[i+1:]
	}
	return out
}

// Has reports whether token appears among the arguments.
func (c Call) Has(token string) bool {
	return slices.Contains(c.Args, token)
}

// Intercept inspects a call before it is interpreted. Returning handled=true
// short-circuits the interpreter with res.
type Intercept func(c Call) (res magick.Result, handled bool)

// Runner interprets calls in-process. The zero value is ready to use.
type Runner struct {
	// Intercept, when set, sees every call first.
	Intercept Intercept

	mu    sync.Mutex
	calls []Call
}

// Run implements magick.Runner.
func (r *Runner) Run(ctx context.Context, name string, args []string) (magick.Result, error) {
	if err := ctx.Err(); err != nil {
		return magick.Result{}, err
	}
	c := Call{Name: name, Args: slices.Clone(args)}

	r.mu.Lock()
	r.calls = append(r.calls, c)
	intercept := r.Intercept
	r.mu.Unlock()

	if intercept != nil {
		if res, ok := intercept(c); ok {
			return res, nil
		}
	}

	var stdout, stderr bytes.Buffer
	code := Exec(name, args, &stdout, &stderr)
	return magick.Result{ExitCode: code, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
}

// Calls returns a copy of every call seen so far.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// Reset forgets recorded calls.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Match selects calls for an Intercept.
type Match func(c Call) bool

// Nth matches the n-th call (1-based) that satisfies m.
func Nth(n int, m Match) Match {
	var mu sync.Mutex
	seen := 0
	return func(c Call) bool {
		if !m(c) {
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		seen++
		return seen == n
	}
}

// Using matches calls whose arguments include token.
func Using(token string) Match {
	return func(c Call) bool { return c.Has(token) }
}

// Named matches calls to the given command.
func Named(command string) Match {
	return func(c Call) bool { return c.Command() == command }
}

// Always matches every call.
func Always(Call) bool { return true }

// Fail exits non-zero without writing anything.
func Fail(m Match) Intercept {
	return func(c Call) (magick.Result, bool) {
		if !m(c) {
			return magick.Result{}, false
		}
		return failed(), true
	}
}

// FailPartial writes truncated garbage to the output and then exits non-zero.
func FailPartial(m Match) Intercept {
	return func(c Call) (magick.Result, bool) {
		if !m(c) {
			return magick.Result{}, false
		}
		_ = os.WriteFile(c.Output(), []byte("\x89PNG\r\n"), 0o600)
		return failed(), true
	}
}

// Corrupt exits zero after writing bytes no decoder accepts.
func Corrupt(m Match) Intercept {
	return func(c Call) (magick.Result, bool) {
		if !m(c) {
			return magick.Result{}, false
		}
		_ = os.WriteFile(c.Output(), []byte("not an image"), 0o600)
		return magick.Result{}, true
	}
}

// WriteICO exits zero after writing a PNG-embedded Windows icon: a real image
// format the tool can produce but Go has no decoder for.
func WriteICO(m Match) Intercept {
	return func(c Call) (magick.Result, bool) {
		if !m(c) {
			return magick.Result{}, false
		}
		_ = os.WriteFile(c.Output(), ICO(16), 0o600)
		return magick.Result{}, true
	}
}

// ICO encodes a size x size Windows icon holding a single PNG entry.
func ICO(size int) []byte {
	var img bytes.Buffer
	_ = imaging.Encode(&img, imaging.New(size, size, color.NRGBA{255, 0, 0, 255}), imaging.PNG)

	var b bytes.Buffer
	b.Write([]byte{0, 0, 1, 0, 1, 0}) // reserved, type icon, one entry
	b.Write([]byte{byte(size), byte(size), 0, 0, 1, 0, 32, 0})
	_ = binary.Write(&b, binary.LittleEndian, uint32(img.Len()))
	_ = binary.Write(&b, binary.LittleEndian, uint32(6+16))
	b.Write(img.Bytes())
	return b.Bytes()
}

func failed() magick.Result {
	return magick.Result{ExitCode: 1, Stderr: []byte("magicktest: injected failure\n")}
}

// HelperEnv enables helper mode in a test binary; see RunAsHelper.
const HelperEnv = "MAGICKTEST_HELPER"

// Main runs the interpreter as a process would, dispatching on the base name
// of args[0], and returns the exit code.
func Main(args []string) int {
	if len(args) == 0 {
		return 2
	}
	return Exec(args[0], args[1:], os.Stdout, os.Stderr)
}

// RunAsHelper turns the current process into the emulated tool when HelperEnv
// is set. Call it first thing in TestMain.
func RunAsHelper() {
	if os.Getenv(HelperEnv) == "1" {
		os.Exit(Main(os.Args))
	}
}

// InstallHelper links convert and composite in dir to the running test
// binary, so a magick.Tool pointed at dir executes the interpreter. The
// caller must also set HelperEnv=1 in the environment.
func InstallHelper(dir string) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	for _, name := range []string{"convert", "composite"} {
		if runtime.GOOS == "windows" {
			name += ".exe"
		}
		if err := os.Symlink(exe, filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// WriteImage creates a width x height image filled with c at path. The
// format follows the extension.
func WriteImage(path string, width, height int, c color.Color) error {
	return imaging.Save(imaging.New(width, height, c), path)
}
