package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/luastep/internal/watcher"
)

// scriptedInput replays lines, then reports end of input.
type scriptedInput struct {
	lines []string
}

func (s *scriptedInput) Readline() (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

const mainScript = `local total = 0
local function add(n)
  total = total + n
end
add(1)
add(2)
return total
`

func writeScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "main.lua")
	require.NoError(t, os.WriteFile(path, []byte(mainScript), 0o644))
	return path
}

func newTestDebugger(t *testing.T, opts Options) (*Debugger, *bytes.Buffer) {
	t.Helper()
	opts.NoWatch = true
	if opts.LineLimit == 0 {
		opts.LineLimit = -1
	}

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	d, err := NewDebugger(ctx, opts, &out)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d, &out
}

func runLines(t *testing.T, d *Debugger, lines ...string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, d.Run(ctx, &scriptedInput{lines: lines}))
}

func TestDebuggerSession(t *testing.T) {
	script := writeScript(t)
	d, out := newTestDebugger(t, Options{Script: script, Breaks: []string{"3"}})
	assert.NotEmpty(t, d.SessionID())

	runLines(t, d, "c", "", "bl", "n", "status", "s", "s", "q", "never read")

	want := "breakpoint 1 at " + script + ":3\n" +
		"debugging " + script + " (type 'help' for commands)\n" +
		"breakpoint 1, " + script + ":3\n" +
		"   3 |   total = total + n\n" +
		"breakpoint 1, " + script + ":3\n" +
		"   3 |   total = total + n\n" +
		"  1  " + script + ":3\n" +
		"stopped at " + script + ":7\n" +
		"   7 | return total\n" +
		"status: suspended, line: 7, depth: 1\n" +
		"completed: 3\n" +
		"error: cannot resume finished execution\n"
	assert.Equal(t, want, out.String())
}

func TestDebuggerStepping(t *testing.T) {
	script := writeScript(t)
	d, out := newTestDebugger(t, Options{Script: script})

	runLines(t, d, "line", "s", "s", "s", "s", "line", "f")

	assert.Contains(t, out.String(), "current line: ?\n")
	assert.Contains(t, out.String(), "stopped at "+script+":1\n")
	assert.Contains(t, out.String(), "stopped at "+script+":5\n")
	assert.Contains(t, out.String(), "stopped at "+script+":3\n")
	assert.Contains(t, out.String(), "current line: 3\n")
	// finish returns to the caller's next line
	assert.Contains(t, out.String(), "stopped at "+script+":6\n")
}

func TestDebuggerArgs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "args.lua")
	require.NoError(t, os.WriteFile(path, []byte("local a, b = ...\nreturn a .. b, {1, 2}\n"), 0o644))

	d, out := newTestDebugger(t, Options{Script: path, Args: []string{"x", "y"}})
	runLines(t, d, "c")

	assert.Contains(t, out.String(), `completed: "xy"	[1 2]`)
}

func TestDebuggerArgTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "argv.lua")
	require.NoError(t, os.WriteFile(path, []byte("return arg[0] == (...) and #arg, arg[2]\n"), 0o644))

	d, out := newTestDebugger(t, Options{Script: path, Args: []string{path, "two"}})
	runLines(t, d, "c")

	assert.Contains(t, out.String(), `completed: 2	"two"`)
}

func TestDebuggerErrors(t *testing.T) {
	script := writeScript(t)
	d, out := newTestDebugger(t, Options{Script: script})

	runLines(t, d, "jump", "b =stdin:1", "b 0")

	assert.Contains(t, out.String(), "error: unknown command: jump\n")
	assert.Contains(t, out.String(), "error: invalid breakpoint")
	assert.Contains(t, out.String(), "error: bad argument")
}

func TestDebuggerSaveLoadBreakpoints(t *testing.T) {
	script := writeScript(t)
	saved := filepath.Join(t.TempDir(), "bps.json")

	d, out := newTestDebugger(t, Options{Script: script})
	runLines(t, d, "b 5", "b "+script+":7", "save "+saved)
	assert.Contains(t, out.String(), "saved 2 breakpoints to "+saved+"\n")

	d2, out2 := newTestDebugger(t, Options{Script: script, BreakpointsFile: saved})
	assert.Contains(t, out2.String(), "breakpoint 1 loaded\nbreakpoint 2 loaded\n")

	runLines(t, d2, "c", "c")
	assert.Contains(t, out2.String(), "breakpoint 1, "+script+":5\n")
	assert.Contains(t, out2.String(), "breakpoint 2, "+script+":7\n")
}

func TestDebuggerMissingScript(t *testing.T) {
	_, err := NewDebugger(context.Background(), Options{
		Script:    filepath.Join(t.TempDir(), "missing.lua"),
		LineLimit: -1,
		NoWatch:   true,
	}, io.Discard)
	assert.Error(t, err)
}

func TestDebuggerBadBreakFlag(t *testing.T) {
	script := writeScript(t)
	_, err := NewDebugger(context.Background(), Options{
		Script:    script,
		Breaks:    []string{"main.lua:x"},
		LineLimit: -1,
		NoWatch:   true,
	}, io.Discard)
	assert.ErrorIs(t, err, ErrBadArgument)
}

func TestDebuggerLineLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loop.lua")
	require.NoError(t, os.WriteFile(path, []byte("while true do\n  local x = 1\nend\n"), 0o644))

	d, out := newTestDebugger(t, Options{Script: path, LineLimit: 50})
	assert.Equal(t, int64(50), d.Config().Runtime.LineLimit)

	runLines(t, d, "c")
	assert.Contains(t, out.String(), "errored: ")
}

func TestREPLReportsChanges(t *testing.T) {
	script := writeScript(t)
	d, out := newTestDebugger(t, Options{Script: script})

	ch := make(chan watcher.Event, 1)
	ch <- watcher.Event{Path: script, Op: watcher.OpWrite}
	d.repl.SetChanges(ch)

	require.NoError(t, os.WriteFile(script, []byte("local total = 10\n"), 0o644))
	runLines(t, d, "s")

	assert.Contains(t, out.String(), "note: "+script+" changed on disk (write)")
	// The listing shows the code the session runs, not the new file.
	assert.Contains(t, out.String(), "   1 | local total = 0\n")
	assert.NotContains(t, out.String(), "local total = 10")
}
