package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"
	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/luastep/internal/debug"
	"github.com/dshills/luastep/internal/lua"
	"github.com/dshills/luastep/internal/watcher"
)

// LineReader reads one line of user input. *readline.Instance satisfies it.
type LineReader interface {
	Readline() (string, error)
}

// REPL drives one debug session from user commands.
type REPL struct {
	manager *debug.Manager
	id      string
	script  string
	out     io.Writer
	logger  zerolog.Logger

	// Script text by line as loaded, for listing the current line.
	source  []string
	changes <-chan watcher.Event

	// Last resuming command, repeated on a blank line.
	last Command
}

// NewREPL creates a REPL for the session id running script.
func NewREPL(manager *debug.Manager, id, script string, out io.Writer, logger zerolog.Logger) *REPL {
	r := &REPL{
		manager: manager,
		id:      id,
		script:  script,
		out:     out,
		logger:  logger,
	}
	r.loadSource()
	return r
}

// SetChanges makes the REPL report events from ch before each prompt.
func (r *REPL) SetChanges(ch <-chan watcher.Event) {
	r.changes = ch
}

// loadSource snapshots the script text. Later changes to the file are
// reported but not reloaded.
func (r *REPL) loadSource() {
	f, err := os.Open(r.script)
	if err != nil {
		r.source = nil
		return
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	r.source = lines
}

// Run reads commands from in until quit, end of input or ctx ends.
func (r *REPL) Run(ctx context.Context, in LineReader) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.reportChanges()

		line, err := in.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("readline error: %w", err)
		}

		cmd, err := ParseCommand(line)
		if err != nil {
			r.printf("error: %v\n", err)
			continue
		}
		if cmd.Kind == CmdNone {
			if r.last.Kind == CmdNone {
				continue
			}
			cmd = r.last
		}

		quit, err := r.Exec(ctx, cmd)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			r.printf("error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func (r *REPL) reportChanges() {
	if r.changes == nil {
		return
	}
	for {
		select {
		case ev, ok := <-r.changes:
			if !ok {
				r.changes = nil
				return
			}
			r.printf("note: %s changed on disk (%s); the session still runs the version loaded at start\n", ev.Path, ev.Op)
		default:
			return
		}
	}
}

// Exec runs one command. It returns true when the REPL should exit.
func (r *REPL) Exec(ctx context.Context, cmd Command) (bool, error) {
	switch cmd.Kind {
	case CmdNone:
		return false, nil
	case CmdStep, CmdNext, CmdFinish, CmdContinue:
		r.last = cmd
		return false, r.resume(ctx, cmd.Kind)
	case CmdBreak:
		return false, r.addBreakpoint(ctx, cmd.File, cmd.Line)
	case CmdBreakpoints:
		return false, r.listBreakpoints()
	case CmdStatus:
		return false, r.status(ctx)
	case CmdLine:
		line, err := r.manager.CurrentLine(ctx, r.id)
		if err != nil {
			return false, err
		}
		r.printf("current line: %s\n", lineText(line))
		return false, nil
	case CmdSave:
		return false, r.saveBreakpoints(cmd.Path)
	case CmdLoad:
		return false, r.loadBreakpoints(cmd.Path)
	case CmdHelp:
		r.printf("%s", helpText)
		return false, nil
	case CmdQuit:
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Kind)
	}
}

func (r *REPL) resume(ctx context.Context, kind CommandKind) error {
	var (
		res debug.StepResult
		err error
	)
	switch kind {
	case CmdStep:
		res, err = r.manager.Step(ctx, r.id)
	case CmdNext:
		res, err = r.manager.Next(ctx, r.id)
	case CmdFinish:
		res, err = r.manager.Finish(ctx, r.id)
	case CmdContinue:
		res, err = r.manager.Continue(ctx, r.id)
	}
	if err != nil {
		return err
	}
	r.printResult(ctx, res)
	return nil
}

func (r *REPL) printResult(ctx context.Context, res debug.StepResult) {
	switch res.Kind {
	case debug.Completed:
		values := r.format(ctx, res.Values)
		if values == "" {
			r.printf("completed\n")
		} else {
			r.printf("completed: %s\n", values)
		}
	case debug.Errored:
		r.printf("errored: %s\n", res.Message)
	case debug.Suspended:
		where := lineText(res.Line)
		if res.Source != "" {
			where = res.Source + ":" + where
		}
		switch res.Reason {
		case debug.ReasonBreakpoint:
			r.printf("breakpoint %d, %s\n", res.Breakpoint, where)
		case debug.ReasonYield:
			r.printf("yielded at %s: %s\n", where, r.format(ctx, res.Values))
		default:
			r.printf("stopped at %s\n", where)
		}
		if text, ok := r.sourceLine(res.Source, res.Line); ok {
			r.printf("%4d | %s\n", res.Line, text)
		}
	}
}

// sourceLine returns the text of line when source names the script.
func (r *REPL) sourceLine(source string, line int) (string, bool) {
	if source == "" || line < 1 || line > len(r.source) {
		return "", false
	}
	if source != path.Clean(filepath.ToSlash(r.script)) {
		return "", false
	}
	return r.source[line-1], true
}

// format renders values on the Lua goroutine.
func (r *REPL) format(ctx context.Context, values []glua.LValue) string {
	if len(values) == 0 {
		return ""
	}
	var text string
	err := r.manager.Execute(ctx, func(s *lua.State) error {
		text = lua.NewBridge(s.LuaState()).FormatValues(values)
		return nil
	})
	if err != nil {
		r.logger.Debug().Err(err).Msg("Format values failed")
		return fmt.Sprintf("<%d values>", len(values))
	}
	return text
}

func (r *REPL) addBreakpoint(ctx context.Context, file string, line int) error {
	if file == "" {
		file = r.script
	}
	id, err := r.manager.Breakpoint(ctx, r.id, file, line)
	if err != nil {
		return err
	}
	r.printf("breakpoint %d at %s:%d\n", id, file, line)
	return nil
}

func (r *REPL) listBreakpoints() error {
	bps, err := r.manager.Breakpoints(r.id)
	if err != nil {
		return err
	}
	if len(bps) == 0 {
		r.printf("no breakpoints\n")
		return nil
	}
	for _, bp := range bps {
		r.printf("%3d  %s\n", bp.ID, bp)
	}
	return nil
}

func (r *REPL) status(ctx context.Context) error {
	status, err := r.manager.Status(ctx, r.id)
	if err != nil {
		return err
	}
	line, err := r.manager.CurrentLine(ctx, r.id)
	if err != nil {
		return err
	}
	depth, err := r.manager.Depth(ctx, r.id)
	if err != nil {
		return err
	}
	r.printf("status: %s, line: %s, depth: %d\n", status, lineText(line), depth)
	return nil
}

func (r *REPL) saveBreakpoints(file string) error {
	reg, err := r.manager.Registry(r.id)
	if err != nil {
		return err
	}

	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("save breakpoints: %w", err)
	}
	if err := reg.Save(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("save breakpoints: %w", err)
	}
	r.printf("saved %d breakpoints to %s\n", reg.Len(), file)
	return nil
}

func (r *REPL) loadBreakpoints(file string) error {
	ids, err := LoadBreakpoints(r.manager, r.id, file)
	for _, id := range ids {
		r.printf("breakpoint %d loaded\n", id)
	}
	return err
}

// LoadBreakpoints adds the breakpoints saved in file to session id.
func LoadBreakpoints(manager *debug.Manager, id, file string) ([]int, error) {
	reg, err := manager.Registry(id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("load breakpoints: %w", err)
	}
	defer f.Close()

	return reg.Load(f)
}

func (r *REPL) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

func lineText(line int) string {
	if line < 1 {
		return "?"
	}
	return fmt.Sprintf("%d", line)
}

const helpText = `Commands:
  step, s                 run to the next line, entering calls
  next, n                 run to the next line in this function or its caller
  finish, f               run until the current function returns
  continue, c             run until a breakpoint, yield or the end
  break, b [file:]line    set a breakpoint (file defaults to the script)
  breakpoints, bl         list breakpoints
  save <path>             write breakpoints to a JSON file
  load <path>             add breakpoints from a JSON file
  status                  show status, current line and call depth
  line                    show the current line
  help, h, ?              show this help
  quit, q                 exit
An empty line repeats the last step, next, finish or continue.
`
