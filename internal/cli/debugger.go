package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/luastep/internal/config"
	"github.com/dshills/luastep/internal/debug"
	"github.com/dshills/luastep/internal/logging"
	"github.com/dshills/luastep/internal/lua"
	"github.com/dshills/luastep/internal/watcher"
)

// Options configures a Debugger. Zero values defer to the configuration
// file.
type Options struct {
	// Script is the Lua file to debug.
	Script string
	// Args are passed to the script as its vararg values.
	Args []string
	// ConfigPath is the TOML or YAML configuration file.
	ConfigPath string
	// Breaks are "file:line" or "line" locations set before the first prompt.
	Breaks []string
	// BreakpointsFile is a JSON file written by the save command.
	BreakpointsFile string
	// LogLevel overrides the configured log level.
	LogLevel string
	// LineLimit overrides the configured line limit when not negative.
	LineLimit int64
	// NoWatch disables the script change notice.
	NoWatch bool
}

// Debugger wires a configuration, a Lua state, a session manager and a
// REPL around one script.
type Debugger struct {
	cfg     *config.Config
	logger  zerolog.Logger
	state   *lua.State
	manager *debug.Manager
	watcher *watcher.Watcher
	repl    *REPL
	id      string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDebugger loads the configuration, starts the session for
// opts.Script and sets the initial breakpoints.
func NewDebugger(ctx context.Context, opts Options, out io.Writer) (*Debugger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.LineLimit >= 0 {
		cfg.Runtime.LineLimit = opts.LineLimit
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.NewWithComponent(cfg.Logging(), "luastep")

	state, err := lua.NewState(
		lua.WithLineLimit(cfg.Runtime.LineLimit),
		lua.WithLibraries(cfg.Runtime.AllLibraries),
		lua.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create lua state: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d := &Debugger{
		cfg:     cfg,
		logger:  logger,
		state:   state,
		manager: debug.NewManager(state, logger),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		d.manager.Run(runCtx)
		close(d.done)
	}()

	if err := d.start(ctx, opts, out); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Debugger) start(ctx context.Context, opts Options, out io.Writer) error {
	args := make([]glua.LValue, len(opts.Args))
	for i, a := range opts.Args {
		args[i] = glua.LString(a)
	}

	// Like the standalone interpreter, arg[0] is the script and
	// arg[1..n] are its arguments.
	err := d.manager.Execute(ctx, func(s *lua.State) error {
		argv := lua.NewBridge(s.LuaState()).ToLuaValue(opts.Args)
		if t, ok := argv.(*glua.LTable); ok {
			t.RawSetInt(0, glua.LString(opts.Script))
		}
		s.SetGlobal("arg", argv)
		return nil
	})
	if err != nil {
		return err
	}

	id, err := d.manager.CreateFile(ctx, opts.Script, args...)
	if err != nil {
		return err
	}
	d.id = id
	d.repl = NewREPL(d.manager, id, opts.Script, out, d.logger)

	for _, bp := range d.cfg.Breakpoints {
		if err := d.repl.addBreakpoint(ctx, bp.File, bp.Line); err != nil {
			return err
		}
	}
	for _, loc := range opts.Breaks {
		file, line, err := ParseLocation(loc)
		if err != nil {
			return err
		}
		if err := d.repl.addBreakpoint(ctx, file, line); err != nil {
			return err
		}
	}
	if opts.BreakpointsFile != "" {
		if err := d.repl.loadBreakpoints(opts.BreakpointsFile); err != nil {
			return err
		}
	}

	if !opts.NoWatch {
		d.watch(opts.Script)
	}
	return nil
}

// watch reports script changes in the REPL. Failure only disables the
// notice.
func (d *Debugger) watch(script string) {
	w, err := watcher.New(0)
	if err != nil {
		d.logger.Warn().Err(err).Msg("File watcher unavailable")
		return
	}
	if err := w.Watch(script); err != nil {
		d.logger.Warn().Err(err).Str("script", script).Msg("Cannot watch script")
		_ = w.Close()
		return
	}
	d.watcher = w
	d.repl.SetChanges(w.Events())
}

// Config returns the effective configuration.
func (d *Debugger) Config() *config.Config {
	return d.cfg
}

// SessionID returns the id of the debug session.
func (d *Debugger) SessionID() string {
	return d.id
}

// Run reads commands from in until the user quits.
func (d *Debugger) Run(ctx context.Context, in LineReader) error {
	d.repl.printf("debugging %s (type 'help' for commands)\n", d.repl.script)
	return d.repl.Run(ctx, in)
}

// Close releases the session, stops the Lua goroutine and closes the state.
func (d *Debugger) Close() {
	if d.watcher != nil {
		_ = d.watcher.Close()
	}
	d.manager.Close(context.Background())
	d.cancel()
	<-d.done
	if err := d.state.Close(); err != nil {
		d.logger.Debug().Err(err).Msg("Close lua state")
	}
}
