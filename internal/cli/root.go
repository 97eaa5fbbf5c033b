// Package cli implements the luastep command line: a cobra command tree
// and an interactive prompt driving one debug session.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

// VersionInfo describes the build.
type VersionInfo struct {
	Version string
	Commit  string
	Date    string
}

// NewRootCmd builds the luastep command tree.
func NewRootCmd(info VersionInfo) *cobra.Command {
	root := &cobra.Command{
		Use:   "luastep",
		Short: "luastep - a line stepping debugger for Lua scripts",
		Long: `luastep runs a Lua script as a coroutine and stops it before source
lines so it can be walked through one line, one call or one breakpoint at a time.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newVersionCmd(info))
	return root
}

func newVersionCmd(info VersionInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("luastep %s\n", info.Version)
			cmd.Printf("Commit: %s\n", info.Commit)
			cmd.Printf("Built: %s\n", info.Date)
		},
	}
}

func newRunCmd() *cobra.Command {
	opts := Options{LineLimit: -1}

	cmd := &cobra.Command{
		Use:   "run <script.lua> [args...]",
		Short: "Debug a Lua script interactively",
		Long: `Loads the script, stops before its first line is run and opens a prompt.

Breakpoints can be given on the command line, in the configuration file or
in a JSON file written by the prompt's save command.

Examples:
  luastep run main.lua
  luastep run --break main.lua:12 --break lib/util.lua:3 main.lua
  luastep run --breakpoints bps.json main.lua input.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Script = args[0]
			opts.Args = args[1:]

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			d, err := NewDebugger(ctx, opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer d.Close()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "(luastep) ",
				HistoryFile:     os.ExpandEnv(d.Config().History),
				InterruptPrompt: "^C",
				EOFPrompt:       "quit",
			})
			if err != nil {
				return fmt.Errorf("failed to initialize readline: %w", err)
			}
			defer func() {
				_ = rl.Close()
			}()

			return d.Run(ctx, rl)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to a TOML or YAML configuration file")
	cmd.Flags().StringArrayVarP(&opts.Breaks, "break", "b", nil, "Set a breakpoint at file:line or line (repeatable)")
	cmd.Flags().StringVar(&opts.BreakpointsFile, "breakpoints", "", "Load breakpoints from a JSON file")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error, disabled)")
	cmd.Flags().Int64Var(&opts.LineLimit, "line-limit", -1, "Maximum lines per resume, 0 for unlimited (default from config)")
	cmd.Flags().BoolVar(&opts.NoWatch, "no-watch", false, "Do not watch the script for changes")

	return cmd
}
