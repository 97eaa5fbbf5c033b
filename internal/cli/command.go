package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Errors returned by command parsing.
var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadArgument    = errors.New("bad argument")
)

// CommandKind identifies a REPL command.
type CommandKind int

const (
	CmdNone CommandKind = iota
	CmdStep
	CmdNext
	CmdFinish
	CmdContinue
	CmdBreak
	CmdBreakpoints
	CmdStatus
	CmdLine
	CmdSave
	CmdLoad
	CmdHelp
	CmdQuit
)

var commandNames = map[CommandKind]string{
	CmdNone:        "none",
	CmdStep:        "step",
	CmdNext:        "next",
	CmdFinish:      "finish",
	CmdContinue:    "continue",
	CmdBreak:       "break",
	CmdBreakpoints: "breakpoints",
	CmdStatus:      "status",
	CmdLine:        "line",
	CmdSave:        "save",
	CmdLoad:        "load",
	CmdHelp:        "help",
	CmdQuit:        "quit",
}

// String returns the command's long name.
func (k CommandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return "unknown"
}

// Resumes reports whether the command resumes the unit.
func (k CommandKind) Resumes() bool {
	switch k {
	case CmdStep, CmdNext, CmdFinish, CmdContinue:
		return true
	}
	return false
}

var commandAliases = map[string]CommandKind{
	"step":        CmdStep,
	"s":           CmdStep,
	"next":        CmdNext,
	"n":           CmdNext,
	"finish":      CmdFinish,
	"f":           CmdFinish,
	"continue":    CmdContinue,
	"c":           CmdContinue,
	"break":       CmdBreak,
	"b":           CmdBreak,
	"breakpoints": CmdBreakpoints,
	"bl":          CmdBreakpoints,
	"status":      CmdStatus,
	"line":        CmdLine,
	"save":        CmdSave,
	"load":        CmdLoad,
	"help":        CmdHelp,
	"h":           CmdHelp,
	"?":           CmdHelp,
	"quit":        CmdQuit,
	"q":           CmdQuit,
	"exit":        CmdQuit,
}

// Command is a parsed REPL line.
type Command struct {
	Kind CommandKind

	// File and Line are set for break. File is empty when only a line
	// was given.
	File string
	Line int

	// Path is set for save and load.
	Path string
}

// ParseCommand parses one REPL line. A blank line yields CmdNone.
func ParseCommand(input string) (Command, error) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return Command{Kind: CmdNone}, nil
	}

	kind, ok := commandAliases[strings.ToLower(fields[0])]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
	}
	args := fields[1:]
	cmd := Command{Kind: kind}

	switch kind {
	case CmdBreak:
		if len(args) != 1 {
			return Command{}, fmt.Errorf("%w: usage: break [file:]line", ErrBadArgument)
		}
		file, line, err := ParseLocation(args[0])
		if err != nil {
			return Command{}, err
		}
		cmd.File, cmd.Line = file, line
	case CmdSave, CmdLoad:
		if len(args) != 1 {
			return Command{}, fmt.Errorf("%w: usage: %s <path>", ErrBadArgument, kind)
		}
		cmd.Path = args[0]
	default:
		if len(args) != 0 {
			return Command{}, fmt.Errorf("%w: %s takes no arguments", ErrBadArgument, kind)
		}
	}
	return cmd, nil
}

// ParseLocation parses "file:line" or "line". The file part may itself
// contain colons; the last one separates the line.
func ParseLocation(s string) (string, int, error) {
	file, lineText := "", s
	if i := strings.LastIndex(s, ":"); i >= 0 {
		file, lineText = s[:i], s[i+1:]
		if file == "" {
			return "", 0, fmt.Errorf("%w: empty file in %q", ErrBadArgument, s)
		}
	}

	line, err := strconv.Atoi(lineText)
	if err != nil || line < 1 {
		return "", 0, fmt.Errorf("%w: invalid line in %q", ErrBadArgument, s)
	}
	return file, line, nil
}
