package debug

import (
	"github.com/dshills/luastep/internal/lua"
)

const (
	noLine  = -1
	noLimit = -1
)

// onLine is the hook installed on the unit while a stepping operation
// resumes it. It returns true to suspend the unit before ev's line runs.
//
// Once the unit is suspended at a line, further firings at that line are
// swallowed until a firing at another line. The runtime fires a line again
// after every resume, and a one-line loop fires it once per iteration.
func (s *Session) onLine(ev lua.LineEvent) bool {
	if ev.Thread() != s.unit.LState() {
		return false
	}

	line := ev.Line()
	s.currentLine = line

	if line == s.skipLine {
		return false
	}
	s.skipLine = noLine

	if s.continuing {
		return s.onLineContinuing(ev, line)
	}
	return s.onLineStepping(ev, line)
}

func (s *Session) onLineContinuing(ev lua.LineEvent, line int) bool {
	if s.breakpoints.Len() == 0 || !ev.CanYield() {
		return false
	}

	bp, ok := s.breakpoints.match(line, func() (string, bool) {
		name, ok := ev.Source()
		if !ok {
			return "", false
		}
		return canonicalSource(name)
	})
	if !ok {
		return false
	}

	s.skipLine = line
	s.lastHit = bp.ID
	return true
}

func (s *Session) onLineStepping(ev lua.LineEvent, line int) bool {
	if s.skipDepth != noLimit && ev.Depth() > s.skipDepth {
		return false
	}

	if !ev.CanYield() {
		s.logger.Debug().Int("line", line).Msg("Stop skipped, unit cannot suspend here")
		return false
	}
	s.skipLine = line
	return true
}
