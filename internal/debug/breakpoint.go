package debug

import (
	"encoding/json"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// Breakpoint is a registered stop location.
type Breakpoint struct {
	// ID is unique within the owning session, starting at 1.
	ID int `json:"id"`

	// File is the canonical source identity.
	File string `json:"file"`

	// Line is the 1-based line number.
	Line int `json:"line"`
}

// String returns "file:line".
func (b Breakpoint) String() string {
	return fmt.Sprintf("%s:%d", b.File, b.Line)
}

// BreakpointRegistry is an append-only list of line breakpoints. Entries are
// evaluated in insertion order. Identical locations may be registered more
// than once; each gets its own id.
type BreakpointRegistry struct {
	mu          sync.RWMutex
	breakpoints []Breakpoint
	nextID      int
}

// NewBreakpointRegistry creates an empty registry.
func NewBreakpointRegistry() *BreakpointRegistry {
	return &BreakpointRegistry{nextID: 1}
}

// allocateID allocates a new breakpoint ID. Caller holds mu.
func (r *BreakpointRegistry) allocateID() int {
	id := r.nextID
	r.nextID++
	return id
}

// Add registers a breakpoint at file:line and returns its id.
func (r *BreakpointRegistry) Add(file string, line int) (int, error) {
	canonical, ok := canonicalSource(file)
	if !ok {
		return 0, fmt.Errorf("%w: file %q is not a source file name", ErrInvalidBreakpoint, file)
	}
	if line < 1 {
		return 0, fmt.Errorf("%w: line %d must be positive", ErrInvalidBreakpoint, line)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bp := Breakpoint{
		ID:   r.allocateID(),
		File: canonical,
		Line: line,
	}
	r.breakpoints = append(r.breakpoints, bp)
	return bp.ID, nil
}

// Len returns the number of registered breakpoints.
func (r *BreakpointRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.breakpoints)
}

// All returns a copy of the breakpoints in insertion order.
func (r *BreakpointRegistry) All() []Breakpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Breakpoint, len(r.breakpoints))
	copy(out, r.breakpoints)
	return out
}

// Get returns the breakpoint with the given id.
func (r *BreakpointRegistry) Get(id int) (Breakpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, bp := range r.breakpoints {
		if bp.ID == id {
			return bp, true
		}
	}
	return Breakpoint{}, false
}

// Clear removes every breakpoint. Ids already issued are not reused.
func (r *BreakpointRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakpoints = nil
}

// match returns the first breakpoint at line whose file equals the source
// identity produced by source. source is called at most once, and only when
// some breakpoint is on line.
func (r *BreakpointRegistry) match(line int, source func() (string, bool)) (Breakpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		file     string
		known    bool
		resolved bool
	)
	for _, bp := range r.breakpoints {
		if bp.Line != line {
			continue
		}
		if !resolved {
			file, known = source()
			resolved = true
		}
		if !known {
			return Breakpoint{}, false
		}
		if bp.File == file {
			return bp, true
		}
	}
	return Breakpoint{}, false
}

// persistedBreakpoints is the format for persisted breakpoints.
type persistedBreakpoints struct {
	Version     int          `json:"version"`
	Breakpoints []Breakpoint `json:"breakpoints"`
}

// Save writes the breakpoints to w as JSON.
func (r *BreakpointRegistry) Save(w io.Writer) error {
	data := persistedBreakpoints{
		Version:     1,
		Breakpoints: r.All(),
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("encode breakpoints: %w", err)
	}
	return nil
}

// Load reads breakpoints written by Save and adds them in order. Ids are
// issued by this registry; the persisted ids are ignored.
func (r *BreakpointRegistry) Load(rd io.Reader) ([]int, error) {
	var data persistedBreakpoints
	if err := json.NewDecoder(rd).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode breakpoints: %w", err)
	}

	ids := make([]int, 0, len(data.Breakpoints))
	for _, bp := range data.Breakpoints {
		id, err := r.Add(bp.File, bp.Line)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// canonicalSource maps a chunk name to the identity breakpoints compare
// against. One leading '@' is stripped and the path is cleaned. Names that
// are empty, start with '=' or are bracketed like "<string>" do not name a
// file and report false.
func canonicalSource(name string) (string, bool) {
	name = strings.TrimPrefix(name, "@")
	if name == "" || strings.HasPrefix(name, "=") {
		return "", false
	}
	if strings.HasPrefix(name, "<") && strings.HasSuffix(name, ">") {
		return "", false
	}
	return path.Clean(filepath.ToSlash(name)), true
}
