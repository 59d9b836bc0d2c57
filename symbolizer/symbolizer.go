// Package symbolizer resolves a (dsym_path, offset, cpu) triple into a
// symbol name, source file, line and column, serializing access to a
// cache of open debug-info handles.
package symbolizer

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/crashkit/symbolicate/cpu"
	"github.com/crashkit/symbolicate/debuginfo"
	"github.com/crashkit/symbolicate/demangle"
)

// Log is the package's logger; replace with a configured
// *zap.SugaredLogger to see diagnostics. Defaults to a no-op sink so
// library consumers don't get unsolicited output, matching the
// convention the rest of this module's packages follow.
var Log = zap.NewNop().Sugar()

const invalidSymbolSentinel = "<invalid>"

// Resolved is one symbolized frame: a symbol name plus source
// location. A null SymbolName (empty string with Resolved false) means
// the underlying lookup found nothing — not an error.
type Resolved struct {
	Resolved   bool
	SymbolName string
	AbsPath    string
	Filename   string
	Line       uint32
	Column     uint32
}

// SymbolicationError wraps a failure from the debug-info layer that
// the caller asked to see (non-silent mode). A "no match" condition is
// never represented as an error — see Resolved.Resolved instead.
type SymbolicationError struct {
	DsymPath string
	CPUName  cpu.Name
	Offset   uint64
	Err      error
}

func (e *SymbolicationError) Error() string {
	return fmt.Sprintf("symbolizer: %s:%s @ %#x: %v", e.DsymPath, e.CPUName, e.Offset, e.Err)
}

func (e *SymbolicationError) Unwrap() error { return e.Err }

// Symbolizer owns a cache of open debug-info handles keyed by dsym
// path, serialized by a single mutex. Handles survive until Close.
type Symbolizer struct {
	mu       sync.Mutex
	handles  map[string]*debuginfo.Handle
	demangle bool
	closed   bool
}

// Option configures a Symbolizer constructed with New.
type Option func(*Symbolizer)

// WithDemangling toggles whether Symbolize/SymbolizeInlined run the
// combined C++/Swift demangler over resolved symbol names. Enabled by
// default.
func WithDemangling(enabled bool) Option {
	return func(s *Symbolizer) { s.demangle = enabled }
}

// New constructs an empty Symbolizer.
func New(opts ...Option) *Symbolizer {
	s := &Symbolizer{handles: map[string]*debuginfo.Handle{}, demangle: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Symbolizer) handleFor(dsymPath string) (*debuginfo.Handle, error) {
	if h, ok := s.handles[dsymPath]; ok {
		return h, nil
	}
	Log.Debugf("opening debug-info handle for %s", dsymPath)
	h, err := debuginfo.Open(dsymPath)
	if err != nil {
		Log.Warnf("failed to open debug-info handle for %s: %v", dsymPath, err)
		return nil, err
	}
	s.handles[dsymPath] = h
	return h, nil
}

// Symbolize resolves one innermost frame. isData requests symbol-table
// lookup semantics appropriate to a data address rather than code; the
// debug-info layer accepts the flag but line-table resolution is
// identical either way.
func (s *Symbolizer) Symbolize(dsymPath string, offset uint64, cpuName cpu.Name, isData bool) (Resolved, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Resolved{}, fmt.Errorf("symbolizer: closed")
	}

	h, err := s.handleFor(dsymPath)
	if err != nil {
		return Resolved{}, &SymbolicationError{DsymPath: dsymPath, CPUName: cpuName, Offset: offset, Err: err}
	}

	hit, ok, err := h.Resolve(cpuName, offset, isData)
	if err != nil {
		if _, isLookupMiss := err.(*debuginfo.DwarfLookupError); isLookupMiss {
			Log.Debugf("no %s variant in %s for offset %#x", cpuName, dsymPath, offset)
			return Resolved{}, nil
		}
		return Resolved{}, &SymbolicationError{DsymPath: dsymPath, CPUName: cpuName, Offset: offset, Err: err}
	}
	if !ok {
		return Resolved{}, nil
	}

	return s.postProcess(h, cpuName, hit), nil
}

// SymbolizeInlined resolves the full inline chain for offset, ordered
// innermost to outermost. It may return an empty, non-nil slice when
// nothing resolves.
func (s *Symbolizer) SymbolizeInlined(dsymPath string, offset uint64, cpuName cpu.Name) ([]Resolved, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("symbolizer: closed")
	}

	h, err := s.handleFor(dsymPath)
	if err != nil {
		return nil, &SymbolicationError{DsymPath: dsymPath, CPUName: cpuName, Offset: offset, Err: err}
	}

	hits, err := h.ResolveInlined(cpuName, offset)
	if err != nil {
		if _, isLookupMiss := err.(*debuginfo.DwarfLookupError); isLookupMiss {
			return nil, nil
		}
		return nil, &SymbolicationError{DsymPath: dsymPath, CPUName: cpuName, Offset: offset, Err: err}
	}

	out := make([]Resolved, 0, len(hits))
	for _, hit := range hits {
		out = append(out, s.postProcess(h, cpuName, hit))
	}
	return out, nil
}

func (s *Symbolizer) postProcess(h *debuginfo.Handle, cpuName cpu.Name, hit debuginfo.Hit) Resolved {
	r := Resolved{Resolved: true, Line: hit.Line, Column: hit.Column}

	symbol := hit.Symbol
	if symbol == invalidSymbolSentinel {
		symbol = ""
	} else if symbol != "" && s.demangle {
		if demangled, ok := demangle.Name(symbol); ok {
			symbol = demangled
		}
	}
	r.SymbolName = symbol
	if symbol == "" {
		r.Resolved = false
	}

	if hit.File != "" {
		r.AbsPath = hit.File
		if compDir, ok := h.CompilationDir(cpuName, hit.File); ok && strings.HasPrefix(hit.File, compDir) {
			rel := strings.TrimPrefix(hit.File, compDir)
			rel = strings.TrimPrefix(rel, "/")
			r.Filename = rel
		}
	}

	return r
}

// Close releases every cached handle. Idempotent.
func (s *Symbolizer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var firstErr error
	for _, h := range s.handles {
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
