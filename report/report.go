// Package report orchestrates the full symbolication pipeline: it
// holds an image index and a symbolizer, applies address heuristics,
// and combines resolved frames back onto caller-supplied frame data.
package report

import (
	"fmt"

	"github.com/crashkit/symbolicate/cpu"
	"github.com/crashkit/symbolicate/heuristics"
	"github.com/crashkit/symbolicate/imageindex"
	"github.com/crashkit/symbolicate/symbolizer"
)

// Frame is one input backtrace entry. Extras carries every
// caller-supplied key this package doesn't know about, so they pass
// through to ResolvedFrame unchanged (spec.md's Frame Non-goal of a
// fully dynamic record, redesigned as a typed struct with a side map).
type Frame struct {
	InstructionAddr uint64
	ObjectAddr      uint64
	CPUName         cpu.Name
	Extras          map[string]any
}

// ResolvedFrame is a Frame merged with whatever the symbolizer found.
// SymbolName == "" means unresolved; Line/Column are zero then too.
type ResolvedFrame struct {
	Frame
	SymbolName string
	Filename   string
	AbsPath    string
	Line       uint32
	Column     uint32
}

// Meta is optional per-call context: the active signal and register
// snapshot for address heuristics, plus a CPU override.
type Meta struct {
	CPUName     cpu.Name
	Signal      int
	Registers   map[string]string
	FrameNumber int
}

// Options configures a single symbolize call.
type Options struct {
	Silent           bool // swallow SymbolicationError, return the frame unresolved; true when opts is nil
	// Demangle is not consulted by SymbolizeFrame; demangling is set for
	// the whole Symbolicator by passing symbolizer.WithDemangling to New.
	Demangle         bool
	SymbolizeInlined bool
	Meta             *Meta
}

// SymbolicationError reports that a frame could not be resolved for a
// semantic reason (unknown CPU, resolver rejection). Only surfaced
// when Options.Silent is false.
type SymbolicationError struct {
	Reason string
	Err    error
}

func (e *SymbolicationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("report: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("report: %s", e.Reason)
}

func (e *SymbolicationError) Unwrap() error { return e.Err }

// Symbolicator is the top-level entry point: an image index paired
// with a symbolizer over the dSYMs it bound.
type Symbolicator struct {
	index *imageindex.Index
	sym   *symbolizer.Symbolizer
}

// New constructs a Symbolicator over images, locating dSYMs under
// searchPaths.
func New(images []imageindex.BinaryImage, searchPaths []string, opts ...symbolizer.Option) *Symbolicator {
	return &Symbolicator{
		index: imageindex.Build(images, searchPaths),
		sym:   symbolizer.New(opts...),
	}
}

// ReportCPU returns the CPU shared by every bound image, or false if
// the index is empty or spans more than one CPU.
func (s *Symbolicator) ReportCPU() (cpu.Name, bool) {
	return s.index.ReportCPU()
}

func defaultOptions(opts *Options) Options {
	if opts == nil {
		return Options{Silent: true, Demangle: true}
	}
	return *opts
}

// SymbolizeFrame resolves one frame. In non-inlined mode it returns at
// most one ResolvedFrame; in inlined mode it may return several,
// innermost first. A nil, nil result means the frame did not resolve
// (unknown image, no debug info) — not an error.
func (s *Symbolicator) SymbolizeFrame(frame Frame, opts *Options) ([]ResolvedFrame, error) {
	o := defaultOptions(opts)

	cpuName := frame.CPUName
	if cpuName == "" && o.Meta != nil {
		cpuName = o.Meta.CPUName
	}
	if cpuName == "" {
		if rc, ok := s.index.ReportCPU(); ok {
			cpuName = rc
		}
	}
	if cpuName == "" {
		err := &SymbolicationError{Reason: "CPU name was not provided"}
		if o.Silent {
			return nil, nil
		}
		return nil, err
	}

	var hm *heuristics.Meta
	if o.Meta != nil {
		hm = &heuristics.Meta{FrameNumber: o.Meta.FrameNumber, Signal: o.Meta.Signal, Registers: o.Meta.Registers}
	}
	adjusted := heuristics.FindBestInstruction(frame.InstructionAddr, cpuName, hm)

	img, ok := s.index.FindImage(adjusted)
	if !ok {
		return nil, nil
	}
	offset := img.ImageVMAddr + adjusted - img.ImageAddr

	if o.SymbolizeInlined {
		resolved, err := s.sym.SymbolizeInlined(img.DsymPath, offset, cpuName)
		if err != nil {
			if o.Silent {
				return nil, nil
			}
			return nil, &SymbolicationError{Reason: "inline resolution failed", Err: err}
		}
		out := make([]ResolvedFrame, 0, len(resolved))
		for _, r := range resolved {
			if !r.Resolved {
				continue
			}
			out = append(out, combine(frame, r))
		}
		return out, nil
	}

	resolved, err := s.sym.Symbolize(img.DsymPath, offset, cpuName, false)
	if err != nil {
		if o.Silent {
			return nil, nil
		}
		return nil, &SymbolicationError{Reason: "resolution failed", Err: err}
	}
	if !resolved.Resolved {
		return nil, nil
	}
	return []ResolvedFrame{combine(frame, resolved)}, nil
}

func combine(frame Frame, r symbolizer.Resolved) ResolvedFrame {
	return ResolvedFrame{
		Frame:      frame,
		SymbolName: r.SymbolName,
		Filename:   r.Filename,
		AbsPath:    r.AbsPath,
		Line:       r.Line,
		Column:     r.Column,
	}
}

// SymbolizeBacktrace walks frames in order, setting frame_number from
// the index so address heuristics see correct frame position. A frame
// that fails to resolve is appended unchanged — the result is never
// shorter than the input backtrace.
func (s *Symbolicator) SymbolizeBacktrace(frames []Frame, opts *Options) ([]ResolvedFrame, error) {
	out := make([]ResolvedFrame, 0, len(frames))
	for i, f := range frames {
		o := defaultOptions(opts)
		meta := &Meta{}
		if o.Meta != nil {
			*meta = *o.Meta
		}
		meta.FrameNumber = i
		o.Meta = meta

		resolved, err := s.SymbolizeFrame(f, &o)
		if err != nil {
			return nil, err
		}
		if len(resolved) == 0 {
			out = append(out, ResolvedFrame{Frame: f})
			continue
		}
		out = append(out, resolved...)
	}
	return out, nil
}

// Close releases the symbolicator's underlying debug-info handles.
func (s *Symbolicator) Close() error {
	return s.sym.Close()
}
