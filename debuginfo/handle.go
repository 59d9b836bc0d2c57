// Package debuginfo wraps Mach-O + DWARF parsing for a single on-disk
// debug-info container (an executable or a dSYM's per-architecture
// DWARF payload). It is the "DWARF/Mach-O query layer" of spec.md §1:
// given a debug file, a CPU variant, and an offset, it returns
// (symbol, file, line, column) tuples, resolving inline frames.
package debuginfo

import (
	"debug/dwarf"
	"debug/macho"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crashkit/symbolicate/cpu"
	"github.com/crashkit/symbolicate/machoimage"
)

// Log is the package's logger; replace with a configured
// *zap.SugaredLogger to see diagnostics. Defaults to a no-op sink, the
// same convention the teacher's atos.go uses for its own Log var.
var Log = zap.NewNop().Sugar()

// Variant describes one architecture slice of a debug file.
type Variant struct {
	UUID   uuid.UUID
	CPU    cpu.Name
	VMAddr uint64
	VMSize uint64
	Name   string
}

// Hit is one resolved (symbol, file, line, column) tuple, before any
// demangling or path rewriting — that post-processing belongs to the
// symbolizer package, which is the only consumer of Resolve/ResolveInlined.
type Hit struct {
	Symbol string
	File   string // absolute source path as recorded in DWARF, or ""
	Line   uint32
	Column uint32
}

type archData struct {
	file    *macho.File
	dwarf   *dwarf.Data
	reader  *dwarf.Reader
	aranges []arange
}

// Handle is an open debug-info container. Every exported method takes
// the handle's own mutex, so concurrent queries on one Handle are
// serialized.
type Handle struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	slices []machoimage.Slice
	arches map[cpu.Name]*archData
	closed bool
}

// Open opens path as a debug-info container. It fails with an IoError
// if the file is absent or unreadable, and a DebugInfoError if it is
// not a recognized Mach-O container.
func Open(path string) (*Handle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &IoError{Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &IoError{Path: path, Err: fmt.Errorf("not a regular file")}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &IoError{Path: path, Err: err}
	}

	slices, err := machoimage.ReadSlices(f)
	if err != nil {
		f.Close()
		return nil, &DebugInfoError{Path: path, Err: err}
	}
	if len(slices) == 0 {
		f.Close()
		return nil, &DebugInfoError{Path: path, Err: fmt.Errorf("no architecture slices found")}
	}

	h := &Handle{
		path:   path,
		file:   f,
		slices: slices,
		arches: map[cpu.Name]*archData{},
	}

	if ff, err := macho.NewFatFile(f); err == nil {
		for _, fa := range ff.Arches {
			name, ok := cpu.NameOf(int32(fa.Cpu), int32(fa.SubCpu))
			if !ok {
				continue
			}
			h.arches[name] = &archData{file: fa.File}
		}
	} else if mf, err := macho.NewFile(f); err == nil {
		name, ok := cpu.NameOf(int32(mf.Cpu), int32(mf.SubCpu))
		if ok {
			h.arches[name] = &archData{file: mf}
		}
	} else {
		f.Close()
		return nil, &DebugInfoError{Path: path, Err: fmt.Errorf("unrecognized mach-o container")}
	}

	return h, nil
}

// Variants returns one Variant per architecture slice. It is cheap:
// slice metadata was already extracted at Open time.
func (h *Handle) Variants() ([]Variant, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, fmt.Errorf("debuginfo: handle closed")
	}

	name := filepath.Base(h.path)
	vs := make([]Variant, 0, len(h.slices))
	for _, s := range h.slices {
		vs = append(vs, Variant{UUID: s.UUID, CPU: s.CPUName, VMAddr: s.VMAddr, VMSize: s.VMSize, Name: name})
	}
	return vs, nil
}

// Variant looks up a single variant by UUID or by CpuName.
func (h *Handle) Variant(selector any) (Variant, bool) {
	vs, err := h.Variants()
	if err != nil {
		return Variant{}, false
	}
	switch sel := selector.(type) {
	case uuid.UUID:
		for _, v := range vs {
			if v.UUID == sel {
				return v, true
			}
		}
	case cpu.Name:
		for _, v := range vs {
			if v.CPU == sel {
				return v, true
			}
		}
	case string:
		if id, err := uuid.Parse(sel); err == nil {
			return h.Variant(id)
		}
		return h.Variant(cpu.Name(sel))
	}
	return Variant{}, false
}

func (h *Handle) archFor(cpuName cpu.Name) (*archData, error) {
	a, ok := h.arches[cpuName]
	if !ok {
		return nil, &DwarfLookupError{Kind: NoSuchArch, Detail: string(cpuName)}
	}
	if a.dwarf == nil {
		d, err := a.file.DWARF()
		if err != nil {
			return nil, &DebugInfoError{Path: h.path, Err: err}
		}
		a.dwarf = d
		a.reader = d.Reader()
		a.aranges = loadAranges(a.file)
	}
	return a, nil
}

func loadAranges(f *macho.File) []arange {
	for _, name := range []string{"__debug_aranges", "__zdebug_aranges"} {
		sec := f.Section(name)
		if sec == nil {
			continue
		}
		data, err := sectionData(sec)
		if err != nil {
			continue
		}
		aranges, err := parseDebugAranges(newBytesReader(data))
		if err != nil {
			continue
		}
		return aranges
	}
	return nil
}

// CompilationDir returns the DW_AT_comp_dir of the compilation unit
// that contributes sourcePath, for the given architecture.
func (h *Handle) CompilationDir(cpuName cpu.Name, sourcePath string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", false
	}

	a, err := h.archFor(cpuName)
	if err != nil {
		return "", false
	}

	r := a.dwarf.Reader()
	for {
		entry, err := r.Next()
		if err != nil || entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		lr, err := a.dwarf.LineReader(entry)
		if err == nil {
			for _, file := range lr.Files() {
				if file != nil && file.Name == sourcePath {
					if cd, ok := entry.Val(dwarf.AttrCompDir).(string); ok {
						return cd, true
					}
				}
			}
		}
		r.SkipChildren()
	}
	return "", false
}

// locateCU finds the compile-unit entry whose PC range contains addr,
// via the __debug_aranges fast path, falling back to dwarf.Reader's
// linear SeekPC. Grounded on the teacher's MachFile.LocateCUEntry.
func (h *Handle) locateCU(a *archData, addr uint64) (*dwarf.Entry, error) {
	if len(a.aranges) > 0 {
		idx := sort.Search(len(a.aranges), func(i int) bool {
			return a.aranges[i].highPC > addr
		})
		if idx < len(a.aranges) && a.aranges[idx].lowPC <= addr && addr < a.aranges[idx].highPC {
			sec := a.file.Section("__debug_info")
			if sec == nil {
				sec = a.file.Section("__zdebug_info")
			}
			if sec != nil {
				if data, err := sec.Data(); err == nil {
					if bodyOff, err := cuBodyOffset(a.aranges[idx].cuOffset, newBytesReader(data)); err == nil {
						a.reader.Seek(dwarf.Offset(bodyOff))
						return a.reader.Next()
					}
				}
			}
		}
		Log.Debugf("unable to seek CU for addr [0x%x] via __debug_aranges, falling back to a linear scan", addr)
	}
	return a.dwarf.Reader().SeekPC(addr)
}

// Resolve returns the innermost (symbol, file, line, column) tuple for
// offset, an already-slid image-local address. isData is accepted for
// API parity with the symbolizer's data-symbol mode but unused by the
// DWARF line-table walk.
func (h *Handle) Resolve(cpuName cpu.Name, offset uint64, isData bool) (Hit, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return Hit{}, false, fmt.Errorf("debuginfo: handle closed")
	}

	raw, ok := h.arches[cpuName]
	if !ok {
		return Hit{}, false, &DwarfLookupError{Kind: NoSuchArch, Detail: string(cpuName)}
	}

	a, err := h.archFor(cpuName)
	if err != nil {
		// The arch slice exists but carries no usable DWARF (a fully
		// stripped binary, say); fall back to the raw symbol table
		// rather than surfacing a hard error for a resolvable address.
		Log.Debugf("no usable DWARF for %s in %s (%v), falling back to the symbol table", cpuName, h.path, err)
		if symbol, ok := resolveFromSymTab(raw, offset); ok {
			return Hit{Symbol: symbol}, true, nil
		}
		return Hit{}, false, nil
	}

	cu, err := h.locateCU(a, offset)
	if err != nil || cu == nil || cu.Tag != dwarf.TagCompileUnit {
		if symbol, ok := resolveFromSymTab(a, offset); ok {
			return Hit{Symbol: symbol}, true, nil
		}
		return Hit{}, false, nil // no match: not an error, per spec.md §4.5
	}

	lr, err := a.dwarf.LineReader(cu)
	if err != nil {
		return Hit{}, false, &DebugInfoError{Path: h.path, Err: err}
	}
	var le dwarf.LineEntry
	if err := lr.SeekPC(offset, &le); err != nil {
		le = dwarf.LineEntry{} // no line-table hit; symbol name may still resolve below
	}

	reader := a.dwarf.Reader()
	reader.Seek(cu.Offset)
	reader.Next() // consume the CU entry itself to descend into children

	symbol := findEnclosingSubprogram(a.dwarf, reader, offset)
	if symbol == "" {
		if symbol, ok := resolveFromSymTab(a, offset); ok {
			return Hit{Symbol: symbol}, true, nil
		}
		return Hit{}, false, nil
	}

	fname := ""
	if le.File != nil {
		fname = le.File.Name
	}
	return Hit{Symbol: symbol, File: fname, Line: uint32(le.Line), Column: uint32(le.Column)}, true, nil
}

// resolveFromSymTab is the last-resort path for an offset that falls
// inside __TEXT,__text but has no covering DWARF subprogram (stripped
// compile units, hand-written assembly, or a CU DWARF never emitted
// line info for). It returns the nearest preceding text symbol, the
// same name-only answer atos.go's ResolveNameFromSymTab gave.
func resolveFromSymTab(a *archData, offset uint64) (string, bool) {
	if a.file == nil || a.file.Symtab == nil {
		return "", false
	}
	text := a.file.Section("__text")
	if text == nil {
		return "", false
	}
	if offset < text.Addr || offset >= text.Addr+text.Size {
		return "", false
	}

	best := ""
	var bestAddr uint64
	found := false
	for _, sym := range a.file.Symtab.Syms {
		if sym.Type&0x0e != 0x0e { // N_SECT: defined in a section
			continue
		}
		if sym.Value > offset {
			continue
		}
		if !found || sym.Value > bestAddr {
			best, bestAddr, found = sym.Name, sym.Value, true
		}
	}
	return best, found
}

func findEnclosingSubprogram(d *dwarf.Data, r *dwarf.Reader, addr uint64) string {
	for {
		entry, err := r.Next()
		if err != nil || entry == nil {
			return ""
		}
		if entry.Tag == dwarf.TagCompileUnit || entry.Tag == dwarf.TagPartialUnit {
			return ""
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}
		ranges, err := d.Ranges(entry)
		if err != nil {
			continue
		}
		for _, rng := range ranges {
			if rng[0] <= addr && addr < rng[1] {
				name, _ := entry.Val(dwarf.AttrName).(string)
				return name
			}
		}
	}
}

// ResolveInlined returns the ordered innermost→outermost chain of
// inlined call sites (DW_TAG_inlined_subroutine) containing offset,
// followed by the enclosing concrete subprogram. Empty when nothing
// resolves.
func (h *Handle) ResolveInlined(cpuName cpu.Name, offset uint64) ([]Hit, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, fmt.Errorf("debuginfo: handle closed")
	}

	a, err := h.archFor(cpuName)
	if err != nil {
		return nil, err
	}

	cu, err := h.locateCU(a, offset)
	if err != nil || cu == nil || cu.Tag != dwarf.TagCompileUnit {
		return nil, nil
	}

	reader := a.dwarf.Reader()
	reader.Seek(cu.Offset)
	reader.Next()

	var chain []*dwarf.Entry
	for {
		entry, err := reader.Next()
		if err != nil || entry == nil {
			break
		}
		if entry.Tag == dwarf.TagCompileUnit || entry.Tag == dwarf.TagPartialUnit {
			break
		}
		if entry.Tag != dwarf.TagSubprogram && entry.Tag != dwarf.TagInlinedSubroutine {
			continue
		}
		ranges, err := a.dwarf.Ranges(entry)
		if err != nil {
			continue
		}
		inRange := false
		for _, rng := range ranges {
			if rng[0] <= offset && offset < rng[1] {
				inRange = true
				break
			}
		}
		if inRange {
			chain = append(chain, entry)
		}
	}

	if len(chain) == 0 {
		return nil, nil
	}

	lr, err := a.dwarf.LineReader(cu)
	if err != nil {
		return nil, &DebugInfoError{Path: h.path, Err: err}
	}
	var le dwarf.LineEntry
	hasLine := lr.SeekPC(offset, &le) == nil

	hits := make([]Hit, 0, len(chain))
	// chain was collected outer→inner by the walk order above: innermost
	// entries are discovered deepest into the tree, but DWARF emits
	// inlined subroutines as nested children so the walk already finds
	// the deepest (innermost) caller-site entries last. Reverse so the
	// result is innermost→outermost as spec.md §4.5 requires.
	for i := len(chain) - 1; i >= 0; i-- {
		entry := chain[i]
		name, _ := entry.Val(dwarf.AttrName).(string)
		if name == "" {
			continue
		}
		hit := Hit{Symbol: name}
		if hasLine && le.File != nil {
			hit.File = le.File.Name
			hit.Line = uint32(le.Line)
			hit.Column = uint32(le.Column)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Close releases the underlying file descriptor. Idempotent; never
// re-enters a query path (REDESIGN FLAGS, spec.md §9).
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.file.Close()
}
