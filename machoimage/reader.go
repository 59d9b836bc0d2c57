// Package machoimage detects Mach-O containers (thin and fat) and
// extracts, per architecture slice, the data the rest of the pipeline
// needs to identify a binary image: its UUID, CPU identity, and the
// virtual address/size of its first TEXT segment.
//
// Higher-level DWARF extraction is left to debug/macho's own section
// reader (wrapped by the debuginfo package); this package only concerns
// itself with the Mach-O container shape.
package machoimage

import (
	"debug/macho"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/crashkit/symbolicate/cpu"
)

// FormatError reports a malformed or unrecognized Mach-O container.
// It is the machoimage-level instance of the DebugInfoError kind from
// spec.md §7.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string { return "machoimage: " + e.Reason }

// Slice describes one architecture slice of a (possibly fat) Mach-O
// file.
type Slice struct {
	UUID       uuid.UUID
	CPUName    cpu.Name
	CPUType    int32
	CPUSubtype int32
	VMAddr     uint64
	VMSize     uint64
}

const lcUUID = 0x1b // LC_UUID

// ReadSlices detects the container's magic (thin 32/64-bit in either
// byte order, or fat) and returns one Slice per architecture present.
func ReadSlices(r io.ReaderAt) ([]Slice, error) {
	var magic [4]byte
	if _, err := r.ReadAt(magic[:], 0); err != nil {
		return nil, fmt.Errorf("machoimage: reading magic: %w", err)
	}
	be := binary.BigEndian.Uint32(magic[:])
	le := binary.LittleEndian.Uint32(magic[:])

	switch {
	case be == macho.MagicFat:
		return readFatSlices(r)
	case be == macho.Magic32 || be == macho.Magic64 || le == macho.Magic32 || le == macho.Magic64:
		s, err := readThinSlice(r, 0)
		if err != nil {
			return nil, err
		}
		return []Slice{s}, nil
	default:
		return nil, &FormatError{Reason: fmt.Sprintf("unknown magic 0x%x", be)}
	}
}

func readFatSlices(r io.ReaderAt) ([]Slice, error) {
	ff, err := macho.NewFatFile(r)
	if err != nil {
		return nil, &FormatError{Reason: fmt.Sprintf("invalid fat file: %v", err)}
	}
	defer ff.Close()

	slices := make([]Slice, 0, len(ff.Arches))
	for _, fa := range ff.Arches {
		s, err := readThinSlice(r, int64(fa.Offset))
		if err != nil {
			return nil, err
		}
		slices = append(slices, s)
	}
	return slices, nil
}

func readThinSlice(r io.ReaderAt, base int64) (Slice, error) {
	sr := io.NewSectionReader(r, base, 1<<62)
	f, err := macho.NewFile(sr)
	if err != nil {
		return Slice{}, &FormatError{Reason: fmt.Sprintf("invalid mach-o slice at offset %d: %v", base, err)}
	}
	defer f.Close()

	var vmaddr, vmsize uint64
	if seg := f.Segment("__TEXT"); seg != nil {
		vmaddr, vmsize = seg.Addr, seg.Memsz
	}

	id, err := readUUID(r, base, f.ByteOrder, f.Ncmd, f.Cmdsz, f.Magic == macho.Magic64)
	if err != nil {
		return Slice{}, err
	}

	name, _ := cpu.NameOf(int32(f.Cpu), int32(f.SubCpu))

	return Slice{
		UUID:       id,
		CPUName:    name,
		CPUType:    int32(f.Cpu),
		CPUSubtype: int32(f.SubCpu),
		VMAddr:     vmaddr,
		VMSize:     vmsize,
	}, nil
}

// readUUID manually walks the load command table looking for LC_UUID:
// debug/macho does not expose it as a typed Load, only as raw bytes for
// unrecognized commands. This is also where a command-table size
// mismatch is caught, per spec.md §4.2.
func readUUID(r io.ReaderAt, base int64, bo binary.ByteOrder, ncmd, cmdsz uint32, is64 bool) (uuid.UUID, error) {
	headerSize := int64(28) // mach_header
	if is64 {
		headerSize = 32 // mach_header_64
	}

	buf := make([]byte, cmdsz)
	if _, err := r.ReadAt(buf, base+headerSize); err != nil {
		return uuid.UUID{}, fmt.Errorf("machoimage: reading load commands: %w", err)
	}

	var id uuid.UUID
	found := false
	var offset, seen uint32
	for seen < ncmd {
		if offset+8 > cmdsz {
			return uuid.UUID{}, &FormatError{Reason: "load command table overruns declared sizeofcmds"}
		}
		cmd := bo.Uint32(buf[offset : offset+4])
		size := bo.Uint32(buf[offset+4 : offset+8])
		if size < 8 || offset+size > cmdsz {
			return uuid.UUID{}, &FormatError{Reason: "load command size overruns command table"}
		}
		if cmd == lcUUID && !found {
			if size < 24 {
				return uuid.UUID{}, &FormatError{Reason: "LC_UUID command too short"}
			}
			copy(id[:], buf[offset+8:offset+24])
			found = true
		}
		offset += size
		seen++
	}
	if offset != cmdsz {
		return uuid.UUID{}, &FormatError{Reason: "load commands do not match declared sizeofcmds"}
	}
	// Not every slice is required to carry a UUID command; a zero
	// value here means "unbound" to the caller, not a parse failure.
	return id, nil
}
