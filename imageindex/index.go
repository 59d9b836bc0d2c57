// Package imageindex binds a report's binary image list to on-disk
// dSYM debug files and answers "which image owns this address" by
// binary search.
package imageindex

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crashkit/symbolicate/cpu"
	"github.com/crashkit/symbolicate/debuginfo"
)

// Log is the package's logger; replace with a configured
// *zap.SugaredLogger to see diagnostics. Defaults to a no-op sink.
var Log = zap.NewNop().Sugar()

// BinaryImage is one entry of a crash report's binary-images list, as
// supplied by the caller.
type BinaryImage struct {
	UUID        uuid.UUID
	ImageAddr   uint64
	ImageVMAddr uint64
	CPUType     int32
	CPUSubtype  int32
	CPUName     cpu.Name
}

// resolvedCPU returns the image's CPU, preferring an explicit CpuName
// over the (cpu_type, cpu_subtype) pair, and whether it resolved at all.
func (b BinaryImage) resolvedCPU() (cpu.Name, bool) {
	if b.CPUName != "" {
		return b.CPUName, cpu.IsValid(b.CPUName)
	}
	return cpu.NameOf(b.CPUType, b.CPUSubtype)
}

// Entry is a bound image: a binary image whose dsym was located on
// disk. Read-only after construction.
type Entry struct {
	UUID        uuid.UUID
	ImageAddr   uint64
	ImageVMAddr uint64
	DsymPath    string
	CPUName     cpu.Name
}

// Index maps a crash report's runtime addresses to bound dSYM images.
type Index struct {
	addrs   []uint64
	entries map[uint64]Entry
}

// Build resolves every image in images against searchPaths and
// constructs the address-keyed lookup table. Images whose CPU cannot
// be resolved are skipped (per the BinaryImage invariant); images
// whose dsym cannot be located anywhere in searchPaths are silently
// left unbound — that is not an error, it just means those frames
// will not symbolicate.
func Build(images []BinaryImage, searchPaths []string) *Index {
	wanted := map[string]BinaryImage{}
	for _, img := range images {
		if _, ok := img.resolvedCPU(); !ok {
			continue
		}
		wanted[strings.ToLower(img.UUID.String())] = img
	}

	bound := map[string]string{} // lowercase uuid -> dsym path

	// Fast path: a search path directory holding a file literally named
	// by the UUID.
	for idStr := range wanted {
		for _, dir := range searchPaths {
			candidate := filepath.Join(dir, idStr)
			if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
				bound[idStr] = candidate
				break
			}
		}
	}

	// Slow path: scan bundle-shaped search paths for DWARF payloads and
	// open each to check its variants' UUIDs against what's still wanted.
	remaining := len(wanted) - len(bound)
	if remaining > 0 {
		Log.Debugf("%d image(s) not found by UUID filename, scanning %d search path(s) for bundled DWARF", remaining, len(searchPaths))
		for _, dir := range searchPaths {
			if remaining <= 0 {
				break
			}
			dwarfDir := filepath.Join(dir, "Contents", "Resources", "DWARF")
			if _, err := os.Stat(filepath.Join(dir, "Contents")); err != nil {
				continue
			}
			entries, err := os.ReadDir(dwarfDir)
			if err != nil {
				continue
			}
			for _, de := range entries {
				if de.IsDir() {
					continue
				}
				path := filepath.Join(dwarfDir, de.Name())
				h, err := debuginfo.Open(path)
				if err != nil {
					continue
				}
				variants, err := h.Variants()
				if err != nil {
					h.Close()
					continue
				}
				for _, v := range variants {
					idStr := strings.ToLower(v.UUID.String())
					if _, stillWanted := wanted[idStr]; !stillWanted {
						continue
					}
					if _, already := bound[idStr]; already {
						continue
					}
					bound[idStr] = path
					remaining--
				}
				h.Close()
			}
		}
		if remaining > 0 {
			Log.Warnf("%d image(s) still unbound after scanning all search paths; those frames will not symbolicate", remaining)
		}
	}

	idx := &Index{entries: map[uint64]Entry{}}
	for idStr, path := range bound {
		img := wanted[idStr]
		cpuName, _ := img.resolvedCPU()
		vmaddr := img.ImageVMAddr
		idx.entries[img.ImageAddr] = Entry{
			UUID:        img.UUID,
			ImageAddr:   img.ImageAddr,
			ImageVMAddr: vmaddr,
			DsymPath:    path,
			CPUName:     cpuName,
		}
	}

	idx.addrs = make([]uint64, 0, len(idx.entries))
	for addr := range idx.entries {
		idx.addrs = append(idx.addrs, addr)
	}
	sort.Slice(idx.addrs, func(i, j int) bool { return idx.addrs[i] < idx.addrs[j] })

	return idx
}

// FindImage returns the bound entry with the greatest ImageAddr that
// is <= addr, or false if no such entry exists (including addr == 0).
func (idx *Index) FindImage(addr uint64) (Entry, bool) {
	if addr == 0 || len(idx.addrs) == 0 {
		return Entry{}, false
	}
	i := sort.Search(len(idx.addrs), func(i int) bool { return idx.addrs[i] > addr })
	if i == 0 {
		return Entry{}, false
	}
	return idx.entries[idx.addrs[i-1]], true
}

// ReportCPU returns the single CPU shared by every bound image, or
// false if the index is empty or images span more than one CPU.
func (idx *Index) ReportCPU() (cpu.Name, bool) {
	var name cpu.Name
	for _, e := range idx.entries {
		if name == "" {
			name = e.CPUName
			continue
		}
		if name != e.CPUName {
			return "", false
		}
	}
	if name == "" {
		return "", false
	}
	return name, true
}

// ParseAddr accepts a decimal string or a "0x"-prefixed hex string,
// returning 0 for an empty or unparsable input.
func ParseAddr(s string) uint64 {
	if s == "" {
		return 0
	}
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		v, ok := parseHex(s[2:])
		if !ok {
			return 0
		}
		return v
	}
	v, ok := parseDecimal(s)
	if !ok {
		return 0
	}
	return v
}

func parseHex(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	var v uint64
	for _, c := range s {
		var d uint64
		switch {
		case c >= '0' && c <= '9':
			d = uint64(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = uint64(c-'A') + 10
		default:
			return 0, false
		}
		v = v*16 + d
	}
	return v, true
}

func parseDecimal(s string) (uint64, bool) {
	var v uint64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + uint64(c-'0')
	}
	return v, true
}
