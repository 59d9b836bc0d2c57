// Package bulkarchive reads and writes the bulk symbol archive format:
// a zip file produced by an external extraction tool holding one JSON
// symbol table per UUID, plus a path index and SDK metadata. Grounded
// on bulkextract.py's build_symbol_archive/chop_symbol_path.
package bulkarchive

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

// SDKInfo describes the SDK a symbol archive was extracted from.
type SDKInfo struct {
	VersionMajor      int    `json:"version_major"`
	VersionMinor      int    `json:"version_minor"`
	VersionPatchlevel int    `json:"version_patchlevel"`
	VersionBuild      string `json:"version_build"`
}

// SymbolEntry is one (address, symbol name) pair, in the order they
// appear in a symbol table entry's "symbols" array.
type SymbolEntry struct {
	Addr   uint64
	Symbol string
}

// Entry is one per-UUID JSON object stored in the archive.
type Entry struct {
	Arch    string
	Image   string
	UUID    string
	VMAddr  uint64
	VMSize  uint64
	Symbols []SymbolEntry
}

type wireEntry struct {
	Arch    string     `json:"arch"`
	Image   string     `json:"image"`
	UUID    string     `json:"uuid"`
	VMAddr  uint64     `json:"vmaddr"`
	VMSize  uint64     `json:"vmsize"`
	Symbols [][2]any   `json:"symbols"`
}

// Archive is an in-memory bulk symbol archive: a set of per-UUID
// entries, a path index, and SDK info.
type Archive struct {
	Entries    map[string]Entry  // keyed by UUID
	PathIndex  map[string]map[string]string // image path -> arch -> uuid
	SDKInfo    SDKInfo
}

var basePathSegment = regexp.MustCompile(`^(\d+)\.(\d+)(?:\.(\d+))? \(([a-zA-Z0-9]+)\)$`)

// ChopSymbolPath strips a leading "<major>.<minor>[.<patch>] (<build>)"
// segment and a leading "Symbols" segment from path, then re-roots the
// remainder at "/".
func ChopSymbolPath(path string) string {
	items := strings.Split(path, "/")
	if len(items) > 0 && basePathSegment.MatchString(items[0]) {
		items = items[1:]
	}
	if len(items) > 0 && items[0] == "Symbols" {
		items = items[1:]
	}
	return "/" + strings.Trim(strings.Join(items, "/"), "/")
}

// SDKInfoFromPath extracts SDK version info from a path containing a
// "<major>.<minor>[.<patch>] (<build>)" segment, searching from the
// end of the path (deepest directory first), matching
// get_sdk_info_from_path's search order. ok is false if no segment of
// path matches the pattern.
func SDKInfoFromPath(path string) (SDKInfo, bool) {
	pieces := strings.Split(path, "/")
	for i := len(pieces) - 1; i >= 0; i-- {
		piece := strings.TrimSuffix(pieces[i], ".zip")
		m := basePathSegment.FindStringSubmatch(piece)
		if m == nil {
			continue
		}
		major, _ := strconv.Atoi(m[1])
		minor, _ := strconv.Atoi(m[2])
		patch := 0
		if m[3] != "" {
			patch, _ = strconv.Atoi(m[3])
		}
		return SDKInfo{VersionMajor: major, VersionMinor: minor, VersionPatchlevel: patch, VersionBuild: m[4]}, true
	}
	return SDKInfo{}, false
}

// Write serializes arc to w as a zip archive: one member per UUID
// entry (name == UUID, body == its JSON form, symbols sorted ascending
// by address), plus "path_index" and "sdk_info" members.
func Write(w io.Writer, arc *Archive) error {
	zw := zip.NewWriter(w)

	uuids := make([]string, 0, len(arc.Entries))
	for id := range arc.Entries {
		uuids = append(uuids, id)
	}
	sort.Strings(uuids)

	for _, id := range uuids {
		entry := arc.Entries[id]
		sorted := append([]SymbolEntry(nil), entry.Symbols...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Addr < sorted[j].Addr })

		we := wireEntry{Arch: entry.Arch, Image: entry.Image, UUID: entry.UUID, VMAddr: entry.VMAddr, VMSize: entry.VMSize}
		for _, sym := range sorted {
			we.Symbols = append(we.Symbols, [2]any{fmt.Sprintf("%#x", sym.Addr), sym.Symbol})
		}

		data, err := json.Marshal(we)
		if err != nil {
			return fmt.Errorf("bulkarchive: marshaling entry %s: %w", id, err)
		}
		fw, err := zw.Create(id)
		if err != nil {
			return fmt.Errorf("bulkarchive: creating entry %s: %w", id, err)
		}
		if _, err := fw.Write(data); err != nil {
			return fmt.Errorf("bulkarchive: writing entry %s: %w", id, err)
		}
	}

	pathIndex := arc.PathIndex
	if pathIndex == nil {
		pathIndex = map[string]map[string]string{}
	}
	data, err := json.Marshal(pathIndex)
	if err != nil {
		return fmt.Errorf("bulkarchive: marshaling path_index: %w", err)
	}
	fw, err := zw.Create("path_index")
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}

	sdkData, err := json.Marshal(arc.SDKInfo)
	if err != nil {
		return fmt.Errorf("bulkarchive: marshaling sdk_info: %w", err)
	}
	fw, err = zw.Create("sdk_info")
	if err != nil {
		return err
	}
	if _, err := fw.Write(sdkData); err != nil {
		return err
	}

	return zw.Close()
}

// Read parses a bulk symbol archive from r. A member that fails to
// parse does not abort the rest of the walk: its error is combined
// into the returned error via multierr, and every other member is
// still read into arc.
func Read(r io.ReaderAt, size int64) (*Archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("bulkarchive: opening zip: %w", err)
	}

	arc := &Archive{Entries: map[string]Entry{}, PathIndex: map[string]map[string]string{}}

	var errs error
	for _, f := range zr.File {
		switch f.Name {
		case "path_index":
			if err := readJSONMember(f, &arc.PathIndex); err != nil {
				errs = multierr.Append(errs, err)
			}
		case "sdk_info":
			if err := readJSONMember(f, &arc.SDKInfo); err != nil {
				errs = multierr.Append(errs, err)
			}
		default:
			var we wireEntry
			if err := readJSONMember(f, &we); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			entry := Entry{Arch: we.Arch, Image: we.Image, UUID: we.UUID, VMAddr: we.VMAddr, VMSize: we.VMSize}
			for _, pair := range we.Symbols {
				if len(pair) != 2 {
					continue
				}
				addrStr, _ := pair[0].(string)
				symbol, _ := pair[1].(string)
				addr, err := strconv.ParseUint(strings.TrimPrefix(addrStr, "0x"), 16, 64)
				if err != nil {
					continue
				}
				entry.Symbols = append(entry.Symbols, SymbolEntry{Addr: addr, Symbol: symbol})
			}
			arc.Entries[f.Name] = entry
		}
	}

	return arc, errs
}

func readJSONMember(f *zip.File, v any) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("bulkarchive: opening member %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("bulkarchive: reading member %s: %w", f.Name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("bulkarchive: decoding member %s: %w", f.Name, err)
	}
	return nil
}
