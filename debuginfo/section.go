package debuginfo

import (
	"bytes"
	"compress/zlib"
	"debug/macho"
	"encoding/binary"
	"fmt"
	"io"
)

// sectionData reads a Mach-O section's bytes, transparently inflating
// the zlib-compressed form linkers emit for "__zdebug_*" sections
// (a 4-byte "ZLIB" marker, an 8-byte big-endian uncompressed size,
// then the deflate stream). Adapted from the teacher's sectionData.
func sectionData(s *macho.Section) ([]byte, error) {
	b, err := s.Data()
	if err != nil && uint64(len(b)) < s.Size {
		return nil, fmt.Errorf("debuginfo: reading mach-o section data: %w", err)
	}

	if len(b) >= 12 && string(b[:4]) == "ZLIB" {
		uncompressedLen := binary.BigEndian.Uint64(b[4:12])
		out := make([]byte, uncompressedLen)
		r, err := zlib.NewReader(bytes.NewReader(b[12:]))
		if err != nil {
			return nil, fmt.Errorf("debuginfo: opening zlib section reader: %w", err)
		}
		defer r.Close()
		if _, err := io.ReadFull(r, out); err != nil {
			return nil, fmt.Errorf("debuginfo: inflating compressed section data: %w", err)
		}
		b = out
	}
	return b, nil
}
