package debuginfo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// arange is one entry of a __debug_aranges table: a PC range plus the
// offset of the compile unit header that owns it. Locating a CU this
// way is materially faster than a linear scan of __debug_info, which
// matters because every frame in a backtrace triggers one lookup.
// Adapted from the teacher's dwarf.go (ParseDebugAranges/GetCUBodyOffset).
type arange struct {
	cuOffset uint64
	lowPC    uint64
	highPC   uint64
}

func parseDebugAranges(br *bytesReader) ([]arange, error) {
	if br.Len() < 6 {
		return nil, errors.New("debuginfo: a DWARF CU is at least 6 bytes long")
	}

	var aranges []arange

	for br.Len() > 0 {
		startOffset := br.Offset()
		isDWARF64 := false

		unitLen, err := br.Bytes(4)
		if err != nil {
			return aranges, err
		}
		if unitLen[0] == 0xff && unitLen[1] == 0xff && unitLen[2] == 0xff && unitLen[3] == 0xff {
			isDWARF64 = true
			unitLen, err = br.Bytes(8)
			if err != nil {
				return aranges, err
			}
		}

		versionBytes, err := br.Bytes(2)
		if err != nil {
			return aranges, err
		}
		var byteOrder binary.ByteOrder = binary.LittleEndian
		if versionBytes[0] == 0 {
			byteOrder = binary.BigEndian
		}

		var bodyLength uint64
		if isDWARF64 {
			bodyLength = byteOrder.Uint64(unitLen)
		} else {
			bodyLength = uint64(byteOrder.Uint32(unitLen))
		}
		if bodyLength == 0 {
			continue
		}

		version := byteOrder.Uint16(versionBytes)
		if version != 2 {
			return aranges, fmt.Errorf("debuginfo: only DWARF __debug_aranges version 2 is supported, got %d", version)
		}

		var debugInfoOffset uint64
		if isDWARF64 {
			b, err := br.Bytes(8)
			if err != nil {
				return aranges, err
			}
			debugInfoOffset = byteOrder.Uint64(b)
		} else {
			b, err := br.Bytes(4)
			if err != nil {
				return aranges, err
			}
			debugInfoOffset = uint64(byteOrder.Uint32(b))
		}

		addSize, err := br.ReadByte()
		if err != nil {
			return aranges, err
		}
		addressSize := int(addSize)

		selSize, err := br.ReadByte()
		if err != nil {
			return aranges, err
		}
		segmentSelectorSize := int(selSize)

		tupleSize := segmentSelectorSize + addressSize*2
		if remain := (br.Offset() - startOffset) % tupleSize; remain != 0 {
			if _, err := br.Skip(tupleSize - remain); err != nil {
				return aranges, err
			}
		}

		for {
			var segment, address, length uint64
			if segmentSelectorSize > 0 {
				ss, err := br.Bytes(segmentSelectorSize)
				if err != nil {
					return aranges, err
				}
				switch segmentSelectorSize {
				case 1:
					segment = uint64(ss[0])
				case 2:
					segment = uint64(byteOrder.Uint16(ss))
				case 4:
					segment = uint64(byteOrder.Uint32(ss))
				case 8:
					segment = byteOrder.Uint64(ss)
				}
			}

			addr, err := br.Bytes(addressSize * 2)
			if err != nil {
				return aranges, err
			}
			if addressSize == 4 {
				address = uint64(byteOrder.Uint32(addr[:4]))
				length = uint64(byteOrder.Uint32(addr[4:]))
			} else {
				address = byteOrder.Uint64(addr[:8])
				length = byteOrder.Uint64(addr[8:])
			}

			if segment == 0 && address == 0 && length == 0 {
				break
			}

			aranges = append(aranges, arange{
				cuOffset: debugInfoOffset,
				lowPC:    address,
				highPC:   address + length,
			})
		}
	}

	sort.Slice(aranges, func(i, j int) bool {
		return aranges[i].lowPC < aranges[j].lowPC
	})

	return aranges, nil
}

// cuBodyOffset gets the __debug_info CU body offset (the offset where
// the reader should resume after seeking to it) given the CU header
// offset recorded in __debug_aranges.
func cuBodyOffset(cuOffset uint64, debugInfo *bytesReader) (int, error) {
	r := debugInfo
	if _, err := r.Seek(int64(cuOffset), 0); err != nil {
		return 0, fmt.Errorf("debuginfo: seeking to CU offset: %w", err)
	}

	isDWARF64 := false
	first4, err := r.Bytes(4)
	if err != nil {
		return 0, fmt.Errorf("debuginfo: reading CU length: %w", err)
	}
	if first4[0] == 0xff && first4[1] == 0xff && first4[2] == 0xff && first4[3] == 0xff {
		if _, err := r.Skip(8); err != nil {
			return 0, fmt.Errorf("debuginfo: skipping 64-bit CU length: %w", err)
		}
		isDWARF64 = true
	}

	verBytes, err := r.Bytes(2)
	if err != nil {
		return 0, fmt.Errorf("debuginfo: reading CU version: %w", err)
	}
	var bo binary.ByteOrder = binary.LittleEndian
	if verBytes[0] == 0 {
		bo = binary.BigEndian
	}
	version := bo.Uint16(verBytes)
	if version < 2 || version > 5 {
		return 0, fmt.Errorf("debuginfo: unsupported DWARF version %d", version)
	}

	var unitType uint8
	var skip int

	if version >= 5 {
		unitType, err = r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("debuginfo: reading DWARF5 unit type: %w", err)
		}
		skip++ // address size
	}

	if isDWARF64 {
		skip += 8
	} else {
		skip += 4
	}

	if version < 5 {
		skip++ // address size
	}

	switch unitType {
	case 0x04, 0x05:
		skip += 8
	case 0x02, 0x06:
		skip += 8
		if isDWARF64 {
			skip += 8
		} else {
			skip += 4
		}
	}

	if _, err := r.Skip(skip); err != nil {
		return 0, fmt.Errorf("debuginfo: skipping %d CU header bytes: %w", skip, err)
	}

	return r.Offset(), nil
}
