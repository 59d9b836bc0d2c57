package debuginfo

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func buildArangesUnit(t *testing.T, debugInfoOffset uint32, tuples [][2]uint64) []byte {
	t.Helper()
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, uint16(2)) // version
	binary.Write(&body, binary.LittleEndian, debugInfoOffset)
	body.WriteByte(8) // address_size
	body.WriteByte(0) // segment_selector_size

	// header so far, counting the 4-byte unit_length: 4+2+4+1+1 = 12
	// bytes; tuples start on a multiple of the 16-byte tuple size, so
	// pad with 4 bytes.
	body.Write(make([]byte, 4))
	for _, tup := range tuples {
		binary.Write(&body, binary.LittleEndian, tup[0])
		binary.Write(&body, binary.LittleEndian, tup[1])
	}
	binary.Write(&body, binary.LittleEndian, uint64(0))
	binary.Write(&body, binary.LittleEndian, uint64(0))

	var unit bytes.Buffer
	binary.Write(&unit, binary.LittleEndian, uint32(body.Len()))
	unit.Write(body.Bytes())
	return unit.Bytes()
}

func TestParseDebugArangesSingleUnit(t *testing.T) {
	data := buildArangesUnit(t, 0x40, [][2]uint64{{0x1000, 0x100}, {0x2000, 0x50}})

	aranges, err := parseDebugAranges(newBytesReader(data))
	if err != nil {
		t.Fatalf("parseDebugAranges: %v", err)
	}
	if len(aranges) != 2 {
		t.Fatalf("got %d aranges, want 2", len(aranges))
	}
	if aranges[0].lowPC != 0x1000 || aranges[0].highPC != 0x1100 {
		t.Errorf("entry 0 = %+v", aranges[0])
	}
	if aranges[0].cuOffset != 0x40 {
		t.Errorf("cuOffset = %#x, want 0x40", aranges[0].cuOffset)
	}
	if aranges[1].lowPC != 0x2000 || aranges[1].highPC != 0x2050 {
		t.Errorf("entry 1 = %+v", aranges[1])
	}
}

func TestParseDebugArangesSortedByLowPC(t *testing.T) {
	data := buildArangesUnit(t, 0, [][2]uint64{{0x5000, 0x10}, {0x1000, 0x10}})
	aranges, err := parseDebugAranges(newBytesReader(data))
	if err != nil {
		t.Fatalf("parseDebugAranges: %v", err)
	}
	if aranges[0].lowPC != 0x1000 || aranges[1].lowPC != 0x5000 {
		t.Fatalf("not sorted: %+v", aranges)
	}
}

func TestCUBodyOffsetDWARF4(t *testing.T) {
	var cu bytes.Buffer
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, uint16(4)) // version
	binary.Write(&body, binary.LittleEndian, uint32(0)) // abbrev offset
	body.WriteByte(8)                                   // address size
	body.Write([]byte{0xAA, 0xBB})                      // start of CU body (DIE data)

	binary.Write(&cu, binary.LittleEndian, uint32(body.Len()))
	cu.Write(body.Bytes())

	off, err := cuBodyOffset(0, newBytesReader(cu.Bytes()))
	if err != nil {
		t.Fatalf("cuBodyOffset: %v", err)
	}
	want := 4 + 2 + 4 + 1 // length field + version + abbrev_offset + address_size
	if off != want {
		t.Fatalf("offset = %d, want %d", off, want)
	}
	if cu.Bytes()[off] != 0xAA {
		t.Fatalf("offset does not point at DIE data: got byte %#x", cu.Bytes()[off])
	}
}
