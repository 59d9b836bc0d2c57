package imageindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/crashkit/symbolicate/cpu"
)

func TestBuildFastPath(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()
	idStr := id.String()
	if err := os.WriteFile(filepath.Join(dir, idStr), []byte("fake dsym"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	images := []BinaryImage{{UUID: id, ImageAddr: 0x1000, CPUName: cpu.ARM64}}
	idx := Build(images, []string{dir})

	entry, ok := idx.FindImage(0x1000)
	if !ok {
		t.Fatal("expected FindImage(0x1000) to hit")
	}
	if entry.UUID != id {
		t.Errorf("UUID = %s, want %s", entry.UUID, id)
	}
	if entry.DsymPath != filepath.Join(dir, idStr) {
		t.Errorf("DsymPath = %q, want fast-path match", entry.DsymPath)
	}
}

func TestFindImageBoundaryInclusive(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()
	os.WriteFile(filepath.Join(dir, id.String()), []byte("x"), 0o644)

	idx := Build([]BinaryImage{{UUID: id, ImageAddr: 0x2000, CPUName: cpu.ARM64}}, []string{dir})

	if _, ok := idx.FindImage(0x2000); !ok {
		t.Error("address exactly equal to image_addr should hit")
	}
	if _, ok := idx.FindImage(0x5000); !ok {
		t.Error("address above the last image's extent should still map to it")
	}
	if _, ok := idx.FindImage(0x1FFF); ok {
		t.Error("address below every image_addr should miss")
	}
}

func TestFindImageZeroAddrMisses(t *testing.T) {
	idx := Build(nil, nil)
	if _, ok := idx.FindImage(0); ok {
		t.Error("address 0 should never hit")
	}
}

func TestBuildSkipsUnresolvableCPU(t *testing.T) {
	id := uuid.New()
	idx := Build([]BinaryImage{{UUID: id, ImageAddr: 0x1000}}, nil)
	if _, ok := idx.FindImage(0x1000); ok {
		t.Error("an image with no resolvable CPU must be skipped entirely")
	}
}

func TestReportCPUMixedIsNone(t *testing.T) {
	dir := t.TempDir()
	id1, id2 := uuid.New(), uuid.New()
	os.WriteFile(filepath.Join(dir, id1.String()), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, id2.String()), []byte("x"), 0o644)

	idx := Build([]BinaryImage{
		{UUID: id1, ImageAddr: 0x1000, CPUName: cpu.ARM64},
		{UUID: id2, ImageAddr: 0x2000, CPUName: cpu.X86_64},
	}, []string{dir})

	if _, ok := idx.ReportCPU(); ok {
		t.Error("mixed-CPU images should produce report_cpu = None")
	}
}

func TestReportCPUUniform(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()
	os.WriteFile(filepath.Join(dir, id.String()), []byte("x"), 0o644)

	idx := Build([]BinaryImage{{UUID: id, ImageAddr: 0x1000, CPUName: cpu.ARM64}}, []string{dir})
	name, ok := idx.ReportCPU()
	if !ok || name != cpu.ARM64 {
		t.Errorf("ReportCPU() = (%q, %v), want (arm64, true)", name, ok)
	}
}

func TestParseAddr(t *testing.T) {
	cases := map[string]uint64{
		"":        0,
		"0x1000":  0x1000,
		"0X1000":  0x1000,
		"4096":    4096,
		"bogus":   0,
		"0xZZ":    0,
	}
	for in, want := range cases {
		if got := ParseAddr(in); got != want {
			t.Errorf("ParseAddr(%q) = %d, want %d", in, got, want)
		}
	}
}
