package heuristics

import (
	"testing"

	"github.com/crashkit/symbolicate/cpu"
)

func TestFindBestInstructionInnerFrameSIGSEGV(t *testing.T) {
	meta := &Meta{FrameNumber: 0, Signal: SIGSEGV, Registers: map[string]string{"pc": "0x2000"}}
	got := FindBestInstruction(0x1000, cpu.ARM64, meta)
	if got != 0x0FFC {
		t.Fatalf("FindBestInstruction = %#x, want 0xFFC", got)
	}
}

func TestFindBestInstructionInnerFrameNoSignal(t *testing.T) {
	meta := &Meta{FrameNumber: 0, Signal: 0, Registers: map[string]string{"pc": "0x2000"}}
	got := FindBestInstruction(0x1000, cpu.ARM64, meta)
	if got != 0x1000 {
		t.Fatalf("FindBestInstruction = %#x, want 0x1000", got)
	}
}

func TestFindBestInstructionNonZeroFrameAlwaysBacksteps(t *testing.T) {
	meta := &Meta{FrameNumber: 1}
	got := FindBestInstruction(0x1000, cpu.ARM64, meta)
	want := PreviousInstruction(0x1000, cpu.ARM64)
	if got != want {
		t.Fatalf("FindBestInstruction = %#x, want %#x", got, want)
	}
}

func TestFindBestInstructionNilMeta(t *testing.T) {
	got := FindBestInstruction(0x1000, cpu.X86_64, nil)
	want := PreviousInstruction(0x1000, cpu.X86_64)
	if got != want {
		t.Fatalf("FindBestInstruction(nil meta) = %#x, want %#x", got, want)
	}
}

func TestPreviousNextRoundTrip(t *testing.T) {
	for _, name := range []cpu.Name{cpu.ARM64, cpu.ARMv7, cpu.X86_64} {
		addr := uint64(0x123456)
		got := PreviousInstruction(NextInstruction(addr, name), name)
		want := TruncateInstruction(addr, name)
		if got != want {
			t.Errorf("%s: PreviousInstruction(NextInstruction(addr)) = %#x, want %#x", name, got, want)
		}
	}
}

func TestAlignmentPerCPU(t *testing.T) {
	cases := []struct {
		name cpu.Name
		want int
	}{
		{cpu.ARM64, 4},
		{cpu.ARMv7, 2},
		{cpu.X86_64, 1},
	}
	for _, c := range cases {
		if got := cpu.Alignment(c.name); got != c.want {
			t.Errorf("Alignment(%s) = %d, want %d", c.name, got, c.want)
		}
	}
}

func TestIPRegisterName(t *testing.T) {
	if name, ok := cpu.IPRegisterName(cpu.ARM64); !ok || name != "pc" {
		t.Errorf("IPRegisterName(arm64) = (%q, %v), want (pc, true)", name, ok)
	}
	if name, ok := cpu.IPRegisterName(cpu.X86_64); !ok || name != "rip" {
		t.Errorf("IPRegisterName(x86_64) = (%q, %v), want (rip, true)", name, ok)
	}
}
