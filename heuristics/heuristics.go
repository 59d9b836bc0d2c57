// Package heuristics adjusts a raw backtrace address into the address
// that should actually be looked up in debug info. Return addresses
// are stepped back one instruction to the call site; the innermost
// frame is taken as the faulting instruction itself, unless a fault
// signal and a diverging instruction-pointer register show that it,
// too, is a return address.
package heuristics

import "github.com/crashkit/symbolicate/cpu"

// Signal numbers this package cares about, per Darwin's <sys/signal.h>.
const (
	SIGILL  = 4
	SIGBUS  = 10
	SIGSEGV = 11
)

// AnyCPUSignalHeuristic controls whether the innermost-frame signal
// heuristic (FindBestInstruction step 2) applies to every CPU or only
// arm variants. The source this spec traces to has toggled between
// both over time; this package defaults to the any-CPU form because it
// matches the most recent intent, and exposes the var so a caller with
// contrary downstream data can flip it back.
var AnyCPUSignalHeuristic = true

// Meta carries the frame metadata FindBestInstruction needs: the
// position of the frame within its backtrace, the signal that was
// active (0 if none), and a snapshot of CPU registers at fault time.
type Meta struct {
	FrameNumber int
	Signal      int
	Registers   map[string]string
}

// PreviousInstruction returns the instruction one slot before addr,
// per the per-CPU alignment and encoding width.
func PreviousInstruction(addr uint64, cpuName cpu.Name) uint64 {
	switch {
	case isARM64(cpuName):
		return (addr &^ 3) - 4
	case isARM(cpuName):
		return (addr &^ 1) - 2
	default:
		return addr - 1
	}
}

// NextInstruction is the symmetric inverse of PreviousInstruction.
func NextInstruction(addr uint64, cpuName cpu.Name) uint64 {
	switch {
	case isARM64(cpuName):
		return (addr &^ 3) + 4
	case isARM(cpuName):
		return (addr &^ 1) + 2
	default:
		return addr + 1
	}
}

// TruncateInstruction clears the low bits of addr to the CPU's
// instruction alignment, dropping any Thumb-mode or tag bits.
func TruncateInstruction(addr uint64, cpuName cpu.Name) uint64 {
	align := uint64(cpu.Alignment(cpuName))
	if align <= 1 {
		return addr
	}
	return addr &^ (align - 1)
}

// IPRegister returns the value of the conventional instruction-pointer
// register for cpuName out of registers, if present. The value is
// expected in the same textual form crash reports record it in
// ("0x...") and is parsed to a uint64.
func IPRegister(registers map[string]string, cpuName cpu.Name) (uint64, bool) {
	regName, ok := cpu.IPRegisterName(cpuName)
	if !ok {
		return 0, false
	}
	raw, ok := registers[regName]
	if !ok {
		return 0, false
	}
	v, ok := parseAddr(raw)
	return v, ok
}

// FindBestInstruction is the address-heuristics entry point: given the
// raw instruction_addr recorded for a frame, decide whether it is
// already the faulting instruction or a return address requiring a
// one-instruction backstep.
func FindBestInstruction(addr uint64, cpuName cpu.Name, meta *Meta) uint64 {
	if meta == nil || meta.FrameNumber != 0 {
		return PreviousInstruction(addr, cpuName)
	}

	if AnyCPUSignalHeuristic || isARM(cpuName) || isARM64(cpuName) {
		if ip, ok := IPRegister(meta.Registers, cpuName); ok && ip != addr {
			if isFaultSignal(meta.Signal) {
				return PreviousInstruction(addr, cpuName)
			}
		}
	}

	return addr
}

func isFaultSignal(sig int) bool {
	switch sig {
	case SIGILL, SIGBUS, SIGSEGV:
		return true
	default:
		return false
	}
}

func isARM64(name cpu.Name) bool {
	return len(name) >= 5 && name[:5] == "arm64"
}

func isARM(name cpu.Name) bool {
	return len(name) >= 3 && name[:3] == "arm" && !isARM64(name)
}

// parseAddr accepts a decimal string or a "0x"-prefixed hex string, per
// the address-parsing rule shared with the image index.
func parseAddr(s string) (uint64, bool) {
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return parseHex(s[2:])
	}
	return parseDecimal(s)
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
	if s == "" {
		return 0, false
	}
	var v uint64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + uint64(c-'0')
	}
	return v, true
}
