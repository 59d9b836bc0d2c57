// Package cpu implements the bidirectional map between Mach-O
// (cpu_type, cpu_subtype) pairs and the canonical architecture names used
// throughout the symbolication pipeline, plus the small set of per-CPU
// constants the address heuristics and symbolizer need on every frame.
package cpu

import "strings"

// Name is an opaque canonical architecture name, e.g. "arm64".
type Name string

const (
	ARMv6    Name = "armv6"
	ARMv7    Name = "armv7"
	ARMv7f   Name = "armv7f"
	ARMv7s   Name = "armv7s"
	ARMv7k   Name = "armv7k"
	ARMv7m   Name = "armv7m"
	ARMv7em  Name = "armv7em"
	ARM64    Name = "arm64"
	ARM64v8  Name = "arm64v8"
	ARM64e   Name = "arm64e"
	ARM64_32 Name = "arm64_32"
	X86      Name = "x86"
	X86_64   Name = "x86_64"
	X86_64h  Name = "x86_64h"
	PPC      Name = "ppc"
	PPC64    Name = "ppc64"
)

// Mach-O cpu_type values, mach/machine.h.
const (
	cpuTypeX86     = 7
	cpuTypeX86_64  = cpuTypeX86 | 0x01000000
	cpuTypeARM     = 12
	cpuTypeARM64   = cpuTypeARM | 0x01000000
	cpuTypeARM64_32 = cpuTypeARM | 0x02000000
	cpuTypePPC     = 18
	cpuTypePPC64   = cpuTypePPC | 0x01000000
)

// Mach-O cpu_subtype values for the types above.
const (
	subARMAll  = 0
	subARMv6   = 6
	subARMv7   = 9
	subARMv7f  = 10
	subARMv7s  = 11
	subARMv7k  = 12
	subARMv6m  = 14
	subARMv7m  = 15
	subARMv7em = 16

	subARM64All = 0
	subARM64v8  = 1
	subARM64e   = 2

	subARM64_32v8 = 1

	subX86All    = 3
	subX86_64All = 3
	subX86_64h   = 8

	subPPCAll = 0
)

type tuple struct {
	cpuType    int32
	cpuSubtype int32
}

// registry is the finite, fixed catalog described by spec.md §6. Only
// architectures with a grounded numeric pair are present; nothing here
// is guessed.
var registry = []struct {
	name Name
	t    tuple
}{
	{ARMv6, tuple{cpuTypeARM, subARMv6}},
	{ARMv7, tuple{cpuTypeARM, subARMv7}},
	{ARMv7f, tuple{cpuTypeARM, subARMv7f}},
	{ARMv7s, tuple{cpuTypeARM, subARMv7s}},
	{ARMv7k, tuple{cpuTypeARM, subARMv7k}},
	{ARMv7m, tuple{cpuTypeARM, subARMv7m}},
	{ARMv7em, tuple{cpuTypeARM, subARMv7em}},
	{ARM64, tuple{cpuTypeARM64, subARM64All}},
	{ARM64v8, tuple{cpuTypeARM64, subARM64v8}},
	{ARM64e, tuple{cpuTypeARM64, subARM64e}},
	{ARM64_32, tuple{cpuTypeARM64_32, subARM64_32v8}},
	{X86, tuple{cpuTypeX86, subX86All}},
	{X86_64, tuple{cpuTypeX86_64, subX86_64All}},
	{X86_64h, tuple{cpuTypeX86_64, subX86_64h}},
	{PPC, tuple{cpuTypePPC, subPPCAll}},
	{PPC64, tuple{cpuTypePPC64, subPPCAll}},
}

var byTuple = func() map[tuple]Name {
	m := make(map[tuple]Name, len(registry))
	for _, e := range registry {
		m[e.t] = e.name
	}
	return m
}()

var byName = func() map[Name]tuple {
	m := make(map[Name]tuple, len(registry))
	for _, e := range registry {
		m[e.name] = e.t
	}
	return m
}()

// NameOf returns the canonical name for an exact (cpu_type, cpu_subtype)
// match, or false if the pair is not in the catalog.
func NameOf(cpuType, cpuSubtype int32) (Name, bool) {
	n, ok := byTuple[tuple{cpuType, cpuSubtype}]
	return n, ok
}

// TupleOf returns the (cpu_type, cpu_subtype) pair for a canonical name.
func TupleOf(name Name) (cpuType, cpuSubtype int32, ok bool) {
	t, ok := byName[name]
	if !ok {
		return 0, 0, false
	}
	return t.cpuType, t.cpuSubtype, true
}

// IsValid reports whether name is a known canonical architecture name.
func IsValid(name Name) bool {
	_, ok := byName[name]
	return ok
}

// Alignment is the instruction-width constant used to fix up addresses:
// 4 for the arm64 family, 2 for arm, 1 otherwise.
func Alignment(name Name) int {
	switch {
	case strings.HasPrefix(string(name), "arm64"):
		return 4
	case strings.HasPrefix(string(name), "arm"):
		return 2
	default:
		return 1
	}
}

// IPRegisterName is the conventional instruction-pointer register name
// for name: "pc" on arm/arm64, "rip" on x86_64, else false.
func IPRegisterName(name Name) (string, bool) {
	switch {
	case strings.HasPrefix(string(name), "arm"):
		return "pc", true
	case name == X86_64 || name == X86_64h:
		return "rip", true
	default:
		return "", false
	}
}
