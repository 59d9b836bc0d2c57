// Package demangle turns compiler-mangled C++ and Swift symbol names
// back into readable form. It never errors: a symbol that isn't
// mangled, or whose mangling this package doesn't understand, comes
// back unchanged with ok=false.
package demangle

import "strings"

// maxOutputLength caps a demangled result, per spec.md §4.4: some
// template-heavy C++ instantiations demangle to pathological lengths.
const maxOutputLength = 16 * 1024

// Name demangles symbol, trying Swift first and then the Itanium C++
// ABI, matching the ordering the dynamic loader advertises these
// mangling schemes in (Swift symbols start with a reserved prefix that
// never collides with the C++ one). ok reports whether any scheme
// recognized the input.
func Name(symbol string) (string, bool) {
	if symbol == "" {
		return symbol, false
	}

	if out, ok := swiftDemangle(symbol, false); ok {
		return truncate(out), true
	}
	if out, ok := cppDemangle(symbol); ok {
		return truncate(out), true
	}
	return symbol, false
}

// Simplified demangles symbol the way Name does, but requests Swift's
// simplified rendering (no module-qualification, no generic
// parameter lists) where that applies.
func Simplified(symbol string) (string, bool) {
	if symbol == "" {
		return symbol, false
	}
	if out, ok := swiftDemangle(symbol, true); ok {
		return truncate(out), true
	}
	if out, ok := cppDemangle(symbol); ok {
		return truncate(out), true
	}
	return symbol, false
}

func truncate(s string) string {
	if len(s) <= maxOutputLength {
		return s
	}
	return s[:maxOutputLength]
}

// stripLeadingUnderscore undoes the single leading underscore the
// Mach-O symbol table convention adds to every C symbol.
func stripLeadingUnderscore(s string) string {
	return strings.TrimPrefix(s, "_")
}
