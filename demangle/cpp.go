package demangle

import (
	"strings"

	itanium "github.com/ianlancetaylor/demangle"
)

// cppDemangle demangles an Itanium C++ ABI mangled name (the "_Z..."
// form clang and gcc both emit on Darwin). No pack example implements
// Itanium demangling from scratch — it's a large, fiddly grammar — so
// this defers to the standard pure-Go implementation of it.
func cppDemangle(symbol string) (string, bool) {
	candidate := stripLeadingUnderscore(symbol)
	if !strings.HasPrefix(candidate, "Z") && !strings.HasPrefix(symbol, "_Z") {
		return "", false
	}

	out, err := itanium.ToString(symbol, itanium.NoClones)
	if err != nil {
		return "", false
	}
	if out == symbol {
		return "", false
	}
	return out, true
}
