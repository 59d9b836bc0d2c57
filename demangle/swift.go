package demangle

import (
	"strconv"
	"strings"
)

// swiftDemangle demangles both Swift mangling generations found in the
// wild: the legacy "_T..." scheme used through Swift 3.x, and the
// "_$S..." (Swift 4.2) / "$s..." (Swift 5 stable ABI) scheme.
// Structure (length-prefixed identifiers, a context-kind byte between
// identifiers, a standard-substitution table) is grounded on the
// swift/demangle package of the Mach-O example repo; the legacy
// function-entity grammar below it has no counterpart there (that
// package only demangles legacy *type* names) and was built from the
// Swift 3 mangling grammar directly.
func swiftDemangle(symbol string, simplified bool) (string, bool) {
	switch {
	case strings.HasPrefix(symbol, "_T"):
		return demangleLegacy(symbol, simplified)
	case strings.HasPrefix(symbol, "$s"), strings.HasPrefix(symbol, "$S"),
		strings.HasPrefix(symbol, "_$s"), strings.HasPrefix(symbol, "_$S"):
		return demangleStable(symbol, simplified)
	default:
		return "", false
	}
}

// --- legacy "_T" scheme ------------------------------------------------

// legacyScanner walks a legacy-mangled string, consuming length-prefixed
// identifiers and the single-byte context/entity markers between them.
type legacyScanner struct {
	s   string
	pos int
	// entities, in parse order, each either a plain identifier or a
	// substitution reference ("S0_" etc); used to resolve S<n>_ back-refs.
	entities []string
}

func (p *legacyScanner) eof() bool { return p.pos >= len(p.s) }

func (p *legacyScanner) peek() byte {
	if p.eof() {
		return 0
	}
	return p.s[p.pos]
}

func (p *legacyScanner) readIdentifier() (string, bool) {
	start := p.pos
	for !p.eof() && p.s[p.pos] >= '0' && p.s[p.pos] <= '9' {
		p.pos++
	}
	if p.pos == start {
		return "", false
	}
	n, err := strconv.Atoi(p.s[start:p.pos])
	if err != nil || n < 0 || p.pos+n > len(p.s) {
		return "", false
	}
	ident := p.s[p.pos : p.pos+n]
	p.pos += n
	return ident, true
}

// readSubstitution reads an "S<digits>_" back-reference to an earlier
// entity, or the bare "S_" form referring to entity zero.
func (p *legacyScanner) readSubstitution() (string, bool) {
	if p.peek() != 'S' {
		return "", false
	}
	save := p.pos
	p.pos++
	start := p.pos
	for !p.eof() && p.s[p.pos] >= '0' && p.s[p.pos] <= '9' {
		p.pos++
	}
	idx := 0
	if p.pos > start {
		n, err := strconv.Atoi(p.s[start:p.pos])
		if err != nil {
			p.pos = save
			return "", false
		}
		idx = n + 1
	}
	if p.eof() || p.s[p.pos] != '_' {
		p.pos = save
		return "", false
	}
	p.pos++
	if idx >= len(p.entities) {
		p.pos = save
		return "", false
	}
	return p.entities[idx], true
}

// contextByte reports whether b introduces a nested context (class,
// struct, enum, extension, protocol).
func contextByte(b byte) bool {
	switch b {
	case 'C', 'V', 'O', 'P', 'E':
		return true
	default:
		return false
	}
}

// demangleLegacy handles the "_T[t]<entity>..." grammar. Only the
// function-entity form ("F") is decoded to a full signature; bare
// legacy type names fall back to dotted-path joining, matching what a
// reader of symsynd-era crash reports actually needs.
func demangleLegacy(symbol string, simplified bool) (string, bool) {
	if !strings.HasPrefix(symbol, "_T") {
		return "", false
	}
	rest := symbol[2:]
	if rest == "" {
		return "", false
	}
	if rest[0] == 't' {
		rest = rest[1:]
	}
	if rest == "" {
		return "", false
	}

	if rest[0] == 'F' {
		return demangleLegacyFunction(rest, simplified)
	}

	return demangleLegacyTypePath(rest)
}

// demangleLegacyFunction decodes "F[C<module><class>]<method>f<sig>"
// of the form produced for instance methods, e.g.
// FC12Swift_Tester14ViewController11doSomethingfS0_FT_T_ demangles to
// "Swift_Tester.ViewController.doSomething (Swift_Tester.ViewController) -> () -> ()".
func demangleLegacyFunction(rest string, simplified bool) (string, bool) {
	p := &legacyScanner{s: rest[1:]} // drop leading 'F'

	var path []string
	isClassContext := false
	if p.peek() == 'C' {
		isClassContext = true
		p.pos++
		mod, ok := p.readIdentifier()
		if !ok {
			return "", false
		}
		p.entities = append(p.entities, mod)
		path = append(path, mod)
		cls, ok := p.readIdentifier()
		if !ok {
			return "", false
		}
		p.entities = append(p.entities, mod+"."+cls)
		path = append(path, cls)
	}

	method, ok := p.readIdentifier()
	if !ok || p.eof() {
		return "", false
	}

	// 'f' marks a plain (non-static, non-class) method entity.
	isStatic := false
	switch p.peek() {
	case 'f':
		p.pos++
	case 'Z':
		isStatic = true
		p.pos++
		if p.peek() == 'F' {
			p.pos++
		}
	default:
		return "", false
	}

	selfType := ""
	if isClassContext {
		if ref, ok := p.readSubstitution(); ok {
			selfType = ref
		} else if ident, ok := p.readIdentifier(); ok {
			selfType = ident
		}
	}

	sig, ok := decodeLegacyFunctionType(p.s[p.pos:])
	if !ok {
		sig = ""
	}

	full := strings.Join(path, ".")
	if full != "" {
		full += "."
	}
	full += method

	if simplified {
		if isClassContext {
			return strings.Join(append(path[1:], method), "."), true
		}
		return full, true
	}

	var b strings.Builder
	b.WriteString(full)
	if selfType != "" && !isStatic {
		b.WriteString(" (")
		b.WriteString(selfType)
		b.WriteString(")")
	}
	if sig != "" {
		b.WriteString(" -> ")
		b.WriteString(sig)
	}
	return b.String(), true
}

// decodeLegacyFunctionType decodes a chain of "F<param><result>" curried
// function types, and the degenerate "T_" empty-tuple type, into
// "(params) -> result" form. It's intentionally narrow: real legacy
// mangling covers a far larger type grammar than crash-report symbol
// names ever exercise.
func decodeLegacyFunctionType(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	if s == "T_" {
		return "()", true
	}
	if strings.HasPrefix(s, "FT_") {
		inner, ok := decodeLegacyFunctionType(s[3:])
		if !ok {
			return "() -> ()", true
		}
		return "() -> " + inner, true
	}
	if strings.HasPrefix(s, "F") {
		return decodeLegacyFunctionType(s[1:])
	}
	return "", false
}

// demangleLegacyTypePath handles a bare length-prefixed identifier
// chain with no function marker, returning the dotted path.
func demangleLegacyTypePath(rest string) (string, bool) {
	if len(rest) > 0 && (rest[0] >= 'A' && rest[0] <= 'Z' || rest[0] >= 'a' && rest[0] <= 'z') {
		rest = rest[1:]
	}
	p := &legacyScanner{s: rest}
	var parts []string
	for !p.eof() {
		ident, ok := p.readIdentifier()
		if !ok {
			break
		}
		parts = append(parts, ident)
		p.entities = append(p.entities, strings.Join(parts, "."))
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "."), true
}

// --- stable "$s" scheme -------------------------------------------------

var swiftStandardTypes = map[byte]string{
	'a': "Swift.Array", 'b': "Swift.Bool", 'd': "Swift.Double",
	'f': "Swift.Float", 'i': "Swift.Int", 'q': "Swift.Optional",
	's': "Swift.String", 'u': "Swift.UInt", 'h': "Swift.Set",
}

// demangleStable handles the _$S (Swift 4.2) / $s (Swift 5 stable ABI)
// mangling scheme. Function and generic-argument grammar there is
// large; this resolves the common case crash symbolication needs — a
// dotted module/context/member path — and reports ok=false for forms
// it doesn't recognize, so callers fall back to the raw symbol.
func demangleStable(symbol string, simplified bool) (string, bool) {
	s := strings.TrimPrefix(symbol, "_")
	switch {
	case strings.HasPrefix(s, "$s"), strings.HasPrefix(s, "$S"):
		s = s[2:]
	default:
		return "", false
	}
	if s == "" {
		return "", false
	}

	if len(s) == 2 && s[0] == 'S' {
		if t, ok := swiftStandardTypes[s[1]]; ok {
			return t, true
		}
	}

	p := &legacyScanner{s: s}
	var parts []string
	for !p.eof() {
		ident, ok := p.readIdentifier()
		if !ok {
			break
		}
		parts = append(parts, ident)
		p.entities = append(p.entities, strings.Join(parts, "."))
		if contextByte(p.peek()) {
			p.pos++
			continue
		}
		break
	}
	if len(parts) == 0 {
		return "", false
	}
	if simplified && len(parts) > 1 {
		return strings.Join(parts[1:], "."), true
	}
	return strings.Join(parts, "."), true
}
