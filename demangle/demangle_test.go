package demangle

import "testing"

func TestNameSwiftLegacyFunction(t *testing.T) {
	const mangled = "_TFC12Swift_Tester14ViewController11doSomethingfS0_FT_T_"
	const want = "Swift_Tester.ViewController.doSomething (Swift_Tester.ViewController) -> () -> ()"

	got, ok := Name(mangled)
	if !ok {
		t.Fatalf("Name(%q) reported ok=false, want true", mangled)
	}
	if got != want {
		t.Fatalf("Name(%q) = %q, want %q", mangled, got, want)
	}
}

func TestNameNonMangledInput(t *testing.T) {
	for _, sym := range []string{"_some_name", "some_other_name"} {
		got, ok := Name(sym)
		if ok {
			t.Errorf("Name(%q) = (%q, true), want ok=false", sym, got)
		}
		if got != sym {
			t.Errorf("Name(%q) = %q, want unchanged", sym, got)
		}
	}
}

func TestNameEmptyInput(t *testing.T) {
	got, ok := Name("")
	if ok || got != "" {
		t.Errorf("Name(\"\") = (%q, %v), want (\"\", false)", got, ok)
	}
}

func TestSimplifiedSwiftLegacyFunction(t *testing.T) {
	const mangled = "_TFC12Swift_Tester14ViewController11doSomethingfS0_FT_T_"
	got, ok := Simplified(mangled)
	if !ok {
		t.Fatalf("Simplified(%q) reported ok=false", mangled)
	}
	const want = "ViewController.doSomething"
	if got != want {
		t.Fatalf("Simplified(%q) = %q, want %q", mangled, got, want)
	}
}

func TestCppItaniumDemangle(t *testing.T) {
	// A small, well-known Itanium mangling: void foo(int)
	got, ok := Name("_Z3fooi")
	if !ok {
		t.Fatalf("Name(_Z3fooi) reported ok=false")
	}
	if got != "foo(int)" {
		t.Fatalf("Name(_Z3fooi) = %q, want foo(int)", got)
	}
}

func TestNameOutputWithinLengthCap(t *testing.T) {
	long := "_TFC12Swift_Tester14ViewController11doSomethingfS0_FT_T_"
	got, ok := Name(long)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if len(got) > maxOutputLength {
		t.Fatalf("demangled output of length %d exceeds cap %d", len(got), maxOutputLength)
	}
}
