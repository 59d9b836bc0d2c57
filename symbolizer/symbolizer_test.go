package symbolizer

import (
	"testing"

	"github.com/crashkit/symbolicate/cpu"
)

func TestSymbolizeMissingDsymIsError(t *testing.T) {
	s := New()
	defer s.Close()

	_, err := s.Symbolize("/no/such/dsym", 0x1000, cpu.ARM64, false)
	if err == nil {
		t.Fatal("expected an error symbolizing a nonexistent dsym path")
	}
	if _, ok := err.(*SymbolicationError); !ok {
		t.Fatalf("err = %T, want *SymbolicationError", err)
	}
}

func TestSymbolizeInlinedMissingDsymIsError(t *testing.T) {
	s := New()
	defer s.Close()

	_, err := s.SymbolizeInlined("/no/such/dsym", 0x1000, cpu.ARM64)
	if err == nil {
		t.Fatal("expected an error resolving inline frames for a nonexistent dsym path")
	}
}

func TestCloseIdempotent(t *testing.T) {
	s := New()
	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}

func TestSymbolizeAfterCloseFails(t *testing.T) {
	s := New()
	s.Close()
	_, err := s.Symbolize("/no/such/dsym", 0x1000, cpu.ARM64, false)
	if err == nil {
		t.Fatal("expected Symbolize to fail after Close")
	}
}

func TestWithDemanglingOption(t *testing.T) {
	s := New(WithDemangling(false))
	if s.demangle {
		t.Error("WithDemangling(false) should disable demangling")
	}
}
