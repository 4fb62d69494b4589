package xerrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ErrorStringIncludesWrappedCause(t *testing.T) {
	cause := errors.New("disk full")
	e := Storage("VectorFile.Append", cause, false)
	want := "VectorFile.Append: storage operation failed: disk full"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestError_ErrorStringOmitsNilCause(t *testing.T) {
	e := FilterType("filter.Compile", "column age is integer, got string")
	want := "filter.Compile: column age is integer, got string"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestIs_UnwrapsWrappedError(t *testing.T) {
	inner := Schema("planner.resolveTarget", "unknown table", nil)
	wrapped := fmt.Errorf("select failed: %w", inner)
	if !Is(wrapped, KindSchema) {
		t.Error("expected Is to unwrap and match KindSchema")
	}
	if Is(wrapped, KindStorage) {
		t.Error("expected Is to reject a mismatched Kind")
	}
}

func TestIs_FalseForPlainError(t *testing.T) {
	if Is(errors.New("plain"), KindSchema) {
		t.Error("expected Is to return false for a non-xerrors error")
	}
}

func TestEmbedder_IsAlwaysRetryable(t *testing.T) {
	e := Embedder("Ollama.Embed", errors.New("connection refused"))
	if !e.Retryable {
		t.Error("expected Embedder errors to always be Retryable")
	}
	if e.Kind != KindEmbedder {
		t.Errorf("Kind = %v, want KindEmbedder", e.Kind)
	}
}

func TestConsistency_CarriesRemediationHint(t *testing.T) {
	e := Consistency("Client.Open", "vector file ahead of relstore", "reconcile")
	if e.RemediationHint != "reconcile" {
		t.Errorf("RemediationHint = %q, want reconcile", e.RemediationHint)
	}
}

func TestErrorUnwrap_ReturnsUnderlyingErr(t *testing.T) {
	cause := errors.New("boom")
	e := Storage("op", cause, true)
	if !errors.Is(e, cause) {
		t.Error("expected errors.Is to traverse Unwrap to the underlying cause")
	}
}
