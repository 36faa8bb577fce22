package syncerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCancelledMatchesBothSentinels(t *testing.T) {
	err := fmt.Errorf("download a.bin: %w", Cancelled(context.Canceled))

	if !errors.Is(err, ErrCancelled) {
		t.Fatal("expected ErrCancelled to match")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatal("expected context.Canceled to match")
	}
	if !IsCancelled(err) {
		t.Fatal("expected IsCancelled to be true")
	}
}

func TestCancelledNilCause(t *testing.T) {
	err := Cancelled(nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected nil cause to default to context.Canceled, got %v", err)
	}
}

func TestFileError(t *testing.T) {
	err := NewFileError("Client/a.pak", ErrIntegrityMismatch)

	if err.Error() != "Client/a.pak: integrity mismatch" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, ErrIntegrityMismatch) {
		t.Error("expected FileError to unwrap to ErrIntegrityMismatch")
	}

	var fe *FileError
	wrapped := fmt.Errorf("verify: %w", err)
	if !errors.As(wrapped, &fe) || fe.Path != "Client/a.pak" {
		t.Errorf("expected errors.As to recover path, got %+v", fe)
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"manifest parse", fmt.Errorf("x: %w", ErrManifestParse), true},
		{"no cdn", ErrNoCDNAvailable, true},
		{"untrusted tool", ErrPatchToolUntrusted, true},
		{"cancelled", Cancelled(context.Canceled), true},
		{"path traversal", ErrPathTraversal, false},
		{"integrity", NewFileError("a", ErrIntegrityMismatch), false},
		{"network", ErrNetwork, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
