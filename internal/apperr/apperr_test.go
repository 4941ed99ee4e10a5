package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfTypedError(t *testing.T) {
	err := New(KindConflict, "already matched")
	if KindOf(err) != KindConflict {
		t.Fatalf("expected conflict kind, got %s", KindOf(err))
	}
	if MessageOf(err) != "already matched" {
		t.Fatalf("unexpected message %q", MessageOf(err))
	}
}

func TestKindOfWrappedError(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("outer: %w", Wrap(KindNotFound, "user not found", cause))
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected not found through wrapping, got %s", KindOf(err))
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause must survive wrapping")
	}
}

func TestUntypedErrorDefaultsToInternal(t *testing.T) {
	err := errors.New("disk I/O error")
	if KindOf(err) != KindInternal {
		t.Fatalf("expected internal kind, got %s", KindOf(err))
	}
	if MessageOf(err) != "internal server error" {
		t.Fatalf("untyped errors must not leak details, got %q", MessageOf(err))
	}
}

func TestKindOfNil(t *testing.T) {
	if KindOf(nil) != KindInternal {
		t.Fatalf("nil defaults to internal")
	}
}
