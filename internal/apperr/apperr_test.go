package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := Conflict("duplicate swipe")
	if KindOf(err) != KindConflict {
		t.Errorf("expected KindConflict, got %v", KindOf(err))
	}

	wrapped := fmt.Errorf("handler: %w", err)
	if KindOf(wrapped) != KindConflict {
		t.Errorf("kind should survive wrapping, got %v", KindOf(wrapped))
	}

	if KindOf(errors.New("plain")) != KindInternal {
		t.Error("plain errors should map to KindInternal")
	}
}

func TestWireCode(t *testing.T) {
	if got := Unauthorized("nope").WireCode(); got != "AUTH_INVALID" {
		t.Errorf("expected AUTH_INVALID, got %s", got)
	}

	coded := Invalid("bad code").WithCode("CODE_INVALID")
	if coded.WireCode() != "CODE_INVALID" {
		t.Errorf("expected CODE_INVALID, got %s", coded.WireCode())
	}
	if coded.Kind != KindInvalidArgument {
		t.Error("WithCode must not change the kind")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindUpstreamTimeout, "notifier unavailable", cause)

	if !errors.Is(err, cause) {
		t.Error("wrapped cause should be reachable via errors.Is")
	}
	if err.Error() != "notifier unavailable: connection refused" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}
