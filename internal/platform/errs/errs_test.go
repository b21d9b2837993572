package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestValidationMessageListsFields(t *testing.T) {
	err := Validation(map[string]string{
		"email": "invalid format",
		"name":  "required",
	})
	msg := err.Error()
	if !strings.Contains(msg, "name: required") {
		t.Errorf("expected name detail in %q", msg)
	}
	if !strings.Contains(msg, "email: invalid format") {
		t.Errorf("expected email detail in %q", msg)
	}
	if !strings.HasPrefix(msg, "validation failed") {
		t.Errorf("unexpected prefix in %q", msg)
	}
}

func TestDoubleBookingCarriesSlot(t *testing.T) {
	err := DoubleBooking("D-1", "2026-03-01", "09:30")
	if err.Slot == nil || err.Slot.DoctorID != "D-1" || err.Slot.Time != "09:30" {
		t.Fatalf("slot not carried: %+v", err.Slot)
	}
	if !Is(err, KindDoubleBooking) {
		t.Error("Is should match double booking kind")
	}
}

func TestKindOfWrappedError(t *testing.T) {
	inner := Locked("medical record", "signed")
	wrapped := fmt.Errorf("update record: %w", inner)
	if KindOf(wrapped) != KindLocked {
		t.Errorf("KindOf = %q, want locked", KindOf(wrapped))
	}
	got, ok := AsError(wrapped)
	if !ok || got.Status != "signed" {
		t.Fatalf("AsError = %+v, %v", got, ok)
	}
}

func TestKindOfPlainError(t *testing.T) {
	if KindOf(errors.New("boom")) != "" {
		t.Error("plain error should have no kind")
	}
	if Is(nil, KindNotFound) {
		t.Error("nil should not match any kind")
	}
}

func TestTimeoutUnwrap(t *testing.T) {
	cause := errors.New("context deadline exceeded")
	err := Timeout(cause)
	if !errors.Is(err, cause) {
		t.Error("timeout should wrap its cause")
	}
}
