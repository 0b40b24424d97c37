package apperr

import (
	"errors"
	"os"
	"testing"
	"time"
)

func TestRejectionsMatchRejected(t *testing.T) {
	for _, err := range []error{
		ErrWrongAssignee, ErrCooldown, ErrProtectedFolder,
		ErrJobIDMismatch, ErrNoAssociatedJob, ErrActionIndex, ErrFolderNotEmpty,
	} {
		if !errors.Is(err, ErrRejected) {
			t.Errorf("%v should match ErrRejected", err)
		}
		if errors.Is(err, ErrNotFound) {
			t.Errorf("%v should not match ErrNotFound", err)
		}
	}
	if errors.Is(ErrCooldown, ErrJobIDMismatch) {
		t.Error("distinct rejections must not match each other")
	}
}

func TestCooldownError(t *testing.T) {
	var err error = &CooldownError{Remaining: 41200 * time.Millisecond}
	if !errors.Is(err, ErrCooldown) || !errors.Is(err, ErrRejected) {
		t.Fatalf("cooldown error should unwrap to ErrCooldown and ErrRejected")
	}
	var ce *CooldownError
	if !errors.As(err, &ce) {
		t.Fatal("errors.As failed")
	}
	if ce.Seconds() != 42 {
		t.Errorf("seconds = %d, want 42", ce.Seconds())
	}
}

func TestWriteFailed(t *testing.T) {
	err := WriteFailed("write note", os.ErrPermission)
	if !errors.Is(err, ErrStoreWriteFailed) {
		t.Error("should match ErrStoreWriteFailed")
	}
	if !errors.Is(err, os.ErrPermission) {
		t.Error("should keep the cause")
	}
}
