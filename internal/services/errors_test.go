package services

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestWrapTagsMarkerAndKeepsCause(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := Wrap(ErrTransient, "transcribing", "post chunk", "upload failed", cause)
	if !errors.Is(err, ErrTransient) {
		t.Fatal("expected wrapped error to carry the transient marker")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped error to preserve the cause chain")
	}
	for _, want := range []string{"transcribing", "post chunk", "upload failed"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing detail %q", err.Error(), want)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := Wrap(nil, "", "", "", nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("nil marker should default to transient, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("empty detail should fall back to generic text, got %q", err.Error())
	}
}

func TestIsRetryableDistinguishesMarkers(t *testing.T) {
	transient := Wrap(ErrTransient, "transcribing", "", "status 503", nil)
	permanent := Wrap(ErrValidation, "transcribing", "", "status 401", nil)
	if !IsRetryable(transient) {
		t.Fatal("transient error should be retryable")
	}
	if IsRetryable(permanent) {
		t.Fatal("validation error should not be retryable")
	}
	if IsRetryable(nil) {
		t.Fatal("nil should not be retryable")
	}
}

func TestIsFatalOnlyForConfiguration(t *testing.T) {
	if !IsFatal(Wrap(ErrConfiguration, "startup", "", "missing api token", nil)) {
		t.Fatal("configuration error should be fatal")
	}
	if IsFatal(Wrap(ErrExternalTool, "extracting", "", "ffmpeg exited 1", nil)) {
		t.Fatal("external tool failure should not be fatal")
	}
}

func TestEscalateStripsRetryability(t *testing.T) {
	transient := Wrap(ErrTransient, "transcribing", "post chunk", "status 503", nil)
	escalated := Escalate(transient)
	if IsRetryable(escalated) {
		t.Fatal("escalated error must not remain retryable")
	}
	if !strings.Contains(escalated.Error(), "status 503") {
		t.Fatalf("escalated error should keep the original message, got %q", escalated.Error())
	}
}

func TestEscalatePassesThroughNonTransient(t *testing.T) {
	if Escalate(nil) != nil {
		t.Fatal("escalating nil should stay nil")
	}
	perm := fmt.Errorf("%w: bad payload", ErrValidation)
	if got := Escalate(perm); got != perm {
		t.Fatalf("non-transient error should pass through unchanged, got %v", got)
	}
}
