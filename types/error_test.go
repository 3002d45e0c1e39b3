package types

import (
	"errors"
	"testing"
)

func TestError_Error(t *testing.T) {
	e := NewError(ErrNoCapableWorker, "no worker can handle task")
	want := "[NO_CAPABLE_WORKER] no worker can handle task"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}

	cause := errors.New("connection refused")
	e = NewError(ErrTransport, "execute call failed").WithCause(cause)
	want = "[TRANSPORT_ERROR] execute call failed: connection refused"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	e := NewError(ErrTimeout, "probe timed out").WithCause(cause)

	if !errors.Is(e, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestError_Retryable(t *testing.T) {
	e := NewError(ErrTransport, "temporary failure").WithRetryable(true)
	if !IsRetryable(e) {
		t.Error("expected retryable")
	}

	if IsRetryable(NewError(ErrNotFound, "unknown worker")) {
		t.Error("NOT_FOUND should not be retryable by default")
	}

	if IsRetryable(errors.New("plain error")) {
		t.Error("plain errors are never retryable")
	}
}

func TestGetErrorCode(t *testing.T) {
	if got := GetErrorCode(NewError(ErrAtCapacity, "all workers saturated")); got != ErrAtCapacity {
		t.Errorf("GetErrorCode = %q, want %q", got, ErrAtCapacity)
	}
	if got := GetErrorCode(errors.New("plain")); got != "" {
		t.Errorf("GetErrorCode = %q, want empty", got)
	}
}
