package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeConfig, "missing key %q", "apiUrl")

	if err.Code != ErrCodeConfig {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeConfig)
	}

	if err.Message != `missing key "apiUrl"` {
		t.Errorf("Message = %v, want %v", err.Message, `missing key "apiUrl"`)
	}

	expected := `CONFIG_ERROR: missing key "apiUrl"`
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ErrCodeTransport, cause, "GET %s", "/projects")

	if err.Code != ErrCodeTransport {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeTransport)
	}

	if err.Cause != cause {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}

	if unwrapped := errors.Unwrap(err); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}

	want := "TRANSPORT_ERROR: GET /projects: connection refused"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     Code
		expected bool
	}{
		{
			name:     "matching code",
			err:      New(ErrCodeFilesystem, "test"),
			code:     ErrCodeFilesystem,
			expected: true,
		},
		{
			name:     "non-matching code",
			err:      New(ErrCodeFilesystem, "test"),
			code:     ErrCodeTransport,
			expected: false,
		},
		{
			name:     "outermost code wins",
			err:      Wrap(ErrCodeTransport, New(ErrCodeNotFound, "inner"), "outer"),
			code:     ErrCodeTransport,
			expected: true,
		},
		{
			name:     "fmt wrapped",
			err:      fmt.Errorf("refresh: %w", MissingField("id")),
			code:     ErrCodeMissingField,
			expected: true,
		},
		{
			name:     "non-Error type",
			err:      errors.New("plain error"),
			code:     ErrCodeConfig,
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			code:     ErrCodeConfig,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.expected {
				t.Errorf("Is() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(New(ErrCodeManifestMismatch, "x")); got != ErrCodeManifestMismatch {
		t.Errorf("GetCode() = %v, want %v", got, ErrCodeManifestMismatch)
	}
	if got := GetCode(errors.New("plain")); got != "" {
		t.Errorf("GetCode() = %v, want empty", got)
	}
}

func TestFieldErrors(t *testing.T) {
	missing := MissingField("default_branch")
	if missing.Code != ErrCodeMissingField {
		t.Errorf("Code = %v, want %v", missing.Code, ErrCodeMissingField)
	}
	if got := FieldOf(missing); got != "default_branch" {
		t.Errorf("FieldOf() = %q, want %q", got, "default_branch")
	}

	cause := errors.New("bad number")
	invalid := InvalidField("id", cause)
	if invalid.Code != ErrCodeInvalidField {
		t.Errorf("Code = %v, want %v", invalid.Code, ErrCodeInvalidField)
	}
	if !errors.Is(invalid, cause) {
		t.Error("errors.Is(invalid, cause) = false, want true")
	}
	if got := FieldOf(fmt.Errorf("wrap: %w", invalid)); got != "id" {
		t.Errorf("FieldOf() = %q, want %q", got, "id")
	}
	if got := FieldOf(errors.New("plain")); got != "" {
		t.Errorf("FieldOf() = %q, want empty", got)
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"structured", New(ErrCodeConfig, "apiUrl is required"), "apiUrl is required"},
		{"plain", errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.want {
				t.Errorf("UserMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
