package att

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusName(t *testing.T) {
	tests := []struct {
		code uint8
		want string
	}{
		{ErrSuccess, "Success"},
		{ErrReadNotPermitted, "Read Not Permitted"},
		{ErrWriteNotPermitted, "Write Not Permitted"},
		{ErrAttributeNotFound, "Attribute Not Found"},
		{0x85, "Application Error (0x85)"},
		{0xE1, "Common Profile Error (0xE1)"},
		{0x40, "Unknown Error (0x40)"},
	}

	for _, tt := range tests {
		if got := StatusName(tt.code); got != tt.want {
			t.Errorf("StatusName(0x%02X) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", NewError(ErrWriteNotPermitted, "d9d9d9fb-8c28-4c5e-94e9-58c23b7c69e2"))

	if !errors.Is(err, &Error{Code: ErrWriteNotPermitted}) {
		t.Errorf("errors.Is should match on code")
	}
	if errors.Is(err, &Error{Code: ErrReadNotPermitted}) {
		t.Errorf("errors.Is should not match a different code")
	}

	var attErr *Error
	if !errors.As(err, &attErr) {
		t.Fatalf("errors.As should find the ATT error")
	}
	if GetErrorCode(attErr) != ErrWriteNotPermitted {
		t.Errorf("GetErrorCode = 0x%02X, want 0x%02X", GetErrorCode(attErr), ErrWriteNotPermitted)
	}
	if !IsATTError(attErr, ErrWriteNotPermitted) {
		t.Errorf("IsATTError should be true")
	}

	want := "ATT Error: Write Not Permitted (characteristic d9d9d9fb-8c28-4c5e-94e9-58c23b7c69e2)"
	if attErr.Error() != want {
		t.Errorf("Error() = %q, want %q", attErr.Error(), want)
	}
}
