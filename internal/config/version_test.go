package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		version int
		reason  string
	}{
		{CurrentVersion, ""},
		{-1, "invalid"},
		{CurrentVersion + 1, "newer than this build"},
	}
	for _, tt := range tests {
		err := ValidateVersion(tt.version)
		if tt.reason == "" {
			if err != nil {
				t.Fatalf("ValidateVersion(%d) = %v", tt.version, err)
			}
			continue
		}
		var ve *VersionError
		if !errors.As(err, &ve) {
			t.Fatalf("ValidateVersion(%d) = %T, want *VersionError", tt.version, err)
		}
		if ve.Reason != tt.reason {
			t.Fatalf("ValidateVersion(%d) reason = %q, want %q", tt.version, ve.Reason, tt.reason)
		}
	}
}

func TestVersionError_Message(t *testing.T) {
	var nilErr *VersionError
	if nilErr.Error() != "" {
		t.Fatal("nil VersionError should render empty")
	}
	if msg := (&VersionError{Version: 2, Current: 1}).Error(); !strings.Contains(msg, "upgrade") {
		t.Fatalf("newer version message = %q", msg)
	}
	if msg := (&VersionError{Version: 0, Current: 1}).Error(); !strings.Contains(msg, "unsupported") {
		t.Fatalf("empty reason message = %q", msg)
	}
}
