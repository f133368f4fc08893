package driver

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"connection", ConnectionErrorf("dial refused"), IsConnectionError},
		{"io", IOErrorf("transaction timed out"), IsIOError},
		{"validation", ValidationErrorf("coil 9 not writable"), IsValidationError},
		{"not found", NotFoundErrorf("unknown point %q", "bogus"), IsNotFoundError},
	}

	checks := []func(error) bool{IsConnectionError, IsIOError, IsValidationError, IsNotFoundError}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(tt.err) {
				t.Errorf("%v not classified as %s", tt.err, tt.name)
			}
			// Each error matches exactly one category.
			matched := 0
			for _, c := range checks {
				if c(tt.err) {
					matched++
				}
			}
			if matched != 1 {
				t.Errorf("%v matched %d categories, want 1", tt.err, matched)
			}
		})
	}
}

func TestErrorsSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("read state: %w", ConnectionErrorf("broken pipe"))
	if !IsConnectionError(err) {
		t.Error("wrapped connection error lost its classification")
	}
	if !errors.Is(err, ErrConnection) {
		t.Error("errors.Is should see through the wrap")
	}
}

func TestErrorMessageCarriesDetail(t *testing.T) {
	err := IOErrorf("register %d read failed", 102)
	if !strings.Contains(err.Error(), "register 102") {
		t.Errorf("message %q should carry the formatted detail", err)
	}
}

func TestConfigurationError(t *testing.T) {
	err := ConfigurationErrorf("unknown PLC kind %q", "siemens")
	if !errors.Is(err, ErrConfiguration) {
		t.Error("should wrap ErrConfiguration")
	}
	if IsConnectionError(err) || IsIOError(err) {
		t.Error("configuration error should not classify as retryable")
	}
}
