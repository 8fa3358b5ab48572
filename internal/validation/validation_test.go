package validation

import (
	"testing"
)

func TestIsValidID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"bk_a1b2c3d4e5f60718293a4b5c", true},
		{"dsp_0f1e2d3c4b5a69788796a5b4", true},
		{"acct_1ABCdef", true},

		// Invalid cases
		{"a1b2c3d4", false},     // No prefix
		{"bk-a1b2c3d4", false},  // Wrong separator
		{"BK_a1b2c3d4", false},  // Uppercase prefix
		{"bk_", false},          // Empty suffix
		{"bk_a1b2!c3d4", false}, // Invalid chars
		{"", false},
	}

	for _, tc := range tests {
		result := IsValidID(tc.id)
		if result != tc.valid {
			t.Errorf("IsValidID(%q) = %v, want %v", tc.id, result, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	// Valid input
	errors := Validate(
		Required("serviceName", "Mixing & Mastering"),
		ValidID("bookingId", "bk_a1b2c3d4e5f60718293a4b5c"),
		ValidAmount("amount", "100"),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	// Invalid input collects one error per failing field
	errors = Validate(
		Required("serviceName", "  "),
		ValidID("bookingId", "not-an-id"),
		ValidAmount("amount", "-5"),
	)
	if len(errors) != 3 {
		t.Errorf("Expected 3 errors, got %d: %v", len(errors), errors)
	}
	if errors.Error() == "" {
		t.Error("Expected non-empty error message")
	}
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		value string
		valid bool
	}{
		{"100", true},
		{"0.01", true},
		{"", true}, // empty handled by Required
		{"0", false},
		{"-5", false},
		{"1.999", false},
		{"abc", false},
	}

	for _, tc := range tests {
		errors := Validate(ValidAmount("amount", tc.value))
		if (len(errors) == 0) != tc.valid {
			t.Errorf("ValidAmount(%q): valid = %v, want %v", tc.value, len(errors) == 0, tc.valid)
		}
	}
}
