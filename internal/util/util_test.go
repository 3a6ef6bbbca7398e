package util

import (
	"strconv"
	"testing"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value    string
		def      bool
		expected bool
	}{
		{"", true, true},
		{"", false, false},
		{"true", false, true},
		{"TRUE", false, true},
		{"1", false, true},
		{"yes", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"no", true, false},
		{"off", true, false},
		{"garbage", true, true},
		{"garbage", false, false},
		{"  true  ", false, true},
	}
	for _, tt := range tests {
		t.Setenv("TEST_BOOL_ENV", tt.value)
		if got := ParseBoolEnv("TEST_BOOL_ENV", tt.def); got != tt.expected {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.expected)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	tests := []struct {
		value    string
		def      int
		expected int
	}{
		{"", 5, 5},
		{"10", 5, 10},
		{"-3", 5, -3},
		{" 42 ", 5, 42},
		{"abc", 5, 5},
		{"1.5", 5, 5},
	}
	for _, tt := range tests {
		t.Setenv("TEST_INT_ENV", tt.value)
		if got := ParseIntEnv("TEST_INT_ENV", tt.def); got != tt.expected {
			t.Errorf("ParseIntEnv(%q, %d) = %d, want %d", tt.value, tt.def, got, tt.expected)
		}
	}
}

func TestParseFloatEnv(t *testing.T) {
	tests := []struct {
		value    string
		def      float64
		expected float64
	}{
		{"", 2.0, 2.0},
		{"1.5", 2.0, 1.5},
		{"3", 2.0, 3.0},
		{"abc", 2.0, 2.0},
	}
	for _, tt := range tests {
		t.Setenv("TEST_FLOAT_ENV", tt.value)
		if got := ParseFloatEnv("TEST_FLOAT_ENV", tt.def); got != tt.expected {
			t.Errorf("ParseFloatEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.expected)
		}
	}
}

func TestGenerateOTPCode(t *testing.T) {
	for _, length := range []int{4, 6, 10} {
		code, err := GenerateOTPCode(length)
		if err != nil {
			t.Fatalf("GenerateOTPCode(%d) error: %v", length, err)
		}
		if len(code) != length {
			t.Errorf("GenerateOTPCode(%d) returned %q with length %d", length, code, len(code))
		}
		if _, err := strconv.Atoi(code); err != nil {
			t.Errorf("GenerateOTPCode(%d) returned non-numeric code %q", length, code)
		}
	}
}

func TestGenerateOTPCodeInvalidLength(t *testing.T) {
	for _, length := range []int{0, 3, 11, -1} {
		if _, err := GenerateOTPCode(length); err == nil {
			t.Errorf("GenerateOTPCode(%d) expected error, got nil", length)
		}
	}
}

func TestGenerateOTPCodeUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateOTPCode(8)
		if err != nil {
			t.Fatalf("GenerateOTPCode error: %v", err)
		}
		seen[code] = true
	}
	// 50 draws from 10^8 values colliding down to a handful would indicate a broken generator.
	if len(seen) < 45 {
		t.Errorf("expected mostly unique codes, got %d unique out of 50", len(seen))
	}
}
