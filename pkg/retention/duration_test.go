package retention

import (
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
	}{
		{"5d", 5 * 24 * time.Hour},
		{"6h 30m", 6*time.Hour + 30*time.Minute},
		{"6h30m", 6*time.Hour + 30*time.Minute},
		{"1y", 31_557_600 * time.Second},
		{"5M 1w", 5*2_630_016*time.Second + 7*24*time.Hour},
		{"90s", 90 * time.Second},
		{"2weeks", 14 * 24 * time.Hour},
		{"3 days", 3 * 24 * time.Hour},
		{"1hour 1min 1sec", time.Hour + time.Minute + time.Second},
		{"  12h  ", 12 * time.Hour},
		{"0s", 0},
		{"250ms", 250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDuration(tt.input)
			if err != nil {
				t.Fatalf("ParseDuration(%q) failed: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseDurationInvalid(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"5",
		"d",
		"5x",
		"-5d",
		"1.5h",
		"5d garbage",
		"99999999999y",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			if _, err := ParseDuration(input); err == nil {
				t.Errorf("ParseDuration(%q) succeeded, want error", input)
			}
		})
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1d 12h")); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if time.Duration(d) != 36*time.Hour {
		t.Errorf("got %v, want 36h", time.Duration(d))
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestDurationString(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{0, "0s"},
		{5 * 24 * time.Hour, "5d"},
		{6*time.Hour + 30*time.Minute, "6h 30m"},
		{24*time.Hour + time.Second, "1d 1s"},
		{1500 * time.Millisecond, "1s 500ms"},
	}

	for _, tt := range tests {
		if got := Duration(tt.d).String(); got != tt.expected {
			t.Errorf("Duration(%v).String() = %q, want %q", tt.d, got, tt.expected)
		}
	}
}
