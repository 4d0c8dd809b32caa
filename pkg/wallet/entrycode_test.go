package wallet

import (
	"strings"
	"testing"
)

func TestGenerateEntryCodeShape(test *testing.T) {
	test.Parallel()
	code := GenerateEntryCode("TRX", 1_700_000_100)
	segments := strings.Split(code.String(), "-")
	if len(segments) != 3 {
		test.Fatalf("expected prefix-timestamp-suffix, got %q", code.String())
	}
	if segments[0] != "TRX" {
		test.Fatalf("unexpected prefix %q", segments[0])
	}
	if len(segments[1]) != 14 {
		test.Fatalf("expected 14-digit timestamp, got %q", segments[1])
	}
	if len(segments[2]) != entryCodeSuffixLength {
		test.Fatalf("expected %d-char suffix, got %q", entryCodeSuffixLength, segments[2])
	}
}

func TestGenerateEntryCodeUniqueness(test *testing.T) {
	test.Parallel()
	seen := make(map[string]struct{})
	for index := 0; index < 1_000; index++ {
		code := GenerateEntryCode("TRX", 1_700_000_100)
		if _, exists := seen[code.String()]; exists {
			test.Fatalf("duplicate code generated: %s", code.String())
		}
		seen[code.String()] = struct{}{}
	}
}

func TestFormatAmount(test *testing.T) {
	test.Parallel()
	cases := []struct {
		amount   int64
		expected string
	}{
		{amount: 0, expected: "0"},
		{amount: 950, expected: "950"},
		{amount: 1_234_567, expected: "1.234.567"},
		{amount: -50_000, expected: "-50.000"},
	}
	for _, current := range cases {
		if got := FormatAmount(current.amount); got != current.expected {
			test.Fatalf("format %d: expected %q, got %q", current.amount, current.expected, got)
		}
	}
}

func TestFormatSignedAmount(test *testing.T) {
	test.Parallel()
	if got := FormatSignedAmount(1_500); got != "+1.500" {
		test.Fatalf("expected +1.500, got %q", got)
	}
	if got := FormatSignedAmount(-1_500); got != "-1.500" {
		test.Fatalf("expected -1.500, got %q", got)
	}
}
