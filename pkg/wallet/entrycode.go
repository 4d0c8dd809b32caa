package wallet

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	entryCodeTimeLayout   = "20060102150405"
	entryCodeSuffixLength = 8
	entryCodeSeparator    = "-"
)

// EntryCodeGenerator produces globally unique, human-traceable entry codes.
// Codes are for tracing and audit only; they are never a concurrency key.
type EntryCodeGenerator func(prefix string, atUnixUTC int64) EntryCode

// GenerateEntryCode builds a code of the form PREFIX-YYYYMMDDHHMMSS-RANDOM.
func GenerateEntryCode(prefix string, atUnixUTC int64) EntryCode {
	timestamp := time.Unix(atUnixUTC, 0).UTC().Format(entryCodeTimeLayout)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:entryCodeSuffixLength]
	return EntryCode{value: prefix + entryCodeSeparator + timestamp + entryCodeSeparator + strings.ToUpper(suffix)}
}

// FormatAmount renders a minor-unit amount with thousands separators for
// operator-facing notes, e.g. 1234567 -> "1.234.567".
func FormatAmount(amount int64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}
	digits := fmt.Sprintf("%d", amount)
	var groups []string
	for len(digits) > 3 {
		groups = append([]string{digits[len(digits)-3:]}, groups...)
		digits = digits[:len(digits)-3]
	}
	groups = append([]string{digits}, groups...)
	formatted := strings.Join(groups, ".")
	if negative {
		return "-" + formatted
	}
	return formatted
}

// FormatSignedAmount renders the amount with an explicit leading sign.
func FormatSignedAmount(amount int64) string {
	if amount >= 0 {
		return "+" + FormatAmount(amount)
	}
	return FormatAmount(amount)
}
