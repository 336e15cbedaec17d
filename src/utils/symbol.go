package utils

import (
	"fmt"
	"regexp"
	"strings"
)

// Exchange suffixes of exchange-qualified A-share symbols.
const (
	ExchangeShanghai = "SH"
	ExchangeShenzhen = "SZ"
	ExchangeBeijing  = "BJ"
)

var symbolRegex = regexp.MustCompile(`^(\d{6})\.(SH|SZ|BJ)$`)

// -----------------------------------------------------------------------------

// IsValidSymbol reports whether s looks like "600519.SH".
func IsValidSymbol(s string) bool {
	return symbolRegex.MatchString(s)
}

// NormalizeSymbol upper-cases and trims user input.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// SplitSymbol returns the bare code and exchange suffix.
func SplitSymbol(s string) (code, exchange string, err error) {
	m := symbolRegex.FindStringSubmatch(s)
	if len(m) != 3 {
		return "", "", fmt.Errorf("invalid symbol %q", s)
	}
	return m[1], m[2], nil
}
