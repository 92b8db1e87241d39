package market

import (
	"fmt"
	"strings"
)

// SplitPair splits "BTC/USD" into its base and quote currencies.
func SplitPair(pair string) (base, quote string, err error) {
	parts := strings.Split(strings.TrimSpace(pair), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid pair %q (want BASE/QUOTE)", pair)
	}
	return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), nil
}

// Base returns the base currency of pair, or "" when pair is malformed.
func Base(pair string) string {
	b, _, _ := SplitPair(pair)
	return b
}

// Quote returns the quote currency of pair, or "" when pair is malformed.
func Quote(pair string) string {
	_, q, _ := SplitPair(pair)
	return q
}

// Symbol drops the separator: "BTC/USD" -> "BTCUSD". Data bundles are named
// after it.
func Symbol(pair string) string {
	return strings.ReplaceAll(strings.ToUpper(pair), "/", "")
}
