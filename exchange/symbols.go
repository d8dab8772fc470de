package exchange

import "strings"

// Canonical symbols look like "BTC/USDC:USDC" while the venue addresses
// perps by bare coin name ("BTC"). All translation between the two
// forms happens in this package.

// NativeSymbol converts a canonical symbol to the venue coin name.
func NativeSymbol(symbol string) string {
	if i := strings.IndexByte(symbol, '/'); i >= 0 {
		return symbol[:i]
	}
	return symbol
}

// CanonicalSymbol converts a venue coin name to canonical form. Already
// canonical inputs pass through unchanged.
func CanonicalSymbol(coin string) string {
	if strings.Contains(coin, "/") {
		return coin
	}
	return coin + "/USDC:USDC"
}
