package exchange

import "testing"

func TestSymbolTranslation(t *testing.T) {
	tests := []struct {
		canonical string
		native    string
	}{
		{"BTC/USDC:USDC", "BTC"},
		{"ETH/USDC:USDC", "ETH"},
		{"SOL/USDC:USDC", "SOL"},
	}

	for _, tt := range tests {
		if got := NativeSymbol(tt.canonical); got != tt.native {
			t.Errorf("NativeSymbol(%s) = %s, want %s", tt.canonical, got, tt.native)
		}
		if got := CanonicalSymbol(tt.native); got != tt.canonical {
			t.Errorf("CanonicalSymbol(%s) = %s, want %s", tt.native, got, tt.canonical)
		}
	}

	// Both helpers pass inputs already in their output form through.
	if got := NativeSymbol("BTC"); got != "BTC" {
		t.Errorf("NativeSymbol(BTC) = %s", got)
	}
	if got := CanonicalSymbol("BTC/USDC:USDC"); got != "BTC/USDC:USDC" {
		t.Errorf("CanonicalSymbol passthrough = %s", got)
	}
}
