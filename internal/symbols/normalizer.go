// Package symbols maps exchange-native trading pair spellings to the
// canonical BASE_QUOTE form and back.
package symbols

import "strings"

// knownQuotes is ordered longest first so "USDT" wins over "USD".
var knownQuotes = []string{
	"FDUSD", "USDT", "USDC", "BUSD", "TUSD", "USD",
	"BTC", "ETH", "BNB", "EUR", "GBP", "TRY", "DAI",
}

// usdQuotes are treated as interchangeable when comparing symbols.
var usdQuotes = map[string]bool{"USD": true, "USDT": true, "USDC": true}

// Parse splits a symbol into base and quote. ok is false when neither a
// delimiter nor a known quote suffix is present.
func Parse(symbol string) (base, quote string, ok bool) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, sep := range []string{"_", "/", "-"} {
		if i := strings.Index(s, sep); i > 0 && i < len(s)-1 {
			return s[:i], s[i+1:], true
		}
	}
	for _, q := range knownQuotes {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			base := strings.TrimSuffix(s, q)
			if strings.ContainsAny(base, "_/- ") {
				return "", "", false
			}
			return base, q, true
		}
	}
	return "", "", false
}

// Normalize returns the canonical BASE_QUOTE form. Unparseable input is
// returned uppercased and otherwise unchanged.
func Normalize(symbol string) string {
	base, quote, ok := Parse(symbol)
	if !ok {
		return strings.ToUpper(strings.TrimSpace(symbol))
	}
	return base + "_" + quote
}

// Base returns the base asset of a symbol, or the uppercased input when it
// cannot be parsed.
func Base(symbol string) string {
	base, _, ok := Parse(symbol)
	if !ok {
		return strings.ToUpper(strings.TrimSpace(symbol))
	}
	return base
}

// Quote returns the quote asset of a symbol, or "" when it cannot be parsed.
func Quote(symbol string) string {
	_, quote, _ := Parse(symbol)
	return quote
}

// Equal reports whether two symbols name the same market, treating USD, USDT
// and USDC quotes as equivalent.
func Equal(a, b string) bool {
	ba, qa, oka := Parse(a)
	bb, qb, okb := Parse(b)
	if !oka || !okb {
		return Normalize(a) == Normalize(b)
	}
	if ba != bb {
		return false
	}
	return qa == qb || (usdQuotes[qa] && usdQuotes[qb])
}

// IsUSDQuote reports whether the symbol is quoted in a USD stablecoin or USD.
func IsUSDQuote(symbol string) bool {
	return usdQuotes[Quote(symbol)]
}

// ToBinance converts a symbol to Binance's concatenated form. A plain USD
// quote maps to USDT, which is where Binance lists USD liquidity.
func ToBinance(symbol string) string {
	base, quote, ok := Parse(symbol)
	if !ok {
		return strings.ToUpper(strings.TrimSpace(symbol))
	}
	if quote == "USD" {
		quote = "USDT"
	}
	return base + quote
}

// ToCryptoCom converts a symbol to Crypto.com's underscore form. USD
// stablecoin quotes collapse to USD.
func ToCryptoCom(symbol string) string {
	base, quote, ok := Parse(symbol)
	if !ok {
		return strings.ToUpper(strings.TrimSpace(symbol))
	}
	if usdQuotes[quote] {
		quote = "USD"
	}
	return base + "_" + quote
}
