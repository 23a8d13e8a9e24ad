package symbols

import (
	"fmt"
	"strings"

	"cryptofeeds/models"
)

// quoteSuffixes is ordered so longer quotes win over their suffixes (USDT
// before USD).
var quoteSuffixes = []string{"FDUSD", "USDT", "USDC", "BUSD", "USD", "EUR", "BTC", "ETH", "BNB"}

// ParseNormalized splits a configured symbol into base and quote. Separated
// forms (BTC_USDT, BTC-USDT, BTC/USDT) are split on the separator; concatenated
// forms are split on a known quote suffix.
func ParseNormalized(sym string) (base, quote string, err error) {
	s := strings.ToUpper(strings.TrimSpace(sym))
	if i := strings.IndexAny(s, "_-/"); i >= 0 {
		base, quote = s[:i], s[i+1:]
		if base == "" || quote == "" || strings.ContainsAny(quote, "_-/") {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidSymbol, sym)
		}
		return base, quote, nil
	}
	for _, q := range quoteSuffixes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s[:len(s)-len(q)], q, nil
		}
	}
	return "", "", fmt.Errorf("%w: cannot find quote currency in %q", ErrInvalidSymbol, sym)
}

// Denormalize converts a configured symbol into the spelling the venue expects
// in subscriptions.
func Denormalize(exchange, sym string, it models.InstrumentType) (string, error) {
	base, quote, err := ParseNormalized(sym)
	if err != nil {
		return "", err
	}
	unsupported := fmt.Errorf("%w: %s does not list %s instruments", ErrInvalidSymbol, exchange, it)

	switch strings.ToLower(exchange) {
	case "binance", "bybit":
		return base + quote, nil
	case "mexc":
		if it == models.Perp {
			return base + "_" + quote, nil
		}
		return base + quote, nil
	case "okx":
		if it == models.Perp {
			return base + "-" + quote + "-SWAP", nil
		}
		return base + "-" + quote, nil
	case "coinbase":
		if it == models.Perp {
			return base + "-PERP-INTX", nil
		}
		return base + "-" + quote, nil
	case "kraken":
		if it != models.Spot {
			return "", unsupported
		}
		if base == "BTC" {
			base = "XBT"
		}
		return base + "/" + quote, nil
	case "lighter":
		if it != models.Perp {
			return "", unsupported
		}
		return base, nil
	default:
		return "", fmt.Errorf("%w: unknown exchange %q", ErrInvalidSymbol, exchange)
	}
}

// Normalize rewrites a venue-native symbol into the concatenated upper-case
// form (BTCUSDT) that every registry alias table carries.
func Normalize(exchange, sym string) string {
	sym = strings.ToUpper(sym)
	switch strings.ToLower(exchange) {
	case "coinbase":
		sym = strings.ReplaceAll(sym, "-", "")
	case "kraken":
		sym = strings.ReplaceAll(sym, "/", "")
		sym = strings.ReplaceAll(sym, "-", "")
		if strings.HasPrefix(sym, "XBT") {
			sym = "BTC" + sym[3:]
		}
	case "okx":
		sym = strings.TrimSuffix(sym, "-SWAP")
		sym = strings.ReplaceAll(sym, "-", "")
	case "mexc":
		sym = strings.ReplaceAll(sym, "_", "")
	default:
		// others already use the desired format
	}
	return sym
}
