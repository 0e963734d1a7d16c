// Package symbols classifies and normalizes tickers for the upstream
// provider.
//
// The internal form is a bare uppercase symbol without prefix or separator
// ("AAPL", "BTCUSD", "EURUSD"). Classification is a pure function of the
// text and determines the provider ticker ("X:BTCUSD", "C:EURUSD"), the
// subscription channel strings, and which WebSocket endpoint carries the
// symbol.
package symbols

import (
	"sort"
	"strings"
)

// Kind is the asset class of a symbol.
type Kind int

const (
	Equity Kind = iota
	Crypto
	FX
)

func (k Kind) String() string {
	switch k {
	case Crypto:
		return "crypto"
	case FX:
		return "fx"
	default:
		return "equity"
	}
}

const (
	EndpointStocks = "wss://socket.polygon.io/stocks"
	EndpointCrypto = "wss://socket.polygon.io/crypto"
	EndpointForex  = "wss://socket.polygon.io/forex"
)

// Known crypto bases: the user writes "BTCUSD" and the system maps it to
// the provider's "X:BTCUSD" form.
var cryptoBases = map[string]bool{
	"BTC": true, "ETH": true, "SOL": true, "ADA": true, "DOT": true,
	"AVAX": true, "MATIC": true, "LINK": true, "DOGE": true, "SHIB": true,
	"XRP": true, "BNB": true, "LTC": true, "UNI": true, "AAVE": true,
}

var cryptoQuotes = map[string]bool{
	"USD": true, "USDT": true, "EUR": true, "GBP": true, "JPY": true,
}

// Fiat currencies recognized for fx pair detection (both legs must match).
var fiatCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true,
	"AUD": true, "CAD": true, "CHF": true, "NZD": true,
}

// Normalize converts any accepted spelling to the internal form:
// "X:BTC-USD" → "BTCUSD", "C:EURUSD" → "EURUSD", "aapl" → "AAPL".
func Normalize(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.TrimPrefix(s, "X:")
	s = strings.TrimPrefix(s, "C:")
	return strings.ReplaceAll(s, "-", "")
}

// Classify returns the asset class of a symbol. The "X:"/"C:" provider
// prefixes are authoritative; otherwise the text is matched against known
// crypto base+quote and fiat pair combinations.
func Classify(symbol string) Kind {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasPrefix(s, "X:") {
		return Crypto
	}
	if strings.HasPrefix(s, "C:") {
		return FX
	}

	clean := Normalize(s)
	for base := range cryptoBases {
		if rest, ok := strings.CutPrefix(clean, base); ok && cryptoQuotes[rest] {
			return Crypto
		}
	}
	if len(clean) == 6 && fiatCurrencies[clean[:3]] && fiatCurrencies[clean[3:]] {
		return FX
	}
	return Equity
}

// IsCrypto reports whether the symbol is a crypto pair.
func IsCrypto(symbol string) bool { return Classify(symbol) == Crypto }

// ProviderTicker converts an internal symbol to the form the provider's
// REST and WS APIs expect: "BTCUSD" → "X:BTCUSD", "EURUSD" → "C:EURUSD",
// "AAPL" → "AAPL".
func ProviderTicker(symbol string) string {
	clean := Normalize(symbol)
	switch Classify(clean) {
	case Crypto:
		return "X:" + clean
	case FX:
		return "C:" + clean
	default:
		return clean
	}
}

// TradeChannel is the trade subscription string for a symbol:
// "AAPL" → "T.AAPL", "BTCUSD" → "XT.X:BTCUSD", "EURUSD" → "CA.C:EURUSD".
func TradeChannel(symbol string) string {
	clean := Normalize(symbol)
	switch Classify(clean) {
	case Crypto:
		return "XT.X:" + clean
	case FX:
		return "CA.C:" + clean
	default:
		return "T." + clean
	}
}

// QuoteChannel is the quote subscription string for a symbol:
// "AAPL" → "Q.AAPL", "BTCUSD" → "XQ.X:BTCUSD", "EURUSD" → "C.C:EURUSD".
func QuoteChannel(symbol string) string {
	clean := Normalize(symbol)
	switch Classify(clean) {
	case Crypto:
		return "XQ.X:" + clean
	case FX:
		return "C.C:" + clean
	default:
		return "Q." + clean
	}
}

// Endpoint returns the WebSocket endpoint URL that carries the symbol.
func Endpoint(symbol string) string {
	switch Classify(symbol) {
	case Crypto:
		return EndpointCrypto
	case FX:
		return EndpointForex
	default:
		return EndpointStocks
	}
}

// SplitByKind partitions a symbol list into (equities, cryptos, fx),
// normalizing each entry. Order is preserved within each group.
func SplitByKind(symbols []string) (equities, cryptos, fx []string) {
	for _, s := range symbols {
		clean := Normalize(s)
		if clean == "" {
			continue
		}
		switch Classify(clean) {
		case Crypto:
			cryptos = append(cryptos, clean)
		case FX:
			fx = append(fx, clean)
		default:
			equities = append(equities, clean)
		}
	}
	return equities, cryptos, fx
}

// Label formats a symbol for display: "BTCUSD" → "BTC/USD", "AAPL" → "AAPL".
func Label(symbol string) string {
	clean := Normalize(symbol)
	if Classify(clean) != Crypto {
		return clean
	}
	// Match the longest known base so "AAVEUSD" splits as AAVE/USD.
	bases := make([]string, 0, len(cryptoBases))
	for b := range cryptoBases {
		bases = append(bases, b)
	}
	sort.Slice(bases, func(i, j int) bool { return len(bases[i]) > len(bases[j]) })
	for _, base := range bases {
		if rest, ok := strings.CutPrefix(clean, base); ok {
			if rest == "" {
				return base
			}
			return base + "/" + rest
		}
	}
	return clean
}
