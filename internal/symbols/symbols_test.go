package symbols

import (
	"reflect"
	"testing"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want Kind
	}{
		{"AAPL", Equity},
		{"TSLA", Equity},
		{"BTCUSD", Crypto},
		{"X:BTCUSD", Crypto},
		{"BTC-USD", Crypto},
		{"ETHUSDT", Crypto},
		{"EURUSD", FX},
		{"C:EURUSD", FX},
		{"GBPJPY", FX},
		{"MSFT", Equity},
	}
	for _, tc := range cases {
		if got := Classify(tc.in); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"X:BTCUSD":  "BTCUSD",
		"X:BTC-USD": "BTCUSD",
		"BTC-USD":   "BTCUSD",
		"C:EURUSD":  "EURUSD",
		"aapl":      "AAPL",
		" TSLA ":    "TSLA",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProviderTicker(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"BTCUSD": "X:BTCUSD",
		"AAPL":   "AAPL",
		"EURUSD": "C:EURUSD",
	}
	for in, want := range cases {
		if got := ProviderTicker(in); got != want {
			t.Errorf("ProviderTicker(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestChannels(t *testing.T) {
	t.Parallel()
	if got := TradeChannel("AAPL"); got != "T.AAPL" {
		t.Errorf("TradeChannel(AAPL) = %q", got)
	}
	if got := TradeChannel("BTCUSD"); got != "XT.X:BTCUSD" {
		t.Errorf("TradeChannel(BTCUSD) = %q", got)
	}
	if got := QuoteChannel("AAPL"); got != "Q.AAPL" {
		t.Errorf("QuoteChannel(AAPL) = %q", got)
	}
	if got := QuoteChannel("BTCUSD"); got != "XQ.X:BTCUSD" {
		t.Errorf("QuoteChannel(BTCUSD) = %q", got)
	}
	if got := TradeChannel("EURUSD"); got != "CA.C:EURUSD" {
		t.Errorf("TradeChannel(EURUSD) = %q", got)
	}
}

func TestEndpoint(t *testing.T) {
	t.Parallel()
	if got := Endpoint("BTCUSD"); got != EndpointCrypto {
		t.Errorf("Endpoint(BTCUSD) = %q", got)
	}
	if got := Endpoint("AAPL"); got != EndpointStocks {
		t.Errorf("Endpoint(AAPL) = %q", got)
	}
	if got := Endpoint("EURUSD"); got != EndpointForex {
		t.Errorf("Endpoint(EURUSD) = %q", got)
	}
}

func TestSplitByKind(t *testing.T) {
	t.Parallel()
	eq, cr, fx := SplitByKind([]string{"AAPL", "TSLA", "BTCUSD", "EURUSD", ""})

	if !reflect.DeepEqual(eq, []string{"AAPL", "TSLA"}) {
		t.Errorf("equities = %v", eq)
	}
	if !reflect.DeepEqual(cr, []string{"BTCUSD"}) {
		t.Errorf("cryptos = %v", cr)
	}
	if !reflect.DeepEqual(fx, []string{"EURUSD"}) {
		t.Errorf("fx = %v", fx)
	}
}

func TestLabel(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"BTCUSD":  "BTC/USD",
		"AAVEUSD": "AAVE/USD",
		"AAPL":    "AAPL",
	}
	for in, want := range cases {
		if got := Label(in); got != want {
			t.Errorf("Label(%q) = %q, want %q", in, got, want)
		}
	}
}
