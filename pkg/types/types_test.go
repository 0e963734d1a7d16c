package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestQuoteSpreadMid(t *testing.T) {
	t.Parallel()
	q := Quote{BidPrice: 100.00, AskPrice: 100.02}

	if got := q.Spread(); got != 0.02 {
		t.Errorf("Spread() = %v, want 0.02", got)
	}
	if got := q.Mid(); got != 100.01 {
		t.Errorf("Mid() = %v, want 100.01", got)
	}
}

func TestBookLevelWireNames(t *testing.T) {
	t.Parallel()
	lvl := BookLevel{Price: 189.5, Size: 300, Cumulative: 300, Venues: []int{11, 12}, Synthetic: true}

	data, err := json.Marshal(lvl)
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{`"precio"`, `"tamano"`, `"acumulado"`, `"exchanges"`, `"interpolado"`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("marshaled level missing %s: %s", field, data)
		}
	}
}

func TestSyntheticOmittedWhenFalse(t *testing.T) {
	t.Parallel()
	data, err := json.Marshal(BookLevel{Price: 1, Size: 1})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "interpolado") {
		t.Errorf("real level should omit interpolado flag: %s", data)
	}
}
