package upstream

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
)

// pollerServer fakes the last-trade and prev-close endpoints.
func pollerServer(t *testing.T, lastPrice float64, prevClose float64) *PricePoller {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/v2/last/trade/"):
			if lastPrice <= 0 {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			var resp lastTradeResponse
			resp.Results.Price = lastPrice
			resp.Results.Timestamp = 1700000000123
			resp.Status = "OK"
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(resp)
		case strings.Contains(r.URL.Path, "/prev"):
			var resp prevCloseResponse
			resp.Results = append(resp.Results, prevBar{Close: prevClose, Timestamp: 1700000000000})
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(resp)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	p := NewPricePoller("key", []string{"BTCUSD"}, time.Second, discard())
	p.http = resty.New().SetBaseURL(srv.URL).SetTimeout(5 * time.Second)
	p.rng = rand.New(rand.NewSource(1))
	return p
}

func TestPollerEmitsOnPriceChange(t *testing.T) {
	t.Parallel()
	p := pollerServer(t, 65000.5, 0)

	p.cycle(context.Background())

	select {
	case tr := <-p.Trades():
		if tr.Symbol != "BTCUSD" || tr.Price != 65000.5 || tr.Size != 1 || tr.VenueID != 1 {
			t.Errorf("trade = %+v", tr)
		}
		if tr.TimestampMS != 1700000000123 {
			t.Errorf("timestamp = %d", tr.TimestampMS)
		}
	default:
		t.Fatal("no trade emitted")
	}

	select {
	case snap := <-p.Books():
		if snap.Symbol != "BTCUSD" || len(snap.Bids) != 15 {
			t.Errorf("snapshot = %+v", snap)
		}
	default:
		t.Fatal("no synthetic book emitted")
	}

	// Same price next cycle: nothing new.
	p.cycle(context.Background())
	select {
	case tr := <-p.Trades():
		t.Errorf("unchanged price emitted trade %+v", tr)
	default:
	}
}

func TestPollerFallsBackToPrevClose(t *testing.T) {
	t.Parallel()
	p := pollerServer(t, 0, 64321.0)

	p.cycle(context.Background())

	select {
	case tr := <-p.Trades():
		if tr.Price != 64321.0 {
			t.Errorf("price = %v, want prev close 64321", tr.Price)
		}
	default:
		t.Fatal("no trade emitted from fallback")
	}
}
