package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seenimoa/volsurf/pkg/models"
)

const chainFixture = `{
  "data": {
    "symbol": "AAPL",
    "current_price": 180.25,
    "options": [
      {"option": "AAPL270219C00150000", "bid": 32.10, "ask": 32.60, "bid_size": 12, "ask_size": 8, "volume": 140, "open_interest": 2210, "last_trade_price": 32.35},
      {"option": "AAPL270219P00150000", "bid": 1.15, "ask": 1.25, "bid_size": 40, "ask_size": 35, "volume": 90, "open_interest": 5120, "last_trade_price": 1.20},
      {"option": "GARBAGE", "bid": 1.00, "ask": 2.00}
    ]
  }
}`

const quoteFixture = `{"data": {"symbol": "AAPL", "current_price": 180.25}}`

func newTestServer(t *testing.T, handler http.HandlerFunc) *CBOEClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return newCBOEClientWithBase(srv.URL, nil)
}

func TestFetchChain(t *testing.T) {
	var gotPath string
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(chainFixture))
	})

	asOf := time.Date(2026, 8, 26, 14, 30, 0, 0, time.UTC)
	quotes, err := client.FetchChain(context.Background(), "aapl", asOf)
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/options/AAPL.json" {
		t.Errorf("path = %q", gotPath)
	}
	if len(quotes) != 2 {
		t.Fatalf("got %d quotes, want 2 (unparseable record dropped)", len(quotes))
	}

	q := quotes[0]
	if q.Contract.Underlying != "AAPL" || q.Contract.Strike != 150 || q.Contract.Type != models.Call {
		t.Errorf("contract = %+v", q.Contract)
	}
	if q.Bid != 32.10 || q.Ask != 32.60 || q.OpenInterest != 2210 {
		t.Errorf("quote fields = %+v", q)
	}
	if !q.Timestamp.Equal(asOf) {
		t.Errorf("timestamp = %v, want %v", q.Timestamp, asOf)
	}
	if quotes[1].Contract.Type != models.Put {
		t.Errorf("second contract type = %v", quotes[1].Contract.Type)
	}
}

func TestSpot(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quotes/SPY.json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(quoteFixture))
	})

	spot, err := client.Spot(context.Background(), "SPY", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if spot != 180.25 {
		t.Errorf("spot = %v", spot)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"server error", http.StatusInternalServerError, ErrUnavailable},
		{"not found", http.StatusNotFound, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := client.FetchChain(context.Background(), "SPY", time.Now())
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSpotMissingPrice(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"symbol": "SPY", "current_price": 0}}`))
	})
	_, err := client.Spot(context.Background(), "SPY", time.Now())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("got %v, want ErrUnavailable", err)
	}
}

func TestUnreachableHost(t *testing.T) {
	client := newCBOEClientWithBase("http://127.0.0.1:1", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := client.FetchChain(ctx, "SPY", time.Now())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("got %v, want ErrUnavailable", err)
	}
}

func TestFixedRate(t *testing.T) {
	r := FixedRate(0.03)
	v, err := r.RiskFreeRate(context.Background(), time.Now())
	if err != nil || v != 0.03 {
		t.Fatalf("got %v, %v", v, err)
	}
}
