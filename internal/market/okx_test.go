package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestSource(handler http.HandlerFunc) (*OkxSource, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewOkxSource(srv.URL, 2*time.Second), srv
}

func TestGetLatestQuote(t *testing.T) {
	s, srv := newTestSource(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("instId") != "BTC-USDT" {
			t.Errorf("unexpected instId %q", r.URL.Query().Get("instId"))
		}
		w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT","last":"50123.5","ts":"1735689600000"}]}`))
	})
	defer srv.Close()

	q, err := s.GetLatestQuote(context.Background(), "BTC-USDT")
	if err != nil {
		t.Fatal(err)
	}
	if q.Price != 50123.5 {
		t.Fatalf("price = %v, want 50123.5", q.Price)
	}
	if q.Symbol != "BTC-USDT" {
		t.Fatalf("symbol = %q", q.Symbol)
	}
}

func TestGetLatestQuoteUnknownSymbol(t *testing.T) {
	s, srv := newTestSource(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"51001","msg":"Instrument ID does not exist","data":[]}`))
	})
	defer srv.Close()

	_, err := s.GetLatestQuote(context.Background(), "NOPE-USDT")
	if !errors.Is(err, ErrSymbolNotFound) {
		t.Fatalf("err = %v, want ErrSymbolNotFound", err)
	}
}

func TestGetLatestQuoteServerError(t *testing.T) {
	s, srv := newTestSource(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	_, err := s.GetLatestQuote(context.Background(), "BTC-USDT")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestGetLatestQuoteBadPrice(t *testing.T) {
	s, srv := newTestSource(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT","last":"not-a-number","ts":"0"}]}`))
	})
	defer srv.Close()

	_, err := s.GetLatestQuote(context.Background(), "BTC-USDT")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
