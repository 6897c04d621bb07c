package kalshi

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	return newKeyedClient(t, testKey(t), h)
}

func newKeyedClient(t *testing.T, key *rsa.PrivateKey, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL+"/trade-api/v2", "key-1")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := c.SetRSAPrivateKey(pemBytes); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestGetMarketSignsAndConverts(t *testing.T) {
	key := testKey(t)
	pub := &key.PublicKey
	c := newKeyedClient(t, key, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trade-api/v2/markets/KXBTC15M-26MAR021015-15" {
			http.NotFound(w, r)
			return
		}
		ts := r.Header.Get("KALSHI-ACCESS-TIMESTAMP")
		sig, err := base64.StdEncoding.DecodeString(r.Header.Get("KALSHI-ACCESS-SIGNATURE"))
		if err != nil || r.Header.Get("KALSHI-ACCESS-KEY") != "key-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		hash := sha256.Sum256([]byte(ts + http.MethodGet + r.URL.Path))
		if err := rsa.VerifyPSS(pub, crypto.SHA256, hash[:], sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"market":{
			"ticker":"KXBTC15M-26MAR021015-15","series_ticker":"KXBTC15M","status":"active",
			"yes_bid":44,"yes_ask":46,"no_bid":53,"no_ask":56,"yes_ask_dollars":"0.4650",
			"floor_strike":97250.5,"close_time":"2026-03-02T10:15:00Z","result":""}}`))
	})

	snap, err := c.GetMarket(t.Context(), "KXBTC15M-26MAR021015-15")
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if snap.Series != "KXBTC15M" || snap.Status != domain.MarketStatusActive {
		t.Fatalf("snapshot = %+v", snap)
	}
	if !approx(snap.YesAsk, 0.465) || !approx(snap.NoAsk, 0.56) || !approx(snap.YesBid, 0.44) {
		t.Fatalf("prices = %v/%v/%v", snap.YesBid, snap.YesAsk, snap.NoAsk)
	}
	if snap.Strike != 97250.5 {
		t.Fatalf("strike = %v", snap.Strike)
	}
	want := time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)
	if !snap.CloseTime.Equal(want) {
		t.Fatalf("close = %v, want %v", snap.CloseTime, want)
	}
}

func TestGetOrderbookArrayLevels(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"orderbook":{"yes":[[40,10],[45,5]],"no":[[50,7]]}}`))
	})
	book, err := c.GetOrderbook(t.Context(), "KX-1")
	if err != nil {
		t.Fatal(err)
	}
	yes, ok := book.BestAsk(domain.SideYes)
	if !ok || !approx(yes, 0.50) {
		t.Fatalf("yes ask = %v %v", yes, ok)
	}
	if d := book.AskDepth(domain.SideYes); d != 7 {
		t.Fatalf("yes depth = %v", d)
	}
	no, ok := book.BestAsk(domain.SideNo)
	if !ok || !approx(no, 0.55) {
		t.Fatalf("no ask = %v %v", no, ok)
	}

	q, err := c.GetQuote(t.Context(), "KX-1")
	if err != nil || !approx(q.YesAsk, 0.50) || !approx(q.NoAsk, 0.55) {
		t.Fatalf("quote = %+v, %v", q, err)
	}
}

func TestGetOrderbookDollarLevels(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"orderbook":{"yes":[[1,1]],"yes_dollars":[["0.4550",3]],"no_dollars":[["0.5100",9]]}}`))
	})
	book, err := c.GetOrderbook(t.Context(), "KX-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(book.YesBids) != 1 || !approx(book.YesBids[0].Price, 0.455) {
		t.Fatalf("yes bids = %+v", book.YesBids)
	}
	no, _ := book.BestAsk(domain.SideNo)
	if !approx(no, 0.545) {
		t.Fatalf("no ask = %v", no)
	}
}

func TestPlaceOrder(t *testing.T) {
	var got CreateOrder
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/trade-api/v2/portfolio/orders" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"order":{"order_id":"ord-1","status":"executed",
			"taker_fill_count":10,"taker_fill_cost":450,"taker_fees":7}}`))
	})

	res, err := c.PlaceOrder(t.Context(), domain.OrderRequest{
		ClientOrderID: "cid-1",
		Ticker:        "KX-1",
		Action:        domain.ActionBuy,
		Side:          domain.SideYes,
		Count:         10,
		Kind:          domain.OrderKindLimit,
		Price:         0.45,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if got.YesPriceDollars != "0.4500" || got.NoPriceDollars != "" || got.Type != "limit" || got.ClientOrderID != "cid-1" {
		t.Fatalf("request = %+v", got)
	}
	if !res.Filled() || res.FilledCount != 10 || !approx(res.AvgPrice, 0.45) || !approx(res.FeesPaid, 0.07) {
		t.Fatalf("result = %+v", res)
	}
}

func TestPlaceOrderRejectsBadPrice(t *testing.T) {
	c := NewClient("http://unused", "k")
	_, err := c.PlaceOrder(t.Context(), domain.OrderRequest{Ticker: "KX", Side: domain.SideNo, Count: 1, Price: 1})
	if !errors.Is(err, domain.ErrInvalidOrder) {
		t.Fatalf("err = %v, want ErrInvalidOrder", err)
	}
}

func TestAPIErrorMapping(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":"too_many_requests","message":"slow down"}}`))
	})
	_, err := c.GetBalance(t.Context())
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "too_many_requests" || apiErr.Status != 429 {
		t.Fatalf("api error = %+v", apiErr)
	}
	if domain.Wrap(domain.KindCollaborator, err).Code != "too_many_requests" {
		t.Fatal("exec error did not carry the exchange code")
	}
}

func TestUnsignedClientFails(t *testing.T) {
	c := NewClient("http://unused", "k")
	_, err := c.GetBalance(t.Context())
	if !errors.Is(err, domain.ErrSigningFailed) {
		t.Fatalf("err = %v, want ErrSigningFailed", err)
	}
}

func TestGetBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"balance":123456}`))
	})
	b, err := c.GetBalance(t.Context())
	if err != nil || !approx(b, 1234.56) {
		t.Fatalf("balance = %v, %v", b, err)
	}
}

func TestListMarketsFollowsCursor(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("series_ticker") != "KXBTC15M" || r.URL.Query().Get("status") != "open" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("cursor") == "" {
			_, _ = w.Write([]byte(`{"markets":[{"ticker":"A","close_time":"2026-03-02T10:15:00Z"}],"cursor":"p2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"markets":[{"ticker":"B","close_time":"2026-03-02T10:30:00Z"}],"cursor":""}`))
	})
	ms, err := c.ListMarkets(t.Context(), "KXBTC15M", "")
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 || len(ms) != 2 || ms[1].Ticker != "B" || ms[0].Series != "KXBTC15M" {
		t.Fatalf("calls=%d markets=%+v", calls, ms)
	}
}

func TestKeylessClientReadsMarketsUnsigned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("KALSHI-ACCESS-SIGNATURE") != "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"market":{"ticker":"KXBTC15M-X","series_ticker":"KXBTC15M","status":"active","yes_ask":46,"no_ask":56}}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "")
	snap, err := c.GetMarket(t.Context(), "KXBTC15M-X")
	if err != nil || snap.Ticker != "KXBTC15M-X" {
		t.Fatalf("GetMarket = %+v, %v", snap, err)
	}
}
