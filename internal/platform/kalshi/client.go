// Package kalshi is the Kalshi exchange adapter: a signed REST client that
// speaks domain types and a websocket orderbook feed.
package kalshi

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// DefaultBaseURL is the production trading API root.
const DefaultBaseURL = "https://api.elections.kalshi.com/trade-api/v2"

// maxMarketPages bounds cursor pagination in ListMarkets.
const maxMarketPages = 20

// Client is the REST client for the Kalshi exchange API.
type Client struct {
	baseURL    string
	apiKeyID   string
	privateKey *rsa.PrivateKey
	httpClient *http.Client
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock replaces the clock used for signing timestamps and orderbook
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a new Kalshi REST client.
//
// baseURL is the API root, e.g. "https://api.elections.kalshi.com/trade-api/v2".
// apiKeyID is the Kalshi API key identifier.
func NewClient(baseURL, apiKeyID string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:  baseURL,
		apiKeyID: apiKeyID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetRSAPrivateKey loads an RSA private key from PEM-encoded bytes and
// configures the client for RSA-signed authentication.
func (c *Client) SetRSAPrivateKey(pemBytes []byte) error {
	key, err := ParsePrivateKey(pemBytes)
	if err != nil {
		return err
	}
	c.privateKey = key
	return nil
}

// ParsePrivateKey decodes a PKCS8 or PKCS1 RSA private key in PEM form.
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("kalshi: no PEM block found in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return nil, fmt.Errorf("kalshi: parse private key: %w (pkcs1: %v)", err, pkcs1Err)
		}
		return pkcs1Key, nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("kalshi: expected RSA private key, got %T", key)
	}
	return rsaKey, nil
}

// ListMarkets returns the markets of a series in the given status ("open"
// when empty), following cursors.
func (c *Client) ListMarkets(ctx context.Context, series, status string) ([]domain.MarketSnapshot, error) {
	if status == "" {
		status = "open"
	}
	var (
		out    []domain.MarketSnapshot
		cursor string
	)
	for page := 0; page < maxMarketPages; page++ {
		params := url.Values{}
		params.Set("limit", "200")
		params.Set("status", status)
		if series != "" {
			params.Set("series_ticker", series)
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		body, err := c.doSignedRequest(ctx, http.MethodGet, "/markets?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("kalshi: list markets %s: %w", series, err)
		}
		var resp struct {
			Markets []Market `json:"markets"`
			Cursor  string   `json:"cursor"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("kalshi: decode markets: %w", err)
		}
		for _, m := range resp.Markets {
			snap := m.ToSnapshot()
			if snap.Series == "" {
				snap.Series = series
			}
			out = append(out, snap)
		}
		if resp.Cursor == "" || len(resp.Markets) == 0 {
			break
		}
		cursor = resp.Cursor
	}
	return out, nil
}

// GetMarket returns a single market by its ticker.
func (c *Client) GetMarket(ctx context.Context, ticker string) (domain.MarketSnapshot, error) {
	path := fmt.Sprintf("/markets/%s", url.PathEscape(ticker))

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("kalshi: get market %s: %w", ticker, err)
	}

	var resp struct {
		Market Market `json:"market"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("kalshi: decode market: %w", err)
	}
	return resp.Market.ToSnapshot(), nil
}

// GetOrderbook returns the current orderbook for the given market ticker.
func (c *Client) GetOrderbook(ctx context.Context, ticker string) (domain.Orderbook, error) {
	path := fmt.Sprintf("/markets/%s/orderbook", url.PathEscape(ticker))

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.Orderbook{}, fmt.Errorf("kalshi: get orderbook %s: %w", ticker, err)
	}

	var resp struct {
		Orderbook Orderbook `json:"orderbook"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Orderbook{}, fmt.Errorf("kalshi: decode orderbook: %w", err)
	}
	return resp.Orderbook.ToDomain(ticker, c.now()), nil
}

// GetQuote derives the current asks of a market from its orderbook.
func (c *Client) GetQuote(ctx context.Context, ticker string) (domain.Quote, error) {
	book, err := c.GetOrderbook(ctx, ticker)
	if err != nil {
		return domain.Quote{}, err
	}
	yes, okYes := book.BestAsk(domain.SideYes)
	no, okNo := book.BestAsk(domain.SideNo)
	if !okYes || !okNo {
		return domain.Quote{}, fmt.Errorf("kalshi: quote %s: one-sided book", ticker)
	}
	return domain.Quote{Ticker: ticker, YesAsk: yes, NoAsk: no, Time: book.Timestamp}, nil
}

// GetBalance returns the available cash balance in dollars.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	body, err := c.doSignedRequest(ctx, http.MethodGet, "/portfolio/balance", nil)
	if err != nil {
		return 0, fmt.Errorf("kalshi: get balance: %w", err)
	}
	var resp balanceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("kalshi: decode balance: %w", err)
	}
	return centsToDollars(resp.Balance), nil
}

// PlaceOrder submits a new order on the Kalshi exchange. Limit orders are
// priced on the order's side; market orders carry the price as a worst-case
// bound.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if req.Count <= 0 {
		return domain.OrderResult{}, fmt.Errorf("kalshi: place order: count %d: %w", req.Count, domain.ErrInvalidOrder)
	}
	if req.Price <= 0 || req.Price >= 1 {
		return domain.OrderResult{}, fmt.Errorf("kalshi: place order: price %.4f: %w", req.Price, domain.ErrInvalidOrder)
	}
	body := CreateOrder{
		Ticker:        req.Ticker,
		ClientOrderID: req.ClientOrderID,
		Action:        string(req.Action),
		Side:          string(req.Side),
		Type:          string(req.Kind),
		Count:         req.Count,
	}
	if req.Side == domain.SideYes {
		body.YesPriceDollars = dollarString(req.Price)
	} else {
		body.NoPriceDollars = dollarString(req.Price)
	}

	raw, err := c.doSignedRequest(ctx, http.MethodPost, "/portfolio/orders", body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("kalshi: place order: %w", err)
	}
	var resp orderEnvelope
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("kalshi: decode order response: %w", err)
	}
	return resp.Order.ToResult(), nil
}

// CancelOrder cancels an existing order by its ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	path := fmt.Sprintf("/portfolio/orders/%s", url.PathEscape(orderID))

	_, err := c.doSignedRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("kalshi: cancel order %s: %w", orderID, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doSignedRequest builds, signs (RSA), sends, and reads an HTTP request
// against the Kalshi API.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	// The signature covers the full URL path without the query string.
	// Market data is public, so a keyless client reads it unsigned.
	if c.privateKey != nil || !publicPath(method, path) {
		if err := c.Sign(req.Header, method, req.URL.Path); err != nil {
			return nil, err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

func publicPath(method, path string) bool {
	return method == http.MethodGet && strings.HasPrefix(path, "/markets")
}

// Sign adds the RSA-PSS authentication headers for method and path.
func (c *Client) Sign(h http.Header, method, path string) error {
	if c.privateKey == nil {
		return fmt.Errorf("kalshi: RSA private key not configured: %w", domain.ErrSigningFailed)
	}

	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	hash := sha256.Sum256([]byte(ts + method + path))
	signature, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return fmt.Errorf("kalshi: RSA sign: %w", errors.Join(domain.ErrSigningFailed, err))
	}

	h.Set("KALSHI-ACCESS-KEY", c.apiKeyID)
	h.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(signature))
	h.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	return nil
}

// checkStatus maps non-2xx HTTP status codes to errors. The returned error
// wraps an *APIError and, where one applies, a domain sentinel.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	apiErr := parseAPIError(statusCode, body)
	switch statusCode {
	case http.StatusNotFound:
		return errors.Join(apiErr, domain.ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.Join(apiErr, domain.ErrUnauthorized)
	case http.StatusTooManyRequests:
		return errors.Join(apiErr, domain.ErrRateLimited)
	case http.StatusBadRequest:
		return errors.Join(apiErr, domain.ErrInvalidOrder)
	default:
		return apiErr
	}
}
