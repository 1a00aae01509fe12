package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/aurax/trading-engine/internal/contracts"
	"github.com/aurax/trading-engine/internal/types"
)

var (
	// ErrSessionExpired marks a broker rejection caused by a stale
	// access token. The caller refreshes once and retries once.
	ErrSessionExpired = errors.New("broker session expired")
	// ErrMissingCredentials is a fatal configuration error: the live
	// order path must not start without credentials.
	ErrMissingCredentials = errors.New("broker credentials not configured")
)

const tokenValidity = 10 * time.Minute

// Token is a persisted broker session, shared with the market feed.
type Token struct {
	gorm.Model  `json:"-"`
	ClientID    string    `gorm:"uniqueIndex" json:"client_id"`
	AccessToken string    `json:"access_token"`
	FeedToken   string    `json:"feed_token"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Config holds broker API settings.
type Config struct {
	APIKey    string
	ClientID  string
	Password  string
	AuthURL   string
	OrderURL  string
	QuoteURL  string
	CandleURL string
	Timeout   time.Duration
}

// Validate reports whether the live order path can operate.
func (c Config) Validate() error {
	if c.APIKey == "" || c.ClientID == "" || c.Password == "" {
		return ErrMissingCredentials
	}
	return nil
}

// OrderRequest is a broker order submission.
type OrderRequest struct {
	Symbol   string  `json:"tradingsymbol"`
	Token    string  `json:"symboltoken"`
	Exchange string  `json:"exchange"`
	Side     string  `json:"transactiontype"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Stoploss float64 `json:"stoploss,string"`
	Target   float64 `json:"squareoff,string"`
}

// OrderResult is the broker's answer to a placed order.
type OrderResult struct {
	OrderID string `json:"order_id"`
}

// OrderPlacer submits orders. Implemented by Client (live) and
// Simulator (demo mode).
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
}

// PriceSource supplies the last traded price for a symbol.
type PriceSource interface {
	LTP(ctx context.Context, symbol string) (float64, error)
}

// Client talks to the broker's REST API: session login with a cached
// token, quotes and order placement. Every call carries a bounded
// timeout; a detected session expiry triggers exactly one refresh and
// one retry before the failure surfaces.
type Client struct {
	cfg       Config
	db        *gorm.DB
	contracts *contracts.Service
	http      *http.Client

	mu          sync.Mutex
	accessToken string
	lastLogin   time.Time
}

// NewClient creates a broker client. The configuration must pass
// Validate before the live path is used.
func NewClient(cfg Config, gormDB *gorm.DB, contractSvc *contracts.Service) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:       cfg,
		db:        gormDB,
		contracts: contractSvc,
		http:      &http.Client{Timeout: timeout},
	}
}

// FeedToken returns the cached access token for the market feed, or
// an empty string when no session exists yet. Never blocks on login.
func (c *Client) FeedToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// GetAccessToken returns a valid session token, logging in when the
// cached one is absent, expired or forceRefresh is set.
func (c *Client) GetAccessToken(ctx context.Context, forceRefresh bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !forceRefresh && c.accessToken != "" && time.Since(c.lastLogin) < tokenValidity {
		return c.accessToken, nil
	}
	if err := c.cfg.Validate(); err != nil {
		return "", err
	}

	payload := map[string]string{
		"clientcode": c.cfg.ClientID,
		"password":   c.cfg.Password,
	}
	var resp struct {
		Data struct {
			JWTToken  string `json:"jwtToken"`
			FeedToken string `json:"feedToken"`
		} `json:"data"`
	}
	if err := c.post(ctx, c.cfg.AuthURL, "", payload, &resp); err != nil {
		return "", fmt.Errorf("broker login: %w", err)
	}
	if resp.Data.JWTToken == "" {
		return "", errors.New("broker login: empty token in response")
	}

	c.accessToken = resp.Data.JWTToken
	c.lastLogin = time.Now()

	// persist so the feed and other processes can reuse the session
	tok := Token{ClientID: c.cfg.ClientID, AccessToken: resp.Data.JWTToken, FeedToken: resp.Data.FeedToken, IssuedAt: c.lastLogin}
	if err := c.db.Where("client_id = ?", c.cfg.ClientID).
		Assign(map[string]interface{}{
			"access_token": tok.AccessToken,
			"feed_token":   tok.FeedToken,
			"issued_at":    tok.IssuedAt,
		}).FirstOrCreate(&Token{}).Error; err != nil {
		log.Warn().Err(err).Str("component", "broker").Msg("failed to persist broker token")
	}

	log.Info().Str("component", "broker").Str("client_id", c.cfg.ClientID).Msg("broker session refreshed")
	return c.accessToken, nil
}

// LTP fetches the last traded price for a symbol via its contract
// mapping.
func (c *Client) LTP(ctx context.Context, symbol string) (float64, error) {
	info, err := c.contracts.Lookup(symbol)
	if err != nil {
		return 0, err
	}

	ltp, err := c.quote(ctx, info)
	if errors.Is(err, ErrSessionExpired) {
		if _, rerr := c.GetAccessToken(ctx, true); rerr != nil {
			return 0, rerr
		}
		return c.quote(ctx, info)
	}
	return ltp, err
}

func (c *Client) quote(ctx context.Context, info contracts.Info) (float64, error) {
	token, err := c.GetAccessToken(ctx, false)
	if err != nil {
		return 0, err
	}
	payload := map[string]interface{}{
		"mode":           "LTP",
		"exchangeTokens": map[string][]string{info.Exchange: {info.Token}},
	}
	var resp struct {
		Data struct {
			Fetched []struct {
				LTP float64 `json:"ltp"`
			} `json:"fetched"`
		} `json:"data"`
	}
	if err := c.post(ctx, c.cfg.QuoteURL, token, payload, &resp); err != nil {
		return 0, err
	}
	if len(resp.Data.Fetched) == 0 {
		return 0, errors.New("quote: empty response")
	}
	return resp.Data.Fetched[0].LTP, nil
}

// Candles fetches recent five-minute candles for a symbol, newest
// last. Implements the strategy's candle source.
func (c *Client) Candles(ctx context.Context, symbol string, limit int) ([]types.Candle, error) {
	info, err := c.contracts.Lookup(symbol)
	if err != nil {
		return nil, err
	}

	candles, err := c.candleData(ctx, info, limit)
	if errors.Is(err, ErrSessionExpired) {
		if _, rerr := c.GetAccessToken(ctx, true); rerr != nil {
			return nil, rerr
		}
		return c.candleData(ctx, info, limit)
	}
	return candles, err
}

func (c *Client) candleData(ctx context.Context, info contracts.Info, limit int) ([]types.Candle, error) {
	token, err := c.GetAccessToken(ctx, false)
	if err != nil {
		return nil, err
	}

	const layout = "2006-01-02 15:04"
	to := time.Now()
	from := to.Add(-time.Duration(limit) * 5 * time.Minute)
	payload := map[string]interface{}{
		"exchange":    info.Exchange,
		"symboltoken": info.Token,
		"interval":    "FIVE_MINUTE",
		"fromdate":    from.Format(layout),
		"todate":      to.Format(layout),
	}
	var resp struct {
		Data [][]interface{} `json:"data"`
	}
	if err := c.post(ctx, c.cfg.CandleURL, token, payload, &resp); err != nil {
		return nil, err
	}

	// rows arrive as [timestamp, open, high, low, close, volume]
	candles := make([]types.Candle, 0, len(resp.Data))
	for _, row := range resp.Data {
		if len(row) < 6 {
			continue
		}
		candles = append(candles, types.Candle{
			Open:   asFloat(row[1]),
			High:   asFloat(row[2]),
			Low:    asFloat(row[3]),
			Close:  asFloat(row[4]),
			Volume: asFloat(row[5]),
		})
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func asFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}

// PlaceOrder submits a live order. On session expiry the token is
// refreshed and the same request retried exactly once.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	res, err := c.placeOnce(ctx, req)
	if errors.Is(err, ErrSessionExpired) {
		log.Warn().Str("component", "broker").Msg("session expired, refreshing token and retrying order once")
		if _, rerr := c.GetAccessToken(ctx, true); rerr != nil {
			return nil, rerr
		}
		return c.placeOnce(ctx, req)
	}
	return res, err
}

func (c *Client) placeOnce(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	token, err := c.GetAccessToken(ctx, false)
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"variety":         "NORMAL",
		"tradingsymbol":   req.Symbol,
		"symboltoken":     req.Token,
		"transactiontype": req.Side,
		"exchange":        req.Exchange,
		"ordertype":       "MARKET",
		"producttype":     "INTRADAY",
		"duration":        "DAY",
		"price":           req.Price,
		"squareoff":       fmt.Sprintf("%.2f", req.Target),
		"stoploss":        fmt.Sprintf("%.2f", req.Stoploss),
		"quantity":        req.Quantity,
	}
	var resp struct {
		Status bool `json:"status"`
		Data   struct {
			OrderID string `json:"orderid"`
		} `json:"data"`
		Message string `json:"message"`
	}
	if err := c.post(ctx, c.cfg.OrderURL, token, payload, &resp); err != nil {
		return nil, err
	}
	if !resp.Status || resp.Data.OrderID == "" {
		return nil, fmt.Errorf("order rejected: %s", resp.Message)
	}
	return &OrderResult{OrderID: resp.Data.OrderID}, nil
}

func (c *Client) post(ctx context.Context, url, bearer string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-PrivateKey", c.cfg.APIKey)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return err
	}
	if strings.Contains(buf.String(), "Invalid Session") {
		return ErrSessionExpired
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("broker http %d: %s", resp.StatusCode, buf.String())
	}
	return json.Unmarshal(buf.Bytes(), out)
}
