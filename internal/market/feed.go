package market

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FeedConfig configures the live market data stream.
type FeedConfig struct {
	URL            string
	Tokens         []string // broker instrument tokens to subscribe
	ReconnectDelay time.Duration
	MaxReconnects  int // per outage; gives up after this many failed dials
	PingInterval   time.Duration
}

// DefaultFeedConfig returns the built-in feed settings.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		ReconnectDelay: 5 * time.Second,
		MaxReconnects:  10,
		PingInterval:   30 * time.Second,
	}
}

// Feed maintains a websocket subscription to the broker's market data
// stream and keeps the snapshot cache current. Reconnection is a
// bounded loop with linear backoff under the caller's context, not a
// self-rescheduling callback: the backoff counter resets after every
// healthy connection and the loop exits once MaxReconnects consecutive
// dials fail.
type Feed struct {
	cfg   FeedConfig
	cache *Cache
	token func() string // access token supplier, re-read on every dial
}

// NewFeed creates a live feed writing into cache. tokenFn is called on
// every connection attempt so a refreshed broker session is picked up.
func NewFeed(cfg FeedConfig, cache *Cache, tokenFn func() string) *Feed {
	return &Feed{cfg: cfg, cache: cache, token: tokenFn}
}

type tick struct {
	Symbol    string  `json:"symbolname"`
	Token     string  `json:"token"`
	LTP       float64 `json:"ltp"`
	OI        float64 `json:"oi"`
	IV        float64 `json:"iv"`
	Delta     float64 `json:"delta"`
	Gamma     float64 `json:"gamma"`
	Theta     float64 `json:"theta"`
	Vega      float64 `json:"vega"`
	Timestamp int64   `json:"timestamp"`
}

type subscribeMsg struct {
	CorrelationID string   `json:"correlation_id"`
	Mode          int      `json:"mode"`
	Tokens        []string `json:"token_list"`
}

// Run consumes the stream until ctx is cancelled or the reconnect
// budget is exhausted. Safe to run in its own goroutine.
func (f *Feed) Run(ctx context.Context) error {
	logger := log.With().Str("component", "market_feed").Logger()

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := f.connectAndStream(ctx, &logger)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			// clean close resets the failure streak before redialling
			failures = 0
		} else {
			failures++
			logger.Warn().Err(err).Int("failures", failures).Msg("feed disconnected")
		}
		if failures >= f.cfg.MaxReconnects {
			logger.Error().Int("max", f.cfg.MaxReconnects).Msg("feed reconnect budget exhausted")
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.cfg.ReconnectDelay * time.Duration(failures+1)):
		}
	}
}

func (f *Feed) connectAndStream(ctx context.Context, logger *zerolog.Logger) error {
	header := map[string][]string{}
	if f.token != nil {
		if tok := f.token(); tok != "" {
			header["Authorization"] = []string{"Bearer " + tok}
		}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, header)
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Info().Str("url", f.cfg.URL).Msg("feed connected")

	sub := subscribeMsg{CorrelationID: "aura_sub", Mode: 1, Tokens: f.cfg.Tokens}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	// close the connection when ctx is cancelled to unblock ReadMessage
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	go f.pingLoop(ctx, conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var t tick
		if err := json.Unmarshal(raw, &t); err != nil {
			// non-tick frame, ignore
			continue
		}
		if t.Symbol == "" {
			continue
		}
		f.cache.Put(t.Symbol, snapshotFromTick(t))
	}
}

func (f *Feed) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			_ = conn.WriteMessage(websocket.PingMessage, nil)
		}
	}
}

func snapshotFromTick(t tick) Snapshot {
	ts := time.Now()
	if t.Timestamp > 0 {
		ts = time.Unix(t.Timestamp, 0)
	}
	return Snapshot{
		Option: OptionSnapshot{
			LTP:   Float(t.LTP),
			OI:    Float(t.OI),
			IV:    Float(t.IV),
			Delta: Float(t.Delta),
			Gamma: Float(t.Gamma),
			Theta: Float(t.Theta),
			Vega:  Float(t.Vega),
		},
		Timestamp: ts,
	}
}
