package broker

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/aurax/trading-engine/internal/market"
)

// Simulator is the demo-mode order path: fills are acknowledged
// locally with a shaped latency and success rate instead of reaching
// the broker. Prices come from the live snapshot cache so demo trades
// still track the real market.
type Simulator struct {
	snapshots   market.Provider
	minLatency  time.Duration
	maxLatency  time.Duration
	successRate float64
}

// NewSimulator creates a paper-trading broker over the given snapshot
// provider.
func NewSimulator(snapshots market.Provider) *Simulator {
	return &Simulator{
		snapshots:   snapshots,
		minLatency:  5 * time.Millisecond,
		maxLatency:  50 * time.Millisecond,
		successRate: 0.98,
	}
}

// PlaceOrder simulates a fill and returns a generated demo order id.
func (s *Simulator) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	latency := s.minLatency + time.Duration(rand.Int63n(int64(s.maxLatency-s.minLatency)))
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(latency):
	}

	if rand.Float64() > s.successRate {
		return nil, errors.New("simulated execution failure")
	}

	orderID := "DEMO-" + uuid.New().String()
	log.Info().
		Str("component", "broker_sim").
		Str("symbol", req.Symbol).
		Str("side", req.Side).
		Int("quantity", req.Quantity).
		Str("order_id", orderID).
		Dur("latency", latency).
		Msg("simulated order filled")
	return &OrderResult{OrderID: orderID}, nil
}

// LTP returns the cached last traded price for the symbol.
func (s *Simulator) LTP(ctx context.Context, symbol string) (float64, error) {
	snap := s.snapshots.Snapshot(ctx, symbol)
	if snap.Option.LTP == nil {
		return 0, errors.New("no cached price for " + symbol)
	}
	return *snap.Option.LTP, nil
}
