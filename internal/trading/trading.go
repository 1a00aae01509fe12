package trading

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/aurax/trading-engine/internal/broker"
	"github.com/aurax/trading-engine/internal/contracts"
	"github.com/aurax/trading-engine/internal/market"
	"github.com/aurax/trading-engine/internal/notify"
	"github.com/aurax/trading-engine/internal/risk"
	"github.com/aurax/trading-engine/internal/system"
	"github.com/aurax/trading-engine/internal/types"
	"github.com/aurax/trading-engine/internal/verifier"
	"github.com/aurax/trading-engine/pkg/metrics"
)

// Outcome statuses for a place-trade attempt. Filtered and rejected
// are policy outcomes, not errors.
const (
	OutcomePlaced   = "placed"
	OutcomeFiltered = "filtered"
	OutcomeRejected = "rejected"
)

// Rejection reason codes.
const (
	ReasonTradingPaused    = "trading_paused"
	ReasonRiskLimit        = "daily_loss_limit"
	ReasonZeroQuantity     = "qty_zero"
	ReasonContractNotFound = "contract_not_found"
	ReasonLowCapital       = "low_capital"
	ReasonOpenTradeCap     = "too_many_open_trades"
	ReasonSpreadTooHigh    = "spread_too_high"
	ReasonBrokerRejected   = "broker_rejected"
)

const defaultCapital = 100000

// ErrPaused is returned by Submit while the guard has trading paused.
// Callers surface it as a policy outcome rather than a fault.
var ErrPaused = errors.New("trading paused")

// PlaceRequest is a full place-trade submission from the API or
// webhook: the pipeline verifies, sizes and gates it.
type PlaceRequest struct {
	AccountID  string          `json:"uid" binding:"required"`
	Symbol     string          `json:"symbol" binding:"required"`
	Side       string          `json:"transaction_type" binding:"required"`
	Price      float64         `json:"price"`
	Quantity   int             `json:"quantity"`
	Capital    float64         `json:"capital"`
	Confidence float64         `json:"confidence"`
	AIScore    *float64        `json:"ai_score,omitempty"`
	Candles    []types.Candle  `json:"candles,omitempty"`
	Snapshot   *market.Snapshot `json:"-"`
}

// Outcome reports what happened to a place-trade attempt.
type Outcome struct {
	Status       string           `json:"status"`
	Reason       string           `json:"reason,omitempty"`
	Verification *verifier.Result `json:"verify,omitempty"`
	Trade        *types.Trade     `json:"trade,omitempty"`
}

// SubmitRequest is a pre-verified, pre-sized order: the executor path.
type SubmitRequest struct {
	AccountID   string
	Symbol      string
	Exchange    string
	Token       string
	Side        string
	Quantity    int
	EntryPrice  float64
	Stoploss    float64
	Target      float64
	ATR         float64
	Confidence  float64
	VerifyScore float64
}

// Service runs the verify, size, gate, submit pipeline and owns trade
// creation. The watcher owns everything after that.
type Service struct {
	db        *Database
	verifier  *verifier.Verifier
	risk      *risk.Manager
	system    *system.Service
	contracts *contracts.Service
	notifier  *notify.Notifier
	live      broker.OrderPlacer
	demo      broker.OrderPlacer
	metrics   *metrics.Recorder
}

// NewService wires the trading pipeline.
func NewService(gormDB *gorm.DB, v *verifier.Verifier, rm *risk.Manager, sys *system.Service,
	contractSvc *contracts.Service, notifier *notify.Notifier, live, demo broker.OrderPlacer,
	rec *metrics.Recorder) *Service {
	return &Service{
		db:        NewDatabase(gormDB),
		verifier:  v,
		risk:      rm,
		system:    sys,
		contracts: contractSvc,
		notifier:  notifier,
		live:      live,
		demo:      demo,
		metrics:   rec,
	}
}

// GetDB exposes the trade database to the periodic tasks.
func (s *Service) GetDB() *Database {
	return s.db
}

// PlaceTrade runs the full decision pipeline for an inbound request.
// Policy rejections come back in the Outcome; only infrastructure
// failures return an error.
func (s *Service) PlaceTrade(ctx context.Context, req PlaceRequest) (*Outcome, error) {
	logger := log.With().Str("component", "trading").Str("symbol", req.Symbol).Str("account", req.AccountID).Logger()

	sig := types.Signal{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Price:      req.Price,
		Confidence: req.Confidence,
		AIScore:    req.AIScore,
		Time:       time.Now(),
	}
	verification := s.verifier.Verify(ctx, sig, req.Snapshot)
	s.metrics.SignalVerified(verification.Action)
	if verification.Action == verifier.ActionSkip {
		logger.Info().Strs("reasons", verification.Reasons).Msg("signal filtered")
		return &Outcome{Status: OutcomeFiltered, Verification: &verification}, nil
	}

	capital := req.Capital
	if capital <= 0 {
		if user, err := s.db.GetUser(req.AccountID); err == nil && user != nil && user.Capital > 0 {
			capital = user.Capital
		} else {
			capital = defaultCapital
		}
	}

	// stop and target from candle history when available, otherwise a
	// flat 15-point assumption off the entry
	var plan risk.Plan
	if len(req.Candles) > 0 && req.Price > 0 {
		plan = s.risk.ComputeStopTarget(req.Candles, req.Price, req.Side)
	} else {
		plan = risk.Plan{ATR: 15, SLDistance: 15, TargetDistance: 45}
		if req.Side == types.SideBuy {
			plan.Stoploss, plan.Target = req.Price-15, req.Price+45
		} else {
			plan.Stoploss, plan.Target = req.Price+15, req.Price-45
		}
	}

	qty := req.Quantity
	if qty <= 0 {
		qty = s.risk.SizePosition(capital, req.Price, plan.Stoploss)
	}
	if qty <= 0 {
		return &Outcome{Status: OutcomeRejected, Reason: ReasonZeroQuantity, Verification: &verification}, nil
	}

	allowed, pnl, limit, err := s.risk.CheckDailyLossLimit(req.AccountID, capital)
	if err != nil {
		return nil, err
	}
	if !allowed {
		logger.Warn().Float64("pnl", pnl).Float64("limit", limit).Msg("daily loss limit reached")
		s.notifier.NotifyRiskWarning(req.AccountID, pnl, limit, limit)
		return &Outcome{Status: OutcomeRejected, Reason: ReasonRiskLimit, Verification: &verification}, nil
	}

	info, err := s.contracts.Lookup(req.Symbol)
	if err != nil {
		if errors.Is(err, contracts.ErrNotFound) {
			return &Outcome{Status: OutcomeRejected, Reason: ReasonContractNotFound, Verification: &verification}, nil
		}
		return nil, err
	}

	trade, err := s.Submit(ctx, SubmitRequest{
		AccountID:   req.AccountID,
		Symbol:      req.Symbol,
		Exchange:    info.Exchange,
		Token:       info.Token,
		Side:        req.Side,
		Quantity:    qty,
		EntryPrice:  req.Price,
		Stoploss:    plan.Stoploss,
		Target:      plan.Target,
		ATR:         plan.ATR,
		Confidence:  req.Confidence,
		VerifyScore: verification.Score,
	})
	if err != nil {
		if errors.Is(err, ErrPaused) {
			return &Outcome{Status: OutcomeRejected, Reason: ReasonTradingPaused, Verification: &verification}, nil
		}
		return nil, err
	}
	if trade == nil {
		return &Outcome{Status: OutcomeRejected, Reason: ReasonBrokerRejected, Verification: &verification}, nil
	}
	return &Outcome{Status: OutcomePlaced, Verification: &verification, Trade: trade}, nil
}

// Submit places a pre-verified order through the mode's order path
// and persists the resulting trade. Returns (nil, nil) when the broker
// rejects the order and ErrPaused while the system is paused.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*types.Trade, error) {
	mode, err := s.system.Mode()
	if err != nil {
		return nil, err
	}
	if mode == system.ModePaused {
		log.Warn().Str("component", "trading").Str("symbol", req.Symbol).Msg("submission refused, trading paused")
		return nil, ErrPaused
	}

	start := time.Now()
	trade := &types.Trade{
		TradeKey:    uuid.New().String(),
		AccountID:   req.AccountID,
		Symbol:      req.Symbol,
		Exchange:    req.Exchange,
		Side:        req.Side,
		Quantity:    req.Quantity,
		EntryPrice:  req.EntryPrice,
		Stoploss:    req.Stoploss,
		Target:      req.Target,
		ATR:         req.ATR,
		Confidence:  req.Confidence,
		VerifyScore: req.VerifyScore,
		Status:      types.TradeStatusPending,
	}

	placer := s.live
	fillStatus := types.TradeStatusSuccess
	if mode == system.ModeDemo {
		placer = s.demo
		fillStatus = types.TradeStatusSimulated
	}

	result, err := placer.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:   req.Symbol,
		Token:    req.Token,
		Exchange: req.Exchange,
		Side:     req.Side,
		Quantity: req.Quantity,
		Price:    req.EntryPrice,
		Stoploss: req.Stoploss,
		Target:   req.Target,
	})
	if err != nil {
		log.Error().Err(err).Str("component", "trading").Str("symbol", req.Symbol).Msg("order placement failed")
		return nil, nil
	}

	s.metrics.OrderLatency(time.Since(start).Seconds())

	trade.Status = fillStatus
	trade.OrderID = result.OrderID
	if err := s.db.CreateTrade(trade); err != nil {
		return nil, err
	}

	s.metrics.TradeOpened(mode)
	s.notifier.NotifyTrade(req.Symbol, req.Side, req.EntryPrice, req.Target, req.Stoploss, req.Confidence, result.OrderID, time.Since(start))
	log.Info().
		Str("component", "trading").
		Str("symbol", req.Symbol).
		Str("mode", mode).
		Str("status", trade.Status).
		Int("quantity", req.Quantity).
		Str("order_id", result.OrderID).
		Msg("trade placed")
	return trade, nil
}
