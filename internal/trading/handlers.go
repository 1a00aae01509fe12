package trading

import (
	"math"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/aurax/trading-engine/internal/notify"
	"github.com/aurax/trading-engine/internal/strategy"
	"github.com/aurax/trading-engine/internal/system"
	"github.com/aurax/trading-engine/internal/types"
	"github.com/aurax/trading-engine/internal/verifier"
	"github.com/aurax/trading-engine/pkg/response"
)

// Risk status levels reported to the dashboard.
const (
	RiskStatusActive  = "ACTIVE"
	RiskStatusWarning = "WARNING"
	RiskStatusStop    = "STOP"
)

// WebhookAlert is the JSON payload posted by a TradingView alert.
// Either "side" or "signal" carries the direction; "side" wins.
type WebhookAlert struct {
	Symbol     string   `json:"symbol" binding:"required"`
	Side       string   `json:"side"`
	Signal     string   `json:"signal"`
	Price      float64  `json:"price"`
	Confidence float64  `json:"confidence"`
	Capital    float64  `json:"capital"`
	AccountID  string   `json:"uid"`
	AIScore    *float64 `json:"ai_score,omitempty"`
}

func (a WebhookAlert) direction() string {
	if a.Side != "" {
		return a.Side
	}
	return a.Signal
}

// GinHandlers contains HTTP handlers for trade and risk endpoints
type GinHandlers struct {
	service  *Service
	strategy *strategy.Service
}

// NewGinHandlers creates a new set of HTTP handlers for trade endpoints
func NewGinHandlers(service *Service, strategySvc *strategy.Service) *GinHandlers {
	return &GinHandlers{
		service:  service,
		strategy: strategySvc,
	}
}

// PlaceTradeHandler handles POST requests to run the full decision
// pipeline for a trade request. Policy outcomes map to HTTP statuses:
// a filtered signal is still a 2xx, rejections are 4xx.
func (h *GinHandlers) PlaceTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PlaceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if req.Side != types.SideBuy && req.Side != types.SideSell {
			response.BadRequest(c, "transaction_type must be BUY or SELL")
			return
		}

		outcome, err := h.service.PlaceTrade(c.Request.Context(), req)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		switch {
		case outcome.Status == OutcomeRejected && outcome.Reason == ReasonRiskLimit:
			response.Forbidden(c, "daily loss limit reached")
		case outcome.Status == OutcomeRejected:
			response.BadRequest(c, outcome.Reason)
		default:
			response.Success(c, outcome)
		}
	}
}

// GetTradeStatusHandler handles GET requests for a single trade.
// URL parameter: trade_key
func (h *GinHandlers) GetTradeStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tradeKey := c.Param("trade_key")
		if tradeKey == "" {
			response.BadRequest(c, "Trade key is required")
			return
		}

		trade, err := h.service.db.GetTrade(tradeKey)
		if err != nil || trade == nil {
			response.NotFound(c, "Trade not found")
			return
		}

		response.Success(c, trade)
	}
}

// ListTradesHandler handles GET requests for an account's trade
// history. Query parameter: uid
func (h *GinHandlers) ListTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Query("uid")
		if accountID == "" {
			response.BadRequest(c, "uid query parameter is required")
			return
		}

		trades, err := h.service.db.ListTrades(accountID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, trades)
	}
}

// RiskStatusHandler handles GET requests for the dashboard risk
// summary: today's realized P&L across all accounts against the
// guard's soft and hard stop levels.
func (h *GinHandlers) RiskStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := h.service.db.ListUsers()
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		totalCapital := 0.0
		totalPnL := 0.0
		var totalTrades int64
		for _, u := range users {
			capital := u.Capital
			if capital <= 0 {
				capital = defaultCapital
			}
			totalCapital += capital

			pnl, count, err := h.service.db.TodayRealized(u.AccountID)
			if err != nil {
				response.InternalError(c, err.Error())
				return
			}
			totalPnL += pnl
			totalTrades += count
		}
		if totalCapital == 0 {
			totalCapital = defaultCapital
		}

		softPct, hardPct := 0.03, 0.05
		if ov, err := h.service.system.Overrides(); err == nil && ov != nil {
			if ov.SoftPct > 0 {
				softPct = ov.SoftPct
			}
			if ov.HardPct > 0 {
				hardPct = ov.HardPct
			}
		}
		softStop := totalCapital * softPct
		hardStop := totalCapital * hardPct

		status := RiskStatusActive
		switch {
		case totalPnL <= -hardStop:
			status = RiskStatusStop
		case totalPnL <= -softStop:
			status = RiskStatusWarning
		}

		percent := 0.0
		if hardStop > 0 {
			percent = round2(math.Abs(totalPnL) / hardStop * 100)
		}

		response.Success(c, gin.H{
			"daily_pl_value":   round2(totalPnL),
			"daily_pl_percent": percent,
			"soft_stop":        round2(softStop),
			"hard_stop":        round2(hardStop),
			"status":           status,
			"total_trades":     totalTrades,
		})
	}
}

// TradingViewWebhookHandler handles POST requests from TradingView
// alerts. Live mode runs the full place pipeline; demo mode records
// the verified signal and notifies without touching a broker.
func (h *GinHandlers) TradingViewWebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var alert WebhookAlert
		if err := c.ShouldBindJSON(&alert); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		side := alert.direction()
		if side != types.SideBuy && side != types.SideSell {
			response.BadRequest(c, "side must be BUY or SELL")
			return
		}
		accountID := alert.AccountID
		if accountID == "" {
			accountID = "webhook-auto"
		}
		confidence := alert.Confidence
		if confidence <= 0 {
			confidence = 90
		}

		logger := log.With().Str("component", "webhook").Str("symbol", alert.Symbol).Logger()
		logger.Info().Str("side", side).Float64("price", alert.Price).Msg("tradingview alert received")

		mode, err := h.service.system.Mode()
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		sig := types.Signal{
			Symbol:     alert.Symbol,
			Side:       side,
			Price:      alert.Price,
			Confidence: confidence,
			AIScore:    alert.AIScore,
			Time:       time.Now(),
		}

		// demo mode never reaches the place pipeline, so the signal
		// still has to clear the verifier here
		if mode != system.ModeLive {
			verification := h.service.verifier.Verify(c.Request.Context(), sig, nil)
			h.record(sig, mode, verification)
			if verification.Action == verifier.ActionSkip {
				logger.Info().Strs("reasons", verification.Reasons).Msg("alert filtered")
				response.Success(c, gin.H{"message": "Filtered out", "verify": verification})
				return
			}
			h.service.notifier.NotifySystemAlert(notify.LevelInfo, "Demo Signal",
				side+" "+alert.Symbol+" logged")
			response.Success(c, gin.H{"message": "Demo signal logged", "verify": verification})
			return
		}

		outcome, err := h.service.PlaceTrade(c.Request.Context(), PlaceRequest{
			AccountID:  accountID,
			Symbol:     alert.Symbol,
			Side:       side,
			Price:      alert.Price,
			Capital:    alert.Capital,
			Confidence: confidence,
			AIScore:    alert.AIScore,
		})
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if outcome.Verification != nil {
			h.record(sig, mode, *outcome.Verification)
		}
		if outcome.Status == OutcomeRejected && outcome.Reason == ReasonRiskLimit {
			response.Forbidden(c, "daily loss limit reached")
			return
		}
		response.Success(c, gin.H{"message": "Signal processed", "outcome": outcome})
	}
}

func (h *GinHandlers) record(sig types.Signal, mode string, verification verifier.Result) {
	if h.strategy == nil {
		return
	}
	if err := h.strategy.RecordInbound(sig, "tradingview", mode, verification.Score, verification.Action); err != nil {
		log.Warn().Err(err).Str("component", "webhook").Msg("failed to record signal")
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
