package strategy

import (
	"github.com/gin-gonic/gin"

	"github.com/aurax/trading-engine/pkg/response"
)

// Recent returns the most recent signal records, newest first.
func (s *Service) Recent(limit int) ([]SignalRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.db.RecentSignals(limit)
}

// GinHandlers contains HTTP handlers for signal endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for signals
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GenerateSignalHandler handles POST requests to run the strategy for
// a symbol and record the signal.
func (h *GinHandlers) GenerateSignalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Symbol string `json:"symbol"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if body.Symbol == "" {
			body.Symbol = "NIFTY"
		}

		sig, rec, err := h.service.GenerateSignal(c.Request.Context(), body.Symbol)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if rec == nil {
			response.NotFound(c, "Not enough candle history")
			return
		}
		response.Success(c, gin.H{"signal": sig, "record": rec})
	}
}

// LatestSignalHandler handles GET requests for the newest signal.
func (h *GinHandlers) LatestSignalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		recs, err := h.service.Recent(1)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if len(recs) == 0 {
			response.NotFound(c, "No signals yet")
			return
		}
		response.Success(c, gin.H{"signal": recs[0]})
	}
}

// SignalHistoryHandler handles GET requests for the last 10 signals.
func (h *GinHandlers) SignalHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		recs, err := h.service.Recent(10)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, gin.H{"signals": recs})
	}
}
