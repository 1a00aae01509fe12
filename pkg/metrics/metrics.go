package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes the engine's Prometheus instruments. A single
// Recorder is shared by the trading service and the background loops;
// construct it once per process because promauto registers globally.
type Recorder struct {
	signalsVerified *prometheus.CounterVec
	tradesOpened    *prometheus.CounterVec
	tradesClosed    *prometheus.CounterVec
	guardState      *prometheus.GaugeVec
	cycleDuration   *prometheus.HistogramVec
	orderLatency    prometheus.Histogram
	openTrades      prometheus.Gauge
	realizedPnL     *prometheus.GaugeVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		signalsVerified: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aurax_signals_verified_total",
				Help: "Signals run through the verifier, by resulting action",
			},
			[]string{"action"},
		),
		tradesOpened: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aurax_trades_opened_total",
				Help: "Trades submitted to a broker, by execution mode",
			},
			[]string{"mode"},
		),
		tradesClosed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aurax_trades_closed_total",
				Help: "Trades closed by the watcher, by terminal status",
			},
			[]string{"status"},
		),
		guardState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "aurax_guard_paused",
				Help: "1 while the capital guard has trading paused",
			},
			[]string{"reason"},
		),
		cycleDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aurax_loop_cycle_duration_seconds",
				Help:    "Duration of one background loop cycle",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"loop"},
		),
		orderLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aurax_order_latency_seconds",
				Help:    "Broker order placement round-trip time",
				Buckets: prometheus.DefBuckets,
			},
		),
		openTrades: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "aurax_open_trades",
				Help: "Open trades currently tracked by the watcher",
			},
		),
		realizedPnL: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "aurax_realized_pnl_today",
				Help: "Realized P&L since local midnight, per account",
			},
			[]string{"account_id"},
		),
	}
}

// SignalVerified records one verifier decision.
func (r *Recorder) SignalVerified(action string) {
	r.signalsVerified.WithLabelValues(action).Inc()
}

// TradeOpened records one accepted trade in the given mode.
func (r *Recorder) TradeOpened(mode string) {
	r.tradesOpened.WithLabelValues(mode).Inc()
}

// TradeClosed records one exit with its terminal status.
func (r *Recorder) TradeClosed(status string) {
	r.tradesClosed.WithLabelValues(status).Inc()
}

// GuardPaused flips the guard gauge for the given pause reason.
func (r *Recorder) GuardPaused(reason string, paused bool) {
	v := 0.0
	if paused {
		v = 1.0
	}
	r.guardState.WithLabelValues(reason).Set(v)
}

// CycleDuration records how long one loop cycle took.
func (r *Recorder) CycleDuration(loop string, seconds float64) {
	r.cycleDuration.WithLabelValues(loop).Observe(seconds)
}

// OrderLatency records a broker round trip.
func (r *Recorder) OrderLatency(seconds float64) {
	r.orderLatency.Observe(seconds)
}

// OpenTrades sets the current open trade count.
func (r *Recorder) OpenTrades(n int) {
	r.openTrades.Set(float64(n))
}

// RealizedPnL publishes today's realized P&L for an account.
func (r *Recorder) RealizedPnL(accountID string, pnl float64) {
	r.realizedPnL.WithLabelValues(accountID).Set(pnl)
}
