package strategy

import (
	"github.com/aurax/trading-engine/internal/types"
)

// EMA computes the exponential moving average series over prices.
// The first value seeds the series; returns nil for empty input.
func EMA(prices []float64, period int) []float64 {
	if len(prices) == 0 || period <= 0 {
		return nil
	}
	k := 2.0 / float64(period+1)
	out := make([]float64, len(prices))
	out[0] = prices[0]
	for i := 1; i < len(prices); i++ {
		out[i] = prices[i]*k + out[i-1]*(1-k)
	}
	return out
}

// RSI computes the Relative Strength Index over the most recent
// period price changes. Returns 100 when there are no losses and 50
// when there is not enough data to say anything.
func RSI(prices []float64, period int) float64 {
	if len(prices) < 2 || period <= 0 {
		return 50
	}
	var gains, losses []float64
	for i := 1; i < len(prices); i++ {
		diff := prices[i] - prices[i-1]
		if diff >= 0 {
			gains = append(gains, diff)
		} else {
			losses = append(losses, -diff)
		}
	}
	avgGain := tailAvg(gains, period)
	avgLoss := tailAvg(losses, period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

func tailAvg(vals []float64, period int) float64 {
	if len(vals) == 0 {
		return 0
	}
	start := 0
	if len(vals) > period {
		start = len(vals) - period
	}
	sum := 0.0
	for _, v := range vals[start:] {
		sum += v
	}
	return sum / float64(period)
}

// HeikinAshiColors converts raw candles into Heikin-Ashi candle colors
// ("green"/"red"), newest last. Used as the trend fallback when EMAs
// are unavailable.
func HeikinAshiColors(candles []types.Candle) []string {
	if len(candles) == 0 {
		return nil
	}
	colors := make([]string, 0, len(candles))
	haOpen := (candles[0].Open + candles[0].Close) / 2
	for _, c := range candles {
		haClose := (c.Open + c.High + c.Low + c.Close) / 4
		if haClose >= haOpen {
			colors = append(colors, "green")
		} else {
			colors = append(colors, "red")
		}
		haOpen = (haOpen + haClose) / 2
	}
	return colors
}
