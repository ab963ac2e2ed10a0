// Package indicators wraps the technical studies used by the signal detector
// and the position monitor: RSI, ATR, moving-average crosses, MACD divergence,
// and the candle-shape checks on completed minute bars.
package indicators

import (
	"github.com/markcheno/go-talib"

	"github.com/yeouido/trader/types"
)

const (
	RSIPeriod = 14
	ATRPeriod = 14

	macdFast     = 12
	macdSlow     = 26
	macdSignal   = 9
	macdLookback = 10

	deathCrossGap = 0.002
)

// RSI returns the latest 14-period RSI of the close series. ok is false when
// the series is too short.
func RSI(closes []float64) (float64, bool) {
	if len(closes) < RSIPeriod+1 {
		return 0, false
	}
	out := talib.Rsi(closes, RSIPeriod)
	return out[len(out)-1], true
}

// RSISeries returns the full 14-period RSI series (leading values are zero
// until the warm-up completes).
func RSISeries(closes []float64) []float64 {
	if len(closes) < RSIPeriod+1 {
		return nil
	}
	return talib.Rsi(closes, RSIPeriod)
}

// ATR returns the latest 14-period average true range of a daily series.
func ATR(daily []types.DailyPrice) (float64, bool) {
	if len(daily) < ATRPeriod+1 {
		return 0, false
	}
	high := make([]float64, len(daily))
	low := make([]float64, len(daily))
	closes := make([]float64, len(daily))
	for i, d := range daily {
		high[i] = float64(d.High)
		low[i] = float64(d.Low)
		closes[i] = float64(d.Close)
	}
	out := talib.Atr(high, low, closes, ATRPeriod)
	return out[len(out)-1], true
}

// SMALast returns the last two values of a simple moving average,
// (previous, current, ok).
func SMALast(values []float64, period int) (float64, float64, bool) {
	if len(values) < period+1 {
		return 0, 0, false
	}
	out := talib.Sma(values, period)
	return out[len(out)-2], out[len(out)-1], true
}

// GoldenCross reports an upward short-over-long MA crossover on the last bar.
func GoldenCross(closes []float64, short, long int) bool {
	prevS, currS, okS := SMALast(closes, short)
	prevL, currL, okL := SMALast(closes, long)
	if !okS || !okL {
		return false
	}
	return currS > currL && prevS <= prevL
}

// DeathCross reports a downward crossover with a minimum 0.2% separation, the
// hysteresis that keeps a flat tape from flapping the flag.
func DeathCross(closes []float64, short, long int) bool {
	prevS, currS, okS := SMALast(closes, short)
	prevL, currL, okL := SMALast(closes, long)
	if !okS || !okL {
		return false
	}
	return currS < currL*(1-deathCrossGap) && prevS >= prevL
}

// MACDBearishDivergence warns when price sits near its recent high while the
// MACD histogram has rolled over.
func MACDBearishDivergence(closes []float64) bool {
	if len(closes) < macdSlow+macdLookback {
		return false
	}
	_, _, hist := talib.Macd(closes, macdFast, macdSlow, macdSignal)

	recentPrices := closes[len(closes)-macdLookback:]
	recentHist := hist[len(hist)-macdLookback:]

	maxIdx := 0
	for i, p := range recentPrices {
		if p > recentPrices[maxIdx] {
			maxIdx = i
		}
	}

	priceNearHigh := recentPrices[len(recentPrices)-1] >= recentPrices[maxIdx]*0.98
	histDeclining := recentHist[len(recentHist)-1] < recentHist[maxIdx]
	return priceNearHigh && histDeclining
}

// ShootingStar reports a bar whose upper shadow is more than twice its body.
func ShootingStar(b types.Bar) bool {
	body := b.Close - b.Open
	if body < 0 {
		body = -body
	}
	upper := b.High - max64(b.Open, b.Close)
	if body == 0 {
		return upper > 0
	}
	return upper > body*2
}

// BearishEngulfing reports a red bar whose body engulfs the previous green
// bar's body.
func BearishEngulfing(prev, curr types.Bar) bool {
	prevGreen := prev.Close > prev.Open
	currRed := curr.Close < curr.Open
	return prevGreen && currRed && curr.Open >= prev.Close && curr.Close <= prev.Open
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
