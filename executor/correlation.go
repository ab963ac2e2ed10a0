package executor

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"github.com/yeouido/trader/types"
)

// minCorrelationPeriods is the minimum number of overlapping log returns
// required for a correlation to count.
const minCorrelationPeriods = 20

// Correlation computes the Pearson correlation of two close series over log
// returns. Returns false when the overlap is too short or degenerate.
func Correlation(pricesA, pricesB []float64) (float64, bool) {
	n := len(pricesA)
	if len(pricesB) < n {
		n = len(pricesB)
	}
	if n < minCorrelationPeriods+1 {
		return 0, false
	}
	a := pricesA[len(pricesA)-n:]
	b := pricesB[len(pricesB)-n:]

	retA := make([]float64, 0, n-1)
	retB := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		ra := math.Log(a[i]) - math.Log(a[i-1])
		rb := math.Log(b[i]) - math.Log(b[i-1])
		if math.IsNaN(ra) || math.IsInf(ra, 0) || math.IsNaN(rb) || math.IsInf(rb, 0) {
			continue
		}
		retA = append(retA, ra)
		retB = append(retB, rb)
	}
	if len(retA) < minCorrelationPeriods {
		return 0, false
	}

	corr := stat.Correlation(retA, retB, nil)
	if math.IsNaN(corr) || math.IsInf(corr, 0) {
		return 0, false
	}
	return corr, true
}

// CheckPortfolioCorrelation blocks a candidate whose returns track any held
// position too closely. priceLookup returns the held stock's close series;
// lookup failures skip that position rather than blocking.
func CheckPortfolioCorrelation(
	candidateCode string,
	candidatePrices []float64,
	positions []types.Position,
	priceLookup func(code string) []float64,
	blockThreshold float64,
) (passed bool, maxCorr float64, reason string) {
	var maxCode string
	for _, pos := range positions {
		if pos.StockCode == candidateCode {
			continue
		}
		held := priceLookup(pos.StockCode)
		if len(held) == 0 {
			log.Debug().Str("code", pos.StockCode).Msg("no price history for correlation")
			continue
		}
		corr, ok := Correlation(candidatePrices, held)
		if ok && corr > maxCorr {
			maxCorr = corr
			maxCode = pos.StockCode
		}
	}

	if maxCorr >= blockThreshold {
		return false, maxCorr,
			fmt.Sprintf("high correlation %.2f with %s (threshold=%.2f)", maxCorr, maxCode, blockThreshold)
	}
	return true, maxCorr, fmt.Sprintf("max correlation %.2f", maxCorr)
}
