package market

import "gonum.org/v1/gonum/stat"

// historyStats computes realized volatility (stddev of returns) and trend
// (mean return) from a price history window.
func historyStats(history []float64) (realized, trend float64) {
	returns := priceReturns(history)
	if len(returns) == 0 {
		return 0, 0
	}
	trend = stat.Mean(returns, nil)
	if len(returns) > 1 {
		realized = stat.StdDev(returns, nil)
	}
	return realized, trend
}

// priceReturns converts a price series to fractional per-step returns.
func priceReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
		}
	}
	return returns
}
