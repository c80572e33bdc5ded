// Package indicator computes technical indicators over a bounded
// per-pair buffer of candles. Values are recomputed from the buffered
// close/volume series on every candle rather than maintained
// incrementally: the buffer is small (tens of candles) and recompute
// keeps the math trivially correct under snapshot re-emissions.
package indicator

// SMA returns the arithmetic mean of the last p values. ok is false
// when fewer than p values exist.
func SMA(values []float64, p int) (float64, bool) {
	if p < 1 || len(values) < p {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-p:] {
		sum += v
	}
	return sum / float64(p), true
}

// emaSeries computes the EMA with smoothing alpha = 2/(p+1), seeded
// with the SMA of the first p values. Entries before index p-1 are
// zero and carry no meaning. Returns nil when fewer than p values
// exist.
func emaSeries(values []float64, p int) []float64 {
	if p < 1 || len(values) < p {
		return nil
	}
	out := make([]float64, len(values))
	seed := 0.0
	for _, v := range values[:p] {
		seed += v
	}
	out[p-1] = seed / float64(p)

	alpha := 2.0 / float64(p+1)
	for i := p; i < len(values); i++ {
		out[i] = out[i-1] + alpha*(values[i]-out[i-1])
	}
	return out
}

// EMA returns the latest EMA value over the series. ok is false when
// fewer than p values exist.
func EMA(values []float64, p int) (float64, bool) {
	series := emaSeries(values, p)
	if series == nil {
		return 0, false
	}
	return series[len(series)-1], true
}

// RSI returns the relative strength index over the last p deltas with
// Wilder smoothing. Needs p+1 values (p deltas). A loss-free window
// yields 100, a gain-free one 0.
func RSI(values []float64, p int) (float64, bool) {
	if p < 1 || len(values) < p+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= p; i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(p)
	avgLoss /= float64(p)

	for i := p + 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(p-1) + gain) / float64(p)
		avgLoss = (avgLoss*float64(p-1) + loss) / float64(p)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// MACD periods. The fast/slow pair names the output fields macd_7,
// macdsignal_7, macdhist_7.
const (
	macdFast   = 7
	macdSlow   = 14
	macdSignal = 9

	// macdMinValues is the history required before any MACD field is
	// reported.
	macdMinValues = 26
)

// MACD returns the MACD line (EMA7 - EMA14), its EMA9 signal line and
// the histogram (line - signal). ok is false with fewer than 26 values.
func MACD(values []float64) (line, signal, hist float64, ok bool) {
	if len(values) < macdMinValues {
		return 0, 0, 0, false
	}

	fast := emaSeries(values, macdFast)
	slow := emaSeries(values, macdSlow)

	// The MACD series starts where the slow EMA becomes defined.
	series := make([]float64, 0, len(values)-macdSlow+1)
	for i := macdSlow - 1; i < len(values); i++ {
		series = append(series, fast[i]-slow[i])
	}

	sig := emaSeries(series, macdSignal)
	line = series[len(series)-1]
	signal = sig[len(sig)-1]
	return line, signal, line - signal, true
}

// OBV returns the on-balance volume of the series: a cumulative sum
// starting at 0 that moves by +volume on a rising close, -volume on a
// falling close and 0 on an unchanged close.
func OBV(closes, volumes []float64) float64 {
	obv := 0.0
	for i := 1; i < len(closes) && i < len(volumes); i++ {
		switch {
		case closes[i] > closes[i-1]:
			obv += volumes[i]
		case closes[i] < closes[i-1]:
			obv -= volumes[i]
		}
	}
	return obv
}
