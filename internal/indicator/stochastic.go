package indicator

import "nifty-engine/internal/model"

// Stochastic computes %K over the last lookback bars' high/low range and
// %D as the SMA of %K. A flat range reads 50.
type Stochastic struct {
	lookback int
	highs    []float64
	lows     []float64
	idx      int
	count    int
	k        float64
	d        *SMA
}

func NewStochastic(lookback, smoothing int) *Stochastic {
	return &Stochastic{
		lookback: lookback,
		highs:    make([]float64, lookback),
		lows:     make([]float64, lookback),
		d:        NewSMA(smoothing),
	}
}

func (s *Stochastic) Update(b model.Bar) {
	s.highs[s.idx] = b.High
	s.lows[s.idx] = b.Low
	s.idx = (s.idx + 1) % s.lookback
	s.count++
	if s.count < s.lookback {
		return
	}

	hh, ll := s.highs[0], s.lows[0]
	for i := 1; i < s.lookback; i++ {
		hh = max(hh, s.highs[i])
		ll = min(ll, s.lows[i])
	}
	if hh == ll {
		s.k = 50
	} else {
		s.k = 100 * (b.Close - ll) / (hh - ll)
	}
	s.d.Add(s.k)
}

// K returns %K.
func (s *Stochastic) K() Value {
	if s.count < s.lookback {
		return Value{}
	}
	return ready(s.k)
}

// D returns %D.
func (s *Stochastic) D() Value { return valueOf(s.d) }
