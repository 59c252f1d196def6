package indicator

import "math"

// Sigma holds a rolling window of closes and reports mean ± k sample
// standard deviations.
type Sigma struct {
	window int
	buf    []float64
	idx    int
	count  int
}

func NewSigma(window int) *Sigma {
	return &Sigma{window: window, buf: make([]float64, window)}
}

func (s *Sigma) Add(v float64) {
	s.buf[s.idx] = v
	s.idx = (s.idx + 1) % s.window
	s.count++
}

func (s *Sigma) Ready() bool { return s.window >= 2 && s.count >= s.window }

// Stats returns the window mean and sample (n-1) standard deviation.
func (s *Sigma) Stats() (mean, std float64) {
	n := float64(s.window)
	for _, v := range s.buf {
		mean += v
	}
	mean /= n
	var ss float64
	for _, v := range s.buf {
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / (n - 1))
}
