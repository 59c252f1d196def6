package indicator

import (
	"fmt"
	"time"

	"nifty-engine/internal/markethours"
	"nifty-engine/internal/model"
)

// Boundary is where VWAP accumulation restarts.
type Boundary string

const (
	BoundaryDaily  Boundary = "daily"
	BoundaryWeekly Boundary = "weekly"
	BoundaryNone   Boundary = "none"
)

func (b Boundary) Valid() bool {
	return b == BoundaryDaily || b == BoundaryWeekly || b == BoundaryNone
}

// sessionKey maps t to the accumulation bucket it belongs to.
func (b Boundary) sessionKey(t time.Time) string {
	ist := t.In(markethours.IST)
	switch b {
	case BoundaryDaily:
		return ist.Format("2006-01-02")
	case BoundaryWeekly:
		y, w := ist.ISOWeek()
		return fmt.Sprintf("%d-W%02d", y, w)
	}
	return ""
}

// VWAP is the cumulative volume-weighted typical price since the last
// session boundary. Index feeds carry no volume; while the session volume
// is zero the line is the session's mean typical price instead.
type VWAP struct {
	boundary Boundary
	session  string
	pv       float64
	vol      float64
	tp       float64
	n        int
}

func NewVWAP(boundary Boundary) *VWAP {
	return &VWAP{boundary: boundary}
}

func (v *VWAP) Name() string { return "vwap" }

func (v *VWAP) Update(b model.Bar) {
	if key := v.boundary.sessionKey(b.TS); key != v.session || v.n == 0 {
		v.session = key
		v.pv, v.vol, v.tp, v.n = 0, 0, 0, 0
	}
	typical := b.Typical()
	v.pv += typical * float64(b.Volume)
	v.vol += float64(b.Volume)
	v.tp += typical
	v.n++
}

func (v *VWAP) Value() float64 {
	if v.vol > 0 {
		return v.pv / v.vol
	}
	if v.n == 0 {
		return 0
	}
	return v.tp / float64(v.n)
}

func (v *VWAP) Ready() bool { return v.n > 0 }
