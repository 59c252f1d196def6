package indicator

import (
	"nifty-engine/internal/markethours"
	"nifty-engine/internal/model"
)

// Levels are the central pivot range levels for a session.
type Levels struct {
	Pivot, TC, BC, R1, S1 float64
}

// PivotLevels derives CPR levels from a session's high, low and close.
func PivotLevels(h, l, c float64) Levels {
	p := (h + l + c) / 3
	bc := (h + l) / 2
	return Levels{
		Pivot: p,
		BC:    bc,
		TC:    2*p - bc,
		R1:    2*p - l,
		S1:    2*p - h,
	}
}

// CPR tracks the running session's H/L/C and exposes the levels derived
// from the previous completed session. Undefined during the first session.
type CPR struct {
	session   int64
	started   bool
	h, l, c   float64
	levels    Levels
	hasLevels bool
}

func NewCPR() *CPR { return &CPR{} }

func (p *CPR) Update(b model.Bar) {
	day := markethours.SessionDate(b.TS).Unix()
	if p.started && day != p.session {
		p.levels = PivotLevels(p.h, p.l, p.c)
		p.hasLevels = true
		p.started = false
	}
	if !p.started {
		p.session = day
		p.h, p.l = b.High, b.Low
		p.started = true
	}
	p.h = max(p.h, b.High)
	p.l = min(p.l, b.Low)
	p.c = b.Close
}

// Levels returns the current session's levels and whether they are defined.
func (p *CPR) Levels() (Levels, bool) { return p.levels, p.hasLevels }
