package fallback

import (
	"sort"
	"time"

	"nifty-engine/internal/markethours"
	"nifty-engine/internal/model"
)

// hole is a run of consecutive expected bar slots with no bar.
type hole struct {
	Span    model.TimeRange
	Missing int // bar slots
}

// slot is one bar the exchange calendar says should exist.
type slot struct {
	start, closes time.Time
}

// expectedSlots lists the bars rng should contain: one per NSE session for
// daily bars, one per interval between open and close for intraday bars.
// A slot is expected only when it starts inside rng and has closed by
// rng.To, so a forming bar is never demanded.
func expectedSlots(iv model.Interval, rng model.TimeRange) []slot {
	var out []slot
	step := iv.Duration()
	if step <= 0 {
		return nil
	}
	for d := markethours.SessionDate(rng.From); !d.After(rng.To); d = d.AddDate(0, 0, 1) {
		if !markethours.IsTradingDay(d) {
			continue
		}
		open := time.Date(d.Year(), d.Month(), d.Day(), markethours.OpenHour, markethours.OpenMinute, 0, 0, markethours.IST)
		closeAt := time.Date(d.Year(), d.Month(), d.Day(), markethours.CloseHour, markethours.CloseMinute, 0, 0, markethours.IST)
		if iv.IsDaily() {
			if !d.Before(rng.From) && !closeAt.After(rng.To) {
				out = append(out, slot{start: d, closes: closeAt})
			}
			continue
		}
		for s := open; s.Before(closeAt); s = s.Add(step) {
			end := s.Add(step)
			if end.After(closeAt) {
				end = closeAt
			}
			if s.Before(rng.From) {
				continue
			}
			if end.After(rng.To) {
				break
			}
			out = append(out, slot{start: s, closes: end})
		}
	}
	return out
}

// holes returns every run of expected slots in rng that bars leave empty.
// With no bars at all the whole range is one hole.
func holes(bars []model.Bar, iv model.Interval, rng model.TimeRange) []hole {
	if len(bars) == 0 {
		return []hole{{Span: rng, Missing: len(expectedSlots(iv, rng))}}
	}
	have := make(map[int64]struct{}, len(bars))
	for _, b := range bars {
		have[b.TS.UnixNano()] = struct{}{}
	}

	var out []hole
	var cur *hole
	for _, sl := range expectedSlots(iv, rng) {
		if _, ok := have[sl.start.UnixNano()]; ok {
			cur = nil
			continue
		}
		to := sl.start.Add(iv.Duration() - time.Second)
		if to.After(rng.To) {
			to = rng.To
		}
		if cur == nil {
			out = append(out, hole{Span: model.TimeRange{From: sl.start, To: to}})
			cur = &out[len(out)-1]
		}
		cur.Span.To = to
		cur.Missing++
	}
	return out
}

// pendingSpans keeps the holes worth asking the next provider for: those
// missing more than tolerance bar slots.
func pendingSpans(hs []hole, tolerance int) []model.TimeRange {
	var out []model.TimeRange
	for _, h := range hs {
		if h.Missing > tolerance {
			out = append(out, h.Span)
		}
	}
	return out
}

func spans(hs []hole) []model.TimeRange {
	var out []model.TimeRange
	for _, h := range hs {
		out = append(out, h.Span)
	}
	return out
}

// merger accumulates bars in priority order: a timestamp already present
// is never overwritten by a later, lower-priority provider.
type merger struct {
	seen    map[int64]struct{}
	bars    []model.Bar
	sources []model.SourceSpan
}

func newMerger() *merger {
	return &merger{seen: make(map[int64]struct{})}
}

// add merges bars from name and returns how many were new.
func (m *merger) add(name string, bars []model.Bar) int {
	var span model.SourceSpan
	for _, b := range bars {
		k := b.TS.UnixNano()
		if _, ok := m.seen[k]; ok {
			continue
		}
		m.seen[k] = struct{}{}
		m.bars = append(m.bars, b)
		if span.Bars == 0 {
			span = model.SourceSpan{Provider: name, From: b.TS}
		}
		span.To = b.TS
		span.Bars++
	}
	if span.Bars > 0 {
		m.sources = append(m.sources, span)
		sort.SliceStable(m.bars, func(i, j int) bool { return m.bars[i].TS.Before(m.bars[j].TS) })
	}
	return span.Bars
}

func (m *merger) series(symbol string, iv model.Interval, gaps []model.TimeRange) model.Series {
	sources := append([]model.SourceSpan(nil), m.sources...)
	primary := ""
	if len(sources) > 0 {
		primary = sources[0].Provider
	}
	sort.SliceStable(sources, func(i, j int) bool { return sources[i].From.Before(sources[j].From) })

	s := model.Series{
		Symbol:       symbol,
		Interval:     iv,
		Bars:         append([]model.Bar(nil), m.bars...),
		Provider:     primary,
		Sources:      sources,
		Completeness: model.Contiguous,
	}
	if len(gaps) > 0 {
		s.Completeness = model.HasGaps
		s.Gaps = gaps
	}
	return s
}
