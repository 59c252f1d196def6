package provider

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-engine/internal/markethours"
	"nifty-engine/internal/model"
)

func resp(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func TestReadJSONClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   Reason
	}{
		{"rate limited", 429, `{"error":"slow down"}`, ReasonRateLimited},
		{"forbidden", 403, `{}`, ReasonBlocked},
		{"captcha page", 200, `<!DOCTYPE html><html>captcha</html>`, ReasonBlocked},
		{"waf page on 503", 503, `<html><body>Access Denied</body></html>`, ReasonBlocked},
		{"server error", 502, `bad gateway`, ReasonTransient},
		{"not found", 404, ``, ReasonNoData},
		{"empty ok body", 200, "   ", ReasonNoData},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadJSON("test", resp(tc.status, tc.body))
			require.Error(t, err)
			assert.Equal(t, tc.want, ReasonOf(err))
		})
	}

	body, err := ReadJSON("test", resp(200, `{"ok":true}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestFailureUnwrapsToSentinel(t *testing.T) {
	cause := errors.New("boom")
	err := Fail("dhan", ReasonBlocked, cause)

	assert.True(t, errors.Is(err, ErrBlocked))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrTransient))
	assert.Contains(t, err.Error(), "dhan: blocked")
}

func TestNewSeriesRejectsEmpty(t *testing.T) {
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, markethours.IST)
	req := Request{
		Instrument: model.Nifty50(),
		Interval:   model.Interval1d,
		Range:      model.TimeRange{From: day, To: day.AddDate(0, 0, 5)},
	}

	_, err := NewSeries("yahoo", req, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoData))

	// bars outside the range are clipped away, leaving nothing
	_, err = NewSeries("yahoo", req, []model.Bar{{TS: day.AddDate(0, 0, -3), Open: 1, High: 1, Low: 1, Close: 1}})
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestNewSeriesNormalizes(t *testing.T) {
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, markethours.IST)
	req := Request{
		Instrument: model.Nifty50(),
		Interval:   model.Interval1d,
		Range:      model.TimeRange{From: day, To: day.AddDate(0, 0, 5)},
	}
	bars := []model.Bar{
		{TS: day.Add(33*time.Hour + 45*time.Minute), Open: 101.004, High: 102, Low: 100, Close: 101.5},
		{TS: day.Add(9*time.Hour + 15*time.Minute), Open: 100, High: 101, Low: 99, Close: 100.456},
		{TS: day.Add(10 * time.Hour), Open: 1, High: 1, Low: 1, Close: 1}, // duplicate session
	}
	s, err := NewSeries("yahoo", req, bars)
	require.NoError(t, err)
	require.Len(t, s.Bars, 2)
	assert.Equal(t, day, s.Bars[0].TS)
	assert.Equal(t, 100.46, s.Bars[0].Close)
	assert.Equal(t, day.AddDate(0, 0, 1), s.Bars[1].TS)
	assert.Equal(t, 101.0, s.Bars[1].Open)
	assert.NoError(t, s.Validate())
	assert.Equal(t, "yahoo", s.Provider)
}

func TestNewSeriesRejectsContradictoryHighLow(t *testing.T) {
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, markethours.IST)
	req := Request{
		Instrument: model.Nifty50(),
		Interval:   model.Interval1d,
		Range:      model.TimeRange{From: day, To: day.AddDate(0, 0, 5)},
	}

	_, err := NewSeries("dhan", req, []model.Bar{{TS: day, Open: 25000, High: 24000, Low: 26000, Close: 25500}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransient))
	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, "dhan", f.Provider)

	// a high one paisa under the close is rounding, not a broken row
	s, err := NewSeries("dhan", req, []model.Bar{{TS: day, Open: 100, High: 101.49, Low: 99.004, Close: 101.5}})
	require.NoError(t, err)
	assert.Equal(t, 101.5, s.Bars[0].High)
	assert.Equal(t, 99.0, s.Bars[0].Low)
	assert.NoError(t, s.Validate())
}

func TestChunks(t *testing.T) {
	from := time.Date(2020, 1, 1, 0, 0, 0, 0, markethours.IST)
	rng := model.TimeRange{From: from, To: from.AddDate(2, 0, 0)}
	chunks := Chunks(rng, 365*24*time.Hour)
	require.Len(t, chunks, 3)
	assert.Equal(t, rng.From, chunks[0].From)
	assert.Equal(t, rng.To, chunks[2].To)
	for i := 1; i < len(chunks); i++ {
		assert.True(t, chunks[i].From.After(chunks[i-1].To))
	}
}
