package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"nifty-engine/internal/model"
)

func TestWeightedAverageCost(t *testing.T) {
	b := NewBook()
	now := time.Now()

	b.Fill("NIFTY50", model.SideBuy, 10, d("100"), now)
	p, realized := b.Fill("NIFTY50", model.SideBuy, 10, d("110"), now)
	assert.Equal(t, int64(20), p.Quantity)
	assert.True(t, p.AvgPrice.Equal(d("105")), "avg %s", p.AvgPrice)
	assert.True(t, realized.IsZero())

	p, realized = b.Fill("NIFTY50", model.SideSell, 15, d("120"), now)
	assert.Equal(t, int64(5), p.Quantity)
	assert.True(t, p.AvgPrice.Equal(d("105")), "average unchanged on reduce")
	assert.True(t, realized.Equal(d("225")), "realized %s", realized)
	assert.True(t, p.RealizedPnL.Equal(d("225")))
}

func TestShortPositionPnL(t *testing.T) {
	p, _ := ApplyFill(model.Position{Symbol: "X"}, model.SideSell, 10, d("200"), time.Now())
	assert.Equal(t, int64(-10), p.Quantity)

	p, realized := ApplyFill(p, model.SideBuy, 4, d("190"), time.Now())
	assert.Equal(t, int64(-6), p.Quantity)
	assert.True(t, realized.Equal(d("40")), "short covered lower is a gain: %s", realized)
}

func TestFlipRebasesAverage(t *testing.T) {
	p, _ := ApplyFill(model.Position{Symbol: "X"}, model.SideBuy, 5, d("100"), time.Now())
	p, realized := ApplyFill(p, model.SideSell, 8, d("90"), time.Now())

	assert.Equal(t, int64(-3), p.Quantity)
	assert.True(t, p.AvgPrice.Equal(d("90")))
	assert.True(t, realized.Equal(d("-50")), "only the closed 5 realize: %s", realized)
}

func TestFlatResetsAverage(t *testing.T) {
	p, _ := ApplyFill(model.Position{Symbol: "X"}, model.SideBuy, 5, d("100"), time.Now())
	p, _ = ApplyFill(p, model.SideSell, 5, d("101"), time.Now())
	assert.True(t, p.IsFlat())
	assert.True(t, p.AvgPrice.IsZero())
	assert.True(t, p.RealizedPnL.Equal(d("5")))
}

func TestUnrealizedFromMark(t *testing.T) {
	b := NewBook()
	b.Fill("X", model.SideBuy, 10, d("100"), time.Now())
	p, ok := b.Mark("X", d("103.5"), time.Now())
	assert.True(t, ok)
	assert.True(t, p.UnrealizedPnL().Equal(d("35")))

	_, ok = b.Mark("unknown", d("1"), time.Now())
	assert.False(t, ok)
}
