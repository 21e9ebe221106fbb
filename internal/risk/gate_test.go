package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGate() *Gate {
	return NewGate(Limits{DeltaMax: 4, MaxSpreadPts: 12, MinSpreadPts: 1, MinPrice: 0.01, MaxPrice: 0.99, MaxExposurePct: 80})
}

func TestValidateQuote(t *testing.T) {
	g := testGate()
	require.NoError(t, g.ValidateQuote(0.47, 0.53, 0.50))

	assert.ErrorContains(t, g.ValidateQuote(0.53, 0.47, 0.50), "invalid quote")
	assert.ErrorContains(t, g.ValidateQuote(0.005, 0.03, 0.02), "out of range")
	// max spread = min(2·4+1, 12) = 9
	assert.ErrorContains(t, g.ValidateQuote(0.45, 0.55, 0.50), "too wide")
	assert.ErrorContains(t, g.ValidateQuote(0.50, 0.58, 0.59), "delta too wide")
	assert.ErrorContains(t, g.ValidateQuote(0.500, 0.505, 0.50), "too tight")

	g.SetPaused(true)
	assert.ErrorIs(t, g.ValidateQuote(0.47, 0.53, 0.50), ErrPaused)
}

func TestExposureWithinLimit(t *testing.T) {
	g := testGate()
	ok, pct := g.ExposureWithinLimit(20, 80)
	assert.True(t, ok)
	assert.InDelta(t, 80.0, pct, 1e-9)

	ok, pct = g.ExposureWithinLimit(10, 90)
	assert.False(t, ok)
	assert.InDelta(t, 90.0, pct, 1e-9)

	ok, _ = g.ExposureWithinLimit(0, 90)
	assert.True(t, ok)
}

func TestEffective(t *testing.T) {
	m, s := Effective(10, 5, false)
	assert.Equal(t, 10, m)
	assert.InDelta(t, 5.0, s, 1e-9)

	m, s = Effective(10, 5, true)
	assert.Equal(t, 5, m)
	assert.InDelta(t, 2.5, s, 1e-9)

	m, _ = Effective(1, 5, true)
	assert.Equal(t, 1, m)
}
