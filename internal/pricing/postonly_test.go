package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizePostOnly_CapsAgainstTouch(t *testing.T) {
	bid, ask, ok := SanitizePostOnly(0.50, 0.52, 0.49, 0.50)
	require.True(t, ok)
	assert.InDelta(t, 0.49, bid, 1e-9)
	assert.InDelta(t, 0.52, ask, 1e-9)

	bid, ask, ok = SanitizePostOnly(0.40, 0.42, 0.45, 0.46)
	require.True(t, ok)
	assert.InDelta(t, 0.40, bid, 1e-9)
	assert.InDelta(t, 0.46, ask, 1e-9)
}

func TestSanitizePostOnly_WidensWithoutBook(t *testing.T) {
	bid, ask, ok := SanitizePostOnly(0.99, 1.2, 0, 0)
	require.True(t, ok)
	assert.InDelta(t, 0.98, bid, 1e-9)
	assert.InDelta(t, 0.99, ask, 1e-9)
}

func TestSanitizePostOnly_NoMakerPriceLeft(t *testing.T) {
	_, _, ok := SanitizePostOnly(0.01, 0.03, 0, 0.01)
	assert.False(t, ok)
}

func TestSanitizePostOnly_NeverCrosses(t *testing.T) {
	for bb := 0.01; bb < 0.99; bb += 0.03 {
		for ba := bb + 0.01; ba <= 0.99; ba += 0.04 {
			for b := 0.01; b < 0.98; b += 0.05 {
				for _, width := range []float64{0.01, 0.03, 0.1} {
					bid, ask, ok := SanitizePostOnly(b, b+width, bb, ba)
					if !ok {
						continue
					}
					assert.Less(t, bid, ba)
					assert.Greater(t, ask, bb)
					assert.Less(t, bid, ask)
				}
			}
		}
	}
}
