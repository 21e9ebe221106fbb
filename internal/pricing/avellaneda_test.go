package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

var testAS = ASParams{GammaBase: 0.1, GammaAlpha: 0.5, Kappa: 1.5, MinSpreadPts: 3, MaxSpreadPts: 12}

func TestDynamicGamma(t *testing.T) {
	assert.InDelta(t, 0.1, DynamicGamma(0.1, 0.5, 0), 1e-12)
	assert.InDelta(t, 0.125, DynamicGamma(0.1, 0.5, -0.5), 1e-12)
}

func TestReservationPrice(t *testing.T) {
	assert.InDelta(t, 0.4995, ReservationPrice(0.5, 10, 20, 0.1, 10, 1), 1e-12)
	assert.InDelta(t, 0.5005, ReservationPrice(0.5, -10, 20, 0.1, 10, 1), 1e-12)
	assert.InDelta(t, 0.5, ReservationPrice(0.5, 10, 0, 0.1, 10, 1), 1e-12)
}

func TestOptimalSpread(t *testing.T) {
	want := 0.1*0.02*0.02 + 20*math.Log(1+0.1/1.5)
	assert.InDelta(t, want, OptimalSpread(0.1, 2, 1, 1.5), 1e-12)
	assert.InDelta(t, 0.02, OptimalSpread(0, 2, 1, 1.5), 1e-12)
	assert.InDelta(t, 0.02, OptimalSpread(0.1, 2, 1, 0), 1e-12)
}

func TestTimeRemaining(t *testing.T) {
	assert.InDelta(t, 0.5, TimeRemaining(15), 1e-12)
	assert.InDelta(t, 1.0, TimeRemaining(90), 1e-12)
	assert.InDelta(t, 0.01, TimeRemaining(0), 1e-12)
	assert.InDelta(t, 0.01, TimeRemaining(-3), 1e-12)
}

func TestASQuote_FlatSpreadClamped(t *testing.T) {
	bid, ask := ASQuote(0.5, 0, 20, 2, 1, 1.5, 0, testAS)
	assert.InDelta(t, 0.44, bid, 1e-9)
	assert.InDelta(t, 0.56, ask, 1e-9)
}

func TestASQuote_AvgEntryProtection(t *testing.T) {
	_, ask := ASQuote(0.5, 10, 20, 2, 1, 1.5, 0.60, testAS)
	assert.InDelta(t, 0.61, ask, 1e-9, "long: never offer below entry")

	bid, _ := ASQuote(0.5, -10, 20, 2, 1, 1.5, 0.40, testAS)
	assert.InDelta(t, 0.39, bid, 1e-9, "short: never bid above entry")
}

func TestASModel_DefaultKappa(t *testing.T) {
	m := &ASModel{Params: testAS}
	withDefault, ok := m.Quote(Inputs{Mid: 0.5, VolPts: 2, MaxPosition: 20, DaysToResolution: 30})
	assert.True(t, ok)
	explicit, ok := m.Quote(Inputs{Mid: 0.5, VolPts: 2, MaxPosition: 20, DaysToResolution: 30, Kappa: 1.5})
	assert.True(t, ok)
	assert.Equal(t, explicit, withDefault)
	assert.Equal(t, EngineAS, m.Name())
}
