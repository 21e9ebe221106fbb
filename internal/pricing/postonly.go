package pricing

import "github.com/alejandrodnm/polymm/internal/domain"

// SanitizePostOnly keeps a quote maker-only against the current top of book:
// bid ≤ bestAsk − tick and ask ≥ bestBid + tick. When that breaks ordering it
// falls back to the touch, or without a two-sided book widens around the
// midpoint. ok=false if no maker-only pair exists on the price grid.
func SanitizePostOnly(bid, ask, bestBid, bestAsk float64) (float64, float64, bool) {
	const tick = domain.TickSize

	bid = domain.ClampPrice(bid)
	ask = domain.ClampPrice(ask)

	if bestAsk > 0 {
		bid = minf(bid, domain.ClampPrice(bestAsk-tick))
	}
	if bestBid > 0 {
		ask = maxf(ask, domain.ClampPrice(bestBid+tick))
	}

	if bid >= ask {
		if bestBid > 0 && bestAsk > bestBid {
			bid = domain.ClampPrice(bestBid)
			ask = domain.ClampPrice(bestAsk)
			if bid >= ask {
				bid = domain.ClampPrice(ask - tick)
			}
		} else {
			mid := (bid + ask) / 2
			for step := 1; step <= 3 && bid >= ask; step++ {
				bid = domain.ClampPrice(mid - float64(step)*tick)
				ask = domain.ClampPrice(mid + float64(step)*tick)
			}
		}
	}

	if bid >= ask {
		return 0, 0, false
	}
	if bestAsk > 0 && bid >= bestAsk {
		return 0, 0, false
	}
	if bestBid > 0 && ask <= bestBid {
		return 0, 0, false
	}
	return bid, ask, true
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
