// Package arbitrage detects and executes complete-set arbitrage: buying YES
// and NO below $1 and merging, or splitting $1 and selling both above it.
package arbitrage

import (
	"math"
	"time"

	"github.com/alejandrodnm/polymm/internal/domain"
)

// Scanner evalúa books YES/NO en busca de complete-sets mal valorados.
type Scanner struct {
	GasCostUSD   float64
	MinProfitPct float64
}

// Scan devuelve la oportunidad de un mercado. Buy-merge se evalúa primero y
// solo se reporta un tipo por scan.
func (s Scanner) Scan(m domain.Market, yes, no domain.BookSummary) (domain.ArbOpportunity, bool) {
	if yes.BestAsk <= 0 || no.BestAsk <= 0 || yes.BestBid <= 0 || no.BestBid <= 0 {
		return domain.ArbOpportunity{}, false
	}

	opp := domain.ArbOpportunity{
		MarketID:    m.ID(),
		ConditionID: m.ConditionID,
		YesTokenID:  m.YesToken().TokenID,
		NoTokenID:   m.NoToken().TokenID,
		NegRisk:     m.NegRisk,
		DetectedAt:  time.Now().UTC(),
	}

	buy := opp
	buy.Type, buy.YesPrice, buy.NoPrice = domain.ArbBuyMerge, yes.BestAsk, no.BestAsk
	if cost := buy.Cost(); cost < 1 {
		gross := 1 - cost
		size := math.Min(yes.AskDepthShares(), no.AskDepthShares())
		if size < domain.MinArbShares {
			return domain.ArbOpportunity{}, false
		}
		net := gross*size - s.GasCostUSD
		netPct := net / (cost * size) * 100
		if netPct >= s.MinProfitPct {
			buy.GrossProfitPct = gross / cost * 100
			buy.NetProfitPct = netPct
			buy.MaxSize = size
			return buy, true
		}
	}

	sell := opp
	sell.Type, sell.YesPrice, sell.NoPrice = domain.ArbSplitSell, yes.BestBid, no.BestBid
	if revenue := sell.Cost(); revenue > 1 {
		gross := revenue - 1
		size := math.Min(yes.BidDepthShares(), no.BidDepthShares())
		if size < domain.MinArbShares {
			return domain.ArbOpportunity{}, false
		}
		net := gross*size - s.GasCostUSD
		// el coste de un complete-set es $1 por par
		netPct := net / size * 100
		if netPct >= s.MinProfitPct {
			sell.GrossProfitPct = gross * 100
			sell.NetProfitPct = netPct
			sell.MaxSize = size
			return sell, true
		}
	}
	return domain.ArbOpportunity{}, false
}
