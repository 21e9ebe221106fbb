package polymarket

// gamma.go — metadata de Gamma para el universo del market maker.
//
// /sampling-markets no trae fecha de resolución ni volumen 24h, que el scanner
// usa para filtrar y rankear. Gamma además cierra mercados antes de que el CLOB
// los retire del sampling: esos quedan Closed y el filtro los descarta.

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/polymm/internal/domain"
)

const (
	gammaMarketsPath = "/markets"
	gammaBatchSize   = 20 // máx condition_ids por request
)

// gammaIndex indexa la metadata de Gamma por condition_id.
type gammaIndex map[string]gammaMarket

// EnrichWithGamma completa los mercados con question, slug, endDate, volume24h
// y negRisk de Gamma, y marca Closed los que Gamma ya cerró. Un batch caído se
// salta; solo es error si no respondió ninguno.
func (c *Client) EnrichWithGamma(ctx context.Context, markets []domain.Market) ([]domain.Market, error) {
	ids := uniqueConditionIDs(markets)
	if len(ids) == 0 {
		return markets, nil
	}

	idx, failed := c.fetchGammaIndex(ctx, ids)
	if failed > 0 && len(idx) == 0 {
		return nil, fmt.Errorf("gamma.EnrichWithGamma: %d/%d batches failed", failed, len(splitBatches(ids, gammaBatchSize)))
	}

	var enriched, closed int
	for i := range markets {
		gm, ok := idx[markets[i].ConditionID]
		if !ok {
			continue
		}
		enrichFromGamma(&markets[i], gm)
		enriched++
		if gm.Closed && !markets[i].Closed {
			markets[i].Closed = true
			closed++
		}
	}

	slog.Debug("gamma enrichment complete",
		"markets", len(markets),
		"enriched", enriched,
		"closed_by_gamma", closed,
		"failed_batches", failed,
	)
	return markets, nil
}

// fetchGammaIndex pide los batches en paralelo; el limiter de Gamma marca el
// ritmo. Devuelve lo que respondió y cuántos batches fallaron.
func (c *Client) fetchGammaIndex(ctx context.Context, conditionIDs []string) (gammaIndex, int) {
	var (
		mu     sync.Mutex
		failed int
	)
	idx := make(gammaIndex, len(conditionIDs))

	var g errgroup.Group
	for _, batch := range splitBatches(conditionIDs, gammaBatchSize) {
		g.Go(func() error {
			u := fmt.Sprintf("%s%s?condition_ids=%s&limit=%d",
				c.gammaBase, gammaMarketsPath, strings.Join(batch, ","), gammaBatchSize)

			var resp gammaMarketsResponse
			err := c.get(ctx, c.gammaLimiter, u, &resp)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				slog.Debug("gamma batch failed, skipping", "first", domain.ShortID(batch[0]), "size", len(batch), "err", err)
				return nil
			}
			for _, gm := range resp {
				idx[gm.ConditionID] = gm
			}
			return nil
		})
	}
	_ = g.Wait()
	return idx, failed
}

// uniqueConditionIDs devuelve los condition_ids no vacíos en orden, sin repetidos.
func uniqueConditionIDs(markets []domain.Market) []string {
	seen := make(map[string]bool, len(markets))
	ids := make([]string, 0, len(markets))
	for _, m := range markets {
		if m.ConditionID == "" || seen[m.ConditionID] {
			continue
		}
		seen[m.ConditionID] = true
		ids = append(ids, m.ConditionID)
	}
	return ids
}
