package polymarket

// clob.go — lectura pública del CLOB: universo de mercados y orderbooks.
//
// FetchOrderBooks dispara los batches en paralelo bajo un errgroup; el rate limiter
// de /books marca el ritmo, así que no hace falta semáforo propio.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/polymm/internal/domain"
)

const (
	samplingMarketsPath = "/sampling-markets"
	booksPath           = "/books"
	bookPath            = "/book"
	pageSize            = 100
	batchSize           = 20 // máx token_ids por request a /books

	// "LTE=" es el cursor vacío en base64: última página
	endCursor = "LTE="
)

// FetchSamplingMarkets devuelve los mercados activos del CLOB enriquecidos con Gamma.
// Pagina usando next_cursor hasta agotar los resultados.
func (c *Client) FetchSamplingMarkets(ctx context.Context) ([]domain.Market, error) {
	var all []domain.Market
	cursor := ""

	for {
		u := fmt.Sprintf("%s%s?limit=%d", c.clobBase, samplingMarketsPath, pageSize)
		if cursor != "" {
			u += "&next_cursor=" + url.QueryEscape(cursor)
		}

		var resp samplingMarketsResponse
		if err := c.get(ctx, c.clobLimiter, u, &resp); err != nil {
			return nil, fmt.Errorf("clob.FetchSamplingMarkets: %w", err)
		}
		all = append(all, mapSamplingMarkets(resp.Data)...)

		if resp.NextCursor == "" || resp.NextCursor == endCursor {
			break
		}
		cursor = resp.NextCursor
	}

	slog.Debug("sampling markets fetched", "total", len(all))

	// Gamma es opcional: sin ella seguimos con lo que trae el CLOB
	enriched, err := c.EnrichWithGamma(ctx, all)
	if err != nil {
		slog.Warn("gamma enrichment failed, continuing without metadata", "err", err)
		return all, nil
	}
	return enriched, nil
}

// FetchOrderBooks obtiene los orderbooks para los token_ids dados usando el endpoint batch.
func (c *Client) FetchOrderBooks(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	if len(tokenIDs) == 0 {
		return map[string]domain.OrderBook{}, nil
	}

	var mu sync.Mutex
	result := make(map[string]domain.OrderBook, len(tokenIDs))

	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range splitBatches(tokenIDs, batchSize) {
		i, batch := i, batch
		g.Go(func() error {
			books, err := c.fetchBooksBatch(gctx, batch)
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			mu.Lock()
			for k, v := range books {
				result[k] = v
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("clob.FetchOrderBooks: %w", err)
	}

	slog.Debug("order books fetched", "tokens", len(tokenIDs), "books", len(result))
	return result, nil
}

// FetchOrderBook obtiene el book de un token vía GET /book.
// Un 404 o un book vacío de ambos lados devuelve domain.ErrNoBook.
func (c *Client) FetchOrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	u := fmt.Sprintf("%s%s?token_id=%s", c.clobBase, bookPath, url.QueryEscape(tokenID))

	var resp orderBookResponse
	if err := c.get(ctx, c.booksLimiter, u, &resp); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return domain.OrderBook{}, fmt.Errorf("clob.FetchOrderBook %s: %w", domain.ShortID(tokenID), domain.ErrNoBook)
		}
		return domain.OrderBook{}, fmt.Errorf("clob.FetchOrderBook %s: %w", domain.ShortID(tokenID), err)
	}
	if resp.AssetID == "" {
		resp.AssetID = tokenID
	}

	book := mapOrderBook(resp)
	if len(book.Bids) == 0 && len(book.Asks) == 0 {
		return domain.OrderBook{}, fmt.Errorf("clob.FetchOrderBook %s: %w", domain.ShortID(tokenID), domain.ErrNoBook)
	}
	return book, nil
}

// BookSummary implementa ports.BookSource sobre REST.
func (c *Client) BookSummary(ctx context.Context, tokenID string) (domain.BookSummary, error) {
	book, err := c.FetchOrderBook(ctx, tokenID)
	if err != nil {
		return domain.BookSummary{}, err
	}
	return book.Summary(), nil
}

// splitBatches divide tokenIDs en slices de tamaño máximo size.
func splitBatches(tokenIDs []string, size int) [][]string {
	if size <= 0 {
		size = batchSize
	}
	batches := make([][]string, 0, (len(tokenIDs)+size-1)/size)
	for i := 0; i < len(tokenIDs); i += size {
		end := i + size
		if end > len(tokenIDs) {
			end = len(tokenIDs)
		}
		batches = append(batches, tokenIDs[i:end])
	}
	return batches
}

// fetchBooksBatch hace un POST /books para un batch de token_ids.
func (c *Client) fetchBooksBatch(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	body := make([]orderBookRequest, len(tokenIDs))
	for i, id := range tokenIDs {
		body[i] = orderBookRequest{TokenID: id}
	}

	var resp []orderBookResponse
	if err := c.post(ctx, c.booksLimiter, c.clobBase+booksPath, body, &resp); err != nil {
		return nil, fmt.Errorf("POST /books: %w", err)
	}
	return mapOrderBooks(resp), nil
}
