package onchain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	defaultPOLPriceURL = "https://api.coingecko.com/api/v3/simple/price?ids=polygon-ecosystem-token&vs_currencies=usd"
	polPriceTTL        = 15 * time.Minute

	// POL price fallback (USD) si CoinGecko no responde y no hay cache
	polPriceFallbackUSD = 0.12
)

// POLPrice cachea el precio POL/USD para convertir gas a dólares.
type POLPrice struct {
	url  string
	http *http.Client

	mu        sync.RWMutex
	price     float64
	updatedAt time.Time
}

// NewPOLPrice crea la fuente de precio. url vacío usa CoinGecko.
func NewPOLPrice(url string) *POLPrice {
	if url == "" {
		url = defaultPOLPriceURL
	}
	return &POLPrice{url: url, http: &http.Client{Timeout: 10 * time.Second}}
}

// USD devuelve el precio cacheado, refrescándolo si está vencido.
// Ante un error usa el último valor conocido o el fallback.
func (p *POLPrice) USD(ctx context.Context) float64 {
	p.mu.RLock()
	price, at := p.price, p.updatedAt
	p.mu.RUnlock()

	if price > 0 && time.Since(at) < polPriceTTL {
		return price
	}

	fetched, err := p.fetch(ctx)
	if err != nil {
		slog.Warn("onchain: failed to fetch POL price, using fallback", "err", err)
		if price > 0 {
			return price
		}
		return polPriceFallbackUSD
	}

	p.mu.Lock()
	p.price = fetched
	p.updatedAt = time.Now()
	p.mu.Unlock()
	return fetched
}

func (p *POLPrice) fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("coingecko status %d: %s", resp.StatusCode, body)
	}

	var data map[string]map[string]float64
	if err := json.Unmarshal(body, &data); err != nil {
		return 0, err
	}
	price, ok := data["polygon-ecosystem-token"]["usd"]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("POL price not found in response")
	}
	return price, nil
}
