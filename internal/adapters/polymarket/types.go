package polymarket

import "encoding/json"

// DTOs raw de la API de Polymarket. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// --- CLOB API ---

// samplingMarketsResponse es la respuesta paginada de GET /sampling-markets.
type samplingMarketsResponse struct {
	Limit      int              `json:"limit"`
	Count      int              `json:"count"`
	NextCursor string           `json:"next_cursor"`
	Data       []samplingMarket `json:"data"`
}

// samplingMarket es un mercado activo del CLOB.
type samplingMarket struct {
	ConditionID      string      `json:"condition_id"`
	QuestionID       string      `json:"question_id"`
	Question         string      `json:"question"`
	MarketSlug       string      `json:"market_slug"`
	EndDateISO       string      `json:"end_date_iso"`
	Tokens           []clobToken `json:"tokens"`
	MinimumOrderSize json.Number `json:"minimum_order_size"`
	NegRisk          bool        `json:"neg_risk"`
	Active           bool        `json:"active"`
	Closed           bool        `json:"closed"`
}

// clobToken representa un token (YES/NO) en el CLOB.
type clobToken struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price"`
	Winner  bool    `json:"winner"`
}

// orderBookRequest es el body del POST /books batch.
type orderBookRequest struct {
	TokenID string `json:"token_id"`
}

// orderBookResponse es la respuesta de GET /book o de un item en POST /books.
type orderBookResponse struct {
	Market       string         `json:"market"`
	AssetID      string         `json:"asset_id"`
	Bids         []bookEntryRaw `json:"bids"`
	Asks         []bookEntryRaw `json:"asks"`
	MinOrderSize string         `json:"min_order_size"`
	TickSize     string         `json:"tick_size"`
	Timestamp    string         `json:"timestamp"`
}

// bookEntryRaw es un nivel de precio raw de la API (strings para mayor precisión).
type bookEntryRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// --- Órdenes (L2) ---

// clobOrderRequest es el body de POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
	PostOnly  bool          `json:"postOnly"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type clobOrderResponse struct {
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

// clobOrder es una orden tal como la devuelven GET /data/order/{id} y GET /data/orders.
// Los campos de ejecución son opcionales según la versión de la API.
type clobOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	AvgPrice     string `json:"avg_price"`
	FeesPaid     string `json:"fees_paid"`
	Outcome      string `json:"outcome"`
}

type clobOrdersResponse struct {
	Data       []clobOrder `json:"data"`
	NextCursor string      `json:"next_cursor"`
}

// --- Gamma API ---

// gammaMarketsResponse es la respuesta de GET /markets de Gamma.
type gammaMarketsResponse []gammaMarket

// gammaMarket contiene la metadata enriquecida de un mercado.
// Gamma devuelve algunos campos numéricos como strings JSON, usamos json.Number.
type gammaMarket struct {
	ConditionID  string      `json:"conditionId"`
	Question     string      `json:"question"`
	Slug         string      `json:"slug"`
	EndDateISO   string      `json:"endDateIso"`
	Volume24h    json.Number `json:"volume24hr"`
	OrderMinSize json.Number `json:"orderMinSize"`
	NegRisk      bool        `json:"negRisk"`
	Active       bool        `json:"active"`
	Closed       bool        `json:"closed"`
}
