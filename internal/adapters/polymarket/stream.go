package polymarket

// stream.go — books en tiempo real vía el canal "market" del websocket del CLOB.
//
// BookStream mantiene un cache de niveles por token a partir de eventos "book"
// (snapshot completo) y "price_change" (delta de un nivel). BookSummary sirve
// desde el cache si está fresco y cae a REST si no hay datos o están viejos.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/polymm/internal/domain"
	"github.com/alejandrodnm/polymm/internal/ports"
)

const (
	defaultWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

	wsPingInterval    = 10 * time.Second
	wsReconnectDelay  = 5 * time.Second
	wsWriteTimeout    = 5 * time.Second
	defaultBookMaxAge = 30 * time.Second
)

// wsEvent cubre los eventos del canal market que nos interesan.
type wsEvent struct {
	EventType    string          `json:"event_type"`
	AssetID      string          `json:"asset_id"`
	Market       string          `json:"market"`
	Bids         []bookEntryRaw  `json:"bids"`
	Asks         []bookEntryRaw  `json:"asks"`
	PriceChanges []wsPriceChange `json:"price_changes"`
}

type wsPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
}

type wsSubscribe struct {
	AssetIDs  []string `json:"assets_ids"`
	Type      string   `json:"type,omitempty"`
	Operation string   `json:"operation,omitempty"`
}

// streamBook son los niveles vivos de un token, precio → tamaño.
type streamBook struct {
	bids      map[float64]float64
	asks      map[float64]float64
	updatedAt time.Time
}

// BookStream implements ports.BookSource over the market websocket.
type BookStream struct {
	url            string
	rest           ports.BookSource
	maxAge         time.Duration
	reconnectDelay time.Duration
	dialer         *websocket.Dialer
	now            func() time.Time

	mu    sync.RWMutex
	books map[string]*streamBook
	subs  map[string]struct{}

	connMu sync.Mutex // serializa escrituras y protege conn
	conn   *websocket.Conn
}

// NewBookStream crea el stream. rest es el fallback para tokens sin datos frescos.
func NewBookStream(url string, rest ports.BookSource, maxAge time.Duration) *BookStream {
	if url == "" {
		url = defaultWSURL
	}
	if maxAge <= 0 {
		maxAge = defaultBookMaxAge
	}
	return &BookStream{
		url:            url,
		rest:           rest,
		maxAge:         maxAge,
		reconnectDelay: wsReconnectDelay,
		dialer:         websocket.DefaultDialer,
		now:            time.Now,
		books:          make(map[string]*streamBook),
		subs:           make(map[string]struct{}),
	}
}

// Run mantiene la conexión viva hasta que ctx se cancele, reconectando tras
// cada caída.
func (s *BookStream) Run(ctx context.Context) error {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("book stream disconnected, reconnecting", "err", err, "in", s.reconnectDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.reconnectDelay):
		}
	}
}

// session es una conexión completa: dial, suscripción, lectura y pings.
func (s *BookStream) session(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		conn.Close()
	}()

	if ids := s.subscribed(); len(ids) > 0 {
		if err := s.write(wsSubscribe{AssetIDs: ids, Type: "market"}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	slog.Info("book stream connected", "url", s.url, "tokens", len(s.subscribed()))

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(conn, done)

	// cerrar la conexión desbloquea ReadMessage al cancelar el contexto
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.handle(msg)
	}
}

func (s *BookStream) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn == conn {
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
					slog.Debug("book stream ping failed", "err", err)
				}
			}
			s.connMu.Unlock()
		}
	}
}

// Subscribe añade tokens al stream. Si hay conexión, se suscriben en caliente.
func (s *BookStream) Subscribe(tokenIDs ...string) {
	var added []string
	s.mu.Lock()
	for _, id := range tokenIDs {
		if _, ok := s.subs[id]; ok || id == "" {
			continue
		}
		s.subs[id] = struct{}{}
		added = append(added, id)
	}
	s.mu.Unlock()

	if len(added) == 0 {
		return
	}
	if err := s.write(wsSubscribe{AssetIDs: added, Operation: "subscribe"}); err != nil {
		slog.Debug("book stream subscribe deferred to next connect", "tokens", len(added), "err", err)
	}
}

func (s *BookStream) subscribed() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *BookStream) write(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(v)
}

// handle aplica un mensaje: un evento suelto o un array de eventos.
func (s *BookStream) handle(msg []byte) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || (msg[0] != '{' && msg[0] != '[') {
		return // PONG u otros textos
	}

	var events []wsEvent
	if msg[0] == '[' {
		if err := json.Unmarshal(msg, &events); err != nil {
			slog.Debug("book stream: bad message", "err", err)
			return
		}
	} else {
		var ev wsEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			slog.Debug("book stream: bad message", "err", err)
			return
		}
		events = []wsEvent{ev}
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		switch ev.EventType {
		case "book":
			s.books[ev.AssetID] = &streamBook{
				bids:      levelMap(ev.Bids),
				asks:      levelMap(ev.Asks),
				updatedAt: now,
			}
		case "price_change":
			for _, pc := range ev.PriceChanges {
				s.applyChange(pc, now)
			}
		}
	}
}

// applyChange actualiza un nivel; size 0 lo elimina. Sin snapshot previo se ignora.
func (s *BookStream) applyChange(pc wsPriceChange, now time.Time) {
	b, ok := s.books[pc.AssetID]
	if !ok {
		return
	}
	price, size := parseDecimal(pc.Price), parseDecimal(pc.Size)
	if price <= 0 {
		return
	}
	side := b.bids
	if pc.Side == string(domain.SideSell) {
		side = b.asks
	}
	if size <= 0 {
		delete(side, price)
	} else {
		side[price] = size
	}
	b.updatedAt = now
}

func levelMap(raw []bookEntryRaw) map[float64]float64 {
	m := make(map[float64]float64, len(raw))
	for _, r := range raw {
		price, size := parseDecimal(r.Price), parseDecimal(r.Size)
		if price > 0 && size > 0 {
			m[price] = size
		}
	}
	return m
}

// Book devuelve el book cacheado si existe y está fresco.
func (s *BookStream) Book(tokenID string) (domain.OrderBook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.books[tokenID]
	if !ok || s.now().Sub(b.updatedAt) > s.maxAge {
		return domain.OrderBook{}, false
	}
	if len(b.bids) == 0 && len(b.asks) == 0 {
		return domain.OrderBook{}, false
	}
	book := domain.OrderBook{
		TokenID:      tokenID,
		Bids:         levels(b.bids, false),
		Asks:         levels(b.asks, true),
		MinOrderSize: domain.DefaultMinOrderSize,
		UpdatedAt:    b.updatedAt,
	}
	return book, true
}

func levels(m map[float64]float64, ascending bool) []domain.BookEntry {
	out := make([]domain.BookEntry, 0, len(m))
	for p, sz := range m {
		out = append(out, domain.BookEntry{Price: p, Size: sz})
	}
	sortLevels(out, ascending)
	return out
}

// BookSummary sirve desde el stream y cae a REST si el cache no sirve.
// Los tokens pedidos quedan suscritos para los próximos ciclos.
func (s *BookStream) BookSummary(ctx context.Context, tokenID string) (domain.BookSummary, error) {
	if book, ok := s.Book(tokenID); ok {
		return book.Summary(), nil
	}
	s.Subscribe(tokenID)
	if s.rest == nil {
		return domain.BookSummary{}, fmt.Errorf("stream.BookSummary %s: %w", domain.ShortID(tokenID), domain.ErrNoBook)
	}
	return s.rest.BookSummary(ctx, tokenID)
}
