// Package lighter streams perpetual order books from the Lighter exchange.
// Markets are addressed by a numeric index resolved over REST before the first
// connection.
package lighter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"cryptofeeds/internal/orderbook"
	"cryptofeeds/internal/symbols"
	"cryptofeeds/models"
	"cryptofeeds/reader"
)

const (
	exchange = "lighter"
	perpURL  = "wss://mainnet.zklighter.elliot.ai/stream"
	restURL  = "https://explorer.elliot.ai"

	channelPrefix = "order_book:"
)

var pong = reader.TextMessage(`{"type":"pong"}`)

type market struct {
	index  uint32
	symbol string // BASE-QUOTE as reported to the store
}

type Feed struct {
	reader.BaseFeed
	opts   reader.FeedOptions
	client *http.Client

	mu      sync.RWMutex
	markets map[string]market // native (base) -> market
	byIndex map[uint32]string // index -> reported symbol

	books orderbook.Books
}

func New(it models.InstrumentType, opts reader.FeedOptions) (*Feed, error) {
	if it != models.Perp {
		return nil, reader.ConfigError("lighter only streams perp instruments, got %s", it)
	}
	if opts.RESTURL == "" {
		opts.RESTURL = restURL
	}
	return &Feed{
		opts:    opts,
		client:  reader.NewHTTPClient(opts.HTTPTimeout),
		markets: map[string]market{},
		byIndex: map[uint32]string{},
		books:   orderbook.Books{},
	}, nil
}

func (f *Feed) InstrumentType() models.InstrumentType { return models.Perp }

type marketRow struct {
	Symbol      string `json:"symbol"`
	MarketIndex uint32 `json:"market_index"`
}

// Prepare loads the market index table. A configured symbol the venue does
// not list is a configuration error.
func (f *Feed) Prepare(ctx context.Context, syms []string) error {
	var rows []marketRow
	if err := reader.GetJSON(ctx, f.client, strings.TrimRight(f.opts.RESTURL, "/")+"/api/markets", &rows); err != nil {
		return fmt.Errorf("lighter markets: %w", err)
	}
	listed := make(map[string]uint32, len(rows))
	for _, r := range rows {
		listed[strings.ToUpper(r.Symbol)] = r.MarketIndex
	}

	markets := make(map[string]market, len(syms))
	byIndex := make(map[uint32]string, len(syms))
	for _, s := range syms {
		native, err := symbols.Denormalize(exchange, s, models.Perp)
		if err != nil {
			return reader.ConfigError("lighter: %v", err)
		}
		idx, ok := listed[native]
		if !ok {
			return reader.ConfigError("lighter: symbol %q not found in markets endpoint", native)
		}
		base, quote, _ := symbols.ParseNormalized(s)
		m := market{index: idx, symbol: base + "-" + quote}
		markets[native] = m
		byIndex[idx] = m.symbol
	}

	f.mu.Lock()
	f.markets = markets
	f.byIndex = byIndex
	f.mu.Unlock()
	return nil
}

func (f *Feed) BuildURL(syms []string) (string, error) {
	if len(syms) == 0 {
		return "", reader.ConfigError("lighter: no symbols configured")
	}
	for _, s := range syms {
		if _, err := symbols.Denormalize(exchange, s, models.Perp); err != nil {
			return "", reader.ConfigError("lighter: %v", err)
		}
	}
	if f.opts.URL != "" {
		return f.opts.URL, nil
	}
	return perpURL, nil
}

func (f *Feed) SendSubscription(conn reader.Conn, syms []string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	f.books = orderbook.Books{}
	for _, s := range syms {
		native, err := symbols.Denormalize(exchange, s, models.Perp)
		if err != nil {
			return reader.ConfigError("lighter: %v", err)
		}
		m, ok := f.markets[native]
		if !ok {
			return reader.ConfigError("lighter: no market index for %q", native)
		}
		req := map[string]string{"type": "subscribe", "channel": fmt.Sprintf("order_book/%d", m.index)}
		if err := reader.SendJSON(conn, req); err != nil {
			return fmt.Errorf("subscribe lighter order_book/%d: %w", m.index, err)
		}
	}
	return nil
}

// ProcessOther answers application level pings.
func (f *Feed) ProcessOther(conn reader.Conn, msg reader.Message) error {
	if !msg.IsText() {
		return nil
	}
	var t struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg.Data, &t); err != nil {
		return nil
	}
	if t.Type == "ping" {
		return reader.Send(conn, pong)
	}
	return nil
}

type level struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookMessage struct {
	Type      string `json:"type"`
	Channel   string `json:"channel"`
	OrderBook *struct {
		Asks      []level `json:"asks"`
		Bids      []level `json:"bids"`
		Timestamp int64   `json:"timestamp"`
	} `json:"order_book"`
}

func (f *Feed) ParseMessage(msg reader.Message, receivedAt time.Time) (*reader.Update, error) {
	if !msg.IsText() {
		return nil, nil
	}
	var m bookMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		return nil, fmt.Errorf("decode lighter frame: %w", err)
	}
	if m.Type != "subscribed/order_book" && m.Type != "update/order_book" {
		return nil, nil
	}
	if m.OrderBook == nil {
		return nil, fmt.Errorf("lighter %s without order_book", m.Type)
	}
	idx, err := strconv.ParseUint(strings.TrimPrefix(m.Channel, channelPrefix), 10, 32)
	if err != nil || !strings.HasPrefix(m.Channel, channelPrefix) {
		return nil, fmt.Errorf("lighter channel %q", m.Channel)
	}

	f.mu.RLock()
	symbol, ok := f.byIndex[uint32(idx)]
	f.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	book := f.books.Get(symbol)
	if m.Type == "subscribed/order_book" {
		book.Reset()
	}
	book.UpdateBids(levels(m.OrderBook.Bids))
	book.UpdateAsks(levels(m.OrderBook.Asks))

	md := book.Quote()
	if md.Empty() {
		return nil, nil
	}
	md.ExchangeTime = reader.Millis(m.OrderBook.Timestamp)
	md.ReceivedTime = receivedAt
	return &reader.Update{Symbol: symbol, Data: md}, nil
}

func levels(in []level) []orderbook.Update {
	out := make([]orderbook.Update, 0, len(in))
	for _, l := range in {
		size, err := strconv.ParseFloat(l.Size, 64)
		if err != nil {
			continue
		}
		out = append(out, orderbook.Update{Price: l.Price, Size: size})
	}
	return out
}
