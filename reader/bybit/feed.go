// Package bybit streams level-1 order books from the Bybit v5 public
// websocket.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bybitapi "github.com/bybit-exchange/bybit.go.api"

	"cryptofeeds/internal/orderbook"
	"cryptofeeds/internal/symbols"
	"cryptofeeds/models"
	"cryptofeeds/reader"
)

const (
	exchange = "bybit"
	spotURL  = "wss://stream.bybit.com/v5/public/spot"
	perpURL  = "wss://stream.bybit.com/v5/public/linear"
	restURL  = "https://api.bybit.com"

	// Bybit accepts at most ten topics per subscribe request on spot.
	argsPerRequest = 10
)

var ping = reader.TextMessage(`{"op":"ping"}`)

// Feed keeps one book per symbol and publishes its top level after every
// snapshot or delta.
type Feed struct {
	reader.BaseFeed
	itype  models.InstrumentType
	opts   reader.FeedOptions
	books  orderbook.Books
	client *bybitapi.Client
}

func New(it models.InstrumentType, opts reader.FeedOptions) (*Feed, error) {
	if it != models.Spot && it != models.Perp {
		return nil, reader.ConfigError("bybit does not stream %s instruments", it)
	}
	base := opts.RESTURL
	if base == "" {
		base = restURL
	}
	client := bybitapi.NewBybitHttpClient("", "", bybitapi.WithBaseURL(strings.TrimRight(base, "/")))
	client.HTTPClient = reader.NewHTTPClient(opts.HTTPTimeout)
	return &Feed{itype: it, opts: opts, books: orderbook.Books{}, client: client}, nil
}

func (f *Feed) InstrumentType() models.InstrumentType { return f.itype }

func (f *Feed) category() string {
	if f.itype == models.Perp {
		return "linear"
	}
	return "spot"
}

// Prepare checks the configured symbols against the v5 instruments-info
// listing when validation is enabled.
func (f *Feed) Prepare(ctx context.Context, syms []string) error {
	if !f.opts.ValidateSymbols {
		return nil
	}
	listed, err := f.listSymbols(ctx)
	if err != nil {
		return fmt.Errorf("fetch bybit instruments: %w", err)
	}
	for _, s := range syms {
		native, err := symbols.Denormalize(exchange, s, f.itype)
		if err != nil {
			return reader.ConfigError("bybit %s: %v", f.itype, err)
		}
		if _, ok := listed[native]; !ok {
			return reader.ConfigError("bybit %s does not list %s", f.itype, native)
		}
	}
	return nil
}

type instrumentsPage struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Symbol string `json:"symbol"`
			Status string `json:"status"`
		} `json:"list"`
		NextPageCursor string `json:"nextPageCursor"`
	} `json:"result"`
}

func (f *Feed) listSymbols(ctx context.Context) (map[string]struct{}, error) {
	listed := make(map[string]struct{})
	cursor := ""
	for {
		params := map[string]interface{}{"category": f.category(), "limit": 1000}
		if cursor != "" {
			params["cursor"] = cursor
		}
		resp, err := f.client.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(resp)
		if err != nil {
			return nil, err
		}
		var page instrumentsPage
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, err
		}
		if page.RetCode != 0 {
			return nil, fmt.Errorf("retCode %d: %s", page.RetCode, page.RetMsg)
		}
		for _, inst := range page.Result.List {
			if inst.Status == "Trading" {
				listed[inst.Symbol] = struct{}{}
			}
		}
		if page.Result.NextPageCursor == "" || page.Result.NextPageCursor == cursor {
			return listed, nil
		}
		cursor = page.Result.NextPageCursor
	}
}

func (f *Feed) BuildURL(syms []string) (string, error) {
	if len(syms) == 0 {
		return "", reader.ConfigError("bybit %s: no symbols configured", f.itype)
	}
	if _, err := f.topics(syms); err != nil {
		return "", err
	}
	if f.opts.URL != "" {
		return f.opts.URL, nil
	}
	if f.itype == models.Perp {
		return perpURL, nil
	}
	return spotURL, nil
}

func (f *Feed) topics(syms []string) ([]string, error) {
	out := make([]string, 0, len(syms))
	for _, s := range syms {
		native, err := symbols.Denormalize(exchange, s, f.itype)
		if err != nil {
			return nil, reader.ConfigError("bybit %s: %v", f.itype, err)
		}
		out = append(out, "orderbook.1."+native)
	}
	return out, nil
}

func (f *Feed) SendSubscription(conn reader.Conn, syms []string) error {
	topics, err := f.topics(syms)
	if err != nil {
		return err
	}
	// Books from a previous session are stale.
	f.books = orderbook.Books{}
	for start := 0; start < len(topics); start += argsPerRequest {
		end := start + argsPerRequest
		if end > len(topics) {
			end = len(topics)
		}
		req := map[string]interface{}{"op": "subscribe", "args": topics[start:end]}
		if err := reader.SendJSON(conn, req); err != nil {
			return err
		}
	}
	return nil
}

func (f *Feed) HeartbeatMessage() *reader.Message {
	msg := ping
	return &msg
}

type bookData struct {
	Symbol   string     `json:"s"`
	Bids     [][]string `json:"b"`
	Asks     [][]string `json:"a"`
	UpdateID int64      `json:"u"`
}

type message struct {
	Topic   string    `json:"topic"`
	Type    string    `json:"type"`
	TS      int64     `json:"ts"`
	Data    *bookData `json:"data"`
	Op      string    `json:"op"`
	Success *bool     `json:"success"`
	RetMsg  string    `json:"ret_msg"`
}

func (f *Feed) ParseMessage(msg reader.Message, receivedAt time.Time) (*reader.Update, error) {
	if !msg.IsText() {
		return nil, nil
	}
	var m message
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		return nil, fmt.Errorf("decode bybit frame: %w", err)
	}
	if m.Op != "" {
		if m.Success != nil && !*m.Success {
			return nil, fmt.Errorf("bybit %s rejected: %s", m.Op, m.RetMsg)
		}
		return nil, nil
	}
	if !strings.HasPrefix(m.Topic, "orderbook.") || m.Data == nil || m.Data.Symbol == "" {
		return nil, nil
	}

	book := f.books.Get(m.Data.Symbol)
	if m.Type == "snapshot" {
		book.Reset()
	}
	book.UpdateBids(orderbook.FromPairs(m.Data.Bids))
	book.UpdateAsks(orderbook.FromPairs(m.Data.Asks))

	md := book.Quote()
	if md.Empty() {
		return nil, nil
	}
	md.ExchangeTime = reader.Millis(m.TS)
	md.ReceivedTime = receivedAt
	return &reader.Update{Symbol: m.Data.Symbol, Data: md}, nil
}
