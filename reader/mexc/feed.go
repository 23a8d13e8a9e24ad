// Package mexc streams top of book quotes from MEXC: protobuf book tickers on
// spot and full depth snapshots on the contract (perp) websocket.
package mexc

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cryptofeeds/internal/orderbook"
	"cryptofeeds/internal/symbols"
	"cryptofeeds/models"
	"cryptofeeds/reader"
)

const (
	exchange = "mexc"
	spotURL  = "wss://wbs-api.mexc.com/ws"
	perpURL  = "wss://contract.mexc.com/edge"

	spotTopic  = "spot@public.aggre.bookTicker.v3.api.pb@100ms@"
	depthLimit = 5
)

var (
	spotPing = reader.TextMessage(`{"method":"PING"}`)
	perpPing = reader.TextMessage(`{"method":"ping"}`)
)

type Feed struct {
	reader.BaseFeed
	itype models.InstrumentType
	opts  reader.FeedOptions
	books orderbook.Books
}

func New(it models.InstrumentType, opts reader.FeedOptions) (*Feed, error) {
	if it != models.Spot && it != models.Perp {
		return nil, reader.ConfigError("mexc does not stream %s instruments", it)
	}
	return &Feed{itype: it, opts: opts, books: orderbook.Books{}}, nil
}

func (f *Feed) InstrumentType() models.InstrumentType { return f.itype }

func (f *Feed) natives(syms []string) ([]string, error) {
	if len(syms) == 0 {
		return nil, reader.ConfigError("mexc %s: no symbols configured", f.itype)
	}
	out := make([]string, 0, len(syms))
	for _, s := range syms {
		native, err := symbols.Denormalize(exchange, s, f.itype)
		if err != nil {
			return nil, reader.ConfigError("mexc %s: %v", f.itype, err)
		}
		out = append(out, native)
	}
	return out, nil
}

func (f *Feed) BuildURL(syms []string) (string, error) {
	if _, err := f.natives(syms); err != nil {
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

func (f *Feed) SendSubscription(conn reader.Conn, syms []string) error {
	natives, err := f.natives(syms)
	if err != nil {
		return err
	}
	if f.itype == models.Spot {
		params := make([]string, len(natives))
		for i, n := range natives {
			params[i] = spotTopic + n
		}
		return reader.SendJSON(conn, map[string]interface{}{
			"method": "SUBSCRIPTION",
			"params": params,
		})
	}

	f.books = orderbook.Books{}
	for _, n := range natives {
		req := map[string]interface{}{
			"method": "sub.depth.full",
			"param":  map[string]interface{}{"symbol": n, "limit": depthLimit},
		}
		if err := reader.SendJSON(conn, req); err != nil {
			return err
		}
	}
	return nil
}

func (f *Feed) HeartbeatMessage() *reader.Message {
	msg := spotPing
	if f.itype == models.Perp {
		msg = perpPing
	}
	return &msg
}

func (f *Feed) ParseMessage(msg reader.Message, receivedAt time.Time) (*reader.Update, error) {
	if f.itype == models.Spot {
		if msg.IsText() {
			return nil, spotControl(msg.Data)
		}
		return parseSpot(msg.Data, receivedAt)
	}
	if !msg.IsText() {
		return nil, nil
	}
	return f.parseDepth(msg.Data, receivedAt)
}

type spotAck struct {
	ID   int    `json:"id"`
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// spotControl surfaces rejected subscriptions. MEXC reports them with code 0
// and a "Not Subscribed" message.
func spotControl(data []byte) error {
	var ack spotAck
	if err := json.Unmarshal(data, &ack); err != nil {
		return fmt.Errorf("decode mexc control frame: %w", err)
	}
	if ack.Code != 0 || strings.HasPrefix(ack.Msg, "Not Subscribed") {
		return fmt.Errorf("mexc subscription rejected (code %d): %s", ack.Code, ack.Msg)
	}
	return nil
}

type depthMessage struct {
	Channel string          `json:"channel"`
	Symbol  string          `json:"symbol"`
	TS      int64           `json:"ts"`
	Data    json.RawMessage `json:"data"`
}

type depthData struct {
	Asks    [][]json.Number `json:"asks"`
	Bids    [][]json.Number `json:"bids"`
	Version int64           `json:"version"`
}

func (f *Feed) parseDepth(data []byte, receivedAt time.Time) (*reader.Update, error) {
	var m depthMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode mexc frame: %w", err)
	}
	switch m.Channel {
	case "push.depth.full":
	case "rs.error":
		return nil, fmt.Errorf("mexc error: %s", string(m.Data))
	default:
		return nil, nil
	}
	if m.Symbol == "" {
		return nil, nil
	}
	var d depthData
	if err := json.Unmarshal(m.Data, &d); err != nil {
		return nil, fmt.Errorf("decode mexc depth %s: %w", m.Symbol, err)
	}

	book := f.books.Get(m.Symbol)
	book.Reset()
	book.UpdateBids(levels(d.Bids))
	book.UpdateAsks(levels(d.Asks))

	md := book.Quote()
	if md.Empty() {
		return nil, nil
	}
	md.ExchangeTime = reader.Millis(m.TS)
	md.ReceivedTime = receivedAt
	return &reader.Update{Symbol: m.Symbol, Data: md}, nil
}

// levels converts [price, contracts, orders] rows.
func levels(rows [][]json.Number) []orderbook.Update {
	out := make([]orderbook.Update, 0, len(rows))
	for _, r := range rows {
		if len(r) < 2 {
			continue
		}
		size, err := r[1].Float64()
		if err != nil {
			continue
		}
		out = append(out, orderbook.Update{Price: r[0].String(), Size: size})
	}
	return out
}
