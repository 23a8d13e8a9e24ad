// Package coinbase streams ticker quotes from the Coinbase Exchange feed
// (spot) and the Advanced Trade feed (INTX perpetuals).
package coinbase

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cryptofeeds/internal/symbols"
	"cryptofeeds/models"
	"cryptofeeds/reader"
)

const (
	exchange = "coinbase"
	spotURL  = "wss://ws-feed.exchange.coinbase.com"
	perpURL  = "wss://advanced-trade-ws.coinbase.com"

	intxSuffix = "-PERP-INTX"
	// INTX perpetuals are margined and quoted in USDC.
	intxQuote = "USDC"
)

type Feed struct {
	reader.BaseFeed
	itype models.InstrumentType
	opts  reader.FeedOptions
}

func New(it models.InstrumentType, opts reader.FeedOptions) (*Feed, error) {
	if it != models.Spot && it != models.Perp {
		return nil, reader.ConfigError("coinbase does not stream %s instruments", it)
	}
	return &Feed{itype: it, opts: opts}, nil
}

func (f *Feed) InstrumentType() models.InstrumentType { return f.itype }

func (f *Feed) products(syms []string) ([]string, error) {
	if len(syms) == 0 {
		return nil, reader.ConfigError("coinbase %s: no symbols configured", f.itype)
	}
	out := make([]string, 0, len(syms))
	for _, s := range syms {
		native, err := symbols.Denormalize(exchange, s, f.itype)
		if err != nil {
			return nil, reader.ConfigError("coinbase %s: %v", f.itype, err)
		}
		out = append(out, native)
	}
	return out, nil
}

func (f *Feed) BuildURL(syms []string) (string, error) {
	if _, err := f.products(syms); err != nil {
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
	products, err := f.products(syms)
	if err != nil {
		return err
	}
	if f.itype == models.Spot {
		return reader.SendJSON(conn, map[string]interface{}{
			"type":        "subscribe",
			"product_ids": products,
			"channels":    []string{"ticker"},
		})
	}
	// Advanced Trade takes one channel per request and closes sockets that
	// carry no heartbeats subscription.
	if err := reader.SendJSON(conn, map[string]interface{}{
		"type":        "subscribe",
		"product_ids": products,
		"channel":     "ticker",
	}); err != nil {
		return err
	}
	return reader.SendJSON(conn, map[string]interface{}{
		"type":    "subscribe",
		"channel": "heartbeats",
	})
}

func (f *Feed) ParseMessage(msg reader.Message, receivedAt time.Time) (*reader.Update, error) {
	if !msg.IsText() {
		return nil, nil
	}
	if f.itype == models.Perp {
		return parseAdvanced(msg.Data, receivedAt)
	}
	return parseExchange(msg.Data, receivedAt)
}

type exchangeTicker struct {
	Type        string `json:"type"`
	ProductID   string `json:"product_id"`
	BestBid     string `json:"best_bid"`
	BestBidSize string `json:"best_bid_size"`
	BestAsk     string `json:"best_ask"`
	BestAskSize string `json:"best_ask_size"`
	Time        string `json:"time"`
	Message     string `json:"message"`
	Reason      string `json:"reason"`
}

func parseExchange(data []byte, receivedAt time.Time) (*reader.Update, error) {
	var t exchangeTicker
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode coinbase frame: %w", err)
	}
	switch t.Type {
	case "ticker":
	case "error":
		return nil, fmt.Errorf("coinbase error: %s: %s", t.Message, t.Reason)
	default:
		return nil, nil
	}

	md, err := quote(t.BestBid, t.BestBidSize, t.BestAsk, t.BestAskSize)
	if err != nil {
		return nil, fmt.Errorf("coinbase %s: %w", t.ProductID, err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, t.Time); err == nil {
		md.ExchangeTime = ts
	}
	md.ReceivedTime = receivedAt
	return &reader.Update{Symbol: t.ProductID, Data: md}, nil
}

type advancedTicker struct {
	ProductID  string `json:"product_id"`
	BestBid    string `json:"best_bid"`
	BestBidQty string `json:"best_bid_quantity"`
	BestAsk    string `json:"best_ask"`
	BestAskQty string `json:"best_ask_quantity"`
}

type advancedMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Channel   string `json:"channel"`
	Timestamp string `json:"timestamp"`
	Events    []struct {
		Type    string           `json:"type"`
		Tickers []advancedTicker `json:"tickers"`
	} `json:"events"`
}

// parseAdvanced returns the first usable ticker of a ticker channel message.
func parseAdvanced(data []byte, receivedAt time.Time) (*reader.Update, error) {
	var m advancedMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode coinbase advanced frame: %w", err)
	}
	if m.Type == "error" {
		return nil, fmt.Errorf("coinbase error: %s", m.Message)
	}
	if m.Channel != "ticker" {
		return nil, nil
	}
	for _, ev := range m.Events {
		for _, t := range ev.Tickers {
			md, err := quote(t.BestBid, t.BestBidQty, t.BestAsk, t.BestAskQty)
			if err != nil {
				continue
			}
			if ts, err := time.Parse(time.RFC3339Nano, m.Timestamp); err == nil {
				md.ExchangeTime = ts
			}
			md.ReceivedTime = receivedAt
			return &reader.Update{Symbol: productSymbol(t.ProductID), Data: md}, nil
		}
	}
	return nil, nil
}

// productSymbol maps BTC-PERP-INTX to BTC-USDC; other products pass through.
func productSymbol(product string) string {
	if base, ok := strings.CutSuffix(product, intxSuffix); ok {
		return base + "-" + intxQuote
	}
	return product
}

func quote(bid, bidQty, ask, askQty string) (models.MarketData, error) {
	b, err := strconv.ParseFloat(bid, 64)
	if err != nil {
		return models.MarketData{}, fmt.Errorf("bid %q: %w", bid, err)
	}
	a, err := strconv.ParseFloat(ask, 64)
	if err != nil {
		return models.MarketData{}, fmt.Errorf("ask %q: %w", ask, err)
	}
	bq, _ := strconv.ParseFloat(bidQty, 64)
	aq, _ := strconv.ParseFloat(askQty, 64)
	return models.NewMarketData(b, bq, a, aq), nil
}
