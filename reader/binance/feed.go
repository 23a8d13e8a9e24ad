// Package binance streams bookTicker quotes from Binance spot and USDⓈ-M
// futures combined streams.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"

	"cryptofeeds/internal/symbols"
	"cryptofeeds/models"
	"cryptofeeds/reader"
)

const (
	exchange = "binance"
	spotURL  = "wss://stream.binance.com:9443/stream"
	perpURL  = "wss://fstream.binance.com/stream"
)

// Feed is a Binance bookTicker stream for one instrument type. Subscriptions
// are encoded in the URL.
type Feed struct {
	reader.BaseFeed
	itype   models.InstrumentType
	opts    reader.FeedOptions
	spot    *gobinance.Client
	futures *futures.Client
}

func New(it models.InstrumentType, opts reader.FeedOptions) (*Feed, error) {
	if it != models.Spot && it != models.Perp {
		return nil, reader.ConfigError("binance does not stream %s instruments", it)
	}
	httpClient := reader.NewHTTPClient(opts.HTTPTimeout)

	f := &Feed{itype: it, opts: opts}
	if it == models.Perp {
		f.futures = futures.NewClient("", "")
		f.futures.HTTPClient = httpClient
		if opts.RESTURL != "" {
			f.futures.SetApiEndpoint(opts.RESTURL)
		}
	} else {
		f.spot = gobinance.NewClient("", "")
		f.spot.HTTPClient = httpClient
		if opts.RESTURL != "" {
			f.spot.BaseURL = opts.RESTURL
		}
	}
	return f, nil
}

func (f *Feed) InstrumentType() models.InstrumentType { return f.itype }

func (f *Feed) BuildURL(syms []string) (string, error) {
	if len(syms) == 0 {
		return "", reader.ConfigError("binance %s: no symbols configured", f.itype)
	}
	streams := make([]string, 0, len(syms))
	for _, s := range syms {
		native, err := symbols.Denormalize(exchange, s, f.itype)
		if err != nil {
			return "", reader.ConfigError("binance %s: %v", f.itype, err)
		}
		streams = append(streams, strings.ToLower(native)+"@bookTicker")
	}

	base := f.opts.URL
	if base == "" {
		base = spotURL
		if f.itype == models.Perp {
			base = perpURL
		}
	}
	return base + "?streams=" + strings.Join(streams, "/"), nil
}

// Prepare checks the configured symbols against the live exchange info when
// validation is enabled.
func (f *Feed) Prepare(ctx context.Context, syms []string) error {
	if !f.opts.ValidateSymbols {
		return nil
	}
	listed, err := f.listSymbols(ctx)
	if err != nil {
		return fmt.Errorf("fetch binance exchange info: %w", err)
	}
	for _, s := range syms {
		native, err := symbols.Denormalize(exchange, s, f.itype)
		if err != nil {
			return reader.ConfigError("binance %s: %v", f.itype, err)
		}
		if _, ok := listed[native]; !ok {
			return reader.ConfigError("binance %s does not list %s", f.itype, native)
		}
	}
	return nil
}

func (f *Feed) listSymbols(ctx context.Context) (map[string]struct{}, error) {
	listed := make(map[string]struct{})
	if f.itype == models.Perp {
		info, err := f.futures.NewExchangeInfoService().Do(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range info.Symbols {
			if s.Status == "TRADING" {
				listed[s.Symbol] = struct{}{}
			}
		}
		return listed, nil
	}

	info, err := f.spot.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range info.Symbols {
		if s.Status == "TRADING" {
			listed[s.Symbol] = struct{}{}
		}
	}
	return listed, nil
}

type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// encoding/json matches keys case-insensitively, so the futures event type
// "e" needs its own field or it lands in EventTime.
type bookTicker struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	BidPrice  string `json:"b"`
	BidQty    string `json:"B"`
	AskPrice  string `json:"a"`
	AskQty    string `json:"A"`
	UpdateID  int64  `json:"u"`
	EventTime int64  `json:"E"`
	TxTime    int64  `json:"T"`
}

// ParseMessage decodes combined-stream frames and falls back to raw stream
// payloads when no envelope is present.
func (f *Feed) ParseMessage(msg reader.Message, receivedAt time.Time) (*reader.Update, error) {
	if !msg.IsText() {
		return nil, nil
	}
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return nil, fmt.Errorf("decode binance frame: %w", err)
	}
	payload := []byte(env.Data)
	if len(payload) == 0 {
		payload = msg.Data
	}

	var t bookTicker
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, fmt.Errorf("decode binance bookTicker: %w", err)
	}
	if t.Symbol == "" {
		// subscription results and other control frames
		return nil, nil
	}

	var md models.MarketData
	var err error
	if md.Bid, err = strconv.ParseFloat(t.BidPrice, 64); err != nil {
		return nil, fmt.Errorf("binance %s bid price %q: %w", t.Symbol, t.BidPrice, err)
	}
	if md.Ask, err = strconv.ParseFloat(t.AskPrice, 64); err != nil {
		return nil, fmt.Errorf("binance %s ask price %q: %w", t.Symbol, t.AskPrice, err)
	}
	if md.BidQty, err = strconv.ParseFloat(t.BidQty, 64); err != nil {
		return nil, fmt.Errorf("binance %s bid qty %q: %w", t.Symbol, t.BidQty, err)
	}
	if md.AskQty, err = strconv.ParseFloat(t.AskQty, 64); err != nil {
		return nil, fmt.Errorf("binance %s ask qty %q: %w", t.Symbol, t.AskQty, err)
	}
	md.HasBid, md.HasAsk = true, true
	md.ExchangeTime = reader.Millis(t.EventTime)
	md.ReceivedTime = receivedAt

	return &reader.Update{Symbol: t.Symbol, Data: md}, nil
}
