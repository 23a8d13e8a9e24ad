// Package kraken streams spread (top of book) updates from the Kraken spot
// websocket.
package kraken

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"cryptofeeds/internal/symbols"
	"cryptofeeds/models"
	"cryptofeeds/reader"
)

const (
	exchange = "kraken"
	spotURL  = "wss://ws.kraken.com"
)

var ping = reader.TextMessage(`{"event":"ping"}`)

type Feed struct {
	reader.BaseFeed
	opts reader.FeedOptions
}

func New(it models.InstrumentType, opts reader.FeedOptions) (*Feed, error) {
	if it != models.Spot {
		return nil, reader.ConfigError("kraken only streams spot instruments, got %s", it)
	}
	return &Feed{opts: opts}, nil
}

func (f *Feed) InstrumentType() models.InstrumentType { return models.Spot }

func (f *Feed) pairs(syms []string) ([]string, error) {
	if len(syms) == 0 {
		return nil, reader.ConfigError("kraken: no symbols configured")
	}
	out := make([]string, 0, len(syms))
	for _, s := range syms {
		native, err := symbols.Denormalize(exchange, s, models.Spot)
		if err != nil {
			return nil, reader.ConfigError("kraken: %v", err)
		}
		out = append(out, native)
	}
	return out, nil
}

func (f *Feed) BuildURL(syms []string) (string, error) {
	if _, err := f.pairs(syms); err != nil {
		return "", err
	}
	if f.opts.URL != "" {
		return f.opts.URL, nil
	}
	return spotURL, nil
}

func (f *Feed) SendSubscription(conn reader.Conn, syms []string) error {
	pairs, err := f.pairs(syms)
	if err != nil {
		return err
	}
	return reader.SendJSON(conn, map[string]interface{}{
		"event":        "subscribe",
		"pair":         pairs,
		"subscription": map[string]string{"name": "spread"},
	})
}

func (f *Feed) HeartbeatMessage() *reader.Message {
	msg := ping
	return &msg
}

type event struct {
	Event        string `json:"event"`
	Status       string `json:"status"`
	Pair         string `json:"pair"`
	ErrorMessage string `json:"errorMessage"`
}

// ParseMessage handles the array form [channelID, [bid, ask, ts, bidVol,
// askVol], "spread", pair]. Object frames are events.
func (f *Feed) ParseMessage(msg reader.Message, receivedAt time.Time) (*reader.Update, error) {
	if !msg.IsText() || len(msg.Data) == 0 {
		return nil, nil
	}
	if msg.Data[0] == '{' {
		var ev event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode kraken event: %w", err)
		}
		if ev.Event == "subscriptionStatus" && ev.Status == "error" {
			return nil, fmt.Errorf("kraken subscribe %s: %s", ev.Pair, ev.ErrorMessage)
		}
		return nil, nil
	}

	var frame []json.RawMessage
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		return nil, fmt.Errorf("decode kraken frame: %w", err)
	}
	if len(frame) < 4 {
		return nil, fmt.Errorf("kraken frame has %d elements", len(frame))
	}
	var channel, pair string
	if err := json.Unmarshal(frame[len(frame)-2], &channel); err != nil {
		return nil, fmt.Errorf("kraken channel name: %w", err)
	}
	if channel != "spread" {
		return nil, nil
	}
	if err := json.Unmarshal(frame[len(frame)-1], &pair); err != nil {
		return nil, fmt.Errorf("kraken pair: %w", err)
	}
	var spread []string
	if err := json.Unmarshal(frame[1], &spread); err != nil {
		return nil, fmt.Errorf("kraken spread payload: %w", err)
	}
	if len(spread) < 5 {
		return nil, fmt.Errorf("kraken spread has %d fields", len(spread))
	}

	vals := make([]float64, 5)
	for i, s := range spread[:5] {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("kraken %s field %d %q: %w", pair, i, s, err)
		}
		vals[i] = v
	}
	md := models.NewMarketData(vals[0], vals[3], vals[1], vals[4])
	sec, frac := math.Modf(vals[2])
	md.ExchangeTime = time.Unix(int64(sec), int64(frac*1e9))
	md.ReceivedTime = receivedAt
	return &reader.Update{Symbol: symbols.Normalize(exchange, pair), Data: md}, nil
}
