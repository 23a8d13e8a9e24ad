// Package okx streams tick-by-tick best bid/offer from the OKX v5 public
// websocket for spot and USDT swaps.
package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cryptofeeds/internal/symbols"
	"cryptofeeds/models"
	"cryptofeeds/reader"
)

const (
	exchange = "okx"
	wsURL    = "wss://ws.okx.com:8443/ws/v5/public"
	restURL  = "https://www.okx.com"
	channel  = "bbo-tbt"
)

var ping = reader.TextMessage("ping")

type Feed struct {
	reader.BaseFeed
	itype  models.InstrumentType
	opts   reader.FeedOptions
	client *http.Client
}

func New(it models.InstrumentType, opts reader.FeedOptions) (*Feed, error) {
	if it != models.Spot && it != models.Perp {
		return nil, reader.ConfigError("okx does not stream %s instruments", it)
	}
	if opts.RESTURL == "" {
		opts.RESTURL = restURL
	}
	return &Feed{itype: it, opts: opts, client: reader.NewHTTPClient(opts.HTTPTimeout)}, nil
}

func (f *Feed) InstrumentType() models.InstrumentType { return f.itype }

func (f *Feed) instIDs(syms []string) ([]string, error) {
	if len(syms) == 0 {
		return nil, reader.ConfigError("okx %s: no symbols configured", f.itype)
	}
	out := make([]string, 0, len(syms))
	for _, s := range syms {
		native, err := symbols.Denormalize(exchange, s, f.itype)
		if err != nil {
			return nil, reader.ConfigError("okx %s: %v", f.itype, err)
		}
		out = append(out, native)
	}
	return out, nil
}

func (f *Feed) instType() string {
	if f.itype == models.Perp {
		return "SWAP"
	}
	return "SPOT"
}

// Prepare checks the configured instruments against the public instrument
// list when validation is enabled.
func (f *Feed) Prepare(ctx context.Context, syms []string) error {
	if !f.opts.ValidateSymbols {
		return nil
	}
	ids, err := f.instIDs(syms)
	if err != nil {
		return err
	}
	var wrapper struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			InstID string `json:"instId"`
			State  string `json:"state"`
		} `json:"data"`
	}
	url := strings.TrimRight(f.opts.RESTURL, "/") + "/api/v5/public/instruments?instType=" + f.instType()
	if err := reader.GetJSON(ctx, f.client, url, &wrapper); err != nil {
		return fmt.Errorf("okx instruments: %w", err)
	}
	if wrapper.Code != "0" {
		return fmt.Errorf("okx instruments: code %s: %s", wrapper.Code, wrapper.Msg)
	}
	live := make(map[string]struct{}, len(wrapper.Data))
	for _, inst := range wrapper.Data {
		if inst.State == "" || inst.State == "live" {
			live[inst.InstID] = struct{}{}
		}
	}
	for _, id := range ids {
		if _, ok := live[id]; !ok {
			return reader.ConfigError("okx %s: instrument %s is not live", f.itype, id)
		}
	}
	return nil
}

func (f *Feed) BuildURL(syms []string) (string, error) {
	if _, err := f.instIDs(syms); err != nil {
		return "", err
	}
	if f.opts.URL != "" {
		return f.opts.URL, nil
	}
	return wsURL, nil
}

type arg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

func (f *Feed) SendSubscription(conn reader.Conn, syms []string) error {
	ids, err := f.instIDs(syms)
	if err != nil {
		return err
	}
	args := make([]arg, len(ids))
	for i, id := range ids {
		args[i] = arg{Channel: channel, InstID: id}
	}
	return reader.SendJSON(conn, map[string]interface{}{"op": "subscribe", "args": args})
}

// HeartbeatMessage is the literal text "ping"; OKX closes sockets silent for
// 30 seconds.
func (f *Feed) HeartbeatMessage() *reader.Message {
	msg := ping
	return &msg
}

type bboEvent struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   arg    `json:"arg"`
	Data  []struct {
		Asks [][]string `json:"asks"`
		Bids [][]string `json:"bids"`
		Ts   string     `json:"ts"`
	} `json:"data"`
}

func (f *Feed) ParseMessage(msg reader.Message, receivedAt time.Time) (*reader.Update, error) {
	if !msg.IsText() || string(msg.Data) == "pong" {
		return nil, nil
	}
	var evt bboEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		return nil, fmt.Errorf("decode okx frame: %w", err)
	}
	if evt.Event == "error" {
		return nil, fmt.Errorf("okx error %s: %s", evt.Code, evt.Msg)
	}
	if evt.Event != "" || evt.Arg.Channel != channel || len(evt.Data) == 0 {
		return nil, nil
	}

	d := evt.Data[0]
	if len(d.Bids) == 0 || len(d.Asks) == 0 || len(d.Bids[0]) < 2 || len(d.Asks[0]) < 2 {
		return nil, fmt.Errorf("okx %s: incomplete bbo", evt.Arg.InstID)
	}
	vals := make([]float64, 4)
	for i, s := range []string{d.Bids[0][0], d.Bids[0][1], d.Asks[0][0], d.Asks[0][1]} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("okx %s: %q: %w", evt.Arg.InstID, s, err)
		}
		vals[i] = v
	}
	md := models.NewMarketData(vals[0], vals[1], vals[2], vals[3])
	if ms, err := strconv.ParseInt(d.Ts, 10, 64); err == nil {
		md.ExchangeTime = reader.Millis(ms)
	}
	md.ReceivedTime = receivedAt
	return &reader.Update{Symbol: symbols.Normalize(exchange, evt.Arg.InstID), Data: md}, nil
}
