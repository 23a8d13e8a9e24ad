package mexc

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"cryptofeeds/models"
	"cryptofeeds/reader"
)

// Field numbers of PushDataV3ApiWrapper and PublicAggreBookTickerV3Api.
const (
	fieldChannel    protowire.Number = 1
	fieldSymbol     protowire.Number = 3
	fieldSymbolID   protowire.Number = 4
	fieldCreateTime protowire.Number = 5
	fieldSendTime   protowire.Number = 6
	fieldBookTicker protowire.Number = 315

	fieldBidPrice    protowire.Number = 1
	fieldBidQuantity protowire.Number = 2
	fieldAskPrice    protowire.Number = 3
	fieldAskQuantity protowire.Number = 4
)

var errNoTicker = errors.New("mexc push carries no book ticker")

type pushWrapper struct {
	channel    string
	symbol     string
	createTime int64
	sendTime   int64
	ticker     []byte
}

type bookTicker struct {
	bidPrice, bidQty, askPrice, askQty string
}

// parseSpot decodes a binary PushDataV3ApiWrapper carrying an aggregated
// book ticker.
func parseSpot(data []byte, receivedAt time.Time) (*reader.Update, error) {
	w, err := decodeWrapper(data)
	if err != nil {
		return nil, err
	}
	if w.ticker == nil {
		return nil, nil
	}
	t, err := decodeTicker(w.ticker)
	if err != nil {
		return nil, err
	}
	if w.symbol == "" {
		return nil, fmt.Errorf("mexc push on %q has no symbol", w.channel)
	}

	bid, err := strconv.ParseFloat(t.bidPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("mexc %s bid %q: %w", w.symbol, t.bidPrice, err)
	}
	ask, err := strconv.ParseFloat(t.askPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("mexc %s ask %q: %w", w.symbol, t.askPrice, err)
	}
	bq, _ := strconv.ParseFloat(t.bidQty, 64)
	aq, _ := strconv.ParseFloat(t.askQty, 64)

	md := models.NewMarketData(bid, bq, ask, aq)
	ts := w.sendTime
	if ts == 0 {
		ts = w.createTime
	}
	md.ExchangeTime = reader.Millis(ts)
	md.ReceivedTime = receivedAt
	return &reader.Update{Symbol: w.symbol, Data: md}, nil
}

func decodeWrapper(b []byte) (pushWrapper, error) {
	var w pushWrapper
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch {
		case num == fieldChannel && typ == protowire.BytesType:
			w.channel = string(v)
		case num == fieldSymbol && typ == protowire.BytesType:
			w.symbol = string(v)
		case num == fieldCreateTime && typ == protowire.VarintType:
			w.createTime = int64(n)
		case num == fieldSendTime && typ == protowire.VarintType:
			w.sendTime = int64(n)
		case num == fieldBookTicker && typ == protowire.BytesType:
			w.ticker = v
		}
		return nil
	})
	if err != nil {
		return pushWrapper{}, fmt.Errorf("decode mexc wrapper: %w", err)
	}
	return w, nil
}

func decodeTicker(b []byte) (bookTicker, error) {
	var t bookTicker
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldBidPrice:
			t.bidPrice = string(v)
		case fieldBidQuantity:
			t.bidQty = string(v)
		case fieldAskPrice:
			t.askPrice = string(v)
		case fieldAskQuantity:
			t.askQty = string(v)
		}
		return nil
	})
	if err != nil {
		return bookTicker{}, fmt.Errorf("decode mexc book ticker: %w", err)
	}
	if t.bidPrice == "" && t.askPrice == "" {
		return bookTicker{}, errNoTicker
	}
	return t, nil
}

// walk visits every top level field of a protobuf message. Bytes fields are
// passed as v, varints as n; other wire types are skipped.
func walk(b []byte, visit func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error) error {
	for len(b) > 0 {
		num, typ, l := protowire.ConsumeTag(b)
		if l < 0 {
			return protowire.ParseError(l)
		}
		b = b[l:]

		var (
			v []byte
			n uint64
		)
		switch typ {
		case protowire.BytesType:
			v, l = protowire.ConsumeBytes(b)
		case protowire.VarintType:
			n, l = protowire.ConsumeVarint(b)
		default:
			l = protowire.ConsumeFieldValue(num, typ, b)
		}
		if l < 0 {
			return protowire.ParseError(l)
		}
		b = b[l:]
		if err := visit(num, typ, v, n); err != nil {
			return err
		}
	}
	return nil
}
