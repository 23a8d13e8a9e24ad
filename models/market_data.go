package models

import "time"

// MarketData is the latest top-of-book observed for one instrument on one venue.
//
// A side is only meaningful when its Has flag is set. ExchangeTime and
// ReceivedTime are zero when unknown.
type MarketData struct {
	Bid          float64   `json:"bid"`
	Ask          float64   `json:"ask"`
	BidQty       float64   `json:"bid_qty"`
	AskQty       float64   `json:"ask_qty"`
	HasBid       bool      `json:"has_bid"`
	HasAsk       bool      `json:"has_ask"`
	ExchangeTime time.Time `json:"exchange_time"`
	ReceivedTime time.Time `json:"received_time"`
}

// NewMarketData builds a two-sided quote.
func NewMarketData(bid, bidQty, ask, askQty float64) MarketData {
	return MarketData{
		Bid:    bid,
		BidQty: bidQty,
		Ask:    ask,
		AskQty: askQty,
		HasBid: true,
		HasAsk: true,
	}
}

// Midquote returns (bid+ask)/2 when both sides are present.
func (m MarketData) Midquote() (float64, bool) {
	if !m.HasBid || !m.HasAsk {
		return 0, false
	}
	return (m.Bid + m.Ask) / 2, true
}

// Crossed reports a two-sided quote whose bid is not strictly below its ask.
func (m MarketData) Crossed() bool {
	return m.HasBid && m.HasAsk && m.Bid >= m.Ask
}

// SpreadBps returns the quoted spread relative to the mid in basis points.
func (m MarketData) SpreadBps() (float64, bool) {
	mid, ok := m.Midquote()
	if !ok || mid == 0 {
		return 0, false
	}
	return (m.Ask - m.Bid) / mid * 10_000, true
}

// Empty reports whether neither side is present.
func (m MarketData) Empty() bool {
	return !m.HasBid && !m.HasAsk
}
