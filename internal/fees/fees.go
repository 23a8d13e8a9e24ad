// Package fees holds default trading fee schedules per venue.
package fees

import (
	"strings"

	"cryptofeeds/config"
	"cryptofeeds/models"
)

// Schedule is taker and maker fees in basis points.
type Schedule struct {
	TakerBps float64 `json:"taker_bps"`
	MakerBps float64 `json:"maker_bps"`
}

// Exchange carries defaults per instrument type and per-symbol overrides
// keyed by configured symbol (BTC_USDT).
type Exchange struct {
	Spot          Schedule            `json:"spot"`
	Perp          Schedule            `json:"perp"`
	SpotOverrides map[string]Schedule `json:"spot_overrides,omitempty"`
	PerpOverrides map[string]Schedule `json:"perp_overrides,omitempty"`
}

// For returns the schedule for symbol, falling back to the type default.
func (e Exchange) For(it models.InstrumentType, symbol string) Schedule {
	symbol = strings.ToUpper(symbol)
	if it == models.Perp {
		if s, ok := e.PerpOverrides[symbol]; ok {
			return s
		}
		return e.Perp
	}
	if s, ok := e.SpotOverrides[symbol]; ok {
		return s
	}
	return e.Spot
}

func defaults() map[string]Exchange {
	return map[string]Exchange{
		"binance":  {Spot: Schedule{10, 10}, Perp: Schedule{5, 2}},
		"bybit":    {Spot: Schedule{10, 10}, Perp: Schedule{5.5, 2}},
		"coinbase": {Spot: Schedule{60, 40}, Perp: Schedule{60, 40}},
		"kraken":   {Spot: Schedule{40, 25}, Perp: Schedule{25, 25}},
		"lighter":  {},
		"mexc":     {Spot: Schedule{5, 0}, Perp: Schedule{2, 0}},
		"okx":      {Spot: Schedule{10, 8}, Perp: Schedule{5, 2}},
	}
}

// Table is the fee schedule of every known venue.
type Table struct {
	exchanges map[string]Exchange
}

// NewTable returns the defaults with configured overrides applied. Symbol
// overrides apply to both instrument types.
func NewTable(overrides map[string]config.FeeOverrides) *Table {
	t := &Table{exchanges: defaults()}
	for name, o := range overrides {
		name = strings.ToLower(name)
		ex := t.exchanges[name]
		if o.Spot != nil {
			ex.Spot = Schedule{o.Spot.TakerBps, o.Spot.MakerBps}
		}
		if o.Perp != nil {
			ex.Perp = Schedule{o.Perp.TakerBps, o.Perp.MakerBps}
		}
		if len(o.Symbols) > 0 {
			ex.SpotOverrides = copyOverrides(ex.SpotOverrides)
			ex.PerpOverrides = copyOverrides(ex.PerpOverrides)
			for sym, s := range o.Symbols {
				sched := Schedule{s.TakerBps, s.MakerBps}
				ex.SpotOverrides[strings.ToUpper(sym)] = sched
				ex.PerpOverrides[strings.ToUpper(sym)] = sched
			}
		}
		t.exchanges[name] = ex
	}
	return t
}

func copyOverrides(m map[string]Schedule) map[string]Schedule {
	out := make(map[string]Schedule, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Exchange returns the schedule for name.
func (t *Table) Exchange(name string) (Exchange, bool) {
	ex, ok := t.exchanges[strings.ToLower(name)]
	return ex, ok
}

// Lookup returns the fees for a symbol on an exchange.
func (t *Table) Lookup(name string, it models.InstrumentType, symbol string) (Schedule, bool) {
	ex, ok := t.Exchange(name)
	if !ok {
		return Schedule{}, false
	}
	return ex.For(it, symbol), true
}
