package fees

import (
	"testing"

	"cryptofeeds/config"
	"cryptofeeds/models"
)

func TestDefaults(t *testing.T) {
	tbl := NewTable(nil)
	cases := []struct {
		exchange string
		it       models.InstrumentType
		want     Schedule
	}{
		{"binance", models.Spot, Schedule{10, 10}},
		{"binance", models.Perp, Schedule{5, 2}},
		{"bybit", models.Perp, Schedule{5.5, 2}},
		{"Kraken", models.Spot, Schedule{40, 25}},
		{"mexc", models.Spot, Schedule{5, 0}},
		{"lighter", models.Perp, Schedule{}},
	}
	for _, tc := range cases {
		got, ok := tbl.Lookup(tc.exchange, tc.it, "BTC_USDT")
		if !ok || got != tc.want {
			t.Errorf("Lookup(%s, %s) = %+v, %v; want %+v", tc.exchange, tc.it, got, ok, tc.want)
		}
	}
	if _, ok := tbl.Lookup("nasdaq", models.Spot, "BTC_USDT"); ok {
		t.Error("unknown exchange should not resolve")
	}
}

func TestOverrides(t *testing.T) {
	tbl := NewTable(map[string]config.FeeOverrides{
		"binance": {
			Spot:    &config.FeeSchedule{TakerBps: 7.5, MakerBps: 7.5},
			Symbols: map[string]config.FeeSchedule{"btc_fdusd": {TakerBps: 0, MakerBps: 0}},
		},
	})
	if got, _ := tbl.Lookup("binance", models.Spot, "ETH_USDT"); got != (Schedule{7.5, 7.5}) {
		t.Errorf("spot default override = %+v", got)
	}
	if got, _ := tbl.Lookup("binance", models.Spot, "BTC_FDUSD"); got != (Schedule{}) {
		t.Errorf("symbol override = %+v", got)
	}
	if got, _ := tbl.Lookup("binance", models.Perp, "ETH_USDT"); got != (Schedule{5, 2}) {
		t.Errorf("perp untouched = %+v", got)
	}
	// Overrides on one table never leak into fresh defaults.
	if got, _ := NewTable(nil).Lookup("binance", models.Spot, "BTC_FDUSD"); got != (Schedule{10, 10}) {
		t.Errorf("fresh table = %+v", got)
	}
}
