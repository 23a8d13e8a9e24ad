package display

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"cryptofeeds/internal/marketdata"
	"cryptofeeds/internal/symbols"
	"cryptofeeds/models"
)

func TestPrint(t *testing.T) {
	reg, err := symbols.Build([]string{"BTC"}, []string{"USDT"})
	if err != nil {
		t.Fatal(err)
	}
	store := marketdata.NewAllMarketData("binance", "kraken")
	id, _ := reg.Lookup("BTCUSDT", models.Perp)
	coll, _ := store.Collection("binance")

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	md := models.NewMarketData(100, 1, 102, 3)
	md.ExchangeTime = now.Add(-250 * time.Millisecond)
	coll.Insert(id, md)

	var buf bytes.Buffer
	d := New(store, reg, &buf, 0)
	d.now = func() time.Time { return now }
	d.Print()

	out := buf.String()
	for _, want := range []string{"--- binance ---", "PERP-BTC-USDT", "101.000000", "03:04:04.750", "250ms", "N/A"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "kraken") {
		t.Errorf("empty exchange printed:\n%s", out)
	}
}

func TestPrintEmptyStore(t *testing.T) {
	reg, _ := symbols.Build([]string{"ETH"}, nil)
	var buf bytes.Buffer
	New(marketdata.NewAllMarketData("okx"), reg, &buf, time.Second).Print()
	if strings.Contains(buf.String(), "---") {
		t.Fatalf("unexpected section:\n%s", buf.String())
	}
}
