package models

import "testing"

func TestMidquote(t *testing.T) {
	md := NewMarketData(100, 1, 102, 2)
	mid, ok := md.Midquote()
	if !ok || mid != 101 {
		t.Fatalf("mid = %v, %v; want 101, true", mid, ok)
	}

	oneSided := MarketData{Bid: 100, HasBid: true}
	if _, ok := oneSided.Midquote(); ok {
		t.Fatal("expected no midquote for one-sided quote")
	}
}

func TestCrossed(t *testing.T) {
	tests := []struct {
		name string
		md   MarketData
		want bool
	}{
		{"normal", NewMarketData(100, 1, 101, 1), false},
		{"crossed", NewMarketData(100, 1, 99, 1), true},
		{"locked", NewMarketData(100, 1, 100, 1), true},
		{"bid only", MarketData{Bid: 100, HasBid: true}, false},
	}
	for _, tt := range tests {
		if got := tt.md.Crossed(); got != tt.want {
			t.Errorf("%s: Crossed() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSpreadBps(t *testing.T) {
	md := NewMarketData(99, 1, 101, 1)
	bps, ok := md.SpreadBps()
	if !ok || bps != 200 {
		t.Fatalf("spread = %v, %v; want 200", bps, ok)
	}
}

func TestParseInstrumentType(t *testing.T) {
	cases := map[string]InstrumentType{
		"spot":   Spot,
		"PERP":   Perp,
		"swap":   Perp,
		"fut":    Futures,
		"Option": Option,
	}
	for in, want := range cases {
		got, err := ParseInstrumentType(in)
		if err != nil || got != want {
			t.Errorf("ParseInstrumentType(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseInstrumentType("bond"); err == nil {
		t.Fatal("expected error for unknown type")
	}
	if Futures.String() != "FUT" {
		t.Fatalf("Futures.String() = %s", Futures.String())
	}
}
