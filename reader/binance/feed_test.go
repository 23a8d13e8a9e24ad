package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cryptofeeds/models"
	"cryptofeeds/reader"
)

func TestBuildURL(t *testing.T) {
	spot, _ := New(models.Spot, reader.FeedOptions{})
	got, err := spot.BuildURL([]string{"BTC_USDT", "ETH_USDT"})
	if err != nil {
		t.Fatalf("BuildURL: %v", err)
	}
	want := "wss://stream.binance.com:9443/stream?streams=btcusdt@bookTicker/ethusdt@bookTicker"
	if got != want {
		t.Fatalf("BuildURL = %s, want %s", got, want)
	}

	perp, _ := New(models.Perp, reader.FeedOptions{})
	got, _ = perp.BuildURL([]string{"SOL_USDT"})
	if got != "wss://fstream.binance.com/stream?streams=solusdt@bookTicker" {
		t.Fatalf("perp BuildURL = %s", got)
	}

	if _, err := spot.BuildURL(nil); !errors.Is(err, reader.ErrInvalidConfig) {
		t.Fatalf("empty symbols err = %v", err)
	}
	if _, err := spot.BuildURL([]string{"NOPE"}); !errors.Is(err, reader.ErrInvalidConfig) {
		t.Fatalf("bad symbol err = %v", err)
	}
}

func TestNewRejectsOptions(t *testing.T) {
	if _, err := New(models.Option, reader.FeedOptions{}); !errors.Is(err, reader.ErrInvalidConfig) {
		t.Fatalf("New(Option) err = %v", err)
	}
}

func TestParseMessage(t *testing.T) {
	f, _ := New(models.Perp, reader.FeedOptions{})
	now := time.Unix(100, 0)
	frame := `{"stream":"btcusdt@bookTicker","data":{"e":"bookTicker","u":400900217,"E":1568014460893,"T":1568014460891,"s":"BTCUSDT","b":"25.35190000","B":"31.21000000","a":"25.36520000","A":"40.66000000"}}`

	upd, err := f.ParseMessage(reader.TextMessage(frame), now)
	if err != nil || upd == nil {
		t.Fatalf("ParseMessage = %v, %v", upd, err)
	}
	md := upd.Data
	if upd.Symbol != "BTCUSDT" || md.Bid != 25.3519 || md.Ask != 25.3652 || md.BidQty != 31.21 || md.AskQty != 40.66 {
		t.Fatalf("unexpected update: %+v", upd)
	}
	if md.ExchangeTime.UnixMilli() != 1568014460893 || !md.ReceivedTime.Equal(now) {
		t.Fatalf("unexpected timestamps: %+v", md)
	}
}

func TestParseMessageSpotWithoutEventTime(t *testing.T) {
	f, _ := New(models.Spot, reader.FeedOptions{})
	frame := `{"stream":"ethusdt@bookTicker","data":{"u":1,"s":"ETHUSDT","b":"1800.1","B":"2","a":"1800.2","A":"3"}}`
	upd, err := f.ParseMessage(reader.TextMessage(frame), time.Now())
	if err != nil || upd == nil {
		t.Fatalf("ParseMessage = %v, %v", upd, err)
	}
	if !upd.Data.ExchangeTime.IsZero() {
		t.Fatalf("spot exchange time = %v, want zero", upd.Data.ExchangeTime)
	}
}

func TestParseMessageRawStream(t *testing.T) {
	f, _ := New(models.Spot, reader.FeedOptions{})
	upd, err := f.ParseMessage(reader.TextMessage(`{"u":1,"s":"BNBUSDT","b":"1","B":"1","a":"2","A":"1"}`), time.Now())
	if err != nil || upd == nil || upd.Symbol != "BNBUSDT" {
		t.Fatalf("ParseMessage = %+v, %v", upd, err)
	}
}

func TestParseMessageDiscardsAndErrors(t *testing.T) {
	f, _ := New(models.Spot, reader.FeedOptions{})
	if upd, err := f.ParseMessage(reader.TextMessage(`{"result":null,"id":1}`), time.Now()); upd != nil || err != nil {
		t.Fatalf("subscription result = %v, %v", upd, err)
	}
	if _, err := f.ParseMessage(reader.TextMessage(`not json`), time.Now()); err == nil {
		t.Fatal("expected error for malformed frame")
	}
	bad := `{"data":{"s":"BTCUSDT","b":"x","B":"1","a":"2","A":"1"}}`
	if _, err := f.ParseMessage(reader.TextMessage(bad), time.Now()); err == nil {
		t.Fatal("expected error for bad price")
	}
	for _, frame := range []string{
		`{"data":{"s":"BTCUSDT","b":"1","B":"","a":"2","A":"1"}}`,
		`{"data":{"s":"BTCUSDT","b":"1","B":"1","a":"2","A":"n/a"}}`,
	} {
		if upd, err := f.ParseMessage(reader.TextMessage(frame), time.Now()); err == nil || upd != nil {
			t.Fatalf("malformed qty %s = %+v, %v", frame, upd, err)
		}
	}
}

func TestParseMessageFuturesEventKeys(t *testing.T) {
	f, _ := New(models.Perp, reader.FeedOptions{})
	frame := `{"data":{"e":"bookTicker","u":7,"s":"ETHUSDT","b":"3000.5","B":"4","a":"3000.6","A":"5","T":1700000000001,"E":1700000000002}}`
	upd, err := f.ParseMessage(reader.TextMessage(frame), time.Now())
	if err != nil || upd == nil {
		t.Fatalf("ParseMessage = %v, %v", upd, err)
	}
	if got := upd.Data.ExchangeTime.UnixMilli(); got != 1700000000002 {
		t.Fatalf("exchange time = %d, want event time", got)
	}
}

func TestPrepareValidatesSymbols(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/exchangeInfo") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"timezone":"UTC","serverTime":1,"symbols":[{"symbol":"BTCUSDT","status":"TRADING"},{"symbol":"LUNAUSDT","status":"BREAK"}]}`))
	}))
	defer srv.Close()

	for _, it := range []models.InstrumentType{models.Spot, models.Perp} {
		f, err := New(it, reader.FeedOptions{RESTURL: srv.URL, ValidateSymbols: true})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := f.Prepare(context.Background(), []string{"BTC_USDT"}); err != nil {
			t.Fatalf("%s Prepare listed symbol: %v", it, err)
		}
		if err := f.Prepare(context.Background(), []string{"LUNA_USDT"}); !errors.Is(err, reader.ErrInvalidConfig) {
			t.Fatalf("%s Prepare halted symbol err = %v", it, err)
		}
	}

	skip, _ := New(models.Spot, reader.FeedOptions{RESTURL: "http://127.0.0.1:1"})
	if err := skip.Prepare(context.Background(), []string{"ANY_USDT"}); err != nil {
		t.Fatalf("Prepare without validation: %v", err)
	}
}
