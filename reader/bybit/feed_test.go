package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cryptofeeds/models"
	"cryptofeeds/reader"
)

type recordingConn struct {
	frames []string
}

func (c *recordingConn) WriteMessage(_ int, data []byte) error {
	c.frames = append(c.frames, string(data))
	return nil
}

func TestBuildURL(t *testing.T) {
	spot, _ := New(models.Spot, reader.FeedOptions{})
	if u, err := spot.BuildURL([]string{"BTC_USDT"}); err != nil || u != spotURL {
		t.Fatalf("spot BuildURL = %s, %v", u, err)
	}
	perp, _ := New(models.Perp, reader.FeedOptions{})
	if u, _ := perp.BuildURL([]string{"BTC_USDT"}); u != perpURL {
		t.Fatalf("perp BuildURL = %s", u)
	}
	custom, _ := New(models.Perp, reader.FeedOptions{URL: "ws://localhost:1"})
	if u, _ := custom.BuildURL([]string{"BTC_USDT"}); u != "ws://localhost:1" {
		t.Fatalf("override BuildURL = %s", u)
	}
	if _, err := spot.BuildURL([]string{"???"}); !errors.Is(err, reader.ErrInvalidConfig) {
		t.Fatalf("bad symbol err = %v", err)
	}
}

func TestSendSubscriptionChunks(t *testing.T) {
	f, _ := New(models.Spot, reader.FeedOptions{})
	syms := make([]string, 0, 12)
	for _, b := range []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L"} {
		syms = append(syms, b+"_USDT")
	}
	conn := &recordingConn{}
	if err := f.SendSubscription(conn, syms); err != nil {
		t.Fatalf("SendSubscription: %v", err)
	}
	if len(conn.frames) != 2 {
		t.Fatalf("sent %d frames, want 2", len(conn.frames))
	}
	var req struct {
		Op   string   `json:"op"`
		Args []string `json:"args"`
	}
	if err := json.Unmarshal([]byte(conn.frames[0]), &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Op != "subscribe" || len(req.Args) != 10 || req.Args[0] != "orderbook.1.AUSDT" {
		t.Fatalf("first request = %+v", req)
	}
}

func TestHeartbeat(t *testing.T) {
	f, _ := New(models.Perp, reader.FeedOptions{})
	hb := f.HeartbeatMessage()
	if hb == nil || string(hb.Data) != `{"op":"ping"}` {
		t.Fatalf("heartbeat = %v", hb)
	}
}

func TestParseSnapshotAndDelta(t *testing.T) {
	f, _ := New(models.Perp, reader.FeedOptions{})
	now := time.Unix(5, 0)

	snapshot := `{"topic":"orderbook.1.BTCUSDT","type":"snapshot","ts":1672304484978,"data":{"s":"BTCUSDT","b":[["16493.50","0.006"]],"a":[["16611.00","0.029"]],"u":18521288,"seq":7961638724}}`
	upd, err := f.ParseMessage(reader.TextMessage(snapshot), now)
	if err != nil || upd == nil {
		t.Fatalf("snapshot = %v, %v", upd, err)
	}
	if upd.Symbol != "BTCUSDT" || upd.Data.Bid != 16493.5 || upd.Data.Ask != 16611 || upd.Data.ExchangeTime.UnixMilli() != 1672304484978 {
		t.Fatalf("snapshot update = %+v", upd)
	}

	// Delta that only touches the ask keeps the previous bid.
	delta := `{"topic":"orderbook.1.BTCUSDT","type":"delta","ts":1672304485000,"data":{"s":"BTCUSDT","b":[],"a":[["16611.00","0"],["16600.00","1.5"]],"u":18521289}}`
	upd, err = f.ParseMessage(reader.TextMessage(delta), now)
	if err != nil || upd == nil {
		t.Fatalf("delta = %v, %v", upd, err)
	}
	if upd.Data.Bid != 16493.5 || upd.Data.Ask != 16600 || upd.Data.AskQty != 1.5 {
		t.Fatalf("delta update = %+v", upd.Data)
	}

	// A new snapshot replaces all levels.
	snapshot2 := `{"topic":"orderbook.1.BTCUSDT","type":"snapshot","ts":1,"data":{"s":"BTCUSDT","b":[["16000","1"]],"a":[["16001","1"]]}}`
	upd, _ = f.ParseMessage(reader.TextMessage(snapshot2), now)
	if upd.Data.Bid != 16000 || upd.Data.Ask != 16001 {
		t.Fatalf("snapshot reset = %+v", upd.Data)
	}
}

func TestParseControlFrames(t *testing.T) {
	f, _ := New(models.Spot, reader.FeedOptions{})
	for _, frame := range []string{
		`{"success":true,"ret_msg":"subscribe","conn_id":"x","op":"subscribe"}`,
		`{"success":true,"ret_msg":"pong","conn_id":"x","op":"ping"}`,
		`{"topic":"tickers.BTCUSDT","data":{"s":"BTCUSDT"}}`,
	} {
		if upd, err := f.ParseMessage(reader.TextMessage(frame), time.Now()); upd != nil || err != nil {
			t.Fatalf("ParseMessage(%s) = %v, %v", frame, upd, err)
		}
	}
	if _, err := f.ParseMessage(reader.TextMessage(`{"success":false,"ret_msg":"invalid topic","op":"subscribe"}`), time.Now()); err == nil {
		t.Fatal("expected error for rejected subscription")
	}
	if _, err := f.ParseMessage(reader.TextMessage(`{`), time.Now()); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestPrepareValidatesSymbols(t *testing.T) {
	var categories []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/market/instruments-info" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		categories = append(categories, q.Get("category"))
		w.Header().Set("Content-Type", "application/json")
		if q.Get("cursor") == "" {
			_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"category":"` + q.Get("category") + `","list":[{"symbol":"BTCUSDT","status":"Trading"},{"symbol":"LUNAUSDT","status":"Closed"}],"nextPageCursor":"page2"},"time":1}`))
			return
		}
		_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"category":"` + q.Get("category") + `","list":[{"symbol":"ETHUSDT","status":"Trading"}],"nextPageCursor":""},"time":1}`))
	}))
	defer srv.Close()

	for _, it := range []models.InstrumentType{models.Spot, models.Perp} {
		categories = nil
		f, err := New(it, reader.FeedOptions{RESTURL: srv.URL, ValidateSymbols: true})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := f.Prepare(context.Background(), []string{"BTC_USDT", "ETH_USDT"}); err != nil {
			t.Fatalf("%s Prepare listed symbols: %v", it, err)
		}
		if len(categories) != 2 || categories[0] != f.category() {
			t.Fatalf("%s requested categories %v", it, categories)
		}
		if err := f.Prepare(context.Background(), []string{"LUNA_USDT"}); !errors.Is(err, reader.ErrInvalidConfig) {
			t.Fatalf("%s Prepare closed symbol err = %v", it, err)
		}
	}

	skip, _ := New(models.Perp, reader.FeedOptions{RESTURL: "http://127.0.0.1:1"})
	if err := skip.Prepare(context.Background(), []string{"ANY_USDT"}); err != nil {
		t.Fatalf("Prepare without validation: %v", err)
	}
}

func TestPrepareReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"retCode":10001,"retMsg":"params error","result":{},"time":1}`))
	}))
	defer srv.Close()

	f, _ := New(models.Spot, reader.FeedOptions{RESTURL: srv.URL, ValidateSymbols: true})
	err := f.Prepare(context.Background(), []string{"BTC_USDT"})
	if err == nil || errors.Is(err, reader.ErrInvalidConfig) {
		t.Fatalf("Prepare err = %v, want fetch error", err)
	}
}
