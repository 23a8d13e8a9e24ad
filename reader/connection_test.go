package reader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"cryptofeeds/internal/marketdata"
	"cryptofeeds/internal/symbols"
	"cryptofeeds/models"
)

// stubFeed parses "SYMBOL,bid,ask" text frames and answers "ping" with "pong".
type stubFeed struct {
	BaseFeed
	url       string
	buildErr  error
	heartbeat *Message
}

func (f *stubFeed) InstrumentType() models.InstrumentType { return models.Spot }

func (f *stubFeed) BuildURL([]string) (string, error) { return f.url, f.buildErr }

func (f *stubFeed) HeartbeatMessage() *Message { return f.heartbeat }

func (f *stubFeed) ProcessOther(conn Conn, msg Message) error {
	if string(msg.Data) == "ping" {
		return Send(conn, TextMessage("pong"))
	}
	return nil
}

func (f *stubFeed) ParseMessage(msg Message, receivedAt time.Time) (*Update, error) {
	text := string(msg.Data)
	if text == "ping" || text == "ack" {
		return nil, nil
	}
	parts := strings.Split(text, ",")
	if len(parts) != 3 {
		return nil, errors.New("malformed frame")
	}
	bid, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, err
	}
	ask, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return nil, err
	}
	return &Update{Symbol: parts[0], Data: models.NewMarketData(bid, 1, ask, 1)}, nil
}

type failingDialer struct {
	failures int
	calls    int
	next     Dialer
}

func (d *failingDialer) DialContext(ctx context.Context, url string, h http.Header) (*websocket.Conn, *http.Response, error) {
	d.calls++
	if d.failures < 0 || d.calls <= d.failures {
		return nil, nil, errors.New("connection refused")
	}
	return d.next.DialContext(ctx, url, h)
}

func newWSServer(t *testing.T, handler func(ws *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func drain(ws *websocket.Conn) {
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func testConfig() ConnectionConfig {
	return ConnectionConfig{
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		HeartbeatInterval: time.Second,
		MessageTimeout:    10 * time.Second,
		ConnectTimeout:    time.Second,
		WriteTimeout:      time.Second,
		RetryResetAfter:   5 * time.Minute,
	}
}

func testRegistry(t *testing.T) *symbols.Registry {
	t.Helper()
	reg, err := symbols.Build([]string{"BTC", "ETH"}, []string{"USDT"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return reg
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) add(s State) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) snapshot() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func (l *stateLog) contains(s State) bool {
	for _, got := range l.snapshot() {
		if got == s {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{10, 60 * time.Second},
		{100, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := CalculateBackoff(tt.retry, time.Second, 60*time.Second); got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %s, want %s", tt.retry, got, tt.want)
		}
	}

	if got := CalculateBackoff(30, time.Millisecond, time.Hour); got != 1024*time.Millisecond {
		t.Errorf("saturated backoff = %s, want 1.024s", got)
	}
}

func TestReconnectAfterTwoFailures(t *testing.T) {
	url := newWSServer(t, drain)
	feed := &stubFeed{url: url}
	conn := NewConnection("stub_spot", feed, []string{"BTC_USDT"}, marketdata.NewCollection(), testRegistry(t), testConfig())
	conn.SetDialer(&failingDialer{failures: 2, next: websocket.DefaultDialer})

	type observed struct {
		state State
		retry int
	}
	var events []observed
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn.OnStateChange(func(s State) {
		events = append(events, observed{s, conn.RetryCount()})
		if s == StateStreaming {
			cancel()
		}
	})

	if err := conn.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []State{
		StateConnecting, StateBackoffWait,
		StateConnecting, StateBackoffWait,
		StateConnecting, StateSubscribing, StateStreaming,
		StateShutdown,
	}
	if len(events) != len(want) {
		t.Fatalf("transitions = %v, want %v", events, want)
	}
	for i, s := range want {
		if events[i].state != s {
			t.Fatalf("transition %d = %s, want %s (all: %v)", i, events[i].state, s, events)
		}
	}
	if events[3].retry != 1 {
		t.Errorf("retry before second backoff = %d, want 1", events[3].retry)
	}
	if events[6].retry != 0 {
		t.Errorf("retry on streaming = %d, want 0", events[6].retry)
	}
	if conn.RetryCount() != 0 {
		t.Errorf("final retry count = %d, want 0", conn.RetryCount())
	}
}

func TestCrossedQuoteNeverStored(t *testing.T) {
	url := newWSServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte("BTCUSDT,100,99"))
		_ = ws.WriteMessage(websocket.TextMessage, []byte("ETHUSDT,10,11"))
		drain(ws)
	})
	reg := testRegistry(t)
	store := marketdata.NewCollection()
	conn := NewConnection("stub_spot", &stubFeed{url: url}, nil, store, reg, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	eth, _ := reg.Lookup("ETHUSDT", models.Spot)
	btc, _ := reg.Lookup("BTCUSDT", models.Spot)
	waitFor(t, 2*time.Second, func() bool {
		_, ok := store.Get(eth)
		return ok
	})
	if md, ok := store.Get(btc); ok {
		t.Fatalf("crossed quote stored: %+v", md)
	}
	md, _ := store.Get(eth)
	if md.Bid != 10 || md.Ask != 11 || md.ReceivedTime.IsZero() {
		t.Fatalf("unexpected ETH quote: %+v", md)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestBadFramesAreNotFatal(t *testing.T) {
	url := newWSServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte("garbage"))
		_ = ws.WriteMessage(websocket.TextMessage, []byte("DOGEUSDT,1,2"))
		_ = ws.WriteMessage(websocket.TextMessage, []byte("ack"))
		_ = ws.WriteMessage(websocket.TextMessage, []byte("btc-usdt,100,101"))
		drain(ws)
	})
	reg := testRegistry(t)
	store := marketdata.NewCollection()
	conn := NewConnection("stub_spot", &stubFeed{url: url}, nil, store, reg, testConfig())
	states := &stateLog{}
	conn.OnStateChange(states.add)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	btc, _ := reg.Lookup("BTCUSDT", models.Spot)
	waitFor(t, 2*time.Second, func() bool {
		_, ok := store.Get(btc)
		return ok
	})
	if states.contains(StateBackoffWait) {
		t.Fatalf("connection reconnected on bad frames: %v", states.snapshot())
	}
	if store.Len() != 1 {
		t.Fatalf("store has %d entries, want 1", store.Len())
	}

	cancel()
	<-done
}

func TestProcessOtherAnswersPing(t *testing.T) {
	got := make(chan string, 1)
	url := newWSServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte("ping"))
		_, data, err := ws.ReadMessage()
		if err == nil {
			got <- string(data)
		}
		drain(ws)
	})
	conn := NewConnection("stub_spot", &stubFeed{url: url}, nil, marketdata.NewCollection(), testRegistry(t), testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	select {
	case reply := <-got:
		if reply != "pong" {
			t.Fatalf("reply = %q, want pong", reply)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reply to ping")
	}
	cancel()
	<-done
}

func TestHeartbeatMessageSent(t *testing.T) {
	got := make(chan string, 1)
	url := newWSServer(t, func(ws *websocket.Conn) {
		_, data, err := ws.ReadMessage()
		if err == nil {
			got <- string(data)
		}
		drain(ws)
	})
	hb := TextMessage(`{"op":"ping"}`)
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	conn := NewConnection("stub_spot", &stubFeed{url: url, heartbeat: &hb}, nil, marketdata.NewCollection(), testRegistry(t), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	select {
	case msg := <-got:
		if msg != `{"op":"ping"}` {
			t.Fatalf("heartbeat = %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat received")
	}
	cancel()
	<-done
}

func TestIdleConnectionIsRecycled(t *testing.T) {
	release := make(chan struct{})
	url := newWSServer(t, func(ws *websocket.Conn) {
		// Never read, so pings go unanswered.
		<-release
	})
	t.Cleanup(func() { close(release) })

	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.MessageTimeout = 50 * time.Millisecond
	conn := NewConnection("stub_spot", &stubFeed{url: url}, nil, marketdata.NewCollection(), testRegistry(t), cfg)

	var states []State
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn.OnStateChange(func(s State) {
		states = append(states, s)
		if s == StateBackoffWait {
			cancel()
		}
	})

	start := time.Now()
	if err := conn.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []State{StateConnecting, StateSubscribing, StateStreaming, StateBackoffWait, StateShutdown}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
	if elapsed := time.Since(start); elapsed < cfg.MessageTimeout {
		t.Fatalf("recycled after %s, before the message timeout", elapsed)
	}
}

func TestBuildURLErrorShutsDown(t *testing.T) {
	feed := &stubFeed{buildErr: errors.New("no symbols")}
	conn := NewConnection("stub_spot", feed, nil, marketdata.NewCollection(), testRegistry(t), testConfig())
	states := &stateLog{}
	conn.OnStateChange(states.add)

	err := conn.Run(context.Background())
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Run err = %v, want ErrInvalidConfig", err)
	}
	got := states.snapshot()
	if len(got) != 2 || got[0] != StateConnecting || got[1] != StateShutdown {
		t.Fatalf("states = %v", got)
	}
}

type preparingFeed struct {
	stubFeed
	errs  []error
	calls int
}

func (f *preparingFeed) Prepare(context.Context, []string) error {
	f.calls++
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func TestPrepareErrors(t *testing.T) {
	t.Run("config error stops", func(t *testing.T) {
		feed := &preparingFeed{errs: []error{ConfigError("symbol %s not listed", "FOOUSDT")}}
		conn := NewConnection("stub_spot", feed, nil, marketdata.NewCollection(), testRegistry(t), testConfig())
		if err := conn.Run(context.Background()); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("Run err = %v, want ErrInvalidConfig", err)
		}
	})

	t.Run("transient error retries once prepared", func(t *testing.T) {
		url := newWSServer(t, drain)
		feed := &preparingFeed{stubFeed: stubFeed{url: url}, errs: []error{errors.New("timeout")}}
		conn := NewConnection("stub_spot", feed, nil, marketdata.NewCollection(), testRegistry(t), testConfig())
		var states []State
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		conn.OnStateChange(func(s State) {
			states = append(states, s)
			if s == StateStreaming {
				cancel()
			}
		})
		if err := conn.Run(ctx); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if states[1] != StateBackoffWait || feed.calls != 2 {
			t.Fatalf("states = %v, prepare calls = %d", states, feed.calls)
		}
	})
}

func TestShutdownInterruptsBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour
	conn := NewConnection("stub_spot", &stubFeed{url: "ws://127.0.0.1:1"}, nil, marketdata.NewCollection(), testRegistry(t), cfg)
	conn.SetDialer(&failingDialer{failures: -1})

	ctx, cancel := context.WithCancel(context.Background())
	conn.OnStateChange(func(s State) {
		if s == StateBackoffWait {
			cancel()
		}
	})

	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("backoff wait ignored cancellation")
	}
	if conn.State() != StateShutdown {
		t.Fatalf("state = %s, want shutdown", conn.State())
	}
}

func TestRetryResetAfterHealthyWindow(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	conn := NewConnection("stub_spot", &stubFeed{}, nil, marketdata.NewCollection(), testRegistry(t), testConfig())

	conn.retryCount = 3
	conn.lastSuccess = base
	conn.now = func() time.Time { return base.Add(time.Minute) }
	if !conn.backoff(context.Background()) {
		t.Fatal("backoff aborted")
	}
	if conn.retryCount != 4 {
		t.Fatalf("retry inside window = %d, want 4", conn.retryCount)
	}

	conn.now = func() time.Time { return base.Add(6 * time.Minute) }
	if !conn.backoff(context.Background()) {
		t.Fatal("backoff aborted")
	}
	if conn.retryCount != 1 {
		t.Fatalf("retry after window = %d, want 1", conn.retryCount)
	}
}

func TestSpawnAndWait(t *testing.T) {
	url := newWSServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte("BTCUSDT,100,101"))
		drain(ws)
	})
	reg := testRegistry(t)
	store := marketdata.NewAllMarketData("alpha", "beta")
	targets := []Target{
		{Name: "alpha_spot", Exchange: "alpha", Feed: &stubFeed{url: url}},
		{Name: "beta_spot", Exchange: "beta", Feed: &stubFeed{buildErr: errors.New("bad")}},
	}

	g, err := Spawn(context.Background(), targets, store, reg, testConfig())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	btc, _ := reg.Lookup("BTCUSDT", models.Spot)
	waitFor(t, 2*time.Second, func() bool {
		_, ok := store.Get("alpha", btc)
		return ok
	})
	if _, ok := store.Get("beta", btc); ok {
		t.Fatal("quote written to the wrong exchange")
	}

	g.Shutdown()
	if !g.Wait(2 * time.Second) {
		t.Fatal("connections did not stop within grace period")
	}
	errs := g.Errors()
	if !errors.Is(errs["beta_spot"], ErrInvalidConfig) || errs["alpha_spot"] != nil {
		t.Fatalf("Errors = %v", errs)
	}
	if names := g.Names(); len(names) != 2 {
		t.Fatalf("Names = %v", names)
	}
	states := g.States()
	if states["alpha_spot"] != "shutdown" || states["beta_spot"] != "shutdown" {
		t.Fatalf("States = %v", states)
	}
}

func TestSpawnUnknownExchange(t *testing.T) {
	store := marketdata.NewAllMarketData("alpha")
	_, err := Spawn(context.Background(), []Target{{Name: "x", Exchange: "missing", Feed: &stubFeed{}}}, store, testRegistry(t), testConfig())
	if !errors.Is(err, marketdata.ErrUnknownExchange) {
		t.Fatalf("Spawn err = %v", err)
	}
}
