package orderbook

import "testing"

func TestBestLevels(t *testing.T) {
	b := New()
	b.UpdateBids([]Update{{"100.0", 1.0}, {"101.0", 2.0}})
	b.UpdateAsks([]Update{{"102.0", 1.5}})

	bid, ok := b.BestBid()
	if !ok || bid.Price != 101 || bid.Size != 2 {
		t.Fatalf("BestBid = %+v, %v; want 101/2", bid, ok)
	}
	ask, ok := b.BestAsk()
	if !ok || ask.Price != 102 || ask.Size != 1.5 {
		t.Fatalf("BestAsk = %+v, %v; want 102/1.5", ask, ok)
	}
}

func TestIdempotentUpsert(t *testing.T) {
	once := New()
	once.UpdateBids([]Update{{"100", 3}})
	twice := New()
	twice.UpdateBids([]Update{{"100", 3}})
	twice.UpdateBids([]Update{{"100", 3}})

	a, _ := once.BestBid()
	b, _ := twice.BestBid()
	if a != b {
		t.Fatalf("best bid differs: %+v vs %+v", a, b)
	}
	if twice.Bids().Len() != 1 {
		t.Fatalf("Len = %d, want 1", twice.Bids().Len())
	}
}

func TestZeroSizeRemoves(t *testing.T) {
	b := New()
	b.UpdateBids([]Update{{"100", 1}, {"101", 2}})
	b.UpdateBids([]Update{{"101", 0}})

	bid, ok := b.BestBid()
	if !ok || bid.Price != 100 {
		t.Fatalf("BestBid = %+v, %v; want 100", bid, ok)
	}

	b.UpdateBids([]Update{{"100", 0}})
	if _, ok := b.BestBid(); ok {
		t.Fatal("expected empty bid side")
	}
	if b.Bids().Len() != 0 {
		t.Fatalf("zero-size level retained, Len = %d", b.Bids().Len())
	}
}

func TestRemoveUnknownLevel(t *testing.T) {
	b := New()
	b.UpdateAsks([]Update{{"50", 1}})
	b.UpdateAsks([]Update{{"49", 0}})
	ask, ok := b.BestAsk()
	if !ok || ask.Price != 50 {
		t.Fatalf("BestAsk = %+v, %v", ask, ok)
	}
}

func TestMalformedPricesSkipped(t *testing.T) {
	b := New()
	b.UpdateAsks([]Update{{"abc", 1}, {"", 2}, {"NaN", 3}, {"+Inf", 4}, {" 10.5 ", 5}})
	if b.Asks().Len() != 1 {
		t.Fatalf("Len = %d, want 1", b.Asks().Len())
	}
	ask, _ := b.BestAsk()
	if ask.Price != 10.5 || ask.Size != 5 {
		t.Fatalf("BestAsk = %+v", ask)
	}
}

func TestNumericOrdering(t *testing.T) {
	b := New()
	b.UpdateBids([]Update{{"9.5", 1}, {"10", 1}, {"100", 1}})
	bid, _ := b.BestBid()
	if bid.Price != 100 {
		t.Fatalf("BestBid = %v, want 100", bid.Price)
	}
	b.UpdateAsks([]Update{{"100", 1}, {"9.5", 1}, {"10", 1}})
	ask, _ := b.BestAsk()
	if ask.Price != 9.5 {
		t.Fatalf("BestAsk = %v, want 9.5", ask.Price)
	}
}

func TestLevels(t *testing.T) {
	b := New()
	b.UpdateBids([]Update{{"1", 1}, {"3", 1}, {"2", 1}})
	got := b.Bids().Levels(2)
	if len(got) != 2 || got[0].Price != 3 || got[1].Price != 2 {
		t.Fatalf("Levels = %+v", got)
	}
	if len(b.Bids().Levels(0)) != 0 {
		t.Fatal("expected no levels for n=0")
	}
}

func TestReset(t *testing.T) {
	b := New()
	b.UpdateBids([]Update{{"1", 1}})
	b.UpdateAsks([]Update{{"2", 1}})
	b.Reset()
	if _, ok := b.BestBid(); ok {
		t.Fatal("bid survived reset")
	}
	if _, ok := b.BestAsk(); ok {
		t.Fatal("ask survived reset")
	}
}

func TestBooksGet(t *testing.T) {
	books := Books{}
	a := books.Get("BTCUSDT")
	if books.Get("BTCUSDT") != a {
		t.Fatal("Get returned a different book for the same symbol")
	}
	if books.Get("ETHUSDT") == a {
		t.Fatal("Get shared a book across symbols")
	}
}

func TestFromPairs(t *testing.T) {
	got := FromPairs([][]string{{"100", "1.5"}, {"101"}, {"102", "x"}, {"103", "0", "4"}})
	if len(got) != 2 {
		t.Fatalf("FromPairs = %+v", got)
	}
	if got[0] != (Update{"100", 1.5}) || got[1] != (Update{"103", 0}) {
		t.Fatalf("FromPairs = %+v", got)
	}
}

func TestQuote(t *testing.T) {
	b := New()
	if !b.Quote().Empty() {
		t.Fatal("empty book produced a quote")
	}
	b.UpdateBids([]Update{{"99", 2}})
	q := b.Quote()
	if !q.HasBid || q.HasAsk || q.Bid != 99 || q.BidQty != 2 {
		t.Fatalf("one-sided quote = %+v", q)
	}
	b.UpdateAsks([]Update{{"100", 3}})
	q = b.Quote()
	if mid, ok := q.Midquote(); !ok || mid != 99.5 {
		t.Fatalf("mid = %v, %v", mid, ok)
	}
}
