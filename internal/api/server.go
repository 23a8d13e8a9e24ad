// Package api serves read-only queries over the market data store.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"cryptofeeds/config"
	"cryptofeeds/internal/fees"
	"cryptofeeds/internal/marketdata"
	"cryptofeeds/internal/symbols"
	"cryptofeeds/logger"
	"cryptofeeds/models"
)

// StateSource reports connection lifecycle states by connection name.
type StateSource interface {
	States() map[string]string
}

type Server struct {
	addr       string
	store      *marketdata.AllMarketData
	registry   *symbols.Registry
	fees       *fees.Table
	states     StateSource
	log        *logger.Log
	resources  *hostSampler
	httpServer *http.Server
}

// NewServer returns nil when the API is disabled. states may be nil.
func NewServer(cfg config.APIConfig, store *marketdata.AllMarketData, registry *symbols.Registry, feeTable *fees.Table, states StateSource, log *logger.Log) *Server {
	if !cfg.Enabled {
		return nil
	}
	return &Server{
		addr:      normalizeAddress(cfg.Addr),
		store:     store,
		registry:  registry,
		fees:      feeTable,
		states:    states,
		log:       log,
		resources: newHostSampler(0, 0, "", log),
	}
}

// Address is the listen address after normalisation.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.WithComponent("api").WithField("addr", s.addr).Info("query api listening")

	sampleCtx, stopSampling := context.WithCancel(ctx)
	defer func() {
		stopSampling()
		s.resources.wait()
	}()
	s.resources.start(sampleCtx)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.health)
	v1 := router.Group("/v1")
	v1.GET("/exchanges", s.exchanges)
	v1.GET("/symbols", s.listSymbols)
	v1.GET("/quotes/:exchange", s.quotes)
	v1.GET("/quotes/:exchange/:symbol", s.quote)
	v1.GET("/midquote/:exchange/:symbol", s.midquote)
	v1.GET("/fees/:exchange", s.exchangeFees)
	v1.GET("/resources", s.hostResources)
	return router
}

func (s *Server) hostResources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"samples": s.resources.snapshot()})
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{"status": "ok", "symbols": s.registry.Len(), "exchanges": len(s.store.Exchanges())}
	if s.states != nil {
		body["connections"] = s.states.States()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) exchanges(c *gin.Context) {
	names := s.store.Exchanges()
	out := make([]gin.H, 0, len(names))
	for _, name := range names {
		coll, _ := s.store.Collection(name)
		out = append(out, gin.H{"name": name, "quotes": coll.Len()})
	}
	c.JSON(http.StatusOK, gin.H{"exchanges": out})
}

func (s *Server) listSymbols(c *gin.Context) {
	out := make([]gin.H, 0, s.registry.Len())
	for i := 0; i < s.registry.Len(); i++ {
		id := symbols.SymbolID(i)
		name, _ := s.registry.Symbol(id)
		out = append(out, gin.H{"id": id, "canonical": name, "aliases": s.registry.Aliases(id)})
	}
	c.JSON(http.StatusOK, gin.H{"symbols": out})
}

type quoteView struct {
	Symbol string `json:"symbol"`
	models.MarketData
	Mid       *float64 `json:"mid,omitempty"`
	SpreadBps *float64 `json:"spread_bps,omitempty"`
}

func view(name string, md models.MarketData) quoteView {
	v := quoteView{Symbol: name, MarketData: md}
	if mid, ok := md.Midquote(); ok {
		v.Mid = &mid
	}
	if bps, ok := md.SpreadBps(); ok {
		v.SpreadBps = &bps
	}
	return v
}

func (s *Server) collection(c *gin.Context) (*marketdata.Collection, bool) {
	coll, err := s.store.Collection(strings.ToLower(c.Param("exchange")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return coll, true
}

func (s *Server) quotes(c *gin.Context) {
	coll, ok := s.collection(c)
	if !ok {
		return
	}
	entries := coll.Snapshot()
	out := make([]quoteView, 0, len(entries))
	for _, e := range entries {
		name, _ := s.registry.Symbol(e.ID)
		out = append(out, view(name, e.Data))
	}
	c.JSON(http.StatusOK, gin.H{"exchange": c.Param("exchange"), "quotes": out})
}

// resolve reads :symbol and ?type= (spot by default).
func (s *Server) resolve(c *gin.Context) (symbols.SymbolID, string, bool) {
	it := models.Spot
	if t := c.Query("type"); t != "" {
		parsed, err := models.ParseInstrumentType(t)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return 0, "", false
		}
		it = parsed
	}
	id, ok := marketdata.Resolve(s.registry, c.Param("symbol"), it)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol " + c.Param("symbol")})
		return 0, "", false
	}
	name, _ := s.registry.Symbol(id)
	return id, name, true
}

func (s *Server) quote(c *gin.Context) {
	coll, ok := s.collection(c)
	if !ok {
		return
	}
	id, name, ok := s.resolve(c)
	if !ok {
		return
	}
	md, ok := coll.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no quote for " + name})
		return
	}
	c.JSON(http.StatusOK, view(name, md))
}

func (s *Server) midquote(c *gin.Context) {
	coll, ok := s.collection(c)
	if !ok {
		return
	}
	id, name, ok := s.resolve(c)
	if !ok {
		return
	}
	mid, ok := coll.GetMidquoteWithTimestamps(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no two-sided quote for " + name})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": name, "mid": mid.Price, "exchange_time": mid.ExchangeTime, "received_time": mid.ReceivedTime})
}

func (s *Server) exchangeFees(c *gin.Context) {
	ex, ok := s.fees.Exchange(c.Param("exchange"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no fee schedule for " + c.Param("exchange")})
		return
	}
	c.JSON(http.StatusOK, ex)
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}
	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil && parsed.Host != "" {
			addr = parsed.Host
		}
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		if ip := net.ParseIP(addr); ip != nil || !strings.Contains(addr, ":") {
			return net.JoinHostPort(addr, "8080")
		}
		return addr
	}
	if host == "" || host == "*" {
		host = "0.0.0.0"
	}
	if port == "" {
		port = "8080"
	}
	return net.JoinHostPort(host, port)
}
