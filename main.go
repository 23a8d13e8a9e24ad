package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"cryptofeeds/config"
	"cryptofeeds/internal/api"
	"cryptofeeds/internal/display"
	"cryptofeeds/internal/fees"
	"cryptofeeds/internal/marketdata"
	"cryptofeeds/internal/metrics"
	"cryptofeeds/internal/publisher"
	"cryptofeeds/internal/symbols"
	"cryptofeeds/logger"
	"cryptofeeds/reader"
	"cryptofeeds/reader/feeds"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	printConfig := flag.Bool("print", false, "Print the resolved configuration and exit")
	flag.Parse()

	path := config.ResolvePath(*configPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Error("Failed to load configuration")
		os.Exit(1)
	}

	if *printConfig {
		printable := *cfg
		if printable.Publisher.Redis.Password != "" {
			printable.Publisher.Redis.Password = "***"
		}
		out, err := yaml.Marshal(&printable)
		if err != nil {
			log.WithError(err).Error("Failed to encode configuration")
			os.Exit(1)
		}
		fmt.Print(string(out))
		return
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service":     cfg.Cryptofeeds.Name,
		"version":     cfg.Cryptofeeds.Version,
		"environment": env,
		"config":      path,
	}).Info("starting cryptofeeds")

	registry, err := loadRegistry(cfg.Registry)
	if err != nil {
		log.WithError(err).Error("Failed to build symbol registry")
		os.Exit(1)
	}
	log.WithField("symbols", registry.Len()).Info("symbol registry built")

	targets, err := feeds.Build(cfg)
	if err != nil {
		log.WithError(err).Error("Invalid feed configuration")
		os.Exit(1)
	}

	store := marketdata.NewAllMarketData(exchanges(targets)...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Sinks are built before any connection starts so a failure exits cleanly.
	sinks, err := buildSinks(ctx, cfg.Publisher)
	if err != nil {
		log.WithError(err).Error("Failed to initialize publisher")
		cancel()
		os.Exit(1)
	}

	if cfg.Report.Enabled || strings.EqualFold(cfg.Logging.Level, "report") {
		logger.StartReport(ctx, log, cfg.Report.Interval)
	}
	if cfg.CloudWatch.Enabled {
		logger.InitCloudWatch(ctx, cfg.CloudWatch.Region, cfg.CloudWatch.Namespace, cfg.CloudWatch.Dashboard)
	}

	var wg sync.WaitGroup

	metrics.Init()
	if cfg.Metrics.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
	}

	group, err := reader.Spawn(ctx, targets, store, registry, feeds.ConnectionConfig(cfg.Connection))
	if err != nil {
		log.WithError(err).Error("Failed to start feed connections")
		closeSinks(sinks)
		cancel()
		os.Exit(1)
	}

	if srv := api.NewServer(cfg.API, store, registry, fees.NewTable(cfg.Fees), group, log); srv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				log.WithError(err).Warn("api server stopped")
			}
		}()
	}

	if len(sinks) > 0 {
		pub := publisher.New(store, registry, cfg.Publisher.Interval, sinks...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pub.Run(ctx); err != nil {
				log.WithError(err).Warn("publisher stopped")
			}
		}()
	}

	if cfg.Display.Enabled && !config.IsProductionLike(env) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			display.New(store, registry, os.Stdout, cfg.Display.Interval).Run(ctx)
		}()
	}

	log.WithField("connections", len(targets)).Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	group.Shutdown()
	cancel()

	if !group.Wait(cfg.Connection.ShutdownGrace) {
		log.WithField("grace", cfg.Connection.ShutdownGrace.String()).Warn("graceful shutdown timeout exceeded")
	}
	for name, err := range group.Errors() {
		log.WithError(err).WithField("feed", name).Warn("connection exited with error")
	}
	wg.Wait()

	log.Info("cryptofeeds stopped")
}

// loadRegistry builds the registry from the symbols file when one is
// configured, otherwise from the inline base assets.
func loadRegistry(rc config.RegistryConfig) (*symbols.Registry, error) {
	if rc.Path == "" {
		return symbols.Build(rc.BaseAssets, rc.Quotes)
	}
	f, err := symbols.LoadFile(rc.Path)
	if err != nil {
		return nil, err
	}
	quotes := f.Quotes
	if len(quotes) == 0 {
		quotes = rc.Quotes
	}
	return symbols.Build(append(f.BaseAssets, rc.BaseAssets...), quotes)
}

func exchanges(targets []reader.Target) []string {
	seen := make(map[string]struct{}, len(targets))
	var out []string
	for _, t := range targets {
		if _, ok := seen[t.Exchange]; ok {
			continue
		}
		seen[t.Exchange] = struct{}{}
		out = append(out, t.Exchange)
	}
	sort.Strings(out)
	return out
}

func buildSinks(ctx context.Context, pc config.PublisherConfig) ([]publisher.Sink, error) {
	var sinks []publisher.Sink
	if pc.Redis.Enabled {
		s, err := publisher.NewRedisSink(ctx, pc.Redis)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if pc.Kafka.Enabled {
		s, err := publisher.NewKafkaSink(pc.Kafka)
		if err != nil {
			closeSinks(sinks)
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func closeSinks(sinks []publisher.Sink) {
	for _, s := range sinks {
		s.Close()
	}
}
