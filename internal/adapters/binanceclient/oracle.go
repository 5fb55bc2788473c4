package binanceclient

import (
	"context"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"

	"defiLoopBot/internal/ports"
)

// defaultSymbols maps collateral assets to Binance spot tickers. Liquid-staked
// SOL variants are proxied by the SOL price; close enough for sizing and
// reserved-balance bookkeeping.
var defaultSymbols = map[string]string{
	"SOL":     "SOLUSDT",
	"mSOL":    "SOLUSDT",
	"jitoSOL": "SOLUSDT",
	"ETH":     "ETHUSDT",
	"BTC":     "BTCUSDT",
}

// Oracle implements the ports.PriceOracle interface using Binance spot
// ticker prices. Only public endpoints are used, so API keys are optional.
type Oracle struct {
	client  *binance.Client
	limiter *rate.Limiter
	logger  ports.Logger
	symbols map[string]string
}

// Config holds configuration specific to the Binance oracle adapter.
type Config struct {
	APIKey            string
	SecretKey         string
	Logger            ports.Logger
	RequestsPerSecond float64           // Rate limit for ticker queries
	Symbols           map[string]string // Optional overrides of the asset→ticker map
}

// New creates a new Binance price oracle.
func New(cfg Config) (*Oracle, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance oracle")
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	symbols := make(map[string]string, len(defaultSymbols)+len(cfg.Symbols))
	for asset, sym := range defaultSymbols {
		symbols[asset] = sym
	}
	for asset, sym := range cfg.Symbols {
		symbols[asset] = sym
	}

	return &Oracle{
		client:  binance.NewClient(cfg.APIKey, cfg.SecretKey),
		limiter: rate.NewLimiter(rate.Limit(rps), 10),
		logger:  cfg.Logger,
		symbols: symbols,
	}, nil
}

// Price returns the current USD price for an asset. Stable assets are pegged
// at 1.0 without a network call.
func (o *Oracle) Price(ctx context.Context, asset string) (float64, error) {
	switch asset {
	case "USDC", "USDT", "USD":
		return 1.0, nil
	}

	symbol, ok := o.symbols[asset]
	if !ok {
		return 0, fmt.Errorf("asset %q has no ticker mapping: %w", asset, ports.ErrPriceUnavailable)
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limiter wait for %s: %w", symbol, ports.ErrContextCanceled)
	}

	prices, err := o.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		o.logger.Warn(ctx, "Ticker price query failed", map[string]interface{}{
			"asset":  asset,
			"symbol": symbol,
			"error":  err.Error(),
		})
		return 0, fmt.Errorf("ticker query for %s: %w", symbol, ports.ErrPriceUnavailable)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no ticker returned for %s: %w", symbol, ports.ErrPriceUnavailable)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed ticker price %q for %s: %w", prices[0].Price, symbol, ports.ErrPriceUnavailable)
	}
	return price, nil
}
