package fx

import (
	"context"
	"time"

	"github.com/settlecoord/coordinator/internal/coordinatorerrors"
	"github.com/settlecoord/coordinator/internal/ids"
	"github.com/settlecoord/coordinator/internal/money"
)

// EngineConfig holds the engine's tunables, aggregating its three
// collaborators' configs plus the spread gate and cache on/off switch.
type EngineConfig struct {
	Cache        RateCacheConfig
	RateLock     RateLockConfig
	Aggregator   AggregatorConfig
	MaxSpreadBps int64
	UseCache     bool
}

// DefaultEngineConfig returns the documented defaults (200 bps max
// spread, cache enabled).
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Cache:        DefaultRateCacheConfig(),
		RateLock:     DefaultRateLockConfig(),
		Aggregator:   DefaultAggregatorConfig(),
		MaxSpreadBps: 200,
		UseCache:     true,
	}
}

// Engine is the coordinator's single point of access to FX quotes and
// rate locks: a cache in front of a provider aggregator, plus a
// rate-lock manager for pinning a rate across the time between
// acquiring it and consuming it at commit.
type Engine struct {
	provider RateProvider
	cache    *RateCache
	locks    *RateLockManager
	config   EngineConfig
}

// NewEngine wires a single RateProvider (typically an *Aggregator
// wrapping several upstream providers, so that aggregation is just
// another RateProvider from the Engine's point of view) into a new
// Engine.
func NewEngine(provider RateProvider, config EngineConfig) *Engine {
	return &Engine{
		provider: provider,
		cache:    NewRateCache(config.Cache),
		locks:    NewRateLockManager(config.RateLock),
		config:   config,
	}
}

// GetRate returns a validated rate for pair, consulting the cache first
// (if enabled), otherwise fetching from the provider and caching the
// result. Rates whose spread exceeds MaxSpreadBps are rejected.
func (e *Engine) GetRate(ctx context.Context, pair money.CurrencyPair) (money.FxRate, error) {
	if e.config.UseCache {
		if cached, ok := e.cache.Get(pair); ok {
			return cached, nil
		}
	}

	rate, err := e.provider.GetRate(ctx, pair)
	if err != nil {
		return money.FxRate{}, err
	}

	if err := e.validateSpread(rate); err != nil {
		return money.FxRate{}, err
	}

	if e.config.UseCache {
		e.cache.Insert(rate)
	}
	return rate, nil
}

// GetRateFor is a convenience wrapper building the pair from from/to.
func (e *Engine) GetRateFor(ctx context.Context, from, to money.Currency) (money.FxRate, error) {
	return e.GetRate(ctx, money.CurrencyPair{Base: from, Quote: to})
}

func (e *Engine) validateSpread(rate money.FxRate) error {
	if rate.SpreadBpsInt() > e.config.MaxSpreadBps {
		return coordinatorerrors.New(coordinatorerrors.KindSpreadTooWide, "fx.Engine.validateSpread", nil)
	}
	return nil
}

// Conversion is the result of applying a rate to an amount.
type Conversion struct {
	Source     money.Money
	Output     money.Money
	Rate       money.FxRate
	RateLockId *string
}

// ConversionRequest describes a conversion to perform: either against a
// freshly fetched rate, or against a previously issued RateLock.
type ConversionRequest struct {
	Amount   money.Money
	To       money.Currency
	RateLock *RateLock
}

// Convert performs a currency conversion, either consuming the supplied
// rate lock (if any) or fetching a fresh rate through the full GetRate
// pipeline.
func (e *Engine) Convert(ctx context.Context, req ConversionRequest) (Conversion, error) {
	var rate money.FxRate
	var lockIdStr *string

	if req.RateLock != nil {
		used, err := e.locks.Use(req.RateLock.Id)
		if err != nil {
			return Conversion{}, err
		}
		rate = used
		s := req.RateLock.Id.String()
		lockIdStr = &s
	} else {
		pair := money.CurrencyPair{Base: req.Amount.Currency(), Quote: req.To}
		fetched, err := e.GetRate(ctx, pair)
		if err != nil {
			return Conversion{}, err
		}
		rate = fetched
	}

	if req.Amount.Currency() != rate.Pair.Base {
		return Conversion{}, coordinatorerrors.New(coordinatorerrors.KindInvalidMessage, "fx.Engine.Convert", nil)
	}

	output, err := rate.Convert(req.Amount)
	if err != nil {
		return Conversion{}, coordinatorerrors.New(coordinatorerrors.KindInvalidMessage, "fx.Engine.Convert", err)
	}

	return Conversion{Source: req.Amount, Output: output, Rate: rate, RateLockId: lockIdStr}, nil
}

// ConvertSimple converts amount to the `to` currency using a freshly
// fetched mid rate, with no rate lock involved.
func (e *Engine) ConvertSimple(ctx context.Context, amount money.Money, to money.Currency) (Conversion, error) {
	return e.Convert(ctx, ConversionRequest{Amount: amount, To: to})
}

// CreateRateLock fetches a current rate through the full GetRate
// pipeline, then issues a single-use lock pinning it.
func (e *Engine) CreateRateLock(ctx context.Context, pair money.CurrencyPair, duration time.Duration, participantId string) (*RateLock, error) {
	rate, err := e.GetRate(ctx, pair)
	if err != nil {
		return nil, err
	}
	return e.locks.Create(rate, duration, participantId)
}

// GetRateLock returns a previously issued rate lock by id.
func (e *Engine) GetRateLock(lockId ids.RateLockId) (*RateLock, bool) {
	return e.locks.Get(lockId)
}

// CancelRateLock cancels a previously issued rate lock.
func (e *Engine) CancelRateLock(lockId ids.RateLockId, byParticipantId string) error {
	return e.locks.Cancel(lockId, byParticipantId)
}

// SupportedPairs delegates to the underlying provider.
func (e *Engine) SupportedPairs() []money.CurrencyPair { return e.provider.SupportedPairs() }

// SupportsPair delegates to the underlying provider.
func (e *Engine) SupportsPair(pair money.CurrencyPair) bool { return e.provider.SupportsPair(pair) }

// Cleanup evicts expired cache entries and rate locks.
func (e *Engine) Cleanup() {
	e.cache.EvictExpired()
	e.locks.CleanupExpired()
}

// RunRateLockReaper blocks, purging expired rate locks on interval until
// stop is closed. The coordinator spawns this alongside the lock
// manager's reaper and the participant heartbeat checker so that
// abandoned rate locks don't accumulate indefinitely.
func (e *Engine) RunRateLockReaper(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.locks.CleanupExpired()
		}
	}
}
