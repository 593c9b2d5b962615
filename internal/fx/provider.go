package fx

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/settlecoord/coordinator/internal/coordinatorerrors"
	"github.com/settlecoord/coordinator/internal/money"
)

// RateProvider is an upstream source of FX quotes. The core never quotes
// rates itself; it only aggregates and caches from providers like this
// one, each of which is external per SPEC_FULL.md §1.
type RateProvider interface {
	Name() string
	GetRate(ctx context.Context, pair money.CurrencyPair) (money.FxRate, error)
	SupportsPair(pair money.CurrencyPair) bool
	SupportedPairs() []money.CurrencyPair
}

// AggregatorConfig holds the aggregator's tunables.
type AggregatorConfig struct {
	MinProviders     int
	MaxDeviationBps  int64
}

// DefaultAggregatorConfig returns the documented defaults.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{MinProviders: 1, MaxDeviationBps: 100}
}

// Aggregator fans a rate request out to every provider that supports
// the requested pair concurrently (via errgroup), then computes the
// deviation-gated median across the successful responses.
type Aggregator struct {
	providers []RateProvider
	config    AggregatorConfig
}

// NewAggregator builds an Aggregator over the given providers.
func NewAggregator(providers []RateProvider, config AggregatorConfig) *Aggregator {
	if config.MinProviders <= 0 {
		config.MinProviders = 1
	}
	return &Aggregator{providers: providers, config: config}
}

func (a *Aggregator) Name() string { return "AGGREGATED" }

// GetRate dispatches to every supporting provider concurrently, then
// aggregates the successful responses.
func (a *Aggregator) GetRate(ctx context.Context, pair money.CurrencyPair) (money.FxRate, error) {
	var (
		mu    sync.Mutex
		rates []money.FxRate
	)

	group, gctx := errgroup.WithContext(ctx)
	for _, provider := range a.providers {
		provider := provider
		if !provider.SupportsPair(pair) {
			continue
		}
		group.Go(func() error {
			rate, err := provider.GetRate(gctx, pair)
			if err != nil {
				// A single provider's failure does not fail the whole
				// aggregation; only the final success count matters.
				return nil
			}
			mu.Lock()
			rates = append(rates, rate)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return money.FxRate{}, coordinatorerrors.New(coordinatorerrors.KindRateNotAvailable, "fx.Aggregator.GetRate", err)
	}

	if len(rates) < a.config.MinProviders {
		return money.FxRate{}, coordinatorerrors.New(coordinatorerrors.KindRateNotAvailable, "fx.Aggregator.GetRate", nil)
	}

	if err := checkDeviation(rates, a.config.MaxDeviationBps); err != nil {
		return money.FxRate{}, err
	}

	return calculateMedian(rates), nil
}

func (a *Aggregator) SupportsPair(pair money.CurrencyPair) bool {
	for _, provider := range a.providers {
		if provider.SupportsPair(pair) {
			return true
		}
	}
	return false
}

func (a *Aggregator) SupportedPairs() []money.CurrencyPair {
	seen := make(map[string]money.CurrencyPair)
	for _, provider := range a.providers {
		for _, pair := range provider.SupportedPairs() {
			seen[pair.String()] = pair
		}
	}
	out := make([]money.CurrencyPair, 0, len(seen))
	for _, pair := range seen {
		out = append(out, pair)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// checkDeviation fails with KindRateDeviation if the spread between the
// minimum and maximum mid across rates exceeds maxDeviationBps. A single
// rate (or none) trivially passes.
func checkDeviation(rates []money.FxRate, maxDeviationBps int64) error {
	if len(rates) < 2 {
		return nil
	}
	min, max := rates[0].Mid, rates[0].Mid
	for _, r := range rates[1:] {
		if r.Mid.Cmp(min) < 0 {
			min = r.Mid
		}
		if r.Mid.Cmp(max) > 0 {
			max = r.Mid
		}
	}
	if min.Sign() == 0 {
		return coordinatorerrors.New(coordinatorerrors.KindRateDeviation, "fx.checkDeviation", nil)
	}
	diff := new(bigRat).Sub(max, min)
	ratio := new(bigRat).Quo(diff, min)
	bps := new(bigRat).Mul(ratio, bpsScale)
	bpsInt := bps.Num().Quo(bps.Num(), bps.Denom()).Int64()
	if bpsInt > maxDeviationBps {
		return coordinatorerrors.New(coordinatorerrors.KindRateDeviation, "fx.checkDeviation", nil)
	}
	return nil
}

// calculateMedian sorts the collected rates by mid; for an odd count,
// the middle element is reused (re-sourced to "AGGREGATED"); for an
// even count, the two middle elements' bid and ask are averaged
// independently and a fresh mid derived from the averaged bid/ask,
// with the validity window carried from the median element's
// remaining validity.
func calculateMedian(rates []money.FxRate) money.FxRate {
	sorted := append([]money.FxRate(nil), rates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Mid.Cmp(sorted[j].Mid) < 0 })

	midIdx := len(sorted) / 2
	if len(sorted)%2 == 1 || len(sorted) == 1 {
		median := sorted[midIdx]
		median.Source = "AGGREGATED"
		return median
	}

	lo, hi := sorted[midIdx-1], sorted[midIdx]
	bid := avg(lo.Bid, hi.Bid)
	ask := avg(lo.Ask, hi.Ask)
	remaining := time.Until(sorted[midIdx].ValidUntil)
	aggregated := money.NewFxRate(sorted[midIdx].Pair, bid, ask, remaining, "AGGREGATED")
	return aggregated
}
