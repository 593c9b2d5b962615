package fx

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/settlecoord/coordinator/internal/money"
)

func ratedAt(pair money.CurrencyPair, mid float64, source string) money.FxRate {
	bid := big.NewRat(int64(mid*10000)-20, 10000)
	ask := big.NewRat(int64(mid*10000)+20, 10000)
	return money.NewFxRate(pair, bid, ask, time.Minute, source)
}

func TestAggregator_MedianOfThreeProviders(t *testing.T) {
	pair := money.CurrencyPair{Base: "USD", Quote: "EUR"}

	p1, p2, p3 := newMockProvider("p1"), newMockProvider("p2"), newMockProvider("p3")
	p1.SetRate(ratedAt(pair, 0.90, "p1"))
	p2.SetRate(ratedAt(pair, 0.92, "p2"))
	p3.SetRate(ratedAt(pair, 0.94, "p3"))

	agg := NewAggregator([]RateProvider{p1, p2, p3}, AggregatorConfig{MinProviders: 1, MaxDeviationBps: 1000})
	rate, err := agg.GetRate(context.Background(), pair)
	if err != nil {
		t.Fatalf("GetRate: %v", err)
	}
	if rate.Source != "AGGREGATED" {
		t.Errorf("expected source AGGREGATED, got %s", rate.Source)
	}
	// median of 0.90/0.92/0.94 should be close to 0.92
	mid, _ := rate.Mid.Float64()
	if mid < 0.915 || mid > 0.925 {
		t.Errorf("expected median mid ~0.92, got %f", mid)
	}
}

func TestAggregator_DeviationRejection(t *testing.T) {
	pair := money.CurrencyPair{Base: "USD", Quote: "EUR"}

	p1, p2, p3 := newMockProvider("p1"), newMockProvider("p2"), newMockProvider("p3")
	p1.SetRate(ratedAt(pair, 0.90, "p1"))
	p2.SetRate(ratedAt(pair, 0.92, "p2"))
	p3.SetRate(ratedAt(pair, 0.98, "p3"))

	agg := NewAggregator([]RateProvider{p1, p2, p3}, AggregatorConfig{MinProviders: 1, MaxDeviationBps: 100})
	_, err := agg.GetRate(context.Background(), pair)
	if err == nil {
		t.Fatalf("expected deviation rejection")
	}
}

func TestAggregator_MedianIndependentOfProviderOrder(t *testing.T) {
	pair := money.CurrencyPair{Base: "USD", Quote: "EUR"}

	p1, p2, p3 := newMockProvider("p1"), newMockProvider("p2"), newMockProvider("p3")
	p1.SetRate(ratedAt(pair, 0.90, "p1"))
	p2.SetRate(ratedAt(pair, 0.92, "p2"))
	p3.SetRate(ratedAt(pair, 0.94, "p3"))

	aggA := NewAggregator([]RateProvider{p1, p2, p3}, AggregatorConfig{MinProviders: 1, MaxDeviationBps: 1000})
	aggB := NewAggregator([]RateProvider{p3, p1, p2}, AggregatorConfig{MinProviders: 1, MaxDeviationBps: 1000})

	rateA, err := aggA.GetRate(context.Background(), pair)
	if err != nil {
		t.Fatalf("GetRate A: %v", err)
	}
	rateB, err := aggB.GetRate(context.Background(), pair)
	if err != nil {
		t.Fatalf("GetRate B: %v", err)
	}
	if rateA.Mid.Cmp(rateB.Mid) != 0 {
		t.Errorf("median is not commutative under reordering: %s vs %s", rateA.Mid.FloatString(6), rateB.Mid.FloatString(6))
	}
}
