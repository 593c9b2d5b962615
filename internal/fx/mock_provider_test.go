package fx

import (
	"context"
	"sync"

	"github.com/settlecoord/coordinator/internal/coordinatorerrors"
	"github.com/settlecoord/coordinator/internal/money"
)

// mockProvider is a test fixture implementing RateProvider over a
// simple in-memory map from pair to a fixed rate.
type mockProvider struct {
	name string
	mu   sync.Mutex
	rates map[string]money.FxRate
}

func newMockProvider(name string) *mockProvider {
	return &mockProvider{name: name, rates: make(map[string]money.FxRate)}
}

func (m *mockProvider) SetRate(rate money.FxRate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[rate.Pair.String()] = rate
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) GetRate(_ context.Context, pair money.CurrencyPair) (money.FxRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rate, ok := m.rates[pair.String()]
	if !ok {
		return money.FxRate{}, coordinatorerrors.New(coordinatorerrors.KindRateNotAvailable, "mockProvider.GetRate", nil)
	}
	return rate, nil
}

func (m *mockProvider) SupportsPair(pair money.CurrencyPair) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rates[pair.String()]
	return ok
}

func (m *mockProvider) SupportedPairs() []money.CurrencyPair {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []money.CurrencyPair
	for _, r := range m.rates {
		out = append(out, r.Pair)
	}
	return out
}
