package money

import (
	"fmt"
	"math/big"
	"time"
)

// CurrencyPair names the base and quote currencies of an exchange rate:
// 1 unit of Base is worth Mid units of Quote.
type CurrencyPair struct {
	Base  Currency
	Quote Currency
}

// Inverse swaps base and quote.
func (p CurrencyPair) Inverse() CurrencyPair {
	return CurrencyPair{Base: p.Quote, Quote: p.Base}
}

func (p CurrencyPair) String() string {
	return fmt.Sprintf("%s/%s", p.Base, p.Quote)
}

// FxRate is a quoted bid/ask spread for a currency pair, valid until a
// point in time and attributed to a source ("AGGREGATED" once it has
// passed through the provider aggregator).
type FxRate struct {
	Pair      CurrencyPair
	Bid       *big.Rat
	Ask       *big.Rat
	Mid       *big.Rat
	QuotedAt  time.Time
	ValidUntil time.Time
	Source    string
}

// NewFxRate constructs a rate with mid = (bid+ask)/2 and a validity
// window of validFor starting now.
func NewFxRate(pair CurrencyPair, bid, ask *big.Rat, validFor time.Duration, source string) FxRate {
	now := time.Now()
	mid := midOf(bid, ask)
	return FxRate{
		Pair:       pair,
		Bid:        bid,
		Ask:        ask,
		Mid:        mid,
		QuotedAt:   now,
		ValidUntil: now.Add(validFor),
		Source:     source,
	}
}

func midOf(bid, ask *big.Rat) *big.Rat {
	sum := new(big.Rat).Add(bid, ask)
	return sum.Quo(sum, big.NewRat(2, 1))
}

// IsValid reports whether the rate has not yet expired.
func (r FxRate) IsValid() bool {
	return time.Now().Before(r.ValidUntil)
}

// SpreadBps returns the bid/ask spread in basis points:
// (ask-bid)/mid * 10000.
func (r FxRate) SpreadBps() *big.Rat {
	if r.Mid.Sign() == 0 {
		return new(big.Rat)
	}
	diff := new(big.Rat).Sub(r.Ask, r.Bid)
	ratio := new(big.Rat).Quo(diff, r.Mid)
	return ratio.Mul(ratio, big.NewRat(10000, 1))
}

// SpreadBpsInt truncates SpreadBps to an integer number of basis points.
func (r FxRate) SpreadBpsInt() int64 {
	bps := r.SpreadBps()
	q := new(big.Int).Quo(bps.Num(), bps.Denom())
	return q.Int64()
}

// Convert applies the rate's mid price to amount, which must be
// denominated in the rate's base currency, returning the result in the
// quote currency rounded to that currency's decimal places.
func (r FxRate) Convert(amount Money) (Money, error) {
	if amount.Currency() != r.Pair.Base {
		return Money{}, fmt.Errorf("money: amount currency %s does not match rate base %s", amount.Currency(), r.Pair.Base)
	}
	converted := amount.MulRat(r.Mid).WithCurrency(r.Pair.Quote)
	return converted.Round(), nil
}

// Balance tracks a participant account's available, locked, and
// in-flight funds for a single currency.
type Balance struct {
	Currency    Currency
	Available   Money
	Locked      Money
	PendingIn   Money
	PendingOut  Money
}

// Total returns available+locked.
func (b Balance) Total() (Money, error) {
	return b.Available.Add(b.Locked)
}

// CanLock reports whether amount can be reserved from available funds.
func (b Balance) CanLock(amount Money) bool {
	return b.Available.Rat().Cmp(amount.Rat()) >= 0
}
