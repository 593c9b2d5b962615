package fx

import "math/big"

// bigRat is a local alias so provider.go reads naturally without a
// package-qualified math/big.Rat at every call site.
type bigRat = big.Rat

var bpsScale = big.NewRat(10000, 1)

func avg(a, b *big.Rat) *big.Rat {
	sum := new(big.Rat).Add(a, b)
	return sum.Quo(sum, big.NewRat(2, 1))
}
