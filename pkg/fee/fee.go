// Package fee prices an order from a snapshot of its creator's loyalty balance.
package fee

import (
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowd/pkg/escrowerr"
)

// Denominator is the basis-point scale: a rate of 1 charges 1/10 000.
const Denominator = 10_000

// Tier maps a minimum loyalty balance to a rate in basis points.
type Tier struct {
	MinBalance uint64
	RateBps    uint64
}

// Tiers are ordered from the highest threshold down. A balance below every
// threshold pays MaxRateBps.
var Tiers = []Tier{
	{MinBalance: 100_000_000_000, RateBps: 0},
	{MinBalance: 50_000_000_000, RateBps: 6},
	{MinBalance: 25_000_000_000, RateBps: 12},
	{MinBalance: 12_500_000_000, RateBps: 18},
	{MinBalance: 6_250_000_000, RateBps: 24},
}

const MaxRateBps = 30

var denominator = uint256.NewInt(Denominator)

// Rate returns the basis-point rate for a loyalty balance.
func Rate(loyaltyBalance *uint256.Int) uint64 {
	for _, tier := range Tiers {
		if !loyaltyBalance.Lt(uint256.NewInt(tier.MinBalance)) {
			return tier.RateBps
		}
	}
	return MaxRateBps
}

// Compute returns floor(requested * rate / 10 000).
// The product is formed at 512 bits so it cannot wrap; only a quotient that
// does not fit 256 bits is reported, as escrowerr.ArithmeticOverflow.
func Compute(loyaltyBalance, requested *uint256.Int) (*uint256.Int, error) {
	rate := Rate(loyaltyBalance)
	if rate == 0 {
		return new(uint256.Int), nil
	}
	return MulDiv(requested, uint256.NewInt(rate), denominator)
}

// MulDiv returns floor(x * y / d) with a 512-bit intermediate.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, escrowerr.ArithmeticOverflow.New("division by zero")
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, escrowerr.ArithmeticOverflow.New("%s * %s / %s", x.Dec(), y.Dec(), d.Dec())
	}
	return z, nil
}

// MulDivUp is MulDiv rounded up.
func MulDivUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	z, err := MulDiv(x, y, d)
	if err != nil {
		return nil, err
	}
	if new(uint256.Int).MulMod(x, y, d).IsZero() {
		return z, nil
	}
	z, overflow := z.AddOverflow(z, uint256.NewInt(1))
	if overflow {
		return nil, escrowerr.ArithmeticOverflow.New("%s * %s / %s rounded up", x.Dec(), y.Dec(), d.Dec())
	}
	return z, nil
}
