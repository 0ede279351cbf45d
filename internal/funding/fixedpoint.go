package funding

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

const (
	// RatePrecision scales funding rates: 1e6 = 100%.
	RatePrecision = 1_000_000
	// FundingPeriod is the period, in seconds, a rate is expressed over.
	FundingPeriod = 28_800
	// DefaultMaxFundingRate caps rates at 1% per period.
	DefaultMaxFundingRate = 10_000

	maxPow10 = 77 // 10^78 does not fit in 256 bits
)

var (
	wad           = uint256.NewInt(1_000_000_000_000_000_000)
	ratePrecision = uint256.NewInt(RatePrecision)
	fundingPeriod = uint256.NewInt(FundingPeriod)
	pow10Table    = buildPow10Table()
)

func buildPow10Table() [maxPow10 + 1]uint256.Int {
	var t [maxPow10 + 1]uint256.Int
	t[0].SetOne()
	ten := uint256.NewInt(10)
	for i := 1; i <= maxPow10; i++ {
		t[i].Mul(&t[i-1], ten)
	}
	return t
}

// One returns 1.0 at 18 decimals, the initial cumulative index.
func One() *uint256.Int {
	return new(uint256.Int).Set(wad)
}

func pow10(k int64) (*uint256.Int, bool) {
	if k < 0 || k > maxPow10 {
		return nil, false
	}
	return &pow10Table[k], true
}

// NormalizePrice converts mantissa * 10^exponent into an 18-decimal
// fixed-point value. Negative exponents truncate toward zero. A non-positive
// mantissa, a result that truncates to zero or a result that does not fit in
// 256 bits is rejected with domain.ErrInvalidPrice.
func NormalizePrice(mantissa int64, exponent int32) (*uint256.Int, error) {
	if mantissa <= 0 {
		return nil, fmt.Errorf("mantissa %d is not positive: %w", mantissa, domain.ErrInvalidPrice)
	}
	price := new(uint256.Int).SetUint64(uint64(mantissa))

	if exponent < 0 {
		price.Mul(price, wad) // < 2^63 * 2^60, cannot overflow
		divisor, ok := pow10(-int64(exponent))
		if !ok {
			return nil, fmt.Errorf("exponent %d truncates price to zero: %w", exponent, domain.ErrInvalidPrice)
		}
		price.Div(price, divisor)
	} else {
		factor, ok := pow10(int64(exponent))
		if !ok {
			return nil, fmt.Errorf("exponent %d overflows: %w", exponent, domain.ErrInvalidPrice)
		}
		if _, overflow := price.MulOverflow(price, factor); overflow {
			return nil, fmt.Errorf("exponent %d overflows: %w", exponent, domain.ErrInvalidPrice)
		}
		if _, overflow := price.MulOverflow(price, wad); overflow {
			return nil, fmt.Errorf("exponent %d overflows: %w", exponent, domain.ErrInvalidPrice)
		}
	}

	if price.IsZero() {
		return nil, fmt.Errorf("%de%d truncates to zero: %w", mantissa, exponent, domain.ErrInvalidPrice)
	}
	return price, nil
}

// ComputeRate returns the funding rate implied by a move from lastPrice to
// currentPrice over elapsed seconds, scaled to one funding period and clamped
// to [-maxRate, +maxRate]. lastPrice and elapsed must be non-zero.
func ComputeRate(lastPrice, currentPrice *uint256.Int, elapsed uint64, maxRate int64) (rate int64, clamped bool) {
	var delta uint256.Int
	negative := currentPrice.Lt(lastPrice)
	if negative {
		delta.Sub(lastPrice, currentPrice)
	} else {
		delta.Sub(currentPrice, lastPrice)
	}

	var raw, magnitude uint256.Int
	_, overflow := raw.MulDivOverflow(&delta, ratePrecision, lastPrice)
	if !overflow {
		_, overflow = magnitude.MulDivOverflow(&raw, fundingPeriod, uint256.NewInt(elapsed))
	}

	limit := uint64(maxRate)
	if overflow || !magnitude.IsUint64() || magnitude.Uint64() > limit {
		rate, clamped = maxRate, true
	} else {
		rate = int64(magnitude.Uint64())
	}
	if negative {
		rate = -rate
	}
	return rate, clamped
}

// Compound applies one (1 + rate) factor to the cumulative index:
// cum * (RatePrecision + rate) / RatePrecision, truncating. The product is
// checked for 256-bit overflow and the result must stay positive.
func Compound(cumulative *uint256.Int, rate int64) (*uint256.Int, error) {
	var factor uint256.Int
	if rate >= 0 {
		factor.SetUint64(RatePrecision + uint64(rate))
	} else {
		magnitude := uint64(-rate)
		if magnitude >= RatePrecision {
			return nil, fmt.Errorf("rate %d zeroes the index: %w", rate, domain.ErrIndexOverflow)
		}
		factor.SetUint64(RatePrecision - magnitude)
	}

	next, overflow := new(uint256.Int).MulOverflow(cumulative, &factor)
	if overflow {
		return nil, fmt.Errorf("compounding rate %d: %w", rate, domain.ErrIndexOverflow)
	}
	next.Div(next, ratePrecision)
	if next.IsZero() {
		return nil, fmt.Errorf("compounding rate %d truncates index to zero: %w", rate, domain.ErrIndexOverflow)
	}
	return next, nil
}
