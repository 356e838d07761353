package bond

import (
	"math/big"
	"time"
)

const (
	maxRateBips     = 10_000
	maxPeriodMonths = 120
	maxCoupons      = 1200
	monthsPerYear   = 12
)

var basisPoints = big.NewInt(10_000)

// addMonths moves ts forward by n calendar months in UTC, clamping the day to
// the end of the target month (Jan 31 + 1 month is Feb 28/29).
func addMonths(ts int64, n int) int64 {
	t := time.Unix(ts, 0).UTC()
	year, month, day := t.Date()
	total := int(month) - 1 + n
	targetYear := year + total/monthsPerYear
	targetMonth := time.Month(total%monthsPerYear + 1)
	if last := daysIn(targetYear, targetMonth); day > last {
		day = last
	}
	hour, min, sec := t.Clock()
	return time.Date(targetYear, targetMonth, day, hour, min, sec, 0, time.UTC).Unix()
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// CouponDate returns the unix time of coupon index (zero based).
func CouponDate(p Params, index uint32) int64 {
	return addMonths(p.FirstCouponDate, int(index)*int(p.InterestPeriodMonths))
}

// MaturityDate is the date of the final coupon.
func MaturityDate(p Params) int64 {
	if p.NumCoupons == 0 {
		return p.FirstCouponDate
	}
	return CouponDate(p, p.NumCoupons-1)
}

// Schedule lists every coupon date in order.
func Schedule(p Params) []int64 {
	dates := make([]int64, 0, p.NumCoupons)
	for i := uint32(0); i < p.NumCoupons; i++ {
		dates = append(dates, CouponDate(p, i))
	}
	return dates
}

// CouponAmount computes one period's interest on units:
//
//	units * faceValue * rateBips * periodMonths / (10000 * 12)
//
// The annual rate is pro-rated per period and the result floors.
func CouponAmount(units *big.Int, p Params) *big.Int {
	if units == nil || units.Sign() <= 0 || p.FaceValue == nil {
		return big.NewInt(0)
	}
	amount := new(big.Int).Mul(units, p.FaceValue)
	amount.Mul(amount, new(big.Int).SetUint64(p.InterestRateBips))
	amount.Mul(amount, big.NewInt(int64(p.InterestPeriodMonths)))
	denominator := new(big.Int).Mul(basisPoints, big.NewInt(monthsPerYear))
	return amount.Quo(amount, denominator)
}

// Principal returns the face value owed for units at redemption.
func Principal(units *big.Int, p Params) *big.Int {
	if units == nil || p.FaceValue == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mul(units, p.FaceValue)
}

// SubscriptionCost returns the settlement amount owed for committing units.
func SubscriptionCost(units *big.Int, p Params) *big.Int {
	if units == nil || p.IssuePrice == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mul(units, p.IssuePrice)
}
