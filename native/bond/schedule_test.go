package bond

import (
	"math/big"
	"testing"
	"time"
)

func TestCouponDateClampsToMonthEnd(t *testing.T) {
	p := testParams()
	p.FirstCouponDate = time.Date(2024, time.January, 31, 12, 0, 0, 0, time.UTC).Unix()
	got := time.Unix(CouponDate(p, 1), 0).UTC()
	if got.Month() != time.February || got.Day() != 29 || got.Hour() != 12 {
		t.Fatalf("expected Feb 29 12:00, got %s", got)
	}
	got = time.Unix(CouponDate(p, 2), 0).UTC()
	if got.Month() != time.March || got.Day() != 31 {
		t.Fatalf("clamping must not carry over, got %s", got)
	}
}

func TestCouponDateCrossesYears(t *testing.T) {
	p := testParams()
	p.InterestPeriodMonths = 6
	got := time.Unix(CouponDate(p, 3), 0).UTC()
	if got.Year() != 2025 || got.Month() != time.August || got.Day() != 1 {
		t.Fatalf("unexpected date %s", got)
	}
}

func TestScheduleAndMaturity(t *testing.T) {
	p := testParams()
	dates := Schedule(p)
	if len(dates) != int(p.NumCoupons) {
		t.Fatalf("expected %d dates, got %d", p.NumCoupons, len(dates))
	}
	for i := 1; i < len(dates); i++ {
		if dates[i] <= dates[i-1] {
			t.Fatalf("schedule not increasing at %d", i)
		}
	}
	if MaturityDate(p) != testMaturity || dates[len(dates)-1] != testMaturity {
		t.Fatalf("unexpected maturity %d", MaturityDate(p))
	}
}

func TestCouponAmount(t *testing.T) {
	p := testParams()
	cases := []struct {
		units int64
		want  int64
	}{
		{0, 0},
		{1, 0},
		{3, 1},
		{10, 4},
		{12, 5},
		{1000, 416},
	}
	for _, tc := range cases {
		if got := CouponAmount(big.NewInt(tc.units), p); got.Int64() != tc.want {
			t.Fatalf("units %d: expected %d, got %s", tc.units, tc.want, got)
		}
	}
	p.InterestPeriodMonths = 12
	if got := CouponAmount(big.NewInt(10), p); got.Int64() != 50 {
		t.Fatalf("annual coupon expected 50, got %s", got)
	}
	if got := CouponAmount(nil, p); got.Sign() != 0 {
		t.Fatalf("nil units must yield zero")
	}
}

func TestPrincipalAndCost(t *testing.T) {
	p := testParams()
	if got := Principal(big.NewInt(7), p); got.Int64() != 700 {
		t.Fatalf("expected principal 700, got %s", got)
	}
	if got := SubscriptionCost(big.NewInt(7), p); got.Int64() != 70 {
		t.Fatalf("expected cost 70, got %s", got)
	}
}

func TestParamsValidate(t *testing.T) {
	mutate := func(fn func(*Params)) Params {
		p := testParams()
		fn(&p)
		return p
	}
	bad := map[string]Params{
		"name":       mutate(func(p *Params) { p.Name = " " }),
		"symbol":     mutate(func(p *Params) { p.Symbol = "x" }),
		"settlement": mutate(func(p *Params) { p.SettlementToken = testSymbol }),
		"face":       mutate(func(p *Params) { p.FaceValue = big.NewInt(0) }),
		"supply":     mutate(func(p *Params) { p.MaxSupply = nil }),
		"price":      mutate(func(p *Params) { p.IssuePrice = big.NewInt(-1) }),
		"rate":       mutate(func(p *Params) { p.InterestRateBips = 10_001 }),
		"period":     mutate(func(p *Params) { p.InterestPeriodMonths = 0 }),
		"coupons":    mutate(func(p *Params) { p.NumCoupons = 0 }),
		"issueDate":  mutate(func(p *Params) { p.IssueDate = 0 }),
	}
	for name, p := range bad {
		if err := p.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := testParams().Validate(); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}
	lower := testParams()
	lower.Symbol = " green "
	if err := lower.Validate(); err != nil {
		t.Fatalf("symbol should normalise: %v", err)
	}
}
