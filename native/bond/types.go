package bond

import (
	"math/big"
	"regexp"
	"strings"

	"greenbonds/crypto"
)

// Params captures the immutable terms of an instrument fixed at creation.
type Params struct {
	// Name is the human readable instrument name.
	Name string `json:"name"`
	// Symbol identifies the instrument and its bond-position token.
	Symbol string `json:"symbol"`
	// InterestRateBips is the annualised coupon rate in basis points.
	InterestRateBips uint64 `json:"interestRateBips"`
	// FaceValue is the principal repaid per unit at maturity, denominated in
	// the settlement token's smallest unit.
	FaceValue *big.Int `json:"faceValue"`
	// SettlementToken is the symbol of the asset used for subscription
	// payments, coupons and principal.
	SettlementToken string `json:"settlementToken"`
	// MaxSupply caps the number of units that can ever be committed.
	MaxSupply *big.Int `json:"maxSupply"`
	// IssueDate is the unix time after which issuance may occur.
	IssueDate int64 `json:"issueDate"`
	// IssuePrice is the price paid per unit during subscription.
	IssuePrice *big.Int `json:"issuePrice"`
	// InterestPeriodMonths is the length of one coupon period.
	InterestPeriodMonths uint32 `json:"interestPeriodMonths"`
	// FirstCouponDate is the unix time of the first coupon.
	FirstCouponDate int64 `json:"firstCouponDate"`
	// NumCoupons is the number of coupon periods over the instrument's life.
	NumCoupons uint32 `json:"numCoupons"`
}

var symbolPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,15}$`)

// NormalizeSymbol upper-cases and trims an instrument or token symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Validate checks the parameters for internal consistency.
func (p Params) Validate() error {
	symbol := NormalizeSymbol(p.Symbol)
	switch {
	case strings.TrimSpace(p.Name) == "":
		return invalidParams("name required")
	case !symbolPattern.MatchString(symbol):
		return invalidParams("symbol must be 2-16 upper-case alphanumerics")
	case NormalizeSymbol(p.SettlementToken) == "":
		return invalidParams("settlement token required")
	case NormalizeSymbol(p.SettlementToken) == symbol:
		return invalidParams("settlement token must differ from the bond symbol")
	case p.FaceValue == nil || p.FaceValue.Sign() <= 0:
		return invalidParams("face value must be positive")
	case p.MaxSupply == nil || p.MaxSupply.Sign() <= 0:
		return invalidParams("max supply must be positive")
	case p.IssuePrice == nil || p.IssuePrice.Sign() <= 0:
		return invalidParams("issue price must be positive")
	case p.InterestRateBips > maxRateBips:
		return invalidParams("interest rate exceeds 100%")
	case p.InterestPeriodMonths == 0 || p.InterestPeriodMonths > maxPeriodMonths:
		return invalidParams("interest period must be between 1 and 120 months")
	case p.NumCoupons == 0 || p.NumCoupons > maxCoupons:
		return invalidParams("number of coupons must be between 1 and 1200")
	case p.IssueDate <= 0:
		return invalidParams("issue date required")
	case p.FirstCouponDate < p.IssueDate:
		return invalidParams("first coupon date must not precede the issue date")
	}
	return nil
}

// Clone returns a deep copy of the parameters.
func (p Params) Clone() Params {
	clone := p
	clone.FaceValue = copyBig(p.FaceValue)
	clone.MaxSupply = copyBig(p.MaxSupply)
	clone.IssuePrice = copyBig(p.IssuePrice)
	return clone
}

// Instrument is the persisted record of one bond: its terms plus lifecycle
// and accounting state.
type Instrument struct {
	Params   Params         `json:"params"`
	Issuer   crypto.Address `json:"-"`
	Treasury crypto.Address `json:"-"`

	// Issued flips exactly once when subscriptions convert to positions.
	Issued   bool  `json:"issued"`
	IssuedAt int64 `json:"issuedAt"`
	// TotalCommitted is the sum of all subscriber commitments.
	TotalCommitted *big.Int `json:"totalCommitted"`
	// CouponsPaid counts accrued coupon periods.
	CouponsPaid  uint32 `json:"couponsPaid"`
	LastCouponAt int64  `json:"lastCouponAt"`
	// OutstandingInterest is the sum of all unclaimed holder interest.
	OutstandingInterest *big.Int `json:"outstandingInterest"`
	// RedeemedUnits counts bond units burned through redemption.
	RedeemedUnits *big.Int `json:"redeemedUnits"`
	CreatedAt     int64    `json:"createdAt"`
}

// Symbol returns the normalised instrument symbol.
func (i *Instrument) Symbol() string {
	if i == nil {
		return ""
	}
	return NormalizeSymbol(i.Params.Symbol)
}

// Phase reports the lifecycle phase derived from the issuance flag.
func (i *Instrument) Phase() Phase {
	if i == nil {
		return PhaseSubscribing
	}
	return PhaseAt(i.Issued)
}

// ScheduleComplete reports whether every coupon has been accrued.
func (i *Instrument) ScheduleComplete() bool {
	return i != nil && i.CouponsPaid >= i.Params.NumCoupons
}

// RemainingCapacity returns how many units can still be committed.
func (i *Instrument) RemainingCapacity() *big.Int {
	if i == nil {
		return big.NewInt(0)
	}
	remaining := new(big.Int).Sub(i.Params.MaxSupply, zeroIfNil(i.TotalCommitted))
	if remaining.Sign() < 0 {
		return big.NewInt(0)
	}
	return remaining
}

// Clone returns a deep copy of the instrument.
func (i *Instrument) Clone() *Instrument {
	if i == nil {
		return nil
	}
	clone := *i
	clone.Params = i.Params.Clone()
	clone.Issuer = cloneAddress(i.Issuer)
	clone.Treasury = cloneAddress(i.Treasury)
	clone.TotalCommitted = copyBig(i.TotalCommitted)
	clone.OutstandingInterest = copyBig(i.OutstandingInterest)
	clone.RedeemedUnits = copyBig(i.RedeemedUnits)
	return &clone
}

func (i *Instrument) ensureDefaults() {
	if i.TotalCommitted == nil {
		i.TotalCommitted = big.NewInt(0)
	}
	if i.OutstandingInterest == nil {
		i.OutstandingInterest = big.NewInt(0)
	}
	if i.RedeemedUnits == nil {
		i.RedeemedUnits = big.NewInt(0)
	}
}

// TreasuryAddress derives the module account holding an instrument's
// settlement funds.
func TreasuryAddress(symbol string) crypto.Address {
	return crypto.ModuleAddress("bond/" + NormalizeSymbol(symbol))
}

// Subscription is returned by Commit.
type Subscription struct {
	Symbol         string   `json:"symbol"`
	Units          *big.Int `json:"units"`
	Committed      *big.Int `json:"committed"`
	Payment        *big.Int `json:"payment"`
	TotalCommitted *big.Int `json:"totalCommitted"`
}

// Issuance is returned by Issue.
type Issuance struct {
	Symbol      string   `json:"symbol"`
	Holders     int      `json:"holders"`
	TotalSupply *big.Int `json:"totalSupply"`
	IssuedAt    int64    `json:"issuedAt"`
}

// CouponAccrual is returned by AccrueInterest.
type CouponAccrual struct {
	Symbol      string   `json:"symbol"`
	Coupon      uint32   `json:"coupon"`
	Holders     int      `json:"holders"`
	Total       *big.Int `json:"total"`
	Outstanding *big.Int `json:"outstanding"`
	AccruedAt   int64    `json:"accruedAt"`
}

// Redemption is returned by Redeem.
type Redemption struct {
	Symbol    string   `json:"symbol"`
	Units     *big.Int `json:"units"`
	Principal *big.Int `json:"principal"`
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func cloneAddress(addr crypto.Address) crypto.Address {
	if len(addr.Bytes()) == 0 {
		return crypto.Address{}
	}
	return crypto.MustNewAddress(addr.Prefix(), addr.Bytes())
}
