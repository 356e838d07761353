package events

import (
	"math/big"
	"strconv"

	"greenbonds/core/types"
	"greenbonds/crypto"
)

const (
	TypeBondCreated           = "bond.created"
	TypeBondCommitted         = "bond.committed"
	TypeBondIssued            = "bond.issued"
	TypeBondCouponAccrued     = "bond.coupon.accrued"
	TypeBondInterestClaimed   = "bond.interest.claimed"
	TypeBondRedeemed          = "bond.redeemed"
	TypeBondFunded            = "bond.treasury.funded"
	TypeBondProceedsWithdrawn = "bond.treasury.withdrawn"
)

type BondCreated struct {
	Symbol          string
	Issuer          crypto.Address
	Treasury        crypto.Address
	SettlementToken string
	MaxSupply       *big.Int
	IssueDate       int64
	NumCoupons      uint32
}

func (BondCreated) EventType() string { return TypeBondCreated }

func (e BondCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeBondCreated,
		Attributes: map[string]string{
			"symbol":          e.Symbol,
			"issuer":          e.Issuer.String(),
			"treasury":        e.Treasury.String(),
			"settlementToken": e.SettlementToken,
			"maxSupply":       formatAmount(e.MaxSupply),
			"issueDate":       intToString(e.IssueDate),
			"numCoupons":      strconv.FormatUint(uint64(e.NumCoupons), 10),
		},
	}
}

// BondCommitted records a subscription made before issuance.
type BondCommitted struct {
	Symbol         string
	Subscriber     crypto.Address
	Units          *big.Int
	Payment        *big.Int
	TotalCommitted *big.Int
}

func (BondCommitted) EventType() string { return TypeBondCommitted }

func (e BondCommitted) Event() *types.Event {
	return &types.Event{
		Type: TypeBondCommitted,
		Attributes: map[string]string{
			"symbol":         e.Symbol,
			"subscriber":     e.Subscriber.String(),
			"units":          formatAmount(e.Units),
			"payment":        formatAmount(e.Payment),
			"totalCommitted": formatAmount(e.TotalCommitted),
		},
	}
}

// BondIssued is emitted once per instrument when subscriptions convert into
// bond positions.
type BondIssued struct {
	Symbol      string
	Holders     int
	TotalSupply *big.Int
	IssuedAt    int64
}

func (BondIssued) EventType() string { return TypeBondIssued }

func (e BondIssued) Event() *types.Event {
	return &types.Event{
		Type: TypeBondIssued,
		Attributes: map[string]string{
			"symbol":      e.Symbol,
			"holders":     strconv.Itoa(e.Holders),
			"totalSupply": formatAmount(e.TotalSupply),
			"issuedAt":    intToString(e.IssuedAt),
		},
	}
}

type BondCouponAccrued struct {
	Symbol      string
	Coupon      uint32
	NumCoupons  uint32
	Total       *big.Int
	Holders     int
	AccruedAt   int64
	Outstanding *big.Int
}

func (BondCouponAccrued) EventType() string { return TypeBondCouponAccrued }

func (e BondCouponAccrued) Event() *types.Event {
	return &types.Event{
		Type: TypeBondCouponAccrued,
		Attributes: map[string]string{
			"symbol":      e.Symbol,
			"coupon":      strconv.FormatUint(uint64(e.Coupon), 10),
			"numCoupons":  strconv.FormatUint(uint64(e.NumCoupons), 10),
			"total":       formatAmount(e.Total),
			"holders":     strconv.Itoa(e.Holders),
			"accruedAt":   intToString(e.AccruedAt),
			"outstanding": formatAmount(e.Outstanding),
		},
	}
}

type BondInterestClaimed struct {
	Symbol string
	Holder crypto.Address
	Amount *big.Int
}

func (BondInterestClaimed) EventType() string { return TypeBondInterestClaimed }

func (e BondInterestClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeBondInterestClaimed,
		Attributes: map[string]string{
			"symbol": e.Symbol,
			"holder": e.Holder.String(),
			"amount": formatAmount(e.Amount),
		},
	}
}

type BondRedeemed struct {
	Symbol    string
	Holder    crypto.Address
	Units     *big.Int
	Principal *big.Int
}

func (BondRedeemed) EventType() string { return TypeBondRedeemed }

func (e BondRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeBondRedeemed,
		Attributes: map[string]string{
			"symbol":    e.Symbol,
			"holder":    e.Holder.String(),
			"units":     formatAmount(e.Units),
			"principal": formatAmount(e.Principal),
		},
	}
}

// BondTreasuryMovement covers issuer deposits into and withdrawals out of an
// instrument treasury.
type BondTreasuryMovement struct {
	Kind    string
	Symbol  string
	Issuer  crypto.Address
	Amount  *big.Int
	Balance *big.Int
}

func (e BondTreasuryMovement) EventType() string { return e.Kind }

func (e BondTreasuryMovement) Event() *types.Event {
	return &types.Event{
		Type: e.Kind,
		Attributes: map[string]string{
			"symbol":  e.Symbol,
			"issuer":  e.Issuer.String(),
			"amount":  formatAmount(e.Amount),
			"balance": formatAmount(e.Balance),
		},
	}
}
