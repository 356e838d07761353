package rpc

import (
	"math/big"

	"greenbonds/core"
)

// InstrumentResult is the JSON view of an instrument. Amounts are base-10
// strings in the settlement token's smallest unit.
type InstrumentResult struct {
	Symbol               string `json:"symbol"`
	Name                 string `json:"name"`
	Issuer               string `json:"issuer"`
	Treasury             string `json:"treasury"`
	SettlementToken      string `json:"settlementToken"`
	InterestRateBips     uint64 `json:"interestRateBips"`
	FaceValue            string `json:"faceValue"`
	IssuePrice           string `json:"issuePrice"`
	MaxSupply            string `json:"maxSupply"`
	IssueDate            int64  `json:"issueDate"`
	FirstCoupon          int64  `json:"firstCouponDate"`
	InterestPeriodMonths uint32 `json:"interestPeriodMonths"`
	NumCoupons           uint32 `json:"numCoupons"`
	Maturity             int64  `json:"maturity"`
	Phase                string `json:"phase"`
	Matured              bool   `json:"matured"`
	IssuedAt             int64  `json:"issuedAt,omitempty"`
	TotalCommitted       string `json:"totalCommitted"`
	RemainingCapacity    string `json:"remainingCapacity"`
	CouponsPaid          uint32 `json:"couponsPaid"`
	OutstandingInterest  string `json:"outstandingInterest"`
	RedeemedUnits        string `json:"redeemedUnits"`
	TreasuryBalance      string `json:"treasuryBalance"`
	Supply               string `json:"supply"`
}

func newInstrumentResult(view *core.InstrumentView) InstrumentResult {
	inst := view.Instrument
	return InstrumentResult{
		Symbol:               inst.Symbol(),
		Name:                 inst.Params.Name,
		Issuer:               inst.Issuer.String(),
		Treasury:             inst.Treasury.String(),
		SettlementToken:      inst.Params.SettlementToken,
		InterestRateBips:     inst.Params.InterestRateBips,
		FaceValue:            amountString(inst.Params.FaceValue),
		IssuePrice:           amountString(inst.Params.IssuePrice),
		MaxSupply:            amountString(inst.Params.MaxSupply),
		IssueDate:            inst.Params.IssueDate,
		FirstCoupon:          inst.Params.FirstCouponDate,
		InterestPeriodMonths: inst.Params.InterestPeriodMonths,
		NumCoupons:           inst.Params.NumCoupons,
		Maturity:             view.Maturity,
		Phase:                string(view.Phase),
		Matured:              view.Matured,
		IssuedAt:             inst.IssuedAt,
		TotalCommitted:       amountString(inst.TotalCommitted),
		RemainingCapacity:    amountString(inst.RemainingCapacity()),
		CouponsPaid:          inst.CouponsPaid,
		OutstandingInterest:  amountString(inst.OutstandingInterest),
		RedeemedUnits:        amountString(inst.RedeemedUnits),
		TreasuryBalance:      amountString(view.Treasury),
		Supply:               amountString(view.Supply),
	}
}

// PositionResult is the JSON view of one holder's standing.
type PositionResult struct {
	Symbol    string `json:"symbol"`
	Address   string `json:"address"`
	Status    string `json:"status"`
	Committed string `json:"committed"`
	Balance   string `json:"balance"`
	Claimable string `json:"claimable"`
}

// AmountResult carries a single amount.
type AmountResult struct {
	Amount string `json:"amount"`
}

// ScheduleResult lists coupon dates as unix seconds.
type ScheduleResult struct {
	Symbol  string  `json:"symbol"`
	Coupons []int64 `json:"coupons"`
}

// CommitResult is returned by bond_commit.
type CommitResult struct {
	Symbol         string `json:"symbol"`
	Units          string `json:"units"`
	Committed      string `json:"committed"`
	Payment        string `json:"payment"`
	TotalCommitted string `json:"totalCommitted"`
}

// IssueResult is returned by bond_issue.
type IssueResult struct {
	Symbol      string `json:"symbol"`
	Holders     int    `json:"holders"`
	TotalSupply string `json:"totalSupply"`
	IssuedAt    int64  `json:"issuedAt"`
}

// AccrualResult is returned by bond_accrueInterest.
type AccrualResult struct {
	Symbol      string `json:"symbol"`
	Coupon      uint32 `json:"coupon"`
	Holders     int    `json:"holders"`
	Total       string `json:"total"`
	Outstanding string `json:"outstanding"`
	AccruedAt   int64  `json:"accruedAt"`
}

// RedemptionResult is returned by bond_redeem.
type RedemptionResult struct {
	Symbol    string `json:"symbol"`
	Units     string `json:"units"`
	Principal string `json:"principal"`
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
