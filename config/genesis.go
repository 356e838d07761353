package config

import (
	"fmt"

	"greenbonds/core"
	"greenbonds/crypto"
	"greenbonds/native/bond"
)

// Genesis converts the token, allocation and instrument tables into the
// ledger's initial content.
func (c *Config) Genesis() (*core.Genesis, error) {
	g := &core.Genesis{}
	for _, tok := range c.Tokens {
		g.Tokens = append(g.Tokens, core.GenesisToken{
			Symbol:   tok.Symbol,
			Name:     tok.Name,
			Decimals: tok.Decimals,
		})
	}
	for i, alloc := range c.Allocations {
		addr, err := crypto.DecodeAddress(alloc.Address)
		if err != nil {
			return nil, fmt.Errorf("allocation[%d]: Address: %w", i, err)
		}
		amount, err := parseAmount(alloc.Amount)
		if err != nil {
			return nil, fmt.Errorf("allocation[%d]: Amount: %w", i, err)
		}
		g.Allocations = append(g.Allocations, core.GenesisAllocation{
			Address: addr,
			Token:   alloc.Token,
			Amount:  amount,
		})
	}
	for i, inst := range c.Instruments {
		issuer, err := crypto.DecodeAddress(inst.Issuer)
		if err != nil {
			return nil, fmt.Errorf("instrument[%d]: Issuer: %w", i, err)
		}
		params, err := inst.params()
		if err != nil {
			return nil, fmt.Errorf("instrument[%d]: %w", i, err)
		}
		g.Instruments = append(g.Instruments, core.GenesisInstrument{Issuer: issuer, Params: params})
	}
	return g, nil
}

func (i InstrumentConfig) params() (bond.Params, error) {
	p := bond.Params{
		Name:                 i.Name,
		Symbol:               i.Symbol,
		InterestRateBips:     i.InterestRateBips,
		SettlementToken:      i.SettlementToken,
		InterestPeriodMonths: i.InterestPeriodMonths,
		NumCoupons:           i.NumCoupons,
	}
	var err error
	if p.FaceValue, err = parseAmount(i.FaceValue); err != nil {
		return p, fmt.Errorf("FaceValue: %w", err)
	}
	if p.MaxSupply, err = parseAmount(i.MaxSupply); err != nil {
		return p, fmt.Errorf("MaxSupply: %w", err)
	}
	if p.IssuePrice, err = parseAmount(i.IssuePrice); err != nil {
		return p, fmt.Errorf("IssuePrice: %w", err)
	}
	if p.IssueDate, err = parseDate(i.IssueDate); err != nil {
		return p, fmt.Errorf("IssueDate: %w", err)
	}
	if p.FirstCouponDate, err = parseDate(i.FirstCouponDate); err != nil {
		return p, fmt.Errorf("FirstCouponDate: %w", err)
	}
	return p, nil
}
