package bond

import (
	"math/big"
	"sort"

	"greenbonds/crypto"
)

// Instrument returns a copy of the stored instrument.
func (e *Engine) Instrument(symbol string) (*Instrument, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	inst, err := e.load(symbol)
	if err != nil {
		return nil, err
	}
	return inst.Clone(), nil
}

// Instruments lists every registered instrument ordered by symbol.
func (e *Engine) Instruments() ([]*Instrument, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	symbols, err := e.state.BondInstrumentList()
	if err != nil {
		return nil, err
	}
	sort.Strings(symbols)
	out := make([]*Instrument, 0, len(symbols))
	for _, symbol := range symbols {
		inst, err := e.load(symbol)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// CommittedBalance returns the units addr committed before issuance. The
// figure is kept after issuance as a historical record.
func (e *Engine) CommittedBalance(symbol string, addr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	inst, err := e.load(symbol)
	if err != nil {
		return nil, err
	}
	units, err := e.state.BondCommitmentGet(inst.Symbol(), addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(zeroIfNil(units)), nil
}

// ClaimableInterest returns the interest accrued to addr and not yet claimed.
func (e *Engine) ClaimableInterest(symbol string, addr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	inst, err := e.load(symbol)
	if err != nil {
		return nil, err
	}
	owed, err := e.state.BondClaimableGet(inst.Symbol(), addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(zeroIfNil(owed)), nil
}

// BalanceOf returns the bond units addr currently holds.
func (e *Engine) BalanceOf(symbol string, addr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.positions == nil {
		return nil, errNilPositions
	}
	inst, err := e.load(symbol)
	if err != nil {
		return nil, err
	}
	balance, err := e.positions.BalanceOf(inst.Symbol(), addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(zeroIfNil(balance)), nil
}

// Schedule returns the coupon dates of an instrument.
func (e *Engine) Schedule(symbol string) ([]int64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	inst, err := e.load(symbol)
	if err != nil {
		return nil, err
	}
	return Schedule(inst.Params), nil
}

// HolderStatus derives where addr stands in the instrument lifecycle.
func (e *Engine) HolderStatus(symbol string, addr crypto.Address) (HolderStatus, error) {
	if e == nil || e.state == nil {
		return HolderNone, errNilState
	}
	if e.positions == nil {
		return HolderNone, errNilPositions
	}
	inst, err := e.load(symbol)
	if err != nil {
		return HolderNone, err
	}
	sym := inst.Symbol()
	committed, err := e.state.BondCommitmentGet(sym, addr)
	if err != nil {
		return HolderNone, err
	}
	balance, err := e.positions.BalanceOf(sym, addr)
	if err != nil {
		return HolderNone, err
	}
	redeemed, err := e.state.BondRedeemedGet(sym, addr)
	if err != nil {
		return HolderNone, err
	}
	return DeriveHolderStatus(inst.Issued, committed, balance, redeemed), nil
}

// TreasuryBalance returns the settlement funds held by the instrument treasury.
func (e *Engine) TreasuryBalance(symbol string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.settlement == nil {
		return nil, errNilSettlement
	}
	inst, err := e.load(symbol)
	if err != nil {
		return nil, err
	}
	balance, err := e.settlement.BalanceOf(inst.Params.SettlementToken, inst.Treasury)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(zeroIfNil(balance)), nil
}
