package core

import (
	"context"
	"math/big"

	"greenbonds/crypto"
	"greenbonds/native/bond"
)

// CreateInstrument registers a new bond owned by issuer.
func (n *Node) CreateInstrument(ctx context.Context, issuer crypto.Address, params bond.Params) (*bond.Instrument, error) {
	var out *bond.Instrument
	err := n.apply(ctx, "bond.create", func() error {
		var err error
		out, err = n.bonds.Create(issuer, params)
		return err
	})
	return out, err
}

// Commit subscribes units of symbol on behalf of subscriber.
func (n *Node) Commit(ctx context.Context, symbol string, subscriber crypto.Address, units *big.Int) (*bond.Subscription, error) {
	var out *bond.Subscription
	err := n.apply(ctx, "bond.commit", func() error {
		var err error
		out, err = n.bonds.Commit(symbol, subscriber, units)
		return err
	})
	return out, err
}

// Issue converts the commitments of symbol into bond positions.
func (n *Node) Issue(ctx context.Context, symbol string) (*bond.Issuance, error) {
	var out *bond.Issuance
	err := n.apply(ctx, "bond.issue", func() error {
		var err error
		out, err = n.bonds.Issue(symbol)
		return err
	})
	return out, err
}

// AccrueInterest credits the next coupon of symbol.
func (n *Node) AccrueInterest(ctx context.Context, symbol string) (*bond.CouponAccrual, error) {
	var out *bond.CouponAccrual
	err := n.apply(ctx, "bond.accrue", func() error {
		var err error
		out, err = n.bonds.AccrueInterest(symbol)
		return err
	})
	return out, err
}

// ClaimInterest pays out the interest accrued to holder.
func (n *Node) ClaimInterest(ctx context.Context, symbol string, holder crypto.Address) (*big.Int, error) {
	var out *big.Int
	err := n.apply(ctx, "bond.claim", func() error {
		var err error
		out, err = n.bonds.ClaimInterest(symbol, holder)
		return err
	})
	return out, err
}

// Redeem burns holder's position and pays back its face value.
func (n *Node) Redeem(ctx context.Context, symbol string, holder crypto.Address) (*bond.Redemption, error) {
	var out *bond.Redemption
	err := n.apply(ctx, "bond.redeem", func() error {
		var err error
		out, err = n.bonds.Redeem(symbol, holder)
		return err
	})
	return out, err
}

// Fund moves issuer funds into the treasury of symbol.
func (n *Node) Fund(ctx context.Context, symbol string, issuer crypto.Address, amount *big.Int) (*big.Int, error) {
	var out *big.Int
	err := n.apply(ctx, "bond.fund", func() error {
		var err error
		out, err = n.bonds.Fund(symbol, issuer, amount)
		return err
	})
	return out, err
}

// WithdrawProceeds releases treasury funds of symbol to its issuer.
func (n *Node) WithdrawProceeds(ctx context.Context, symbol string, issuer crypto.Address, amount *big.Int) (*big.Int, error) {
	var out *big.Int
	err := n.apply(ctx, "bond.withdraw", func() error {
		var err error
		out, err = n.bonds.WithdrawProceeds(symbol, issuer, amount)
		return err
	})
	return out, err
}

// Approve lets spender pull up to amount of token from owner.
func (n *Node) Approve(ctx context.Context, tokenSymbol string, owner, spender crypto.Address, amount *big.Int) error {
	return n.apply(ctx, "token.approve", func() error {
		return n.ledger.Approve(tokenSymbol, owner, spender, amount)
	})
}

// InstrumentView is an instrument together with its derived lifecycle data.
type InstrumentView struct {
	Instrument *bond.Instrument
	Phase      bond.Phase
	Maturity   int64
	Matured    bool
	Treasury   *big.Int
	Supply     *big.Int
}

func (n *Node) view(inst *bond.Instrument) (*InstrumentView, error) {
	treasury, err := n.bonds.TreasuryBalance(inst.Symbol())
	if err != nil {
		return nil, err
	}
	supply, err := n.ledger.TotalSupply(inst.Symbol())
	if err != nil {
		return nil, err
	}
	return &InstrumentView{
		Instrument: inst,
		Phase:      inst.Phase(),
		Maturity:   bond.MaturityDate(inst.Params),
		Matured:    bond.Matured(inst, n.clock().Unix()),
		Treasury:   treasury,
		Supply:     supply,
	}, nil
}

// Instrument returns one instrument with its derived data.
func (n *Node) Instrument(symbol string) (*InstrumentView, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	inst, err := n.bonds.Instrument(symbol)
	if err != nil {
		return nil, err
	}
	return n.view(inst)
}

// Instruments lists every instrument ordered by symbol.
func (n *Node) Instruments() ([]*InstrumentView, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	list, err := n.bonds.Instruments()
	if err != nil {
		return nil, err
	}
	out := make([]*InstrumentView, 0, len(list))
	for _, inst := range list {
		v, err := n.view(inst)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// CouponSchedule returns the coupon dates of symbol.
func (n *Node) CouponSchedule(symbol string) ([]int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bonds.Schedule(symbol)
}

// HolderPosition summarises one address's standing in an instrument.
type HolderPosition struct {
	Status    bond.HolderStatus
	Committed *big.Int
	Balance   *big.Int
	Claimable *big.Int
}

// Position returns addr's commitment, balance, claimable interest and status.
func (n *Node) Position(symbol string, addr crypto.Address) (*HolderPosition, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	committed, err := n.bonds.CommittedBalance(symbol, addr)
	if err != nil {
		return nil, err
	}
	balance, err := n.bonds.BalanceOf(symbol, addr)
	if err != nil {
		return nil, err
	}
	claimable, err := n.bonds.ClaimableInterest(symbol, addr)
	if err != nil {
		return nil, err
	}
	status, err := n.bonds.HolderStatus(symbol, addr)
	if err != nil {
		return nil, err
	}
	return &HolderPosition{Status: status, Committed: committed, Balance: balance, Claimable: claimable}, nil
}

// CommittedBalance returns the units addr committed to symbol.
func (n *Node) CommittedBalance(symbol string, addr crypto.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bonds.CommittedBalance(symbol, addr)
}

// ClaimableInterest returns interest accrued to addr and not yet claimed.
func (n *Node) ClaimableInterest(symbol string, addr crypto.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bonds.ClaimableInterest(symbol, addr)
}

// BondBalance returns the bond units addr holds.
func (n *Node) BondBalance(symbol string, addr crypto.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bonds.BalanceOf(symbol, addr)
}

// TokenBalance returns the token balance of addr.
func (n *Node) TokenBalance(tokenSymbol string, addr crypto.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.BalanceOf(tokenSymbol, addr)
}

// Allowance returns how much spender may pull from owner.
func (n *Node) Allowance(tokenSymbol string, owner, spender crypto.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.Allowance(tokenSymbol, owner, spender)
}
