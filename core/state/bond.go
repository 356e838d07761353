package state

import (
	"fmt"
	"math/big"

	"greenbonds/crypto"
	"greenbonds/native/bond"
)

var (
	bondInstrumentPrefix = []byte("bond/instrument")
	bondIndexKey         = []byte("bond/index")
	bondCommitPrefix     = []byte("bond/commit")
	bondSubscriberPrefix = []byte("bond/subscribers")
	bondClaimablePrefix  = []byte("bond/claimable")
	bondRedeemedPrefix   = []byte("bond/redeemed")
)

func bondInstrumentKey(symbol string) []byte {
	return prefixedKey(bondInstrumentPrefix, []byte(symbol))
}

func bondHolderKey(prefix []byte, symbol string, addr crypto.Address) []byte {
	return prefixedKey(prefix, []byte(symbol), addr.Bytes())
}

func bondSubscriberListKey(symbol string) []byte {
	return append(append([]byte(nil), bondSubscriberPrefix...), []byte("/"+symbol)...)
}

type storedBondInstrument struct {
	Name                 string
	Symbol               string
	InterestRateBips     uint64
	FaceValue            *big.Int
	SettlementToken      string
	MaxSupply            *big.Int
	IssueDate            *big.Int
	IssuePrice           *big.Int
	InterestPeriodMonths uint32
	FirstCouponDate      *big.Int
	NumCoupons           uint32
	Issuer               []byte
	Treasury             []byte
	Issued               bool
	IssuedAt             *big.Int
	TotalCommitted       *big.Int
	CouponsPaid          uint32
	LastCouponAt         *big.Int
	OutstandingInterest  *big.Int
	RedeemedUnits        *big.Int
	CreatedAt            *big.Int
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func newStoredBondInstrument(inst *bond.Instrument) *storedBondInstrument {
	p := inst.Params
	return &storedBondInstrument{
		Name:                 p.Name,
		Symbol:               inst.Symbol(),
		InterestRateBips:     p.InterestRateBips,
		FaceValue:            nonNil(p.FaceValue),
		SettlementToken:      normalizeSymbol(p.SettlementToken),
		MaxSupply:            nonNil(p.MaxSupply),
		IssueDate:            big.NewInt(p.IssueDate),
		IssuePrice:           nonNil(p.IssuePrice),
		InterestPeriodMonths: p.InterestPeriodMonths,
		FirstCouponDate:      big.NewInt(p.FirstCouponDate),
		NumCoupons:           p.NumCoupons,
		Issuer:               append([]byte(nil), inst.Issuer.Bytes()...),
		Treasury:             append([]byte(nil), inst.Treasury.Bytes()...),
		Issued:               inst.Issued,
		IssuedAt:             big.NewInt(inst.IssuedAt),
		TotalCommitted:       nonNil(inst.TotalCommitted),
		CouponsPaid:          inst.CouponsPaid,
		LastCouponAt:         big.NewInt(inst.LastCouponAt),
		OutstandingInterest:  nonNil(inst.OutstandingInterest),
		RedeemedUnits:        nonNil(inst.RedeemedUnits),
		CreatedAt:            big.NewInt(inst.CreatedAt),
	}
}

func (s *storedBondInstrument) toInstrument() (*bond.Instrument, error) {
	issuer, err := crypto.NewAddress(crypto.AccountPrefix, s.Issuer)
	if err != nil {
		return nil, fmt.Errorf("bond %s: issuer: %w", s.Symbol, err)
	}
	treasury, err := crypto.NewAddress(crypto.ModulePrefix, s.Treasury)
	if err != nil {
		return nil, fmt.Errorf("bond %s: treasury: %w", s.Symbol, err)
	}
	return &bond.Instrument{
		Params: bond.Params{
			Name:                 s.Name,
			Symbol:               s.Symbol,
			InterestRateBips:     s.InterestRateBips,
			FaceValue:            nonNil(s.FaceValue),
			SettlementToken:      s.SettlementToken,
			MaxSupply:            nonNil(s.MaxSupply),
			IssueDate:            nonNil(s.IssueDate).Int64(),
			IssuePrice:           nonNil(s.IssuePrice),
			InterestPeriodMonths: s.InterestPeriodMonths,
			FirstCouponDate:      nonNil(s.FirstCouponDate).Int64(),
			NumCoupons:           s.NumCoupons,
		},
		Issuer:              issuer,
		Treasury:            treasury,
		Issued:              s.Issued,
		IssuedAt:            nonNil(s.IssuedAt).Int64(),
		TotalCommitted:      nonNil(s.TotalCommitted),
		CouponsPaid:         s.CouponsPaid,
		LastCouponAt:        nonNil(s.LastCouponAt).Int64(),
		OutstandingInterest: nonNil(s.OutstandingInterest),
		RedeemedUnits:       nonNil(s.RedeemedUnits),
		CreatedAt:           nonNil(s.CreatedAt).Int64(),
	}, nil
}

// BondInstrumentGet loads an instrument by normalised symbol.
func (m *Manager) BondInstrumentGet(symbol string) (*bond.Instrument, bool, error) {
	symbol = normalizeSymbol(symbol)
	record := new(storedBondInstrument)
	ok, err := m.getRLP(bondInstrumentKey(symbol), record)
	if err != nil || !ok {
		return nil, false, err
	}
	inst, err := record.toInstrument()
	if err != nil {
		return nil, false, err
	}
	return inst, true, nil
}

// BondInstrumentPut persists inst and indexes its symbol.
func (m *Manager) BondInstrumentPut(inst *bond.Instrument) error {
	if inst == nil {
		return fmt.Errorf("bond: nil instrument")
	}
	symbol := inst.Symbol()
	if symbol == "" {
		return fmt.Errorf("bond: instrument symbol required")
	}
	if err := m.putRLP(bondInstrumentKey(symbol), newStoredBondInstrument(inst)); err != nil {
		return err
	}
	return m.KVAppend(bondIndexKey, []byte(symbol))
}

// BondInstrumentList returns every registered instrument symbol in creation
// order.
func (m *Manager) BondInstrumentList() ([]string, error) {
	var raw [][]byte
	if err := m.KVGetList(bondIndexKey, &raw); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw))
	for _, symbol := range raw {
		out = append(out, string(symbol))
	}
	return out, nil
}

func (m *Manager) bondAmountGet(prefix []byte, symbol string, addr crypto.Address) (*big.Int, error) {
	amount := new(big.Int)
	if _, err := m.getRLP(bondHolderKey(prefix, normalizeSymbol(symbol), addr), amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (m *Manager) bondAmountPut(prefix []byte, symbol string, addr crypto.Address, amount *big.Int) error {
	if len(addr.Bytes()) == 0 {
		return fmt.Errorf("bond: address required")
	}
	if amount != nil && amount.Sign() < 0 {
		return fmt.Errorf("bond: negative amount not allowed")
	}
	return m.putRLP(bondHolderKey(prefix, normalizeSymbol(symbol), addr), nonNil(amount))
}

// BondCommitmentGet returns the units addr committed to symbol.
func (m *Manager) BondCommitmentGet(symbol string, addr crypto.Address) (*big.Int, error) {
	return m.bondAmountGet(bondCommitPrefix, symbol, addr)
}

// BondCommitmentPut overwrites the units addr committed to symbol.
func (m *Manager) BondCommitmentPut(symbol string, addr crypto.Address, units *big.Int) error {
	return m.bondAmountPut(bondCommitPrefix, symbol, addr, units)
}

// BondSubscriberAdd records addr in the instrument's holder registry. Repeat
// additions are ignored.
func (m *Manager) BondSubscriberAdd(symbol string, addr crypto.Address) error {
	if len(addr.Bytes()) == 0 {
		return fmt.Errorf("bond: address required")
	}
	return m.KVAppend(bondSubscriberListKey(normalizeSymbol(symbol)), addr.Bytes())
}

// BondSubscribers lists every address that ever committed to symbol, in first
// commitment order.
func (m *Manager) BondSubscribers(symbol string) ([]crypto.Address, error) {
	var raw [][]byte
	if err := m.KVGetList(bondSubscriberListKey(normalizeSymbol(symbol)), &raw); err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(raw))
	for _, b := range raw {
		addr, err := crypto.NewAddress(crypto.AccountPrefix, b)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// BondClaimableGet returns interest accrued to addr and not yet claimed.
func (m *Manager) BondClaimableGet(symbol string, addr crypto.Address) (*big.Int, error) {
	return m.bondAmountGet(bondClaimablePrefix, symbol, addr)
}

// BondClaimablePut overwrites the unclaimed interest of addr.
func (m *Manager) BondClaimablePut(symbol string, addr crypto.Address, amount *big.Int) error {
	return m.bondAmountPut(bondClaimablePrefix, symbol, addr, amount)
}

// BondRedeemedGet returns the units addr has redeemed.
func (m *Manager) BondRedeemedGet(symbol string, addr crypto.Address) (*big.Int, error) {
	return m.bondAmountGet(bondRedeemedPrefix, symbol, addr)
}

// BondRedeemedPut records the units addr has redeemed.
func (m *Manager) BondRedeemedPut(symbol string, addr crypto.Address, units *big.Int) error {
	return m.bondAmountPut(bondRedeemedPrefix, symbol, addr, units)
}
