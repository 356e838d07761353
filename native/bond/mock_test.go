package bond

import (
	"errors"
	"math/big"

	"greenbonds/core/events"
	"greenbonds/crypto"
)

type mockState struct {
	instruments map[string]*Instrument
	commitments map[string]*big.Int
	subscribers map[string][]crypto.Address
	claimable   map[string]*big.Int
	redeemed    map[string]*big.Int
}

func newMockState() *mockState {
	return &mockState{
		instruments: make(map[string]*Instrument),
		commitments: make(map[string]*big.Int),
		subscribers: make(map[string][]crypto.Address),
		claimable:   make(map[string]*big.Int),
		redeemed:    make(map[string]*big.Int),
	}
}

func holderKey(symbol string, addr crypto.Address) string {
	return symbol + "/" + string(addr.Bytes())
}

func (m *mockState) BondInstrumentGet(symbol string) (*Instrument, bool, error) {
	inst, ok := m.instruments[symbol]
	if !ok {
		return nil, false, nil
	}
	return inst.Clone(), true, nil
}

func (m *mockState) BondInstrumentPut(inst *Instrument) error {
	if inst == nil {
		return nil
	}
	m.instruments[inst.Symbol()] = inst.Clone()
	return nil
}

func (m *mockState) BondInstrumentList() ([]string, error) {
	out := make([]string, 0, len(m.instruments))
	for symbol := range m.instruments {
		out = append(out, symbol)
	}
	return out, nil
}

func (m *mockState) BondCommitmentGet(symbol string, addr crypto.Address) (*big.Int, error) {
	return copyBig(m.commitments[holderKey(symbol, addr)]), nil
}

func (m *mockState) BondCommitmentPut(symbol string, addr crypto.Address, units *big.Int) error {
	m.commitments[holderKey(symbol, addr)] = copyBig(units)
	return nil
}

func (m *mockState) BondSubscriberAdd(symbol string, addr crypto.Address) error {
	for _, existing := range m.subscribers[symbol] {
		if existing.Equal(addr) {
			return nil
		}
	}
	m.subscribers[symbol] = append(m.subscribers[symbol], addr)
	return nil
}

func (m *mockState) BondSubscribers(symbol string) ([]crypto.Address, error) {
	return append([]crypto.Address(nil), m.subscribers[symbol]...), nil
}

func (m *mockState) BondClaimableGet(symbol string, addr crypto.Address) (*big.Int, error) {
	return copyBig(m.claimable[holderKey(symbol, addr)]), nil
}

func (m *mockState) BondClaimablePut(symbol string, addr crypto.Address, amount *big.Int) error {
	m.claimable[holderKey(symbol, addr)] = copyBig(amount)
	return nil
}

func (m *mockState) BondRedeemedGet(symbol string, addr crypto.Address) (*big.Int, error) {
	return copyBig(m.redeemed[holderKey(symbol, addr)]), nil
}

func (m *mockState) BondRedeemedPut(symbol string, addr crypto.Address, units *big.Int) error {
	m.redeemed[holderKey(symbol, addr)] = copyBig(units)
	return nil
}

var (
	errFakeBalance   = errors.New("fake ledger: insufficient balance")
	errFakeAllowance = errors.New("fake ledger: insufficient allowance")
)

// fakeLedger backs both the settlement asset and the bond positions. Hooks run
// before a movement is applied so tests can re-enter the engine mid call.
type fakeLedger struct {
	balances   map[string]*big.Int
	allowances map[string]*big.Int
	supply     map[string]*big.Int
	registered map[string]uint8

	onMint     func(token string, to crypto.Address)
	onTransfer func(token string, to crypto.Address)
	onPull     func(token string, from crypto.Address)
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]*big.Int),
		supply:     make(map[string]*big.Int),
		registered: make(map[string]uint8),
	}
}

func balanceKey(token string, addr crypto.Address) string {
	return token + "/" + string(addr.Bytes())
}

func allowanceKey(token string, owner, spender crypto.Address) string {
	return token + "/" + string(owner.Bytes()) + "/" + string(spender.Bytes())
}

func (l *fakeLedger) RegisterToken(symbol, _ string, decimals uint8) error {
	l.registered[symbol] = decimals
	return nil
}

func (l *fakeLedger) TokenExists(symbol string) bool {
	_, ok := l.registered[symbol]
	return ok
}

func (l *fakeLedger) credit(token string, addr crypto.Address, amount *big.Int) {
	key := balanceKey(token, addr)
	l.balances[key] = new(big.Int).Add(zeroIfNil(l.balances[key]), amount)
}

func (l *fakeLedger) debit(token string, addr crypto.Address, amount *big.Int) error {
	key := balanceKey(token, addr)
	current := zeroIfNil(l.balances[key])
	if current.Cmp(amount) < 0 {
		return errFakeBalance
	}
	l.balances[key] = new(big.Int).Sub(current, amount)
	return nil
}

func (l *fakeLedger) approve(token string, owner, spender crypto.Address, amount int64) {
	l.allowances[allowanceKey(token, owner, spender)] = big.NewInt(amount)
}

func (l *fakeLedger) fund(token string, addr crypto.Address, amount int64) {
	l.credit(token, addr, big.NewInt(amount))
}

func (l *fakeLedger) BalanceOf(token string, addr crypto.Address) (*big.Int, error) {
	return new(big.Int).Set(zeroIfNil(l.balances[balanceKey(token, addr)])), nil
}

func (l *fakeLedger) TotalSupply(token string) (*big.Int, error) {
	return new(big.Int).Set(zeroIfNil(l.supply[token])), nil
}

func (l *fakeLedger) Transfer(token string, from, to crypto.Address, amount *big.Int) error {
	if l.onTransfer != nil {
		l.onTransfer(token, to)
	}
	if err := l.debit(token, from, amount); err != nil {
		return err
	}
	l.credit(token, to, amount)
	return nil
}

func (l *fakeLedger) TransferFrom(token string, spender, owner, recipient crypto.Address, amount *big.Int) error {
	if l.onPull != nil {
		l.onPull(token, owner)
	}
	key := allowanceKey(token, owner, spender)
	allowance := zeroIfNil(l.allowances[key])
	if allowance.Cmp(amount) < 0 {
		return errFakeAllowance
	}
	if err := l.debit(token, owner, amount); err != nil {
		return err
	}
	l.allowances[key] = new(big.Int).Sub(allowance, amount)
	l.credit(token, recipient, amount)
	return nil
}

func (l *fakeLedger) Mint(token string, to crypto.Address, units *big.Int) error {
	if l.onMint != nil {
		l.onMint(token, to)
	}
	l.credit(token, to, units)
	l.supply[token] = new(big.Int).Add(zeroIfNil(l.supply[token]), units)
	return nil
}

func (l *fakeLedger) Burn(token string, from crypto.Address, units *big.Int) error {
	if err := l.debit(token, from, units); err != nil {
		return err
	}
	l.supply[token] = new(big.Int).Sub(zeroIfNil(l.supply[token]), units)
	return nil
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) types() []string {
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.EventType())
	}
	return out
}
