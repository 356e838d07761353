package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"greenbonds/core/events"
	"greenbonds/crypto"
	nativecommon "greenbonds/native/common"
)

const moduleName = "token"

var (
	ErrInvalidAmount         = errors.New("token ledger: amount must be positive")
	ErrInsufficientBalance   = errors.New("token ledger: insufficient balance")
	ErrInsufficientAllowance = errors.New("token ledger: insufficient allowance")
	ErrUnknownToken          = errors.New("token ledger: token not registered")
	ErrInvalidAddress        = errors.New("token ledger: address required")

	errNilState = errors.New("token ledger: state not configured")
)

type ledgerState interface {
	RegisterToken(symbol, name string, decimals uint8) error
	TokenExists(symbol string) bool
	Balance(addr []byte, symbol string) (*big.Int, error)
	SetBalance(addr []byte, symbol string, amount *big.Int) error
	Allowance(owner, spender []byte, symbol string) (*big.Int, error)
	SetAllowance(owner, spender []byte, symbol string, amount *big.Int) error
	TokenSupply(symbol string) (*big.Int, error)
	AdjustTokenSupply(symbol string, delta *big.Int) (*big.Int, error)
}

// Ledger is the fungible balance book shared by settlement currencies and
// bond-position tokens. It satisfies both collaborator roles of the bond
// engine.
type Ledger struct {
	state   ledgerState
	emitter events.Emitter
	pauses  nativecommon.PauseView
}

// NewLedger constructs a ledger with a no-op emitter.
func NewLedger() *Ledger {
	return &Ledger{emitter: events.NoopEmitter{}}
}

func (l *Ledger) SetState(state ledgerState) { l.state = state }

func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) SetPauses(p nativecommon.PauseView) { l.pauses = p }

func (l *Ledger) emit(evt events.Event) {
	if l.emitter != nil {
		l.emitter.Emit(evt)
	}
}

func (l *Ledger) ready(token string) (string, error) {
	if l == nil || l.state == nil {
		return "", errNilState
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return "", err
	}
	normalized := strings.ToUpper(strings.TrimSpace(token))
	if !l.state.TokenExists(normalized) {
		return "", fmt.Errorf("%w: %s", ErrUnknownToken, normalized)
	}
	return normalized, nil
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// RegisterToken declares a new token.
func (l *Ledger) RegisterToken(symbol, name string, decimals uint8) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	return l.state.RegisterToken(symbol, name, decimals)
}

// TokenExists reports whether symbol has been registered.
func (l *Ledger) TokenExists(symbol string) bool {
	if l == nil || l.state == nil {
		return false
	}
	return l.state.TokenExists(strings.ToUpper(strings.TrimSpace(symbol)))
}

// BalanceOf returns the balance of addr.
func (l *Ledger) BalanceOf(token string, addr crypto.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	return l.state.Balance(addr.Bytes(), token)
}

// TotalSupply returns the outstanding supply of token.
func (l *Ledger) TotalSupply(token string) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	return l.state.TokenSupply(token)
}

// Allowance returns how much spender may still pull from owner.
func (l *Ledger) Allowance(token string, owner, spender crypto.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	return l.state.Allowance(owner.Bytes(), spender.Bytes(), token)
}

// Mint credits units to the recipient and grows the supply.
func (l *Ledger) Mint(token string, to crypto.Address, amount *big.Int) error {
	symbol, err := l.ready(token)
	if err != nil {
		return err
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	if to.IsZero() {
		return ErrInvalidAddress
	}
	if err := l.credit(symbol, to, amount); err != nil {
		return err
	}
	if _, err := l.state.AdjustTokenSupply(symbol, amount); err != nil {
		return err
	}
	l.emit(events.TokenMovement{Kind: events.TypeTokenMinted, Token: symbol, To: to, Amount: amount})
	return nil
}

// Burn debits units from the holder and shrinks the supply.
func (l *Ledger) Burn(token string, from crypto.Address, amount *big.Int) error {
	symbol, err := l.ready(token)
	if err != nil {
		return err
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	if err := l.debit(symbol, from, amount); err != nil {
		return err
	}
	if _, err := l.state.AdjustTokenSupply(symbol, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	l.emit(events.TokenMovement{Kind: events.TypeTokenBurned, Token: symbol, From: from, Amount: amount})
	return nil
}

// Transfer moves amount between two accounts.
func (l *Ledger) Transfer(token string, from, to crypto.Address, amount *big.Int) error {
	symbol, err := l.ready(token)
	if err != nil {
		return err
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	if to.IsZero() {
		return ErrInvalidAddress
	}
	if err := l.debit(symbol, from, amount); err != nil {
		return err
	}
	if err := l.credit(symbol, to, amount); err != nil {
		return err
	}
	l.emit(events.TokenMovement{Kind: events.TypeTokenTransferred, Token: symbol, From: from, To: to, Amount: amount})
	return nil
}

// Approve sets the amount spender may pull from owner, replacing any previous
// allowance.
func (l *Ledger) Approve(token string, owner, spender crypto.Address, amount *big.Int) error {
	symbol, err := l.ready(token)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if owner.IsZero() || spender.IsZero() {
		return ErrInvalidAddress
	}
	if err := l.state.SetAllowance(owner.Bytes(), spender.Bytes(), symbol, amount); err != nil {
		return err
	}
	l.emit(events.TokenApproval{Token: symbol, Owner: owner, Spender: spender, Amount: amount})
	return nil
}

// TransferFrom moves amount from owner to recipient, consuming allowance that
// owner granted to spender.
func (l *Ledger) TransferFrom(token string, spender, owner, recipient crypto.Address, amount *big.Int) error {
	symbol, err := l.ready(token)
	if err != nil {
		return err
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	allowance, err := l.state.Allowance(owner.Bytes(), spender.Bytes(), symbol)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: need %s, approved %s", ErrInsufficientAllowance, amount, allowance)
	}
	if err := l.state.SetAllowance(owner.Bytes(), spender.Bytes(), symbol, new(big.Int).Sub(allowance, amount)); err != nil {
		return err
	}
	return l.Transfer(symbol, owner, recipient, amount)
}

func (l *Ledger) credit(symbol string, addr crypto.Address, amount *big.Int) error {
	balance, err := l.state.Balance(addr.Bytes(), symbol)
	if err != nil {
		return err
	}
	return l.state.SetBalance(addr.Bytes(), symbol, new(big.Int).Add(balance, amount))
}

func (l *Ledger) debit(symbol string, addr crypto.Address, amount *big.Int) error {
	balance, err := l.state.Balance(addr.Bytes(), symbol)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientBalance, amount, balance)
	}
	return l.state.SetBalance(addr.Bytes(), symbol, new(big.Int).Sub(balance, amount))
}
