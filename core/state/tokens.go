package state

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// TokenMetadata describes a fungible asset tracked by the ledger: either a
// settlement currency or a bond-position token.
type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

var (
	tokenPrefix     = []byte("token")
	tokenListKey    = ethcrypto.Keccak256([]byte("token-list"))
	balancePrefix   = []byte("balance")
	allowancePrefix = []byte("allowance")
	supplyPrefix    = []byte("token/supply")
)

func tokenMetadataKey(symbol string) []byte {
	return prefixedKey(tokenPrefix, []byte(symbol))
}

func balanceKey(addr []byte, symbol string) []byte {
	return prefixedKey(balancePrefix, []byte(symbol), addr)
}

func allowanceKey(owner, spender []byte, symbol string) []byte {
	return prefixedKey(allowancePrefix, []byte(symbol), owner, spender)
}

func tokenSupplyKey(symbol string) []byte {
	return prefixedKey(supplyPrefix, []byte(symbol))
}

func (m *Manager) loadTokenMetadata(symbol string) (*TokenMetadata, error) {
	meta := new(TokenMetadata)
	ok, err := m.getRLP(tokenMetadataKey(symbol), meta)
	if err != nil || !ok {
		return nil, err
	}
	return meta, nil
}

func (m *Manager) requireToken(symbol string) (string, error) {
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return "", fmt.Errorf("token symbol must not be empty")
	}
	meta, err := m.loadTokenMetadata(normalized)
	if err != nil {
		return "", err
	}
	if meta == nil {
		return "", fmt.Errorf("token %s not registered", normalized)
	}
	return normalized, nil
}

// RegisterToken stores the metadata for a token and records it in the token
// index.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8) error {
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("token %s: name must not be empty", normalized)
	}
	if existing, err := m.loadTokenMetadata(normalized); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("token %s already registered", normalized)
	}
	list, err := m.TokenList()
	if err != nil {
		return err
	}
	list = append(list, normalized)
	sort.Strings(list)
	if err := m.putRLP(tokenListKey, list); err != nil {
		return err
	}
	return m.putRLP(tokenMetadataKey(normalized), &TokenMetadata{
		Symbol:   normalized,
		Name:     strings.TrimSpace(name),
		Decimals: decimals,
	})
}

// Token retrieves metadata for a registered token, or nil when unknown.
func (m *Manager) Token(symbol string) (*TokenMetadata, error) {
	return m.loadTokenMetadata(normalizeSymbol(symbol))
}

// TokenList returns all registered token symbols in sorted order.
func (m *Manager) TokenList() ([]string, error) {
	list := []string{}
	if _, err := m.getRLP(tokenListKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// TokenExists reports whether the provided token symbol is registered.
func (m *Manager) TokenExists(symbol string) bool {
	meta, err := m.Token(symbol)
	return err == nil && meta != nil
}

// SetBalance stores an account balance for the provided token.
func (m *Manager) SetBalance(addr []byte, symbol string, amount *big.Int) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	return m.putRLP(balanceKey(addr, normalized), amount)
}

// Balance retrieves a token balance. Missing entries default to zero.
func (m *Manager) Balance(addr []byte, symbol string) (*big.Int, error) {
	amount := new(big.Int)
	if _, err := m.getRLP(balanceKey(addr, normalizeSymbol(symbol)), amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// SetAllowance records how much spender may pull from owner's balance.
func (m *Manager) SetAllowance(owner, spender []byte, symbol string, amount *big.Int) error {
	if len(owner) == 0 || len(spender) == 0 {
		return fmt.Errorf("owner and spender must not be empty")
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative allowance not allowed")
	}
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	return m.putRLP(allowanceKey(owner, spender, normalized), amount)
}

// Allowance returns the remaining amount spender may pull from owner.
func (m *Manager) Allowance(owner, spender []byte, symbol string) (*big.Int, error) {
	amount := new(big.Int)
	if _, err := m.getRLP(allowanceKey(owner, spender, normalizeSymbol(symbol)), amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// TokenSupply returns the persisted total supply for the provided token.
// Missing entries default to zero.
func (m *Manager) TokenSupply(symbol string) (*big.Int, error) {
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return nil, fmt.Errorf("token symbol required")
	}
	total := new(big.Int)
	if _, err := m.getRLP(tokenSupplyKey(normalized), total); err != nil {
		return nil, err
	}
	return total, nil
}

// AdjustTokenSupply adds delta (which may be negative) to the stored total
// supply and returns the updated total.
func (m *Manager) AdjustTokenSupply(symbol string, delta *big.Int) (*big.Int, error) {
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return nil, err
	}
	current, err := m.TokenSupply(normalized)
	if err != nil {
		return nil, err
	}
	if delta != nil {
		current.Add(current, delta)
	}
	if current.Sign() < 0 {
		return nil, fmt.Errorf("token %s supply cannot be negative", normalized)
	}
	if err := m.putRLP(tokenSupplyKey(normalized), current); err != nil {
		return nil, err
	}
	return new(big.Int).Set(current), nil
}
