package core

import (
	"fmt"
	"math/big"

	"greenbonds/crypto"
	"greenbonds/native/bond"
)

// GenesisToken declares a token registered when the ledger is first created.
type GenesisToken struct {
	Symbol   string
	Name     string
	Decimals uint8
}

// GenesisAllocation mints an initial balance.
type GenesisAllocation struct {
	Address crypto.Address
	Token   string
	Amount  *big.Int
}

// GenesisInstrument creates a bond instrument at genesis.
type GenesisInstrument struct {
	Issuer crypto.Address
	Params bond.Params
}

// Genesis is the initial ledger content. It is applied only to an empty
// database.
type Genesis struct {
	Tokens      []GenesisToken
	Allocations []GenesisAllocation
	Instruments []GenesisInstrument
}

func (n *Node) applyGenesis(g *Genesis) error {
	if g == nil {
		return nil
	}
	for _, tok := range g.Tokens {
		if err := n.ledger.RegisterToken(tok.Symbol, tok.Name, tok.Decimals); err != nil {
			return fmt.Errorf("genesis token %s: %w", tok.Symbol, err)
		}
	}
	for _, alloc := range g.Allocations {
		if err := n.ledger.Mint(alloc.Token, alloc.Address, alloc.Amount); err != nil {
			return fmt.Errorf("genesis allocation %s to %s: %w", alloc.Token, alloc.Address, err)
		}
	}
	for _, inst := range g.Instruments {
		if _, err := n.bonds.Create(inst.Issuer, inst.Params); err != nil {
			return fmt.Errorf("genesis instrument %s: %w", inst.Params.Symbol, err)
		}
	}
	return nil
}
