package events

import (
	"math/big"

	"greenbonds/core/types"
	"greenbonds/crypto"
)

const (
	TypeTokenMinted      = "token.minted"
	TypeTokenBurned      = "token.burned"
	TypeTokenTransferred = "token.transferred"
	TypeTokenApproved    = "token.approved"
)

// TokenMovement describes a balance change on the fungible token ledger. From
// is zero for mints and To is zero for burns.
type TokenMovement struct {
	Kind   string
	Token  string
	From   crypto.Address
	To     crypto.Address
	Amount *big.Int
}

func (e TokenMovement) EventType() string { return e.Kind }

func (e TokenMovement) Event() *types.Event {
	attrs := map[string]string{
		"token":  normalizeToken(e.Token),
		"amount": formatAmount(e.Amount),
	}
	if !e.From.IsZero() {
		attrs["from"] = e.From.String()
	}
	if !e.To.IsZero() {
		attrs["to"] = e.To.String()
	}
	return &types.Event{Type: e.Kind, Attributes: attrs}
}

// TokenApproval records an allowance granted to a spender.
type TokenApproval struct {
	Token   string
	Owner   crypto.Address
	Spender crypto.Address
	Amount  *big.Int
}

func (TokenApproval) EventType() string { return TypeTokenApproved }

func (e TokenApproval) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenApproved,
		Attributes: map[string]string{
			"token":   normalizeToken(e.Token),
			"owner":   e.Owner.String(),
			"spender": e.Spender.String(),
			"amount":  formatAmount(e.Amount),
		},
	}
}
