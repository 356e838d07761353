package bond

import (
	"errors"
	"fmt"
)

// Failure kinds. Every guard failure wraps exactly one of these so callers can
// branch with errors.Is while still surfacing a distinct reason string.
var (
	// ErrPhase marks an operation invoked outside its lifecycle phase.
	ErrPhase = errors.New("bond: invalid lifecycle phase")
	// ErrCapacity marks a subscription that would exceed max supply.
	ErrCapacity = errors.New("bond: capacity exceeded")
	// ErrTiming marks a time-gated operation invoked too early.
	ErrTiming = errors.New("bond: too early")
	// ErrNoClaim marks a claim with nothing accrued.
	ErrNoClaim = errors.New("bond: nothing to claim")
	// ErrNoPosition marks a redemption without a bond position.
	ErrNoPosition = errors.New("bond: no position")
	// ErrMaturity marks a redemption before maturity.
	ErrMaturity = errors.New("bond: not matured")
)

var (
	ErrInvalidAmount        = errors.New("bond engine: amount must be positive")
	ErrInvalidParams        = errors.New("bond engine: invalid instrument parameters")
	ErrInstrumentNotFound   = errors.New("bond engine: instrument not found")
	ErrInstrumentExists     = errors.New("bond engine: instrument already exists")
	ErrUnauthorized         = errors.New("bond engine: caller is not the issuer")
	ErrInsufficientTreasury = errors.New("bond engine: treasury cannot cover payout")

	errNilState       = errors.New("bond engine: state not configured")
	errNilSettlement  = errors.New("bond engine: settlement asset not configured")
	errNilPositions   = errors.New("bond engine: bond position ledger not configured")
	errSupplyMismatch = errors.New("bond engine: minted supply does not match commitments")
)

// Error is a lifecycle guard failure.
type Error struct {
	Kind   error
	Reason string
}

func (e *Error) Error() string {
	return "bond engine: " + e.Reason
}

func (e *Error) Unwrap() error {
	return e.Kind
}

var (
	errSubscriptionEnded    = &Error{Kind: ErrPhase, Reason: "subscription period ended"}
	errSubscriptionOpen     = &Error{Kind: ErrPhase, Reason: "subscription period not yet ended"}
	errCouponsExhausted     = &Error{Kind: ErrPhase, Reason: "all coupons already paid"}
	errMaxSupplyReached     = &Error{Kind: ErrCapacity, Reason: "not enough remaining bonds (max supply reached)"}
	errIssueDateNotReached  = &Error{Kind: ErrTiming, Reason: "issuance date not yet passed"}
	errCouponDateNotReached = &Error{Kind: ErrTiming, Reason: "coupon date not yet reached"}
	errNothingToClaim       = &Error{Kind: ErrNoClaim, Reason: "no interest to claim"}
	errNoBonds              = &Error{Kind: ErrNoPosition, Reason: "no bonds to redeem"}
	errNotMatured           = &Error{Kind: ErrMaturity, Reason: "bonds can only be redeemed after maturity and all coupons have been paid"}
)

// Reason returns the human readable guard reason carried by err, or err's
// message when it is not a guard failure.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var guard *Error
	if errors.As(err, &guard) {
		return guard.Reason
	}
	return err.Error()
}

func invalidParams(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidParams, reason)
}
