package bond

import "math/big"

// Phase is the instrument-wide lifecycle phase.
type Phase string

const (
	// PhaseSubscribing covers creation until issuance has executed.
	PhaseSubscribing Phase = "subscribing"
	// PhaseIssued covers everything after issuance.
	PhaseIssued Phase = "issued"
)

// PhaseAt derives the phase from the issuance flag. The issue date gates the
// issuance transition itself, not the phase: subscriptions stay open until
// someone executes Issue.
func PhaseAt(issued bool) Phase {
	if issued {
		return PhaseIssued
	}
	return PhaseSubscribing
}

func requireSubscribing(inst *Instrument) error {
	if inst.Phase() != PhaseSubscribing {
		return errSubscriptionEnded
	}
	return nil
}

func requireIssued(inst *Instrument) error {
	if inst.Phase() != PhaseIssued {
		return errSubscriptionOpen
	}
	return nil
}

// Matured reports whether the full coupon schedule has been paid and the
// maturity date has passed at now.
func Matured(inst *Instrument, now int64) bool {
	if inst == nil || !inst.Issued || !inst.ScheduleComplete() {
		return false
	}
	return now >= MaturityDate(inst.Params)
}

// HolderStatus is the per-holder terminal state derived from balances.
type HolderStatus string

const (
	HolderNone       HolderStatus = "none"
	HolderSubscribed HolderStatus = "subscribed"
	HolderActive     HolderStatus = "holding"
	HolderRedeemed   HolderStatus = "redeemed"
)

// DeriveHolderStatus classifies an address from its commitment, live balance
// and redeemed units.
func DeriveHolderStatus(issued bool, committed, balance, redeemed *big.Int) HolderStatus {
	switch {
	case !issued && zeroIfNil(committed).Sign() > 0:
		return HolderSubscribed
	case issued && zeroIfNil(balance).Sign() > 0:
		return HolderActive
	case zeroIfNil(redeemed).Sign() > 0:
		return HolderRedeemed
	default:
		return HolderNone
	}
}
