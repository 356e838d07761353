package bond

import (
	"errors"
	"math/big"
	"testing"
)

func TestPhaseAt(t *testing.T) {
	if PhaseAt(false) != PhaseSubscribing || PhaseAt(true) != PhaseIssued {
		t.Fatalf("unexpected phase mapping")
	}
	var inst *Instrument
	if inst.Phase() != PhaseSubscribing {
		t.Fatalf("nil instrument should report subscribing")
	}
}

func TestMaturedNeedsScheduleAndDate(t *testing.T) {
	inst := &Instrument{Params: testParams(), Issued: true}
	if Matured(inst, testMaturity) {
		t.Fatalf("unpaid coupons must block maturity")
	}
	inst.CouponsPaid = inst.Params.NumCoupons
	if Matured(inst, testMaturity-1) {
		t.Fatalf("maturity date not reached")
	}
	if !Matured(inst, testMaturity) {
		t.Fatalf("expected matured")
	}
	inst.Issued = false
	if Matured(inst, testMaturity) {
		t.Fatalf("unissued instrument cannot mature")
	}
}

func TestDeriveHolderStatus(t *testing.T) {
	one := big.NewInt(1)
	cases := []struct {
		name                         string
		issued                       bool
		committed, balance, redeemed *big.Int
		want                         HolderStatus
	}{
		{"stranger", false, nil, nil, nil, HolderNone},
		{"subscriber", false, one, nil, nil, HolderSubscribed},
		{"holder", true, one, one, nil, HolderActive},
		{"redeemed", true, one, big.NewInt(0), one, HolderRedeemed},
		{"issued without position", true, nil, nil, nil, HolderNone},
	}
	for _, tc := range cases {
		if got := DeriveHolderStatus(tc.issued, tc.committed, tc.balance, tc.redeemed); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestGuardErrorsCarryKindAndReason(t *testing.T) {
	err := requireIssued(&Instrument{})
	if !errors.Is(err, ErrPhase) {
		t.Fatalf("expected phase kind, got %v", err)
	}
	if err.Error() != "bond engine: subscription period not yet ended" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if Reason(errors.New("plain")) != "plain" || Reason(nil) != "" {
		t.Fatalf("unexpected reason passthrough")
	}
}
