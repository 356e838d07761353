package bond

import (
	"fmt"
	"math/big"
	"time"

	"greenbonds/core/events"
	"greenbonds/crypto"
	nativecommon "greenbonds/native/common"
)

const moduleName = "bond"

// PositionDecimals is the precision of bond-position tokens: one unit is one
// bond.
const PositionDecimals uint8 = 0

type engineState interface {
	BondInstrumentGet(symbol string) (*Instrument, bool, error)
	BondInstrumentPut(inst *Instrument) error
	BondInstrumentList() ([]string, error)
	BondCommitmentGet(symbol string, addr crypto.Address) (*big.Int, error)
	BondCommitmentPut(symbol string, addr crypto.Address, units *big.Int) error
	BondSubscriberAdd(symbol string, addr crypto.Address) error
	BondSubscribers(symbol string) ([]crypto.Address, error)
	BondClaimableGet(symbol string, addr crypto.Address) (*big.Int, error)
	BondClaimablePut(symbol string, addr crypto.Address, amount *big.Int) error
	BondRedeemedGet(symbol string, addr crypto.Address) (*big.Int, error)
	BondRedeemedPut(symbol string, addr crypto.Address, units *big.Int) error
}

// SettlementAsset moves the currency used for subscriptions, coupons and
// principal.
type SettlementAsset interface {
	BalanceOf(token string, addr crypto.Address) (*big.Int, error)
	// TransferFrom pulls amount from owner to recipient using an allowance
	// previously granted to spender.
	TransferFrom(token string, spender, owner, recipient crypto.Address, amount *big.Int) error
	Transfer(token string, from, to crypto.Address, amount *big.Int) error
}

// BondPosition holds the per-holder bond units of each instrument.
type BondPosition interface {
	Mint(token string, to crypto.Address, units *big.Int) error
	Burn(token string, from crypto.Address, units *big.Int) error
	BalanceOf(token string, addr crypto.Address) (*big.Int, error)
	TotalSupply(token string) (*big.Int, error)
}

// positionRegistrar is implemented by position ledgers that need a token to be
// declared before it can be minted.
type positionRegistrar interface {
	RegisterToken(symbol, name string, decimals uint8) error
}

// settlementRegistry is implemented by settlement ledgers that can tell
// whether a token symbol has been declared.
type settlementRegistry interface {
	TokenExists(symbol string) bool
}

// Engine drives the bond lifecycle: subscription, issuance, coupon accrual,
// interest claims and redemption.
//
// The engine never rolls back on its own. Every method finalises its internal
// bookkeeping before calling a collaborator, and callers are expected to run
// each method inside a transaction that is discarded on error.
type Engine struct {
	state      engineState
	settlement SettlementAsset
	positions  BondPosition
	emitter    events.Emitter
	nowFn      func() int64
	pauses     nativecommon.PauseView
}

// NewEngine constructs a bond engine with default dependencies.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn: func() int64 {
			return time.Now().Unix()
		},
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetSettlement configures the settlement asset collaborator.
func (e *Engine) SetSettlement(asset SettlementAsset) { e.settlement = asset }

// SetPositions configures the bond position collaborator.
func (e *Engine) SetPositions(positions BondPosition) { e.positions = positions }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the ledger clock. Guards always read this clock, never
// a caller supplied time.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetPauses wires the module pause switches consulted before every mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || evt == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.settlement == nil {
		return errNilSettlement
	}
	if e.positions == nil {
		return errNilPositions
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

func (e *Engine) load(symbol string) (*Instrument, error) {
	normalized := NormalizeSymbol(symbol)
	inst, ok, err := e.state.BondInstrumentGet(normalized)
	if err != nil {
		return nil, err
	}
	if !ok || inst == nil {
		return nil, fmt.Errorf("%w: %s", ErrInstrumentNotFound, normalized)
	}
	inst.ensureDefaults()
	return inst, nil
}

// Create registers a new instrument owned by issuer and declares its
// bond-position token.
func (e *Engine) Create(issuer crypto.Address, params Params) (*Instrument, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if issuer.IsZero() {
		return nil, invalidParams("issuer required")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	params = params.Clone()
	params.Symbol = NormalizeSymbol(params.Symbol)
	params.SettlementToken = NormalizeSymbol(params.SettlementToken)

	if _, ok, err := e.state.BondInstrumentGet(params.Symbol); err != nil {
		return nil, err
	} else if ok {
		return nil, fmt.Errorf("%w: %s", ErrInstrumentExists, params.Symbol)
	}
	// Position units only move through mint and burn, so another
	// instrument's units cannot serve as the settlement asset.
	if _, ok, err := e.state.BondInstrumentGet(params.SettlementToken); err != nil {
		return nil, err
	} else if ok {
		return nil, invalidParams("settlement token must not be a bond instrument")
	}
	if registry, ok := e.settlement.(settlementRegistry); ok && !registry.TokenExists(params.SettlementToken) {
		return nil, invalidParams("settlement token not registered")
	}
	inst := &Instrument{
		Params:    params,
		Issuer:    cloneAddress(issuer),
		Treasury:  TreasuryAddress(params.Symbol),
		CreatedAt: e.now(),
	}
	inst.ensureDefaults()
	if err := e.state.BondInstrumentPut(inst); err != nil {
		return nil, err
	}
	if registrar, ok := e.positions.(positionRegistrar); ok {
		if err := registrar.RegisterToken(params.Symbol, params.Name, PositionDecimals); err != nil {
			return nil, fmt.Errorf("bond engine: register position token: %w", err)
		}
	}
	e.emit(events.BondCreated{
		Symbol:          params.Symbol,
		Issuer:          inst.Issuer,
		Treasury:        inst.Treasury,
		SettlementToken: params.SettlementToken,
		MaxSupply:       params.MaxSupply,
		IssueDate:       params.IssueDate,
		NumCoupons:      params.NumCoupons,
	})
	return inst.Clone(), nil
}

// Commit records a pre-issuance subscription of units for subscriber and
// pulls units*IssuePrice of the settlement asset into the treasury. The
// subscriber must have approved the instrument treasury as spender.
func (e *Engine) Commit(symbol string, subscriber crypto.Address, units *big.Int) (*Subscription, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	inst, err := e.load(symbol)
	if err != nil {
		return nil, err
	}
	if err := requireSubscribing(inst); err != nil {
		return nil, err
	}
	if units == nil || units.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if subscriber.IsZero() {
		return nil, invalidParams("subscriber required")
	}
	if units.Cmp(inst.RemainingCapacity()) > 0 {
		return nil, errMaxSupplyReached
	}

	sym := inst.Symbol()
	committed, err := e.state.BondCommitmentGet(sym, subscriber)
	if err != nil {
		return nil, err
	}
	committed = new(big.Int).Add(zeroIfNil(committed), units)
	if err := e.state.BondCommitmentPut(sym, subscriber, committed); err != nil {
		return nil, err
	}
	if err := e.state.BondSubscriberAdd(sym, subscriber); err != nil {
		return nil, err
	}
	inst.TotalCommitted = new(big.Int).Add(inst.TotalCommitted, units)
	if err := e.state.BondInstrumentPut(inst); err != nil {
		return nil, err
	}

	payment := SubscriptionCost(units, inst.Params)
	if err := e.settlement.TransferFrom(inst.Params.SettlementToken, inst.Treasury, subscriber, inst.Treasury, payment); err != nil {
		return nil, fmt.Errorf("bond engine: collect subscription payment: %w", err)
	}

	e.emit(events.BondCommitted{
		Symbol:         sym,
		Subscriber:     subscriber,
		Units:          units,
		Payment:        payment,
		TotalCommitted: inst.TotalCommitted,
	})
	return &Subscription{
		Symbol:         sym,
		Units:          new(big.Int).Set(units),
		Committed:      committed,
		Payment:        payment,
		TotalCommitted: new(big.Int).Set(inst.TotalCommitted),
	}, nil
}

// Issue converts every commitment into bond-position units. It succeeds once,
// after the issue date.
func (e *Engine) Issue(symbol string) (*Issuance, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	inst, err := e.load(symbol)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if now < inst.Params.IssueDate {
		return nil, errIssueDateNotReached
	}
	if err := requireSubscribing(inst); err != nil {
		return nil, err
	}

	// Flag first: a re-entrant Issue from inside Mint must see PhaseIssued.
	inst.Issued = true
	inst.IssuedAt = now
	if err := e.state.BondInstrumentPut(inst); err != nil {
		return nil, err
	}

	sym := inst.Symbol()
	subscribers, err := e.state.BondSubscribers(sym)
	if err != nil {
		return nil, err
	}
	holders := 0
	minted := big.NewInt(0)
	for _, subscriber := range subscribers {
		units, err := e.state.BondCommitmentGet(sym, subscriber)
		if err != nil {
			return nil, err
		}
		if units == nil || units.Sign() <= 0 {
			continue
		}
		if err := e.positions.Mint(sym, subscriber, units); err != nil {
			return nil, fmt.Errorf("bond engine: mint %s to %s: %w", sym, subscriber, err)
		}
		minted.Add(minted, units)
		holders++
	}
	if minted.Cmp(inst.TotalCommitted) != 0 {
		return nil, errSupplyMismatch
	}

	e.emit(events.BondIssued{Symbol: sym, Holders: holders, TotalSupply: minted, IssuedAt: now})
	return &Issuance{Symbol: sym, Holders: holders, TotalSupply: minted, IssuedAt: now}, nil
}

// AccrueInterest credits one coupon period of interest to every current holder
// and advances the coupon counter. Each call corresponds to one elapsed
// coupon date; calls beyond the schedule fail.
func (e *Engine) AccrueInterest(symbol string) (*CouponAccrual, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	inst, err := e.load(symbol)
	if err != nil {
		return nil, err
	}
	if err := requireIssued(inst); err != nil {
		return nil, err
	}
	if inst.ScheduleComplete() {
		return nil, errCouponsExhausted
	}
	now := e.now()
	if now < CouponDate(inst.Params, inst.CouponsPaid) {
		return nil, errCouponDateNotReached
	}

	sym := inst.Symbol()
	subscribers, err := e.state.BondSubscribers(sym)
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	holders := 0
	for _, holder := range subscribers {
		balance, err := e.positions.BalanceOf(sym, holder)
		if err != nil {
			return nil, err
		}
		coupon := CouponAmount(balance, inst.Params)
		if coupon.Sign() == 0 {
			continue
		}
		owed, err := e.state.BondClaimableGet(sym, holder)
		if err != nil {
			return nil, err
		}
		owed = new(big.Int).Add(zeroIfNil(owed), coupon)
		if err := e.state.BondClaimablePut(sym, holder, owed); err != nil {
			return nil, err
		}
		total.Add(total, coupon)
		holders++
	}

	inst.CouponsPaid++
	inst.LastCouponAt = now
	inst.OutstandingInterest = new(big.Int).Add(inst.OutstandingInterest, total)
	if err := e.state.BondInstrumentPut(inst); err != nil {
		return nil, err
	}

	e.emit(events.BondCouponAccrued{
		Symbol:      sym,
		Coupon:      inst.CouponsPaid,
		NumCoupons:  inst.Params.NumCoupons,
		Total:       total,
		Holders:     holders,
		AccruedAt:   now,
		Outstanding: inst.OutstandingInterest,
	})
	return &CouponAccrual{
		Symbol:      sym,
		Coupon:      inst.CouponsPaid,
		Holders:     holders,
		Total:       total,
		Outstanding: new(big.Int).Set(inst.OutstandingInterest),
		AccruedAt:   now,
	}, nil
}

// ClaimInterest pays holder's accrued interest out of the treasury.
func (e *Engine) ClaimInterest(symbol string, holder crypto.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	inst, err := e.load(symbol)
	if err != nil {
		return nil, err
	}
	if err := requireIssued(inst); err != nil {
		return nil, err
	}
	sym := inst.Symbol()
	owed, err := e.state.BondClaimableGet(sym, holder)
	if err != nil {
		return nil, err
	}
	if owed == nil || owed.Sign() <= 0 {
		return nil, errNothingToClaim
	}
	if err := e.ensureTreasury(inst, owed); err != nil {
		return nil, err
	}

	if err := e.state.BondClaimablePut(sym, holder, big.NewInt(0)); err != nil {
		return nil, err
	}
	inst.OutstandingInterest = new(big.Int).Sub(inst.OutstandingInterest, owed)
	if inst.OutstandingInterest.Sign() < 0 {
		inst.OutstandingInterest = big.NewInt(0)
	}
	if err := e.state.BondInstrumentPut(inst); err != nil {
		return nil, err
	}

	if err := e.settlement.Transfer(inst.Params.SettlementToken, inst.Treasury, holder, owed); err != nil {
		return nil, fmt.Errorf("bond engine: pay interest: %w", err)
	}
	e.emit(events.BondInterestClaimed{Symbol: sym, Holder: holder, Amount: owed})
	return owed, nil
}

// Redeem burns holder's whole position and pays back face value once every
// coupon has been paid and maturity has passed.
func (e *Engine) Redeem(symbol string, holder crypto.Address) (*Redemption, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	inst, err := e.load(symbol)
	if err != nil {
		return nil, err
	}
	sym := inst.Symbol()
	balance, err := e.positions.BalanceOf(sym, holder)
	if err != nil {
		return nil, err
	}
	if balance == nil || balance.Sign() <= 0 {
		return nil, errNoBonds
	}
	redeemed, err := e.state.BondRedeemedGet(sym, holder)
	if err != nil {
		return nil, err
	}
	if redeemed != nil && redeemed.Sign() > 0 {
		return nil, errNoBonds
	}
	if !Matured(inst, e.now()) {
		return nil, errNotMatured
	}
	principal := Principal(balance, inst.Params)
	if err := e.ensureTreasury(inst, principal); err != nil {
		return nil, err
	}

	units := new(big.Int).Set(balance)
	if err := e.state.BondRedeemedPut(sym, holder, units); err != nil {
		return nil, err
	}
	inst.RedeemedUnits = new(big.Int).Add(inst.RedeemedUnits, units)
	if err := e.state.BondInstrumentPut(inst); err != nil {
		return nil, err
	}

	if err := e.positions.Burn(sym, holder, units); err != nil {
		return nil, fmt.Errorf("bond engine: burn position: %w", err)
	}
	if err := e.settlement.Transfer(inst.Params.SettlementToken, inst.Treasury, holder, principal); err != nil {
		return nil, fmt.Errorf("bond engine: pay principal: %w", err)
	}
	e.emit(events.BondRedeemed{Symbol: sym, Holder: holder, Units: units, Principal: principal})
	return &Redemption{Symbol: sym, Units: units, Principal: principal}, nil
}

// Fund lets the issuer deposit settlement funds into the treasury to cover
// coupons and principal. It returns the resulting treasury balance.
func (e *Engine) Fund(symbol string, issuer crypto.Address, amount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	inst, err := e.load(symbol)
	if err != nil {
		return nil, err
	}
	if !inst.Issuer.Equal(issuer) {
		return nil, ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	token := inst.Params.SettlementToken
	if err := e.settlement.TransferFrom(token, inst.Treasury, issuer, inst.Treasury, amount); err != nil {
		return nil, fmt.Errorf("bond engine: fund treasury: %w", err)
	}
	balance, err := e.settlement.BalanceOf(token, inst.Treasury)
	if err != nil {
		return nil, err
	}
	e.emit(events.BondTreasuryMovement{
		Kind:    events.TypeBondFunded,
		Symbol:  inst.Symbol(),
		Issuer:  issuer,
		Amount:  amount,
		Balance: balance,
	})
	return balance, nil
}

// WithdrawProceeds releases treasury funds to the issuer after issuance while
// keeping all accrued, unclaimed interest covered.
func (e *Engine) WithdrawProceeds(symbol string, issuer crypto.Address, amount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	inst, err := e.load(symbol)
	if err != nil {
		return nil, err
	}
	if !inst.Issuer.Equal(issuer) {
		return nil, ErrUnauthorized
	}
	if err := requireIssued(inst); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	required := new(big.Int).Add(amount, inst.OutstandingInterest)
	if err := e.ensureTreasury(inst, required); err != nil {
		return nil, err
	}
	token := inst.Params.SettlementToken
	if err := e.settlement.Transfer(token, inst.Treasury, issuer, amount); err != nil {
		return nil, fmt.Errorf("bond engine: withdraw proceeds: %w", err)
	}
	balance, err := e.settlement.BalanceOf(token, inst.Treasury)
	if err != nil {
		return nil, err
	}
	e.emit(events.BondTreasuryMovement{
		Kind:    events.TypeBondProceedsWithdrawn,
		Symbol:  inst.Symbol(),
		Issuer:  issuer,
		Amount:  amount,
		Balance: balance,
	})
	return balance, nil
}

func (e *Engine) ensureTreasury(inst *Instrument, amount *big.Int) error {
	balance, err := e.settlement.BalanceOf(inst.Params.SettlementToken, inst.Treasury)
	if err != nil {
		return err
	}
	if zeroIfNil(balance).Cmp(amount) < 0 {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientTreasury, amount, zeroIfNil(balance))
	}
	return nil
}
