package token

import (
	"errors"
	"math/big"
	"testing"

	"greenbonds/core/events"
	"greenbonds/core/state"
	"greenbonds/crypto"
	nativecommon "greenbonds/native/common"
	"greenbonds/storage"
	"greenbonds/storage/trie"
)

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func newTestLedger(t *testing.T) (*Ledger, *captureEmitter) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	ledger := NewLedger()
	ledger.SetState(state.NewManager(tr))
	emitter := &captureEmitter{}
	ledger.SetEmitter(emitter)
	if err := ledger.RegisterToken("USDX", "US Dollar X", 6); err != nil {
		t.Fatalf("register: %v", err)
	}
	return ledger, emitter
}

func account(b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[5] = b
	return crypto.MustNewAddress(crypto.AccountPrefix, raw)
}

func mustBalance(t *testing.T, l *Ledger, who crypto.Address) int64 {
	t.Helper()
	bal, err := l.BalanceOf("USDX", who)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func TestMintTransferBurn(t *testing.T) {
	ledger, emitter := newTestLedger(t)
	alice, bob := account(1), account(2)

	if err := ledger.Mint("usdx", alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer("USDX", alice, bob, big.NewInt(30)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := ledger.Transfer("USDX", alice, bob, big.NewInt(71)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if err := ledger.Burn("USDX", bob, big.NewInt(10)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if got := mustBalance(t, ledger, alice); got != 70 {
		t.Fatalf("alice expected 70, got %d", got)
	}
	if got := mustBalance(t, ledger, bob); got != 20 {
		t.Fatalf("bob expected 20, got %d", got)
	}
	supply, err := ledger.TotalSupply("USDX")
	if err != nil || supply.Int64() != 90 {
		t.Fatalf("expected supply 90, got %v %v", supply, err)
	}
	if len(emitter.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(emitter.events))
	}
	if emitter.events[0].EventType() != events.TypeTokenMinted || emitter.events[2].EventType() != events.TypeTokenBurned {
		t.Fatalf("unexpected event order")
	}
}

func TestApproveAndTransferFrom(t *testing.T) {
	ledger, _ := newTestLedger(t)
	owner, spender, sink := account(1), account(2), account(3)
	if err := ledger.Mint("USDX", owner, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.TransferFrom("USDX", spender, owner, sink, big.NewInt(1)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected insufficient allowance, got %v", err)
	}
	if err := ledger.Approve("USDX", owner, spender, big.NewInt(50)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.TransferFrom("USDX", spender, owner, sink, big.NewInt(40)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	remaining, err := ledger.Allowance("USDX", owner, spender)
	if err != nil || remaining.Int64() != 10 {
		t.Fatalf("expected 10 allowance left, got %v %v", remaining, err)
	}
	if got := mustBalance(t, ledger, sink); got != 40 {
		t.Fatalf("sink expected 40, got %d", got)
	}
	if err := ledger.Approve("USDX", owner, spender, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestLedgerRejectsUnknownTokenAndPauses(t *testing.T) {
	ledger, _ := newTestLedger(t)
	if !ledger.TokenExists(" usdx ") || ledger.TokenExists("NOPE") {
		t.Fatalf("unexpected token registry answers")
	}
	if err := ledger.Mint("NOPE", account(1), big.NewInt(1)); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected unknown token, got %v", err)
	}
	if err := ledger.Mint("USDX", account(1), big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if err := ledger.Mint("USDX", crypto.Address{}, big.NewInt(1)); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected invalid address, got %v", err)
	}
	ledger.SetPauses(nativecommon.NewPauses(moduleName))
	if err := ledger.Mint("USDX", account(1), big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused, got %v", err)
	}
}
