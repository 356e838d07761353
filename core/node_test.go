package core

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"greenbonds/core/events"
	"greenbonds/crypto"
	"greenbonds/native/bond"
	nativecommon "greenbonds/native/common"
	"greenbonds/native/token"
	"greenbonds/storage"
)

var (
	issueDate   = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	firstCoupon = time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	maturity    = time.Date(2024, time.November, 1, 0, 0, 0, 0, time.UTC)
)

func testAddress(b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[10] = b
	return crypto.MustNewAddress(crypto.AccountPrefix, raw)
}

var (
	issuer = testAddress(0xAA)
	alice  = testAddress(1)
	bob    = testAddress(2)
)

func testGenesis() *Genesis {
	return &Genesis{
		Tokens: []GenesisToken{{Symbol: "USDX", Name: "US Dollar X", Decimals: 2}},
		Allocations: []GenesisAllocation{
			{Address: issuer, Token: "USDX", Amount: big.NewInt(5000)},
			{Address: alice, Token: "USDX", Amount: big.NewInt(1000)},
			{Address: bob, Token: "USDX", Amount: big.NewInt(1000)},
		},
		Instruments: []GenesisInstrument{{
			Issuer: issuer,
			Params: bond.Params{
				Name:                 "Green Bond",
				Symbol:               "GREEN",
				InterestRateBips:     500,
				FaceValue:            big.NewInt(100),
				SettlementToken:      "USDX",
				MaxSupply:            big.NewInt(1000),
				IssueDate:            issueDate.Unix(),
				IssuePrice:           big.NewInt(10),
				InterestPeriodMonths: 1,
				FirstCouponDate:      firstCoupon.Unix(),
				NumCoupons:           10,
			},
		}},
	}
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestNode(t *testing.T, db storage.Database) (*Node, *testClock) {
	t.Helper()
	node, err := NewNode(db, testGenesis(), nil)
	require.NoError(t, err)
	clock := &testClock{now: issueDate.Add(-24 * time.Hour)}
	node.SetClock(clock.Now)
	return node, clock
}

func approveAndCommit(t *testing.T, node *Node, who crypto.Address, units int64) {
	t.Helper()
	ctx := context.Background()
	treasury := bond.TreasuryAddress("GREEN")
	require.NoError(t, node.Approve(ctx, "USDX", who, treasury, big.NewInt(units*10)))
	_, err := node.Commit(ctx, "GREEN", who, big.NewInt(units))
	require.NoError(t, err)
}

func TestGenesisInitialisesLedger(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	node, _ := newTestNode(t, db)

	head := node.Head()
	require.Equal(t, uint64(1), head.Height)
	require.NotEmpty(t, head.Root)

	bal, err := node.TokenBalance("USDX", alice)
	require.NoError(t, err)
	require.Equal(t, int64(1000), bal.Int64())

	view, err := node.Instrument("green")
	require.NoError(t, err)
	require.Equal(t, bond.PhaseSubscribing, view.Phase)
	require.Equal(t, maturity.Unix(), view.Maturity)
	require.False(t, view.Matured)

	evts := node.RecentEvents("bond.", 10)
	require.Len(t, evts, 1)
	require.Equal(t, events.TypeBondCreated, evts[0].Type)
}

func TestNodeLifecycleEndToEnd(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	node, clock := newTestNode(t, db)
	ctx := context.Background()

	approveAndCommit(t, node, alice, 10)
	approveAndCommit(t, node, bob, 20)

	clock.now = issueDate
	issuance, err := node.Issue(ctx, "GREEN")
	require.NoError(t, err)
	require.Equal(t, 2, issuance.Holders)
	require.Equal(t, int64(30), issuance.TotalSupply.Int64())

	treasury := bond.TreasuryAddress("GREEN")
	require.NoError(t, node.Approve(ctx, "USDX", issuer, treasury, big.NewInt(3000)))
	balance, err := node.Fund(ctx, "GREEN", issuer, big.NewInt(3000))
	require.NoError(t, err)
	require.Equal(t, int64(3300), balance.Int64())

	clock.now = maturity
	for i := 0; i < 10; i++ {
		_, err := node.AccrueInterest(ctx, "GREEN")
		require.NoError(t, err)
	}
	_, err = node.AccrueInterest(ctx, "GREEN")
	require.ErrorIs(t, err, bond.ErrPhase)

	pos, err := node.Position("GREEN", bob)
	require.NoError(t, err)
	require.Equal(t, bond.HolderActive, pos.Status)
	// 20*100*500/120000 = 8 per coupon.
	require.Equal(t, int64(80), pos.Claimable.Int64())

	paid, err := node.ClaimInterest(ctx, "GREEN", bob)
	require.NoError(t, err)
	require.Equal(t, int64(80), paid.Int64())

	redemption, err := node.Redeem(ctx, "GREEN", bob)
	require.NoError(t, err)
	require.Equal(t, int64(2000), redemption.Principal.Int64())

	bobBalance, err := node.TokenBalance("USDX", bob)
	require.NoError(t, err)
	require.Equal(t, int64(1000-200+80+2000), bobBalance.Int64())

	pos, err = node.Position("GREEN", bob)
	require.NoError(t, err)
	require.Equal(t, bond.HolderRedeemed, pos.Status)

	view, err := node.Instrument("GREEN")
	require.NoError(t, err)
	require.True(t, view.Matured)
	require.Equal(t, int64(10), view.Supply.Int64())
}

func TestFailedTransactionRollsBack(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	node, _ := newTestNode(t, db)
	ctx := context.Background()

	before := node.Head()
	eventsBefore := len(node.RecentEvents("", 0))

	// No allowance: bookkeeping runs, then the settlement pull fails.
	_, err := node.Commit(ctx, "GREEN", alice, big.NewInt(5))
	require.ErrorIs(t, err, token.ErrInsufficientAllowance)

	require.Equal(t, before, node.Head())
	committed, err := node.CommittedBalance("GREEN", alice)
	require.NoError(t, err)
	require.Zero(t, committed.Sign())
	view, err := node.Instrument("GREEN")
	require.NoError(t, err)
	require.Zero(t, view.Instrument.TotalCommitted.Sign())
	require.Len(t, node.RecentEvents("", 0), eventsBefore)
}

func TestPausedBondModule(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	node, _ := newTestNode(t, db)
	node.Pauses().Set("bond", true)
	_, err := node.Issue(context.Background(), "GREEN")
	require.True(t, errors.Is(err, nativecommon.ErrModulePaused))
	node.Pauses().Set("bond", false)
}

type sinkRecorder struct {
	types []string
}

func (s *sinkRecorder) Emit(evt events.Event) { s.types = append(s.types, evt.EventType()) }

func TestEventSinkReceivesCommittedEventsOnly(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	node, _ := newTestNode(t, db)
	sink := &sinkRecorder{}
	node.SetEventSink(sink)

	_, err := node.Commit(context.Background(), "GREEN", alice, big.NewInt(1))
	require.Error(t, err)
	require.Empty(t, sink.types)

	approveAndCommit(t, node, alice, 1)
	require.Equal(t, []string{
		events.TypeTokenApproved,
		events.TypeTokenTransferred,
		events.TypeBondCommitted,
	}, sink.types)
}

func TestNodeReopensFromLevelDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")
	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	node, _ := newTestNode(t, db)
	approveAndCommit(t, node, alice, 7)
	head := node.Head()
	db.Close()

	reopened, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	defer reopened.Close()
	node, err = NewNode(reopened, nil, nil)
	require.NoError(t, err)
	require.Equal(t, head, node.Head())

	committed, err := node.CommittedBalance("GREEN", alice)
	require.NoError(t, err)
	require.Equal(t, int64(7), committed.Int64())
	bal, err := node.TokenBalance("USDX", alice)
	require.NoError(t, err)
	require.Equal(t, int64(930), bal.Int64())
}

func TestCreateInstrumentRejectsBondSettlement(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	node, _ := newTestNode(t, db)
	before := node.Head()

	params := testGenesis().Instruments[0].Params
	params.Symbol = "WRAP"
	params.SettlementToken = "GREEN"
	_, err := node.CreateInstrument(context.Background(), issuer, params)
	require.ErrorIs(t, err, bond.ErrInvalidParams)

	params.SettlementToken = "EURX"
	_, err = node.CreateInstrument(context.Background(), issuer, params)
	require.ErrorIs(t, err, bond.ErrInvalidParams)

	require.Equal(t, before, node.Head())
	_, err = node.Instrument("WRAP")
	require.ErrorIs(t, err, bond.ErrInstrumentNotFound)
}
