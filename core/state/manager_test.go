package state

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"greenbonds/crypto"
	"greenbonds/native/bond"
	"greenbonds/storage"
	"greenbonds/storage/trie"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	require.NoError(t, err)
	return NewManager(tr)
}

func addr(b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[0] = b
	return crypto.MustNewAddress(crypto.AccountPrefix, raw)
}

func TestRegisterTokenAndBalances(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.RegisterToken("usdx", "US Dollar X", 6))
	require.Error(t, mgr.RegisterToken("USDX", "dup", 6))
	require.Error(t, mgr.RegisterToken(" ", "blank", 0))
	require.NoError(t, mgr.RegisterToken("GREEN", "Green Bond", 0))

	list, err := mgr.TokenList()
	require.NoError(t, err)
	require.Equal(t, []string{"GREEN", "USDX"}, list)

	meta, err := mgr.Token("usdx")
	require.NoError(t, err)
	require.Equal(t, uint8(6), meta.Decimals)
	require.True(t, mgr.TokenExists("USDX"))
	require.False(t, mgr.TokenExists("NOPE"))

	alice := addr(1)
	bal, err := mgr.Balance(alice.Bytes(), "USDX")
	require.NoError(t, err)
	require.Zero(t, bal.Sign())

	require.NoError(t, mgr.SetBalance(alice.Bytes(), "usdx", big.NewInt(500)))
	bal, err = mgr.Balance(alice.Bytes(), "USDX")
	require.NoError(t, err)
	require.Equal(t, int64(500), bal.Int64())

	require.Error(t, mgr.SetBalance(alice.Bytes(), "NOPE", big.NewInt(1)))
	require.Error(t, mgr.SetBalance(alice.Bytes(), "USDX", big.NewInt(-1)))
}

func TestAllowanceAndSupply(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.RegisterToken("USDX", "US Dollar X", 6))
	owner, spender := addr(1), addr(2)

	require.NoError(t, mgr.SetAllowance(owner.Bytes(), spender.Bytes(), "USDX", big.NewInt(75)))
	allowance, err := mgr.Allowance(owner.Bytes(), spender.Bytes(), "usdx")
	require.NoError(t, err)
	require.Equal(t, int64(75), allowance.Int64())

	reverse, err := mgr.Allowance(spender.Bytes(), owner.Bytes(), "USDX")
	require.NoError(t, err)
	require.Zero(t, reverse.Sign())

	total, err := mgr.AdjustTokenSupply("USDX", big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, int64(100), total.Int64())
	total, err = mgr.AdjustTokenSupply("USDX", big.NewInt(-40))
	require.NoError(t, err)
	require.Equal(t, int64(60), total.Int64())
	_, err = mgr.AdjustTokenSupply("USDX", big.NewInt(-61))
	require.Error(t, err)
	_, err = mgr.AdjustTokenSupply("NOPE", big.NewInt(1))
	require.Error(t, err)
}

func TestKVHelpers(t *testing.T) {
	mgr := newTestManager(t)
	key := []byte("kv/test")

	var missing uint64
	ok, err := mgr.KVGet(key, &missing)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mgr.KVPut(key, uint64(42)))
	var got uint64
	ok, err = mgr.KVGet(key, &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(42), got)

	listKey := []byte("kv/list")
	var empty [][]byte
	require.NoError(t, mgr.KVGetList(listKey, &empty))
	require.NotNil(t, empty)
	require.Empty(t, empty)

	require.NoError(t, mgr.KVAppend(listKey, []byte("b")))
	require.NoError(t, mgr.KVAppend(listKey, []byte("a")))
	require.NoError(t, mgr.KVAppend(listKey, []byte("b")))
	var list [][]byte
	require.NoError(t, mgr.KVGetList(listKey, &list))
	require.Equal(t, [][]byte{[]byte("b"), []byte("a")}, list)

	require.Error(t, mgr.KVPut(nil, uint64(1)))
}

func sampleInstrument() *bond.Instrument {
	issue := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
	return &bond.Instrument{
		Params: bond.Params{
			Name:                 "Green Bond",
			Symbol:               "GREEN",
			InterestRateBips:     500,
			FaceValue:            big.NewInt(100),
			SettlementToken:      "USDX",
			MaxSupply:            big.NewInt(1000),
			IssueDate:            issue,
			IssuePrice:           big.NewInt(10),
			InterestPeriodMonths: 1,
			FirstCouponDate:      issue + 31*86400,
			NumCoupons:           10,
		},
		Issuer:              addr(0xAA),
		Treasury:            bond.TreasuryAddress("GREEN"),
		TotalCommitted:      big.NewInt(10),
		OutstandingInterest: big.NewInt(4),
		RedeemedUnits:       big.NewInt(0),
		CouponsPaid:         1,
		Issued:              true,
		IssuedAt:            issue,
		LastCouponAt:        issue + 31*86400,
		CreatedAt:           issue - 86400,
	}
}

func TestBondInstrumentRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	_, ok, err := mgr.BondInstrumentGet("GREEN")
	require.NoError(t, err)
	require.False(t, ok)

	inst := sampleInstrument()
	require.NoError(t, mgr.BondInstrumentPut(inst))
	require.NoError(t, mgr.BondInstrumentPut(inst))

	loaded, ok, err := mgr.BondInstrumentGet("green")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, inst.Params.IssueDate, loaded.Params.IssueDate)
	require.Equal(t, inst.Params.FirstCouponDate, loaded.Params.FirstCouponDate)
	require.Equal(t, 0, inst.TotalCommitted.Cmp(loaded.TotalCommitted))
	require.Equal(t, 0, inst.OutstandingInterest.Cmp(loaded.OutstandingInterest))
	require.True(t, inst.Issuer.Equal(loaded.Issuer))
	require.Equal(t, inst.Treasury.String(), loaded.Treasury.String())
	require.Equal(t, uint32(1), loaded.CouponsPaid)
	require.True(t, loaded.Issued)
	require.Equal(t, inst.CreatedAt, loaded.CreatedAt)

	symbols, err := mgr.BondInstrumentList()
	require.NoError(t, err)
	require.Equal(t, []string{"GREEN"}, symbols)
}

func TestBondHolderRecords(t *testing.T) {
	mgr := newTestManager(t)
	alice, bob := addr(1), addr(2)

	units, err := mgr.BondCommitmentGet("GREEN", alice)
	require.NoError(t, err)
	require.Zero(t, units.Sign())

	require.NoError(t, mgr.BondCommitmentPut("GREEN", alice, big.NewInt(10)))
	require.NoError(t, mgr.BondClaimablePut("GREEN", alice, big.NewInt(4)))
	require.NoError(t, mgr.BondRedeemedPut("GREEN", bob, big.NewInt(3)))
	require.Error(t, mgr.BondClaimablePut("GREEN", alice, big.NewInt(-1)))

	units, err = mgr.BondCommitmentGet("green", alice)
	require.NoError(t, err)
	require.Equal(t, int64(10), units.Int64())
	owed, err := mgr.BondClaimableGet("GREEN", alice)
	require.NoError(t, err)
	require.Equal(t, int64(4), owed.Int64())
	redeemed, err := mgr.BondRedeemedGet("GREEN", bob)
	require.NoError(t, err)
	require.Equal(t, int64(3), redeemed.Int64())
	other, err := mgr.BondCommitmentGet("OTHER", alice)
	require.NoError(t, err)
	require.Zero(t, other.Sign())

	require.NoError(t, mgr.BondSubscriberAdd("GREEN", bob))
	require.NoError(t, mgr.BondSubscriberAdd("GREEN", alice))
	require.NoError(t, mgr.BondSubscriberAdd("GREEN", bob))
	subs, err := mgr.BondSubscribers("GREEN")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	require.True(t, subs[0].Equal(bob))
	require.True(t, subs[1].Equal(alice))
}
