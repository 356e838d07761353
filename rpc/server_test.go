package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"greenbonds/core"
	"greenbonds/crypto"
	"greenbonds/native/bond"
	nativecommon "greenbonds/native/common"
	"greenbonds/storage"
)

const testAdminSecret = "admin-secret"

var (
	issueDate   = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	firstCoupon = time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

type harness struct {
	t      *testing.T
	server *Server
	node   *core.Node
	clock  *testClock
	issuer *crypto.PrivateKey
	alice  *crypto.PrivateKey
	bob    *crypto.PrivateKey
	nonce  int
}

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key
}

func newHarness(t *testing.T, quota nativecommon.Quota) *harness {
	t.Helper()
	h := &harness{t: t, issuer: mustKey(t), alice: mustKey(t), bob: mustKey(t)}

	genesis := &core.Genesis{
		Tokens: []core.GenesisToken{{Symbol: "USDX", Name: "US Dollar X", Decimals: 2}},
		Allocations: []core.GenesisAllocation{
			{Address: h.issuer.PubKey().Address(), Token: "USDX", Amount: big.NewInt(5000)},
			{Address: h.alice.PubKey().Address(), Token: "USDX", Amount: big.NewInt(1000)},
			{Address: h.bob.PubKey().Address(), Token: "USDX", Amount: big.NewInt(1000)},
		},
	}
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	node, err := core.NewNode(db, genesis, nil)
	require.NoError(t, err)
	h.node = node

	replay, err := OpenReplayStore(filepath.Join(t.TempDir(), "replay.db"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = replay.Close() })

	h.clock = &testClock{now: issueDate.Add(-24 * time.Hour)}
	node.SetClock(h.clock.Now)
	h.server = NewServer(node, replay, Config{
		MaxExpiry:   10 * time.Minute,
		AdminSecret: testAdminSecret,
		Quota:       quota,
	}, nil)
	h.server.SetClock(h.clock.Now)
	return h
}

func (h *harness) post(body []byte, header http.Header) (*httptest.ResponseRecorder, RPCResponse) {
	h.t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	var resp RPCResponse
	require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func (h *harness) call(method string, params interface{}, header http.Header) (*httptest.ResponseRecorder, RPCResponse) {
	h.t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(h.t, err)
	body, err := json.Marshal(RPCRequest{JSONRPC: "2.0", Method: method, Params: []json.RawMessage{raw}, ID: 1})
	require.NoError(h.t, err)
	return h.post(body, header)
}

func (h *harness) envelope(key *crypto.PrivateKey, method string, payload interface{}) *Envelope {
	h.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(h.t, err)
	h.nonce++
	env := &Envelope{
		Payload: raw,
		Nonce:   fmt.Sprintf("n-%d", h.nonce),
		Expiry:  h.clock.now.Add(5 * time.Minute).Unix(),
	}
	require.NoError(h.t, env.Sign(method, key))
	return env
}

func (h *harness) signed(key *crypto.PrivateKey, method string, payload interface{}) RPCResponse {
	h.t.Helper()
	_, resp := h.call(method, h.envelope(key, method, payload), nil)
	return resp
}

func (h *harness) mustSigned(key *crypto.PrivateKey, method string, payload interface{}, out interface{}) {
	h.t.Helper()
	resp := h.signed(key, method, payload)
	require.Nil(h.t, resp.Error, "%s: %+v", method, resp.Error)
	decodeResult(h.t, resp, out)
}

func (h *harness) adminHeader() http.Header {
	h.t.Helper()
	token, err := IssueAdminToken(testAdminSecret, "ops", time.Hour, h.clock.now)
	require.NoError(h.t, err)
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func (h *harness) createBond() InstrumentResult {
	h.t.Helper()
	_, resp := h.call("bond_create", createParams{
		Issuer:               h.issuer.PubKey().Address().String(),
		Name:                 "Green Bond",
		Symbol:               "GREEN",
		InterestRateBips:     500,
		FaceValue:            "100",
		SettlementToken:      "USDX",
		MaxSupply:            "1000",
		IssueDate:            issueDate.Format(time.RFC3339),
		IssuePrice:           "10",
		InterestPeriodMonths: 1,
		FirstCouponDate:      fmt.Sprint(firstCoupon.Unix()),
		NumCoupons:           10,
	}, h.adminHeader())
	require.Nil(h.t, resp.Error, "%+v", resp.Error)
	var inst InstrumentResult
	decodeResult(h.t, resp, &inst)
	return inst
}

func decodeResult(t *testing.T, resp RPCResponse, out interface{}) {
	t.Helper()
	if out == nil {
		return
	}
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestSignedLifecycleOverRPC(t *testing.T) {
	h := newHarness(t, nativecommon.Quota{})
	inst := h.createBond()
	require.Equal(t, "GREEN", inst.Symbol)
	require.Equal(t, string(bond.PhaseSubscribing), inst.Phase)
	require.Equal(t, bond.TreasuryAddress("GREEN").String(), inst.Treasury)

	var approved AmountResult
	h.mustSigned(h.alice, "token_approve", map[string]string{
		"token": "USDX", "spender": inst.Treasury, "amount": "100",
	}, &approved)
	require.Equal(t, "100", approved.Amount)

	var commit CommitResult
	h.mustSigned(h.alice, "bond_commit", map[string]string{"symbol": "green", "units": "10"}, &commit)
	require.Equal(t, "100", commit.Payment)
	require.Equal(t, "10", commit.TotalCommitted)

	h.clock.now = issueDate
	var issued IssueResult
	h.mustSigned(h.bob, "bond_issue", map[string]string{"symbol": "GREEN"}, &issued)
	require.Equal(t, 1, issued.Holders)
	require.Equal(t, "10", issued.TotalSupply)

	h.clock.now = firstCoupon
	var accrual AccrualResult
	h.mustSigned(h.bob, "bond_accrueInterest", map[string]string{"symbol": "GREEN"}, &accrual)
	require.Equal(t, uint32(1), accrual.Coupon)
	// 10*100*500/120000 floors to 4.
	require.Equal(t, "4", accrual.Total)

	var pos PositionResult
	_, resp := h.call("bond_position", map[string]string{
		"symbol": "GREEN", "address": h.alice.PubKey().Address().String(),
	}, nil)
	require.Nil(t, resp.Error)
	decodeResult(t, resp, &pos)
	require.Equal(t, string(bond.HolderActive), pos.Status)
	require.Equal(t, "4", pos.Claimable)
	require.Equal(t, "10", pos.Balance)

	var paid AmountResult
	h.mustSigned(h.alice, "bond_claimInterest", map[string]string{"symbol": "GREEN"}, &paid)
	require.Equal(t, "4", paid.Amount)

	var balance AmountResult
	_, resp = h.call("token_balance", map[string]string{
		"token": "usdx", "address": h.alice.PubKey().Address().String(),
	}, nil)
	require.Nil(t, resp.Error)
	decodeResult(t, resp, &balance)
	require.Equal(t, "904", balance.Amount)

	var schedule ScheduleResult
	_, resp = h.call("bond_schedule", map[string]string{"symbol": "GREEN"}, nil)
	require.Nil(t, resp.Error)
	decodeResult(t, resp, &schedule)
	require.Len(t, schedule.Coupons, 10)
	require.Equal(t, firstCoupon.Unix(), schedule.Coupons[0])

	var list []InstrumentResult
	_, resp = h.call("bond_list", map[string]string{}, nil)
	require.Nil(t, resp.Error)
	decodeResult(t, resp, &list)
	require.Len(t, list, 1)
	require.Equal(t, string(bond.PhaseIssued), list[0].Phase)
	require.Equal(t, uint32(1), list[0].CouponsPaid)
}

func TestLifecycleGuardErrorCodes(t *testing.T) {
	h := newHarness(t, nativecommon.Quota{})
	inst := h.createBond()
	h.mustSigned(h.alice, "token_approve", map[string]string{"token": "USDX", "spender": inst.Treasury, "amount": "1000"}, nil)
	h.mustSigned(h.alice, "bond_commit", map[string]string{"symbol": "GREEN", "units": "10"}, nil)

	resp := h.signed(h.bob, "bond_issue", map[string]string{"symbol": "GREEN"})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeTiming, resp.Error.Code)
	require.Equal(t, "issuance date not yet passed", resp.Error.Message)

	resp = h.signed(h.alice, "bond_commit", map[string]string{"symbol": "GREEN", "units": "991"})
	require.Equal(t, codeCapacity, resp.Error.Code)

	h.clock.now = issueDate
	h.mustSigned(h.bob, "bond_issue", map[string]string{"symbol": "GREEN"}, nil)

	resp = h.signed(h.alice, "bond_commit", map[string]string{"symbol": "GREEN", "units": "1"})
	require.Equal(t, codePhase, resp.Error.Code)
	require.Equal(t, "subscription period ended", resp.Error.Message)

	resp = h.signed(h.alice, "bond_accrueInterest", map[string]string{"symbol": "GREEN"})
	require.Equal(t, codeTiming, resp.Error.Code)

	resp = h.signed(h.bob, "bond_claimInterest", map[string]string{"symbol": "GREEN"})
	require.Equal(t, codeNoClaim, resp.Error.Code)

	resp = h.signed(h.alice, "bond_redeem", map[string]string{"symbol": "GREEN"})
	require.Equal(t, codeMaturity, resp.Error.Code)

	resp = h.signed(h.alice, "bond_withdrawProceeds", map[string]string{"symbol": "GREEN", "amount": "1"})
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	resp = h.signed(h.alice, "bond_fund", map[string]string{"symbol": "NOPE", "amount": "1"})
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestEnvelopeSignatureMismatch(t *testing.T) {
	h := newHarness(t, nativecommon.Quota{})
	env := h.envelope(h.bob, "token_approve", map[string]string{"token": "USDX", "spender": h.bob.PubKey().Address().String(), "amount": "1"})
	env.Caller = h.alice.PubKey().Address().String()

	rec, resp := h.call("token_approve", env, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	// The signature also binds the method name.
	env = h.envelope(h.alice, "token_approve", map[string]string{"symbol": "GREEN"})
	_, resp = h.call("bond_issue", env, nil)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestEnvelopeReplayRejected(t *testing.T) {
	h := newHarness(t, nativecommon.Quota{})
	env := h.envelope(h.alice, "token_approve", map[string]string{"token": "USDX", "spender": h.bob.PubKey().Address().String(), "amount": "5"})

	_, resp := h.call("token_approve", env, nil)
	require.Nil(t, resp.Error)
	rec, resp := h.call("token_approve", env, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, codeDuplicateTx, resp.Error.Code)
}

func TestEnvelopeExpiry(t *testing.T) {
	h := newHarness(t, nativecommon.Quota{})
	env := h.envelope(h.alice, "token_approve", map[string]string{"token": "USDX", "spender": h.bob.PubKey().Address().String(), "amount": "5"})
	h.clock.now = h.clock.now.Add(10 * time.Minute)
	_, resp := h.call("token_approve", env, nil)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
	require.Equal(t, ErrEnvelopeExpired.Error(), resp.Error.Message)

	env = &Envelope{Payload: json.RawMessage(`{}`), Nonce: "far", Expiry: h.clock.now.Add(time.Hour).Unix()}
	require.NoError(t, env.Sign("bond_issue", h.alice))
	_, resp = h.call("bond_issue", env, nil)
	require.Equal(t, ErrEnvelopeTooLong.Error(), resp.Error.Message)
}

func TestAdminAuthRequired(t *testing.T) {
	h := newHarness(t, nativecommon.Quota{})
	params := map[string]string{"symbol": "GREEN"}

	rec, resp := h.call("bond_create", params, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	forged, err := IssueAdminToken("other-secret", "ops", time.Hour, h.clock.now)
	require.NoError(t, err)
	_, resp = h.call("bond_create", params, http.Header{"Authorization": []string{"Bearer " + forged}})
	require.Equal(t, "invalid RPC credentials", resp.Error.Message)

	expired, err := IssueAdminToken(testAdminSecret, "ops", time.Minute, h.clock.now.Add(-time.Hour))
	require.NoError(t, err)
	_, resp = h.call("bond_create", params, http.Header{"Authorization": []string{"Bearer " + expired}})
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestWriteQuotaPerCaller(t *testing.T) {
	h := newHarness(t, nativecommon.Quota{MaxUnitsPerEpoch: 15, EpochSeconds: 3600})
	inst := h.createBond()
	h.mustSigned(h.alice, "token_approve", map[string]string{"token": "USDX", "spender": inst.Treasury, "amount": "1000"}, nil)
	h.mustSigned(h.alice, "bond_commit", map[string]string{"symbol": "GREEN", "units": "10"}, nil)

	rec, resp := h.call("bond_commit", h.envelope(h.alice, "bond_commit", map[string]string{"symbol": "GREEN", "units": "10"}), nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, codeQuotaExceeded, resp.Error.Code)

	h.mustSigned(h.alice, "bond_commit", map[string]string{"symbol": "GREEN", "units": "5"}, nil)
}

func TestReplayedEnvelopeDoesNotChargeQuota(t *testing.T) {
	h := newHarness(t, nativecommon.Quota{MaxRequestsPerEpoch: 3, EpochSeconds: 3600})
	approve := map[string]string{"token": "USDX", "spender": h.bob.PubKey().Address().String(), "amount": "5"}
	env := h.envelope(h.alice, "token_approve", approve)

	_, resp := h.call("token_approve", env, nil)
	require.Nil(t, resp.Error)
	for i := 0; i < 3; i++ {
		rec, resp := h.call("token_approve", env, nil)
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Equal(t, codeDuplicateTx, resp.Error.Code)
	}

	h.mustSigned(h.alice, "token_approve", approve, nil)
	h.mustSigned(h.alice, "token_approve", approve, nil)
	rec, resp := h.call("token_approve", h.envelope(h.alice, "token_approve", approve), nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, codeQuotaExceeded, resp.Error.Code)
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t, nativecommon.Quota{})

	rec, resp := h.post([]byte(`{"jsonrpc":"2.0","method":"bond_get"`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, codeParseError, resp.Error.Code)

	_, resp = h.call("bond_unknown", map[string]string{}, nil)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)

	_, resp = h.call("bond_get", map[string]string{"symbol": "GREEN", "extra": "x"}, nil)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	rec, resp = h.call("bond_get", map[string]string{"symbol": "GREEN"}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	_, resp = h.call("token_balance", map[string]string{"token": "USDX", "address": "nope"}, nil)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
	require.True(t, strings.HasPrefix(resp.Error.Message, "invalid address"))
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	h := newHarness(t, nativecommon.Quota{})

	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
	require.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitPerSource(t *testing.T) {
	h := newHarness(t, nativecommon.Quota{})
	h.server.cfg.RateLimit = 1
	h.server.cfg.Burst = 2

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec, _ := h.call("ledger_head", map[string]string{}, nil)
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
