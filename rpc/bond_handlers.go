package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"greenbonds/crypto"
	"greenbonds/native/bond"
)

type methodKind int

const (
	methodQuery methodKind = iota
	methodSigned
	methodAdmin
)

type call struct {
	ctx    context.Context
	method string
	params json.RawMessage
	caller crypto.Address
	admin  string
}

type method struct {
	kind   methodKind
	handle func(s *Server, c *call) (interface{}, error)
	// units reports the bond units a signed call consumes from the caller's
	// quota.
	units func(payload json.RawMessage) uint64
}

var methods = map[string]method{
	"bond_create":           {kind: methodAdmin, handle: (*Server).handleBondCreate},
	"bond_commit":           {kind: methodSigned, handle: (*Server).handleBondCommit, units: commitUnits},
	"bond_issue":            {kind: methodSigned, handle: (*Server).handleBondIssue},
	"bond_accrueInterest":   {kind: methodSigned, handle: (*Server).handleBondAccrue},
	"bond_claimInterest":    {kind: methodSigned, handle: (*Server).handleBondClaim},
	"bond_redeem":           {kind: methodSigned, handle: (*Server).handleBondRedeem},
	"bond_fund":             {kind: methodSigned, handle: (*Server).handleBondFund},
	"bond_withdrawProceeds": {kind: methodSigned, handle: (*Server).handleBondWithdraw},
	"token_approve":         {kind: methodSigned, handle: (*Server).handleTokenApprove},

	"bond_get":               {kind: methodQuery, handle: (*Server).handleBondGet},
	"bond_list":              {kind: methodQuery, handle: (*Server).handleBondList},
	"bond_schedule":          {kind: methodQuery, handle: (*Server).handleBondSchedule},
	"bond_position":          {kind: methodQuery, handle: (*Server).handleBondPosition},
	"bond_committedBalance":  {kind: methodQuery, handle: (*Server).handleBondCommitted},
	"bond_claimableInterest": {kind: methodQuery, handle: (*Server).handleBondClaimable},
	"bond_balanceOf":         {kind: methodQuery, handle: (*Server).handleBondBalance},
	"token_balance":          {kind: methodQuery, handle: (*Server).handleTokenBalance},
	"token_allowance":        {kind: methodQuery, handle: (*Server).handleTokenAllowance},
	"ledger_head":            {kind: methodQuery, handle: (*Server).handleLedgerHead},
	"ledger_events":          {kind: methodQuery, handle: (*Server).handleLedgerEvents},
}

func decodeParams(raw json.RawMessage, dst interface{}) *RPCError {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: "invalid params", Data: err.Error()}
	}
	return nil
}

func invalidParam(format string, args ...interface{}) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

func requireSymbol(symbol string) (string, error) {
	normalized := bond.NormalizeSymbol(symbol)
	if normalized == "" {
		return "", invalidParam("symbol required")
	}
	return normalized, nil
}

func parseAddress(field, raw string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return crypto.Address{}, invalidParam("%s required", field)
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, invalidParam("invalid %s: %v", field, err)
	}
	return addr, nil
}

// parseAmount parses a base-10 integer. Zero is allowed only when
// allowZero is set.
func parseAmount(field, raw string, allowZero bool) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, invalidParam("%s required", field)
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, invalidParam("invalid %s", field)
	}
	if value.Sign() < 0 || (!allowZero && value.Sign() == 0) {
		return nil, invalidParam("%s must be positive", field)
	}
	return value, nil
}

func parseDate(field, raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if ts, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return ts.Unix(), nil
	}
	var unix int64
	if _, err := fmt.Sscan(trimmed, &unix); err == nil && unix > 0 {
		return unix, nil
	}
	return 0, invalidParam("invalid %s: expected RFC3339 or unix seconds", field)
}

type symbolParams struct {
	Symbol string `json:"symbol"`
}

type holderParams struct {
	Symbol  string `json:"symbol"`
	Address string `json:"address"`
}

func (p holderParams) parse() (string, crypto.Address, error) {
	symbol, err := requireSymbol(p.Symbol)
	if err != nil {
		return "", crypto.Address{}, err
	}
	addr, err := parseAddress("address", p.Address)
	if err != nil {
		return "", crypto.Address{}, err
	}
	return symbol, addr, nil
}

type amountParams struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

func (p amountParams) parse() (string, *big.Int, error) {
	symbol, err := requireSymbol(p.Symbol)
	if err != nil {
		return "", nil, err
	}
	amount, err := parseAmount("amount", p.Amount, false)
	if err != nil {
		return "", nil, err
	}
	return symbol, amount, nil
}

type createParams struct {
	Issuer               string `json:"issuer"`
	Name                 string `json:"name"`
	Symbol               string `json:"symbol"`
	InterestRateBips     uint64 `json:"interestRateBips"`
	FaceValue            string `json:"faceValue"`
	SettlementToken      string `json:"settlementToken"`
	MaxSupply            string `json:"maxSupply"`
	IssueDate            string `json:"issueDate"`
	IssuePrice           string `json:"issuePrice"`
	InterestPeriodMonths uint32 `json:"interestPeriodMonths"`
	FirstCouponDate      string `json:"firstCouponDate"`
	NumCoupons           uint32 `json:"numCoupons"`
}

func (s *Server) handleBondCreate(c *call) (interface{}, error) {
	var p createParams
	if rpcErr := decodeParams(c.params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	issuer, err := parseAddress("issuer", p.Issuer)
	if err != nil {
		return nil, err
	}
	params := bond.Params{
		Name:                 p.Name,
		Symbol:               p.Symbol,
		InterestRateBips:     p.InterestRateBips,
		SettlementToken:      p.SettlementToken,
		InterestPeriodMonths: p.InterestPeriodMonths,
		NumCoupons:           p.NumCoupons,
	}
	if params.FaceValue, err = parseAmount("faceValue", p.FaceValue, false); err != nil {
		return nil, err
	}
	if params.MaxSupply, err = parseAmount("maxSupply", p.MaxSupply, false); err != nil {
		return nil, err
	}
	if params.IssuePrice, err = parseAmount("issuePrice", p.IssuePrice, true); err != nil {
		return nil, err
	}
	if params.IssueDate, err = parseDate("issueDate", p.IssueDate); err != nil {
		return nil, err
	}
	if params.FirstCouponDate, err = parseDate("firstCouponDate", p.FirstCouponDate); err != nil {
		return nil, err
	}
	inst, err := s.node.CreateInstrument(c.ctx, issuer, params)
	if err != nil {
		return nil, err
	}
	return s.instrumentResult(inst.Symbol())
}

func commitUnits(payload json.RawMessage) uint64 {
	var p struct {
		Units string `json:"units"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return 0
	}
	units, ok := new(big.Int).SetString(strings.TrimSpace(p.Units), 10)
	if !ok || units.Sign() <= 0 {
		return 0
	}
	if !units.IsUint64() {
		return ^uint64(0)
	}
	return units.Uint64()
}

func (s *Server) handleBondCommit(c *call) (interface{}, error) {
	var p struct {
		Symbol string `json:"symbol"`
		Units  string `json:"units"`
	}
	if rpcErr := decodeParams(c.params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	symbol, err := requireSymbol(p.Symbol)
	if err != nil {
		return nil, err
	}
	units, err := parseAmount("units", p.Units, false)
	if err != nil {
		return nil, err
	}
	sub, err := s.node.Commit(c.ctx, symbol, c.caller, units)
	if err != nil {
		return nil, err
	}
	return CommitResult{
		Symbol:         sub.Symbol,
		Units:          amountString(sub.Units),
		Committed:      amountString(sub.Committed),
		Payment:        amountString(sub.Payment),
		TotalCommitted: amountString(sub.TotalCommitted),
	}, nil
}

func (s *Server) handleBondIssue(c *call) (interface{}, error) {
	var p symbolParams
	if rpcErr := decodeParams(c.params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	symbol, err := requireSymbol(p.Symbol)
	if err != nil {
		return nil, err
	}
	issuance, err := s.node.Issue(c.ctx, symbol)
	if err != nil {
		return nil, err
	}
	return IssueResult{
		Symbol:      issuance.Symbol,
		Holders:     issuance.Holders,
		TotalSupply: amountString(issuance.TotalSupply),
		IssuedAt:    issuance.IssuedAt,
	}, nil
}

func (s *Server) handleBondAccrue(c *call) (interface{}, error) {
	var p symbolParams
	if rpcErr := decodeParams(c.params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	symbol, err := requireSymbol(p.Symbol)
	if err != nil {
		return nil, err
	}
	accrual, err := s.node.AccrueInterest(c.ctx, symbol)
	if err != nil {
		return nil, err
	}
	return AccrualResult{
		Symbol:      accrual.Symbol,
		Coupon:      accrual.Coupon,
		Holders:     accrual.Holders,
		Total:       amountString(accrual.Total),
		Outstanding: amountString(accrual.Outstanding),
		AccruedAt:   accrual.AccruedAt,
	}, nil
}

func (s *Server) handleBondClaim(c *call) (interface{}, error) {
	var p symbolParams
	if rpcErr := decodeParams(c.params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	symbol, err := requireSymbol(p.Symbol)
	if err != nil {
		return nil, err
	}
	paid, err := s.node.ClaimInterest(c.ctx, symbol, c.caller)
	if err != nil {
		return nil, err
	}
	return AmountResult{Amount: amountString(paid)}, nil
}

func (s *Server) handleBondRedeem(c *call) (interface{}, error) {
	var p symbolParams
	if rpcErr := decodeParams(c.params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	symbol, err := requireSymbol(p.Symbol)
	if err != nil {
		return nil, err
	}
	redemption, err := s.node.Redeem(c.ctx, symbol, c.caller)
	if err != nil {
		return nil, err
	}
	return RedemptionResult{
		Symbol:    redemption.Symbol,
		Units:     amountString(redemption.Units),
		Principal: amountString(redemption.Principal),
	}, nil
}

func (s *Server) handleBondFund(c *call) (interface{}, error) {
	var p amountParams
	if rpcErr := decodeParams(c.params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	symbol, amount, err := p.parse()
	if err != nil {
		return nil, err
	}
	balance, err := s.node.Fund(c.ctx, symbol, c.caller, amount)
	if err != nil {
		return nil, err
	}
	return AmountResult{Amount: amountString(balance)}, nil
}

func (s *Server) handleBondWithdraw(c *call) (interface{}, error) {
	var p amountParams
	if rpcErr := decodeParams(c.params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	symbol, amount, err := p.parse()
	if err != nil {
		return nil, err
	}
	balance, err := s.node.WithdrawProceeds(c.ctx, symbol, c.caller, amount)
	if err != nil {
		return nil, err
	}
	return AmountResult{Amount: amountString(balance)}, nil
}

func (s *Server) handleTokenApprove(c *call) (interface{}, error) {
	var p struct {
		Token   string `json:"token"`
		Spender string `json:"spender"`
		Amount  string `json:"amount"`
	}
	if rpcErr := decodeParams(c.params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	token, err := requireSymbol(p.Token)
	if err != nil {
		return nil, err
	}
	spender, err := parseAddress("spender", p.Spender)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", p.Amount, true)
	if err != nil {
		return nil, err
	}
	if err := s.node.Approve(c.ctx, token, c.caller, spender, amount); err != nil {
		return nil, err
	}
	return AmountResult{Amount: amountString(amount)}, nil
}

func (s *Server) instrumentResult(symbol string) (InstrumentResult, error) {
	view, err := s.node.Instrument(symbol)
	if err != nil {
		return InstrumentResult{}, err
	}
	return newInstrumentResult(view), nil
}

func (s *Server) handleBondGet(c *call) (interface{}, error) {
	var p symbolParams
	if rpcErr := decodeParams(c.params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	symbol, err := requireSymbol(p.Symbol)
	if err != nil {
		return nil, err
	}
	return s.instrumentResult(symbol)
}

func (s *Server) handleBondList(c *call) (interface{}, error) {
	var p struct{}
	if rpcErr := decodeParams(c.params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	views, err := s.node.Instruments()
	if err != nil {
		return nil, err
	}
	out := make([]InstrumentResult, 0, len(views))
	for _, view := range views {
		out = append(out, newInstrumentResult(view))
	}
	return out, nil
}

func (s *Server) handleBondSchedule(c *call) (interface{}, error) {
	var p symbolParams
	if rpcErr := decodeParams(c.params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	symbol, err := requireSymbol(p.Symbol)
	if err != nil {
		return nil, err
	}
	coupons, err := s.node.CouponSchedule(symbol)
	if err != nil {
		return nil, err
	}
	return ScheduleResult{Symbol: symbol, Coupons: coupons}, nil
}

func (s *Server) handleBondPosition(c *call) (interface{}, error) {
	var p holderParams
	if rpcErr := decodeParams(c.params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	symbol, addr, err := p.parse()
	if err != nil {
		return nil, err
	}
	pos, err := s.node.Position(symbol, addr)
	if err != nil {
		return nil, err
	}
	return PositionResult{
		Symbol:    symbol,
		Address:   addr.String(),
		Status:    string(pos.Status),
		Committed: amountString(pos.Committed),
		Balance:   amountString(pos.Balance),
		Claimable: amountString(pos.Claimable),
	}, nil
}

func (s *Server) holderAmount(c *call, lookup func(symbol string, addr crypto.Address) (*big.Int, error)) (interface{}, error) {
	var p holderParams
	if rpcErr := decodeParams(c.params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	symbol, addr, err := p.parse()
	if err != nil {
		return nil, err
	}
	amount, err := lookup(symbol, addr)
	if err != nil {
		return nil, err
	}
	return AmountResult{Amount: amountString(amount)}, nil
}

func (s *Server) handleBondCommitted(c *call) (interface{}, error) {
	return s.holderAmount(c, s.node.CommittedBalance)
}

func (s *Server) handleBondClaimable(c *call) (interface{}, error) {
	return s.holderAmount(c, s.node.ClaimableInterest)
}

func (s *Server) handleBondBalance(c *call) (interface{}, error) {
	return s.holderAmount(c, s.node.BondBalance)
}

func (s *Server) handleTokenBalance(c *call) (interface{}, error) {
	var p struct {
		Token   string `json:"token"`
		Address string `json:"address"`
	}
	if rpcErr := decodeParams(c.params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	token, err := requireSymbol(p.Token)
	if err != nil {
		return nil, err
	}
	addr, err := parseAddress("address", p.Address)
	if err != nil {
		return nil, err
	}
	balance, err := s.node.TokenBalance(token, addr)
	if err != nil {
		return nil, err
	}
	return AmountResult{Amount: amountString(balance)}, nil
}

func (s *Server) handleTokenAllowance(c *call) (interface{}, error) {
	var p struct {
		Token   string `json:"token"`
		Owner   string `json:"owner"`
		Spender string `json:"spender"`
	}
	if rpcErr := decodeParams(c.params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	token, err := requireSymbol(p.Token)
	if err != nil {
		return nil, err
	}
	owner, err := parseAddress("owner", p.Owner)
	if err != nil {
		return nil, err
	}
	spender, err := parseAddress("spender", p.Spender)
	if err != nil {
		return nil, err
	}
	amount, err := s.node.Allowance(token, owner, spender)
	if err != nil {
		return nil, err
	}
	return AmountResult{Amount: amountString(amount)}, nil
}

func (s *Server) handleLedgerHead(c *call) (interface{}, error) {
	return s.node.Head(), nil
}

func (s *Server) handleLedgerEvents(c *call) (interface{}, error) {
	var p struct {
		Prefix string `json:"prefix"`
		Limit  int    `json:"limit"`
	}
	if rpcErr := decodeParams(c.params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if p.Limit < 0 || p.Limit > 1000 {
		return nil, invalidParam("limit must be within [0,1000]")
	}
	if p.Limit == 0 {
		p.Limit = 100
	}
	return s.node.RecentEvents(p.Prefix, p.Limit), nil
}
