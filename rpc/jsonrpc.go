package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"greenbonds/native/bond"
	nativecommon "greenbonds/native/common"
	"greenbonds/native/token"
)

const jsonRPCVersion = "2.0"

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeDuplicateTx    = -32010
	codeRateLimited    = -32020
	codeQuotaExceeded  = -32021

	codePhase      = -32030
	codeCapacity   = -32031
	codeTiming     = -32032
	codeNoClaim    = -32033
	codeNoPosition = -32034
	codeMaturity   = -32035
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return e.Message
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeRPCError(w http.ResponseWriter, id interface{}, rpcErr *RPCError, status int) {
	writeError(w, status, id, rpcErr.Code, rpcErr.Message, rpcErr.Data)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// classify maps a ledger error onto its JSON-RPC code and HTTP status. The
// message is the human reason for lifecycle guard failures.
func classify(err error) (int, int, string) {
	switch {
	case errors.Is(err, bond.ErrPhase):
		return codePhase, http.StatusConflict, bond.Reason(err)
	case errors.Is(err, bond.ErrCapacity):
		return codeCapacity, http.StatusConflict, bond.Reason(err)
	case errors.Is(err, bond.ErrTiming):
		return codeTiming, http.StatusConflict, bond.Reason(err)
	case errors.Is(err, bond.ErrNoClaim):
		return codeNoClaim, http.StatusConflict, bond.Reason(err)
	case errors.Is(err, bond.ErrNoPosition):
		return codeNoPosition, http.StatusConflict, bond.Reason(err)
	case errors.Is(err, bond.ErrMaturity):
		return codeMaturity, http.StatusConflict, bond.Reason(err)
	case errors.Is(err, bond.ErrUnauthorized):
		return codeUnauthorized, http.StatusForbidden, err.Error()
	case errors.Is(err, bond.ErrInstrumentNotFound):
		return codeInvalidParams, http.StatusNotFound, err.Error()
	case errors.Is(err, bond.ErrInvalidAmount),
		errors.Is(err, bond.ErrInvalidParams),
		errors.Is(err, bond.ErrInstrumentExists),
		errors.Is(err, token.ErrInvalidAmount),
		errors.Is(err, token.ErrInvalidAddress),
		errors.Is(err, token.ErrUnknownToken):
		return codeInvalidParams, http.StatusBadRequest, err.Error()
	case errors.Is(err, nativecommon.ErrModulePaused):
		return codeServerError, http.StatusServiceUnavailable, err.Error()
	default:
		return codeServerError, http.StatusUnprocessableEntity, err.Error()
	}
}

func writeLedgerError(w http.ResponseWriter, id interface{}, err error) int {
	code, status, message := classify(err)
	writeError(w, status, id, code, message, nil)
	return code
}
