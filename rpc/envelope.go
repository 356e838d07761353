package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"greenbonds/crypto"
)

const maxNonceLength = 128

var (
	ErrEnvelopeExpired   = errors.New("envelope expired")
	ErrEnvelopeTooLong   = errors.New("envelope expiry too far in the future")
	ErrEnvelopeSignature = errors.New("envelope signature does not match caller")
)

// Envelope wraps the payload of a state-changing call with the identity of
// its caller. The signature covers the method name, the caller, the compacted
// payload, the nonce and the expiry.
type Envelope struct {
	Caller    string          `json:"caller"`
	Payload   json.RawMessage `json:"payload"`
	Nonce     string          `json:"nonce"`
	Expiry    int64           `json:"expiry"`
	Signature string          `json:"signature"`
}

type signingPayload struct {
	Method  string          `json:"method"`
	Caller  string          `json:"caller"`
	Payload json.RawMessage `json:"payload"`
	Nonce   string          `json:"nonce"`
	Expiry  int64           `json:"expiry"`
}

// Digest returns the keccak256 hash of the canonical JSON encoding of the
// envelope for method.
func (e *Envelope) Digest(method string) ([]byte, error) {
	payload := e.Payload
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = json.RawMessage("{}")
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	encoded, err := json.Marshal(signingPayload{
		Method:  method,
		Caller:  strings.TrimSpace(e.Caller),
		Payload: compact.Bytes(),
		Nonce:   e.Nonce,
		Expiry:  e.Expiry,
	})
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(encoded), nil
}

// Sign fills Caller from key and signs the envelope for method.
func (e *Envelope) Sign(method string, key *crypto.PrivateKey) error {
	if key == nil {
		return errors.New("signing key required")
	}
	e.Caller = key.PubKey().Address().String()
	digest, err := e.Digest(method)
	if err != nil {
		return err
	}
	sig, err := key.SignDigest(digest)
	if err != nil {
		return err
	}
	e.Signature = "0x" + hex.EncodeToString(sig)
	return nil
}

// Verify checks the nonce, the expiry window and the signature and returns
// the authenticated caller.
func (e *Envelope) Verify(method string, now time.Time, maxExpiry time.Duration) (crypto.Address, error) {
	nonce := strings.TrimSpace(e.Nonce)
	if nonce == "" || len(nonce) > maxNonceLength {
		return crypto.Address{}, fmt.Errorf("nonce must be 1-%d characters", maxNonceLength)
	}
	if e.Expiry <= now.Unix() {
		return crypto.Address{}, ErrEnvelopeExpired
	}
	if maxExpiry > 0 && e.Expiry > now.Add(maxExpiry).Unix() {
		return crypto.Address{}, ErrEnvelopeTooLong
	}
	caller, err := crypto.DecodeAddress(strings.TrimSpace(e.Caller))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid caller: %w", err)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(e.Signature), "0x"))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid signature: %w", err)
	}
	digest, err := e.Digest(method)
	if err != nil {
		return crypto.Address{}, err
	}
	signer, err := crypto.RecoverAddress(digest, sig)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid signature: %w", err)
	}
	if !signer.Equal(caller) {
		return crypto.Address{}, ErrEnvelopeSignature
	}
	return signer, nil
}

// ReplayKey identifies the envelope in the replay store.
func (e *Envelope) ReplayKey() string {
	return strings.TrimSpace(e.Caller) + "/" + strings.TrimSpace(e.Nonce)
}
