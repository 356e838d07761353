package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"greenbonds/native/bond"
)

var knownModules = map[string]struct{}{
	"bond":  {},
	"token": {},
}

// Validate checks the configuration for values the node cannot run with.
func (c *Config) Validate() error {
	if c.RPC.RateLimit < 0 {
		return fmt.Errorf("rpc: RateLimit must not be negative")
	}
	if c.RPC.Burst < 0 {
		return fmt.Errorf("rpc: Burst must not be negative")
	}
	if c.RPC.MaxBodyBytes < 0 {
		return fmt.Errorf("rpc: MaxBodyBytes must not be negative")
	}
	if c.RPC.MaxExpirySeconds < 0 {
		return fmt.Errorf("rpc: MaxExpirySeconds must not be negative")
	}
	if c.RPC.ReplayTTLSeconds < c.RPC.MaxExpirySeconds {
		return fmt.Errorf("rpc: ReplayTTLSeconds must cover MaxExpirySeconds")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0,1]")
	}
	for _, module := range c.PausedModules {
		if _, ok := knownModules[strings.ToLower(strings.TrimSpace(module))]; !ok {
			return fmt.Errorf("PausedModules: unknown module %q", module)
		}
	}

	tokens := make(map[string]struct{}, len(c.Tokens))
	for i, tok := range c.Tokens {
		symbol := bond.NormalizeSymbol(tok.Symbol)
		if symbol == "" {
			return fmt.Errorf("token[%d]: Symbol required", i)
		}
		if _, dup := tokens[symbol]; dup {
			return fmt.Errorf("token[%d]: duplicate symbol %s", i, symbol)
		}
		tokens[symbol] = struct{}{}
	}
	for i, alloc := range c.Allocations {
		if _, ok := tokens[bond.NormalizeSymbol(alloc.Token)]; !ok {
			return fmt.Errorf("allocation[%d]: unknown token %q", i, alloc.Token)
		}
		if _, err := parseAmount(alloc.Amount); err != nil {
			return fmt.Errorf("allocation[%d]: Amount: %w", i, err)
		}
	}
	for i, inst := range c.Instruments {
		if _, ok := tokens[bond.NormalizeSymbol(inst.SettlementToken)]; !ok {
			return fmt.Errorf("instrument[%d]: unknown settlement token %q", i, inst.SettlementToken)
		}
		params, err := inst.params()
		if err != nil {
			return fmt.Errorf("instrument[%d]: %w", i, err)
		}
		if err := params.Validate(); err != nil {
			return fmt.Errorf("instrument[%d]: %w", i, err)
		}
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return value, nil
}

func parseDate(raw string) (int64, error) {
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", raw, err)
	}
	return ts.Unix(), nil
}
