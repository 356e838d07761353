package events

import (
	"math/big"
	"strconv"
	"strings"
)

func normalizeToken(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func intToString(v int64) string {
	return strconv.FormatInt(v, 10)
}
