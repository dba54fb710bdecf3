package explorer

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// decodeAmount turns an integer token amount into a decimal quantity (value / 10^decimals)
func decodeAmount(raw string, decimals int32) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	if decimals < 0 || decimals > 36 {
		return decimal.Zero, fmt.Errorf("unsupported token decimals %d", decimals)
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return decimal.Zero, fmt.Errorf("amount %q is not an integer", raw)
	}
	if v.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("negative amount %q", raw)
	}
	return decimal.NewFromBigInt(v, -decimals), nil
}

// decodeHexAmount decodes a 32-byte ABI word
func decodeHexAmount(word string, decimals int32) (decimal.Decimal, error) {
	digits := strings.TrimLeft(word, "0")
	if digits == "" {
		return decimal.Zero, nil
	}
	v, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return decimal.Zero, fmt.Errorf("amount word %q is not hex", word)
	}
	return decimal.NewFromBigInt(v, -decimals), nil
}

// epochMillis converts explorer millisecond timestamps
func epochMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// epochSecondsString converts Etherscan-style string timestamps
func epochSecondsString(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return time.Unix(secs, 0).UTC(), nil
}
