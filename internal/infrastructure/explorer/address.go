package explorer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/mr-tron/base58"
)

const tronAddressPrefix byte = 0x41

var evmAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidateTronAddress checks a base58check Tron address (T..., 34 chars)
func ValidateTronAddress(addr string) error {
	if len(addr) != 34 || addr[0] != 'T' {
		return fmt.Errorf("tron address %q must be 34 characters starting with T", addr)
	}
	raw, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("tron address %q is not base58: %w", addr, err)
	}
	if len(raw) != 25 || raw[0] != tronAddressPrefix {
		return fmt.Errorf("tron address %q has an invalid payload", addr)
	}
	if !bytes.Equal(tronChecksum(raw[:21]), raw[21:]) {
		return fmt.Errorf("tron address %q has an invalid checksum", addr)
	}
	return nil
}

// ValidateEVMAddress checks a 0x-prefixed 20-byte hex address
func ValidateEVMAddress(addr string) error {
	if !evmAddressPattern.MatchString(addr) {
		return fmt.Errorf("evm address %q must be 0x followed by 40 hex characters", addr)
	}
	return nil
}

// TronHexToBase58 converts a hex Tron address (41-prefixed, 0x-prefixed or bare 20 bytes) to base58check
func TronHexToBase58(hexAddr string) (string, error) {
	h := strings.TrimPrefix(strings.ToLower(hexAddr), "0x")
	raw, err := hex.DecodeString(h)
	if err != nil {
		return "", fmt.Errorf("decode tron hex address: %w", err)
	}
	switch len(raw) {
	case 20:
		raw = append([]byte{tronAddressPrefix}, raw...)
	case 21:
		if raw[0] != tronAddressPrefix {
			return "", fmt.Errorf("tron hex address %q has prefix %#x", hexAddr, raw[0])
		}
	default:
		return "", fmt.Errorf("tron hex address %q has %d bytes", hexAddr, len(raw))
	}
	return base58.Encode(append(raw, tronChecksum(raw)...)), nil
}

func tronChecksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:4]
}

func sameEVMAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
