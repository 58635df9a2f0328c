package common

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/holiman/uint256"
)

var ErrInvalidAmount = errors.New("invalid amount")

func Trim0xPrefix(str string) string {
	s := strings.TrimPrefix(str, "0x")
	return strings.TrimPrefix(s, "0X")
}

// IsTxId reports whether s is a 64-char hex transaction id (no 0x prefix).
func IsTxId(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// ParseAmount parses a decimal amount in base units. Zero and values wider
// than 128 bits are rejected.
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "+") {
		return nil, ErrInvalidAmount
	}
	v, err := uint256.FromDecimal(s)
	if err != nil || v.IsZero() || v.BitLen() > 128 {
		return nil, ErrInvalidAmount
	}
	return v, nil
}

func RandBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil
	}
	return b
}

// RandTxId returns a random 64-char hex transaction id.
func RandTxId() string {
	return hex.EncodeToString(RandBytes(32))
}
