package repositories

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

const (
	joinCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	joinCodeLength   = 6
)

var ErrInvalidJoinCode = errors.New("invalid join code")

// NewJoinCode draws a code uniformly from the join code alphabet.
func NewJoinCode() (string, error) {
	max := big.NewInt(int64(len(joinCodeAlphabet)))
	buf := make([]byte, joinCodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = joinCodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// NormalizeJoinCode upper-cases user input and rejects malformed codes.
func NormalizeJoinCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != joinCodeLength {
		return "", ErrInvalidJoinCode
	}
	for _, c := range code {
		if !strings.ContainsRune(joinCodeAlphabet, c) {
			return "", ErrInvalidJoinCode
		}
	}
	return code, nil
}
