package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

const gateTokenPrefix = "GT-"

// GenerateCode returns n random bytes as an upper case hex string.
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// GenerateGateToken mints an unguessable single-use admission token.
// 24 random bytes keep collisions out of reach for the lifetime of an event.
func GenerateGateToken() (string, error) {
	code, err := GenerateCode(24)
	if err != nil {
		return "", err
	}
	return gateTokenPrefix + code, nil
}

// IsGateToken does a cheap shape check before a token hits the store.
func IsGateToken(token string) bool {
	if !strings.HasPrefix(token, gateTokenPrefix) {
		return false
	}
	code := token[len(gateTokenPrefix):]
	if len(code) != 48 {
		return false
	}
	_, err := hex.DecodeString(code)
	return err == nil
}
