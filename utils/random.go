package utils

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/hex"
	"strings"
)

// GenerateCode returns 2n upper-case hex characters; used for short,
// shareable queue ids.
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// GenerateSecret returns a URL-safe capability token of n random bytes.
func GenerateSecret(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return hex.EncodeToString(byt), nil
}

// GenerateOTPSecret returns an unpadded base32 secret usable for TOTP.
func GenerateOTPSecret() (string, error) {
	byt := make([]byte, 20)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(byt), nil
}
