package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

const (
	secretBytes = 18
	saltLength  = 8
	saltChars   = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

var errMalformed = errors.New("csrf: malformed token")

// newSecret returns a fresh per-client secret.
func newSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func newSalt() (string, error) {
	var b strings.Builder
	b.Grow(saltLength)
	max := big.NewInt(int64(len(saltChars)))
	for i := 0; i < saltLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(saltChars[n.Int64()])
	}
	return b.String(), nil
}

// createToken derives "<salt>-<hash>" from secret with a fresh salt.
func createToken(secret string) (string, error) {
	salt, err := newSalt()
	if err != nil {
		return "", err
	}
	return tokenize(secret, salt), nil
}

func tokenize(secret, salt string) string {
	sum := sha1.Sum([]byte(salt + "-" + secret))
	return salt + "-" + base64.RawURLEncoding.EncodeToString(sum[:])
}

// verifyToken recomputes the hash of token's salt with secret and compares in constant time.
func verifyToken(secret, token string) bool {
	idx := strings.IndexByte(token, '-')
	if idx <= 0 || secret == "" {
		return false
	}
	expected := tokenize(secret, token[:idx])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(token)) == 1
}

// sign appends an HMAC-SHA256 signature: "<value>.<base64 signature>".
func sign(value string, key []byte) string {
	return value + "." + signature(value, key)
}

// unsign returns the value of a signed string if its signature is valid.
func unsign(signed string, key []byte) (string, error) {
	idx := strings.LastIndexByte(signed, '.')
	if idx <= 0 {
		return "", errMalformed
	}
	value, sig := signed[:idx], signed[idx+1:]
	if !hmac.Equal([]byte(sig), []byte(signature(value, key))) {
		return "", errMalformed
	}
	return value, nil
}

func signature(value string, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(value))
	return base64.RawStdEncoding.EncodeToString(mac.Sum(nil))
}
