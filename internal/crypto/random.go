package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"math/big"
)

const (
	digits       = "0123456789"
	backupAlpha  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	refreshBytes = 32 // 256 bits
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// randString draws n symbols uniformly from alphabet.
func randString(alphabet string, n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		k, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[k.Int64()]
	}
	return string(out), nil
}

// NumericCode returns an n-digit one-time code; leading zeros are kept.
func NumericCode(n int) (string, error) { return randString(digits, n) }

// BackupCode returns an n-character code of upper-case letters and digits.
func BackupCode(n int) (string, error) { return randString(backupAlpha, n) }

// RefreshToken returns an opaque URL-safe token carrying 256 bits of entropy.
func RefreshToken() (string, error) {
	b, err := RandBytes(refreshBytes)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
