package internal

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
)

const (
	verificationTokenSize = 32
	hashKeySize           = 32
)

// NewOTP returns a uniformly distributed numeric code of the given length.
func NewOTP(r io.Reader, digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}
	if r == nil {
		r = rand.Reader
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(r, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}

// HashOTP binds a code to its recipient under key so that stored hashes are
// useless without the key and cannot be replayed for another email.
func HashOTP(key []byte, email, code string) [32]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(email))
	mac.Write([]byte{0})
	mac.Write([]byte(code))

	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// NewVerificationToken returns an opaque base64url token carrying 256 bits of
// entropy.
func NewVerificationToken(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	var raw [verificationTokenSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// HashToken is the ledger key for a verification token.
func HashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// NewHashKey returns a fresh random OTP hash key.
func NewHashKey(r io.Reader) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	key := make([]byte, hashKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}
