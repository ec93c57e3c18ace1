package oath

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Digits is the number of decimal digits in a generated code.
	Digits = 6

	modulus = 1_000_000
)

// ErrInvalidSecret is returned when key material cannot be decoded.
var ErrInvalidSecret = errors.New("invalid otp secret")

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// HOTP computes the RFC 4226 code for key and counter as an integer in
// [0, 999999]. Leading zeros are significant; use FormatCode for display.
func HOTP(key []byte, counter int64) int {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// dynamic truncation
	offset := sum[len(sum)-1] & 0x0f
	bin := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return int(bin % modulus)
}

// FormatCode renders a code as a zero-padded six digit string.
func FormatCode(code int) string {
	return fmt.Sprintf("%0*d", Digits, code)
}

// ParseCode parses a submitted code. Only strings of exactly six ASCII digits
// are accepted.
func ParseCode(s string) (int, bool) {
	if len(s) != Digits {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// DecodeSecret decodes a base32 secret as stored at rest. Padding is optional
// and the encoding is case-insensitive.
func DecodeSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.TrimRight(strings.TrimSpace(secret), "="))
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSecret)
	}
	key, err := b32.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return key, nil
}

// EncodeSecret encodes raw key material for storage.
func EncodeSecret(key []byte) string {
	return b32.EncodeToString(key)
}
