package authcore

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"hash"
	"net/url"
	"strings"
	"time"
)

// base32NoPad encodes shared secrets the way authenticator apps expect.
var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

func totpHashFunc(algorithm string) func() hash.Hash {
	switch strings.ToUpper(algorithm) {
	case "SHA256":
		return sha256.New
	case "SHA512":
		return sha512.New
	default:
		return sha1.New
	}
}

// hotp is RFC 4226 dynamic truncation over an 8-byte counter.
func hotp(secret []byte, counter uint64, digits int, algorithm string) uint32 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)

	mac := hmac.New(totpHashFunc(algorithm), secret)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return code % mod
}

func formatCode(code uint32, digits int) string {
	return fmt.Sprintf("%0*d", digits, code)
}

// totpStep is the RFC 6238 time step for t.
func totpStep(t time.Time, period int) int64 {
	return t.Unix() / int64(period)
}

// validateTOTP checks code against the window [now-skew, now+skew] and
// returns the matching step. Matching is over formatted strings so leading
// zeros count.
func validateTOTP(secret []byte, code string, now time.Time, digits, period, skew int, algorithm string) (int64, bool) {
	code = strings.TrimSpace(code)
	if len(code) != digits {
		return 0, false
	}
	center := totpStep(now, period)
	for offset := -skew; offset <= skew; offset++ {
		step := center + int64(offset)
		if step < 0 {
			continue
		}
		want := formatCode(hotp(secret, uint64(step), digits, algorithm), digits)
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return step, true
		}
	}
	return 0, false
}

// provisionURI builds the otpauth:// URI encoded into enrollment QR codes.
func provisionURI(issuer, account, secretBase32 string, digits, period int, algorithm string) string {
	label := url.PathEscape(issuer + ":" + account)
	q := url.Values{}
	q.Set("secret", secretBase32)
	q.Set("issuer", issuer)
	q.Set("digits", fmt.Sprintf("%d", digits))
	q.Set("period", fmt.Sprintf("%d", period))
	q.Set("algorithm", strings.ToUpper(algorithm))
	return "otpauth://totp/" + label + "?" + q.Encode()
}
