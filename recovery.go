package authcore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// recoveryAlphabet omits 0/O, 1/I and lowercase so codes survive being read
// aloud or retyped from paper.
const recoveryAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func generateRecoveryCodes(count, length int) ([]string, error) {
	codes := make([]string, count)
	for i := range codes {
		raw := make([]byte, length)
		if _, err := rand.Read(raw); err != nil {
			return nil, err
		}
		var b strings.Builder
		for j, r := range raw {
			if j > 0 && j%4 == 0 {
				b.WriteByte('-')
			}
			b.WriteByte(recoveryAlphabet[int(r)%len(recoveryAlphabet)])
		}
		codes[i] = b.String()
	}
	return codes, nil
}

// normalizeRecoveryCode accepts codes with or without separators and in any
// case.
func normalizeRecoveryCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

func hashRecoveryCode(code string) [32]byte {
	return sha256.Sum256([]byte(normalizeRecoveryCode(code)))
}

// generateNumericCode returns a uniformly random zero-padded code for
// one-time delivery. Rejection sampling keeps the distribution uniform.
func generateNumericCode(digits int) (string, error) {
	mod := uint64(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	limit := math.MaxUint64 - math.MaxUint64%mod
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return "", err
		}
		v := binary.BigEndian.Uint64(buf[:])
		if v < limit {
			return fmt.Sprintf("%0*d", digits, v%mod), nil
		}
	}
}
