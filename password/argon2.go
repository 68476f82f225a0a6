package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	minPassBytes          = 8
	algorithmID           = "argon2id"
)

// Config carries the argon2id cost parameters.
type Config struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher hashes and verifies passwords under a fixed Config.
type Hasher struct {
	config Config
}

func NewHasher(cfg Config) (*Hasher, error) {
	switch {
	case cfg.Memory < minMemoryKB:
		return nil, errors.New("password: memory must be >= 8192 KiB")
	case cfg.Time < 1:
		return nil, errors.New("password: time must be >= 1")
	case cfg.Parallelism < 1:
		return nil, errors.New("password: parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return nil, errors.New("password: salt length must be >= 16")
	case cfg.KeyLength < minKeyLength:
		return nil, errors.New("password: key length must be >= 16")
	}
	return &Hasher{config: cfg}, nil
}

// Hash derives an argon2id hash and returns it in PHC string format.
// Passwords are used as raw bytes; no Unicode normalization.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < minPassBytes {
		return "", fmt.Errorf("password: must be at least %d bytes", minPassBytes)
	}

	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		h.config.Time,
		h.config.Memory,
		h.config.Parallelism,
		h.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the hash under the parameters encoded in encodedHash and
// compares in constant time.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	p, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(computed, p.key) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker
// parameters than the configured ones.
func (h *Hasher) NeedsUpgrade(encodedHash string) (bool, error) {
	p, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	return h.config.Memory > p.memory ||
		h.config.Time > p.time ||
		h.config.Parallelism > p.parallelism ||
		h.config.KeyLength != uint32(len(p.key)), nil
}

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parsePHC(encodedHash string) (*phc, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, errors.New("password: invalid PHC string")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, errors.New("password: unsupported argon2 version")
	}

	var p phc
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.parallelism); err != nil {
		return nil, errors.New("password: invalid parameters")
	}
	if p.memory < minMemoryKB || p.time < 1 || p.parallelism < 1 {
		return nil, errors.New("password: parameters below minimums")
	}

	salt, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil || uint32(len(salt)) < minSaltLength {
		return nil, errors.New("password: invalid salt")
	}
	key, err := base64.StdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return nil, errors.New("password: invalid hash")
	}

	p.salt = salt
	p.key = key
	return &p, nil
}
