package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2Params controls the cost of password hashing.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

// DefaultArgon2Params returns the production hashing cost.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		SaltLen:     16,
		KeyLen:      32,
	}
}

var errMalformedHash = errors.New("malformed password hash")

// NewSalt returns SaltLen random bytes, base64 encoded.
func NewSalt(p Argon2Params) (string, error) {
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return base64.RawStdEncoding.EncodeToString(salt), nil
}

// HashPassword derives an Argon2id digest of password with salt.
//
// The result records the cost parameters next to the digest:
//
//	argon2id$m=65536,t=3,p=4$<digest_b64>
func HashPassword(password, salt string, p Argon2Params) (string, error) {
	rawSalt, err := base64.RawStdEncoding.DecodeString(salt)
	if err != nil {
		return "", fmt.Errorf("invalid salt: %w", err)
	}
	digest := argon2.IDKey([]byte(password), rawSalt, p.Iterations, p.Memory, p.Parallelism, p.KeyLen)
	return fmt.Sprintf("argon2id$m=%d,t=%d,p=%d$%s",
		p.Memory, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(digest),
	), nil
}

// VerifyPassword reports whether password matches the stored hash and salt.
// The digest comparison is constant time.
func VerifyPassword(password, salt, encoded string) (bool, error) {
	if password == "" || encoded == "" {
		return false, nil
	}

	p, want, err := parseHash(encoded)
	if err != nil {
		return false, err
	}
	rawSalt, err := base64.RawStdEncoding.DecodeString(salt)
	if err != nil {
		return false, fmt.Errorf("invalid salt: %w", err)
	}

	got := argon2.IDKey([]byte(password), rawSalt, p.Iterations, p.Memory, p.Parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func parseHash(encoded string) (Argon2Params, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 || parts[0] != "argon2id" {
		return Argon2Params{}, nil, errMalformedHash
	}

	var p Argon2Params
	if _, err := fmt.Sscanf(parts[1], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return Argon2Params{}, nil, errMalformedHash
	}

	digest, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil || len(digest) < 16 {
		return Argon2Params{}, nil, errMalformedHash
	}
	return p, digest, nil
}
