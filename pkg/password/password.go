// Package password provides credential hashing and the strength
// policy used when the coexistence policy replaces a cleared password
// with a random placeholder.
package password

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrMismatch indicates the presented password does not match the
	// stored hash
	ErrMismatch = errors.New("password mismatch")

	// ErrTooLong indicates the presented password exceeds the hasher's
	// input limit
	ErrTooLong = errors.New("password too long")
)

// Hasher hashes and verifies passwords
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) error
}

// BcryptHasher implements Hasher with bcrypt
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a bcrypt hasher. A cost of 0 uses the
// bcrypt default.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash returns the bcrypt hash of the plaintext
func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrTooLong
		}
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify compares the plaintext against the stored hash
func (h *BcryptHasher) Verify(plaintext, hash string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err == nil {
		return nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrMismatch
	}
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return ErrTooLong
	}
	return fmt.Errorf("failed to verify password: %w", err)
}

// StrengthPolicy is the minimum bar a generated placeholder must
// clear. It mirrors whatever external strength module constrains the
// password column.
type StrengthPolicy struct {
	MinLength int
}

// DefaultStrengthPolicy matches the 24-character placeholder the
// compatibility shim historically produced.
func DefaultStrengthPolicy() StrengthPolicy {
	return StrengthPolicy{MinLength: 24}
}

// placeholderCharset deliberately spans upper, lower, digits and
// punctuation so the result clears composition rules as well as
// length.
const placeholderCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!#$%&*+-=?@_"

// GeneratePlaceholder returns a random value satisfying the policy.
// The value is never usable as a real credential: it is thrown away
// immediately after hashing, and exists only so foreign non-null
// constraints on the password column hold.
func GeneratePlaceholder(policy StrengthPolicy) (string, error) {
	length := policy.MinLength
	if length <= 0 {
		length = DefaultStrengthPolicy().MinLength
	}

	out := make([]byte, length)
	max := big.NewInt(int64(len(placeholderCharset)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate placeholder: %w", err)
		}
		out[i] = placeholderCharset[n.Int64()]
	}
	return string(out), nil
}
