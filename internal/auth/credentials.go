package auth

import (
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-iam/internal/identity"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// MaxPasswordBytes bounds passwords. bcrypt ignores input past 72 bytes, so
// longer secrets are rejected rather than silently truncated.
const MaxPasswordBytes = 72

// Hasher hashes and verifies passwords with bcrypt.
type Hasher struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewHasher returns a Hasher using cost, or bcrypt.DefaultCost when cost is
// out of range.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// ValidatePassword checks that plaintext can be hashed. Strength policy is
// not enforced here.
func ValidatePassword(plaintext string) error {
	if plaintext == "" {
		return shared.Errorf(shared.ErrValidation, "password required")
	}
	if len(plaintext) > MaxPasswordBytes {
		return shared.Errorf(shared.ErrValidation, "password must be at most %d bytes", MaxPasswordBytes)
	}
	return nil
}

// SetPassword hashes plaintext onto user, replacing any previous hash.
func (h *Hasher) SetPassword(user *identity.User, plaintext string) error {
	if err := ValidatePassword(plaintext); err != nil {
		return err
	}
	hash, err := h.Hash(plaintext)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	return nil
}

// Hash returns the bcrypt hash of plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", shared.Wrap(shared.ErrValidation, "password cannot be hashed", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether plaintext matches the user's hash.
func (h *Hasher) CheckPassword(user identity.User, plaintext string) bool {
	if user.PasswordHash == "" {
		h.burn(plaintext)
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(plaintext)) == nil
}

// burn spends roughly the time of a real comparison so unknown accounts are
// not distinguishable by latency.
func (h *Hasher) burn(plaintext string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("odyssey-iam-dummy-password"), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plaintext))
}
