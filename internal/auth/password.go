package auth

import "golang.org/x/crypto/bcrypt"

// PasswordHasher hashes plaintext credentials with the app's configured
// algorithm.
type PasswordHasher interface {
	Hash(plainText string) (string, error)
	Algorithm() string
}

type bcryptHasher struct {
	cost int
}

// NewBcryptHasher builds a PasswordHasher using bcrypt with the given cost.
func NewBcryptHasher(cost int) PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &bcryptHasher{cost: cost}
}

func (h *bcryptHasher) Hash(plainText string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plainText), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (h *bcryptHasher) Algorithm() string {
	return "bcrypt"
}

// ComparePassword verifies a password against its bcrypt hash.
func ComparePassword(hashed, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}
