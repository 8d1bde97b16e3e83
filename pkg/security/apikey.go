package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrHashingFailed = errors.New("api key hashing failed")
	ErrKeyTooShort   = errors.New("api key too short")
	MinKeyLen        = 16
)

// KeyHasher hashes consumer API keys for storage in config and checks
// presented keys against the stored hash.
type KeyHasher interface {
	Hash(key string) (string, error)
	Compare(hashedKey, key string) error
}

type bcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a key hasher using bcrypt
func NewBcryptHasher(cost int) KeyHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &bcryptHasher{cost: cost}
}

func (b *bcryptHasher) Hash(key string) (string, error) {
	if len(key) < MinKeyLen {
		return "", ErrKeyTooShort
	}

	bytes, err := bcrypt.GenerateFromPassword([]byte(key), b.cost)
	if err != nil {
		return "", ErrHashingFailed
	}
	return string(bytes), nil
}

func (b *bcryptHasher) Compare(hashedKey, key string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedKey), []byte(key))
}
