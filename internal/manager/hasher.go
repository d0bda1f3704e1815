package manager

import "golang.org/x/crypto/bcrypt"

// Hasher is the password-hashing collaborator. The stores only ever see the
// opaque hash it produces.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

type bcryptHasher struct{}

func NewBcryptHasher() Hasher {
	return bcryptHasher{}
}

func (bcryptHasher) Hash(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func (bcryptHasher) Verify(hash, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
