package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt only looks at the first 72 bytes of input; anything longer is
// rejected rather than silently truncated.
const maxPasswordBytes = 72

// ErrPasswordMismatch means the plaintext does not match the stored hash.
var ErrPasswordMismatch = errors.New("auth: invalid password")

// ErrPasswordTooLong is returned by Hash for inputs over 72 bytes.
var ErrPasswordTooLong = errors.New("auth: password must be 72 bytes or fewer")

// PasswordService hashes and checks passwords with bcrypt.
//
// bcrypt embeds a random salt and the work factor in its output, e.g.
//
//	$2a$12$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy
//
// so the whole string goes into users.password_hash and nothing else is
// needed to verify later.
type PasswordService struct {
	cost int
}

// NewPasswordService uses cost 12 (roughly 250ms per hash on a modern core).
func NewPasswordService() *PasswordService {
	return &PasswordService{cost: 12}
}

// NewPasswordServiceForTest lets other packages' tests hash with a low cost.
// bcrypt.MinCost (4) hashes in about a millisecond. Never use it in production.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > maxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify returns nil when plaintext matches hash and ErrPasswordMismatch when
// it does not. The comparison inside bcrypt is constant-time.
//
// An empty hash (an account created through GitHub that never set a
// password) never matches.
func (p *PasswordService) Verify(hash, plaintext string) error {
	if hash == "" {
		return ErrPasswordMismatch
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	if err != nil {
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}
