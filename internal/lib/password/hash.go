// Package password хеширует пароли пользователей bcrypt и сверяет их при входе.
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MaxLength предел bcrypt: байты сверх него не участвуют в хеше.
const MaxLength = 72

var (
	// ErrTooLong пароль длиннее MaxLength байт.
	ErrTooLong = errors.New("password is longer than 72 bytes")
	// ErrMismatch пароль не соответствует хешу.
	ErrMismatch = errors.New("password does not match")
)

// GetHash возвращает bcrypt-хеш пароля для хранения в users.password_hash.
func GetHash(password string) (string, error) {
	const op = "password.GetHash"
	if len(password) > MaxLength {
		return "", fmt.Errorf("%s: %w", op, ErrTooLong)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return string(hashed), nil
}

// CompareHash сверяет пароль с сохраненным хешем.
// Несовпадение возвращается как ErrMismatch, поврежденный хеш как прочая ошибка.
func CompareHash(storedHash, candidate string) error {
	const op = "password.CompareHash"
	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(candidate))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return fmt.Errorf("%s: %w", op, ErrMismatch)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
