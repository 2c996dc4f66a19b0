// Package auth owns bearer tokens and password hashing for the handshake
// and the register/login HTTP surface.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrBadUsername        = errors.New("invalid username")
)

// Manager signs and verifies HS256 tokens whose subject is the player id.
type Manager struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

func NewManager(secret string, ttl time.Duration, clock func() time.Time) *Manager {
	if clock == nil {
		clock = time.Now
	}
	return &Manager{secret: []byte(secret), ttl: ttl, clock: clock}
}

// Issue creates a token for the player.
func (m *Manager) Issue(playerID int64, username string) (string, error) {
	now := m.clock()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(playerID, 10),
		Issuer:    "tilemud",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token for %s: %w", username, err)
	}
	return signed, nil
}

// Verify validates signature and expiry and returns the subject player id.
func (m *Manager) Verify(tokenString string) (int64, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.clock),
	)
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return 0, ErrInvalidToken
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// HashPassword bcrypt-hashes a password at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a password against its hash.
func CheckPassword(hash, password string) error {
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// NormalizeUsername NFC-normalizes, lowercases and validates a username:
// 3-16 characters, letters/digits/underscore only.
func NormalizeUsername(raw string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(norm.NFC.String(raw)))
	if len(name) < 3 || len(name) > 16 {
		return "", ErrBadUsername
	}
	for _, r := range name {
		if !unicode.IsLower(r) && !unicode.IsDigit(r) && r != '_' {
			return "", ErrBadUsername
		}
	}
	return name, nil
}
