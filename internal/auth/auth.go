package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/TobiSchelling/scoopfeed/internal/database"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether s looks like an email address.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// HashPassword returns a bcrypt hash for an admin password.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", errors.New("password must be at least 8 characters")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(h), nil
}

// CheckBearer compares an Authorization header against a shared secret.
// An empty secret rejects every request.
func CheckBearer(header, secret string) error {
	if secret == "" {
		return ErrUnauthorized
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Claims is the payload of an admin session token.
type Claims struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	IsSuperAdmin bool   `json:"isSuperAdmin"`
	jwt.RegisteredClaims
}

// AdminStore looks up admin accounts.
type AdminStore interface {
	GetAdminByEmail(email string) (*database.Admin, error)
}

// Issuer signs and verifies admin session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an HS256 token issuer.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// IsConfigured reports whether a signing key is set.
func (i *Issuer) IsConfigured() bool {
	return len(i.secret) > 0
}

// Login checks credentials and returns a signed token for the admin.
func (i *Issuer) Login(store AdminStore, email, password string) (string, *database.Admin, error) {
	if !i.IsConfigured() {
		return "", nil, fmt.Errorf("signing key not configured")
	}
	admin, err := store.GetAdminByEmail(email)
	if err != nil {
		return "", nil, fmt.Errorf("looking up admin: %w", err)
	}
	if admin == nil {
		return "", nil, ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrUnauthorized
	}
	token, err := i.Sign(admin)
	if err != nil {
		return "", nil, err
	}
	return token, admin, nil
}

// Sign creates a token for the admin.
func (i *Issuer) Sign(admin *database.Admin) (string, error) {
	now := i.now()
	claims := Claims{
		ID:           admin.ID,
		Email:        admin.Email,
		IsSuperAdmin: admin.IsSuperAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   admin.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return s, nil
}

// Verify parses a bearer header and returns its claims.
func (i *Issuer) Verify(header string) (*Claims, error) {
	if !i.IsConfigured() {
		return nil, ErrUnauthorized
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, ErrUnauthorized
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return claims, nil
}

// RequireSuper returns ErrForbidden unless the claims carry the superadmin flag.
func RequireSuper(c *Claims) error {
	if c == nil || !c.IsSuperAdmin {
		return ErrForbidden
	}
	return nil
}
