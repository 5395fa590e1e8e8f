// Package identity registers users with hashed credentials and issues the
// bearer tokens the HTTP API authenticates with.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/tradojo/booking/booking"
)

var (
	// ErrInvalidCredentials is returned when an email/password pair does not
	// match a user.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")

	// ErrInvalidToken is returned for malformed, expired or forged tokens.
	ErrInvalidToken = errors.New("identity: invalid token")
)

const minPasswordLen = 8

// Accounts is the part of the booking engine identity needs.
type Accounts interface {
	RegisterUser(ctx context.Context, nu booking.NewUser) (string, error)
	FindUserByEmail(ctx context.Context, email string) (booking.User, error)
}

// Config configures hashing and token issuance.
type Config struct {
	Secret []byte

	// TokenTTL is the lifetime of issued tokens.
	// Default: 24h
	TokenTTL time.Duration

	// BcryptCost is the bcrypt work factor.
	// Default: bcrypt.DefaultCost
	BcryptCost int
}

func (c *Config) validate() {
	if c.TokenTTL <= 0 {
		c.TokenTTL = 24 * time.Hour
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		c.BcryptCost = bcrypt.DefaultCost
	}
}

// Claims are the token claims. The subject is the user id.
type Claims struct {
	Role booking.Role `json:"role"`
	jwt.RegisteredClaims
}

// Service authenticates users.
type Service struct {
	accounts Accounts
	config   Config
	now      func() time.Time
}

// New creates a Service. A zero-length secret is rejected.
func New(accounts Accounts, config Config) (*Service, error) {
	if len(config.Secret) == 0 {
		return nil, errors.New("identity: signing secret is required")
	}
	config.validate()
	return &Service{accounts: accounts, config: config, now: time.Now}, nil
}

// Register creates a user whose credential is password.
func (s *Service) Register(ctx context.Context, email, username, password string) (string, error) {
	if len(password) < minPasswordLen {
		return "", &booking.ValidationError{Field: "password", Reason: fmt.Sprintf("must have at least %d characters", minPasswordLen)}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("identity: hash password: %w", err)
	}
	return s.accounts.RegisterUser(ctx, booking.NewUser{
		Email:          email,
		Username:       username,
		CredentialHash: string(hash),
	})
}

// Login checks the credentials and returns a token for the user.
func (s *Service) Login(ctx context.Context, email, password string) (string, booking.User, error) {
	u, err := s.accounts.FindUserByEmail(ctx, email)
	if errors.Is(err, booking.ErrNotFound) {
		return "", booking.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return "", booking.User{}, err
	}
	if u.CredentialHash == "" || bcrypt.CompareHashAndPassword([]byte(u.CredentialHash), []byte(password)) != nil {
		return "", booking.User{}, ErrInvalidCredentials
	}
	token, err := s.Issue(u)
	if err != nil {
		return "", booking.User{}, err
	}
	return token, u, nil
}

// Issue signs a token for u.
func (s *Service) Issue(u booking.User) (string, error) {
	now := s.now()
	claims := Claims{
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.Secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns its claims.
func (s *Service) Verify(token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.config.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}
