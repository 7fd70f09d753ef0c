// Package auth verifies and issues bearer tokens and checks passwords.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"focusboard/pkg/interfaces"
	"focusboard/pkg/types"
)

const userIDClaim = "user_id"

// Service signs HS256 tokens carrying a user_id claim.
type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
	users  interfaces.UserStore
}

var _ interfaces.CredentialVerifier = (*Service)(nil)

// NewService builds a token service. users may be nil when only Verify and
// Issue are needed.
func NewService(secret, issuer string, ttl time.Duration, users interfaces.UserStore) *Service {
	return &Service{secret: []byte(secret), issuer: issuer, ttl: ttl, users: users}
}

// Issue signs a token for userID that expires after the configured TTL.
func (s *Service) Issue(userID int64) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(s.ttl)
	claims := jwt.MapClaims{
		userIDClaim: userID,
		"iat":       now.Unix(),
		"exp":       expires.Unix(),
	}
	if s.issuer != "" {
		claims["iss"] = s.issuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify maps a token to a user id. It fails with ErrMissingToken,
// ErrExpiredToken or ErrInvalidToken and has no side effects.
func (s *Service) Verify(tokenString string) (int64, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return 0, ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrExpiredToken
		}
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return 0, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, ErrInvalidToken
	}
	// JSON numbers decode as float64
	raw, ok := claims[userIDClaim].(float64)
	if !ok || raw <= 0 || raw != float64(int64(raw)) {
		return 0, fmt.Errorf("%w: bad %s claim", ErrInvalidToken, userIDClaim)
	}
	return int64(raw), nil
}

// Login checks an email and password and issues a token for the account.
// Unknown emails and wrong passwords both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (string, time.Time, *types.User, error) {
	if s.users == nil {
		return "", time.Time{}, nil, errors.New("login requires a user store")
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			return "", time.Time{}, nil, ErrInvalidCredentials
		}
		return "", time.Time{}, nil, err
	}
	if user.PasswordHash == "" || !CheckPassword(user.PasswordHash, password) {
		return "", time.Time{}, nil, ErrInvalidCredentials
	}

	token, expires, err := s.Issue(user.ID)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	return token, expires, user, nil
}

// HashPassword returns a bcrypt hash at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
