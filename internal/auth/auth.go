package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"github.com/kpessa/delphi-webapp/internal/config"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// streamAudience marks tickets that may only open the notification stream
const streamAudience = "notification-stream"

// Claims represents the claims of a bearer token. The subject is the user id.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the authenticated user id
func (c *Claims) UserID() string {
	return c.Subject
}

// Service verifies bearer tokens and issues short-lived stream tickets
type Service struct {
	secret    []byte
	ticketKey []byte
	issuer    string
	audience  string
	devTTL    time.Duration
	ticketTTL time.Duration
	now       func() time.Time
}

// NewService creates a new authentication service
func NewService(cfg *config.AuthConfig) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}

	ticketKey, err := deriveKey(cfg.Secret, "delphi notification stream ticket")
	if err != nil {
		return nil, err
	}

	return &Service{
		secret:    []byte(cfg.Secret),
		ticketKey: ticketKey,
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		devTTL:    cfg.DevTokenTTL,
		ticketTTL: cfg.StreamTicketTTL,
		now:       time.Now,
	}, nil
}

// deriveKey derives a purpose-bound signing key so stream tickets can never
// be replayed as bearer tokens
func deriveKey(secret, purpose string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(purpose)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// ValidateToken validates a bearer token and returns its claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}
	return s.parse(tokenString, s.secret, opts)
}

// GenerateToken signs a bearer token for local development and tests
func (s *Service) GenerateToken(userID, email, name string) (string, error) {
	jti, err := GenerateRandomToken(16)
	if err != nil {
		return "", fmt.Errorf("failed to generate JTI: %w", err)
	}

	now := s.now()
	claims := Claims{
		Email: email,
		Name:  name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.devTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}
	return sign(claims, s.secret)
}

// IssueStreamTicket signs a short-lived ticket for opening the notification stream
func (s *Service) IssueStreamTicket(userID string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ticketTTL)
	token, err := sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{streamAudience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}, s.ticketKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// ValidateStreamTicket returns the user id a stream ticket was issued to
func (s *Service) ValidateStreamTicket(ticket string) (string, error) {
	claims, err := s.parse(ticket, s.ticketKey, []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(streamAudience),
	})
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (s *Service) parse(tokenString string, key []byte, opts []jwt.ParserOption) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func sign(claims Claims, key []byte) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// GenerateRandomToken generates a random URL-safe token of length bytes
func GenerateRandomToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}
