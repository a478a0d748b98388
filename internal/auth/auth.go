// Package auth issues and validates the access tokens that guard the
// live job view.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenTTL = 12 * time.Hour
	BcryptCost      = 12
	issuer          = "clipper"
	ScopeView       = "jobs:view"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
)

type Claims struct {
	ViewerID string `json:"viewer_id"`
	Scope    string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenResponse is returned by the token endpoint
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
}

// Service signs view tokens with an HMAC secret. When a passphrase is
// configured, tokens are only issued in exchange for it.
type Service struct {
	jwtSecret      []byte
	ttl            time.Duration
	passphraseHash []byte
}

// NewService creates a token service. An empty passphrase disables the
// exchange endpoint; tokens can then only be minted locally.
func NewService(jwtSecret, passphrase string, ttl time.Duration) (*Service, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	s := &Service{jwtSecret: []byte(jwtSecret), ttl: ttl}

	if passphrase != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), BcryptCost)
		if err != nil {
			return nil, err
		}
		s.passphraseHash = hash
	}
	return s, nil
}

// Exchange trades the passphrase for a view token
func (s *Service) Exchange(passphrase string) (*TokenResponse, error) {
	if s.passphraseHash == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.passphraseHash, []byte(passphrase)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.IssueViewToken(uuid.NewString())
	if err != nil {
		return nil, err
	}
	return &TokenResponse{AccessToken: token, ExpiresIn: int(s.ttl.Seconds())}, nil
}

// IssueViewToken signs a token allowing viewerID to watch job progress
func (s *Service) IssueViewToken(viewerID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		ViewerID: viewerID,
		Scope:    ScopeView,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *Service) ValidateViewToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Scope != ScopeView {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
