package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// Claims represents JWT payload. Subject is the user id.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	Type  string `json:"typ"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 tokens.
type Signer struct {
	Key        []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Now is the clock expiry is checked against; nil means time.Now.
	Now func() time.Time
}

// NewSigner creates a signer.
func NewSigner(key, issuer string, accessTTL, refreshTTL time.Duration) *Signer {
	return &Signer{Key: []byte(key), Issuer: issuer, AccessTTL: accessTTL, RefreshTTL: refreshTTL}
}

// Issue issues signed access and refresh tokens for a user at now.
func (s *Signer) Issue(userID, email, role string, now time.Time) (TokenPair, error) {
	accessExp := now.Add(s.AccessTTL)
	refreshExp := now.Add(s.RefreshTTL)

	access, err := s.sign(userID, email, role, TypeAccess, now, accessExp)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.sign(userID, email, role, TypeRefresh, now, refreshExp)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

func (s *Signer) sign(userID, email, role, typ string, now, exp time.Time) (string, error) {
	claims := Claims{
		Email: email,
		Role:  role,
		Type:  typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Key)
}

func (s *Signer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Parse validates a token of the wanted type and returns claims.
func (s *Signer) Parse(tokenStr, wantType string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.Key, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if s.Issuer != "" && claims.Issuer != s.Issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	if claims.Type != wantType {
		return Claims{}, errors.New("wrong token type")
	}
	if claims.Subject == "" {
		return Claims{}, errors.New("missing subject")
	}
	return *claims, nil
}
