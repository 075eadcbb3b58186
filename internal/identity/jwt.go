package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// JWT issues and verifies HS256 session tokens.
type JWT struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWT(secret, issuer string) *JWT {
	if issuer == "" {
		issuer = "smarttalk"
	}
	return &JWT{secret: []byte(secret), issuer: issuer, now: time.Now}
}

func (j *JWT) Issue(a Actor, ttl time.Duration) (string, error) {
	if !a.Valid() {
		return "", fmt.Errorf("%w: name and email are required", ErrUnauthenticated)
	}
	now := j.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Name:   a.Name,
		Email:  a.Key(),
		Avatar: a.Avatar,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   a.Key(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(j.secret)
}

func (j *JWT) Verify(_ context.Context, tokenString string) (Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.issuer),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil || !token.Valid {
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	a := Actor{Name: claims.Name, Email: claims.Email, Avatar: claims.Avatar}
	if !a.Valid() {
		return Actor{}, fmt.Errorf("%w: token has no name or email", ErrInvalidToken)
	}
	return a, nil
}
