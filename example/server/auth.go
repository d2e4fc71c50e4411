package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lucets/lucets"
	"github.com/lucets/lucets/hooks"
)

const userKey = "user"

// requireToken rejects upgrade requests without a valid HS256 bearer token.
// Browsers cannot set headers on a WebSocket request, so the token may also
// be passed in the token query parameter. The token subject is stored on the
// context under "user".
func requireToken(secret string) lucets.UpgradeHook {
	return func(ctx *lucets.Context, next hooks.Next) error {
		token := bearerToken(ctx.Request())
		if token == "" {
			return unauthorized("missing token")
		}

		userID, err := validateToken(token, secret)
		if err != nil {
			httpErr := unauthorized("invalid token")
			httpErr.Err = err
			return httpErr
		}

		ctx.Set(userKey, userID)
		return next()
	}
}

func bearerToken(req *http.Request) string {
	if header := req.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return token
		}
		return ""
	}
	return req.URL.Query().Get("token")
}

func unauthorized(message string) *lucets.HTTPError {
	httpErr := lucets.NewHTTPError(http.StatusUnauthorized, message)
	httpErr.Header = http.Header{"WWW-Authenticate": {`Bearer realm="lucets"`}}
	return httpErr
}

func validateToken(tokenString string, secret string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("missing user ID in token")
	}
	return claims.Subject, nil
}

// signToken creates a token for userID. It is used by the tests and by the
// -sign flag to mint tokens for manual testing.
func signToken(userID string, secret string, expiration time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
