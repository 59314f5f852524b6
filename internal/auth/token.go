package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification:
// bad signature, malformed input, or elapsed expiry.
var ErrInvalidToken = errors.New("invalid token")

// Claims embeds the registered claims; the subject carries the user id.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenManager mints and verifies signed session tokens. The secret and
// lifetime are fixed at construction, so rotating the key means building
// a new manager from fresh config.
type TokenManager struct {
	secret   []byte
	lifetime time.Duration
}

// NewTokenManager creates a token manager with the given signing secret
// and token lifetime.
func NewTokenManager(secret []byte, lifetime time.Duration) *TokenManager {
	return &TokenManager{secret: secret, lifetime: lifetime}
}

// Lifetime returns the configured token lifetime.
func (tm *TokenManager) Lifetime() time.Duration {
	return tm.lifetime
}

// Issue produces a signed token embedding the user id, issued-at, and the
// fixed expiry horizon.
func (tm *TokenManager) Issue(userID int64) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.lifetime)),
		},
	})
	return token.SignedString(tm.secret)
}

// Verify returns the user id embedded in the token, or ErrInvalidToken when
// the signature does not match, the token is malformed, or it has expired.
// Attacker-controlled input never causes a panic.
func (tm *TokenManager) Verify(tokenString string) (int64, error) {
	userID, err := tm.parse(tokenString)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return userID, nil
}

// VerifyAllowExpired checks the signature and structure of the token but
// accepts an elapsed expiry. Used only by the refresh path, where a stale
// but authentic token is exchanged for a fresh one.
func (tm *TokenManager) VerifyAllowExpired(tokenString string) (int64, error) {
	userID, err := tm.parse(tokenString)
	if err == nil {
		return userID, nil
	}
	if !errors.Is(err, jwt.ErrTokenExpired) {
		return 0, ErrInvalidToken
	}

	// Expired but otherwise valid: re-parse without expiry validation.
	claims := &Claims{}
	token, parseErr := jwt.ParseWithClaims(tokenString, claims, tm.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation())
	if parseErr != nil || !token.Valid {
		return 0, ErrInvalidToken
	}
	return subjectID(claims)
}

func (tm *TokenManager) parse(tokenString string) (int64, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, tm.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, err
		}
		return 0, ErrInvalidToken
	}
	if !token.Valid {
		return 0, ErrInvalidToken
	}
	return subjectID(claims)
}

func (tm *TokenManager) keyFunc(t *jwt.Token) (interface{}, error) {
	return tm.secret, nil
}

func subjectID(claims *Claims) (int64, error) {
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return id, nil
}
