// Package auth issues and checks the tokens a facility hands to devices
// on registration.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

const issuer = "fieldsync-facility"

// Claims binds a token to one device.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// DeviceID is the subject the token was issued to.
func (c *Claims) DeviceID() string { return c.Subject }

// GenerateToken issues a token for deviceID valid for validity.
func GenerateToken(deviceID, role string, secretKey []byte, validity time.Duration) (string, time.Time, error) {
	expires := time.Now().Add(validity)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Role: role,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expires, nil
}

// ParseToken validates a token and returns its claims. Expired tokens fail
// with common.ErrTokenExpired, anything else invalid with
// common.ErrInvalidToken.
func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, common.ErrTokenExpired
	case err != nil:
		return nil, common.ErrInvalidToken
	case !token.Valid || claims.Subject == "":
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}
