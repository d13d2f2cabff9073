package testutil

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignedBearerToken returns a signed HS256 token shaped for
// authenticateBearer's bearerClaims, carrying sub/email/displayName/
// groups/role. Tests use this to exercise the token auth path without
// standing up a real identity provider.
func SignedBearerToken(secret, userID, email, role string, groups []string) (string, error) {
	claims := jwt.MapClaims{
		"sub":         userID,
		"email":       email,
		"displayName": "",
		"groups":      groups,
		"role":        role,
		"exp":         time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
