// Package claims decodes platform claims from access tokens without verifying
// signatures. Signature verification happens on the resource servers; clients
// only read the embedded identity and project scope.
package claims

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims carries the platform claims embedded in an access token.
type AccessClaims struct {
	Subject     string    // Subject (sub) - user identifier
	DisplayName string    // name - human-readable user name
	ProjectID   string    // project_id - project the token is scoped to
	Expiry      time.Time // Expiry time (exp), zero when absent
	IssuedAt    time.Time // Issued at (iat), zero when absent
}

// Decode extracts platform claims from an access token. The signature is not
// checked.
func Decode(token string) (*AccessClaims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("claims: token is empty")
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("claims: malformed token: %w", err)
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims: unexpected claims type")
	}

	sub, err := mapClaims.GetSubject()
	if err != nil {
		return nil, fmt.Errorf("claims: invalid subject claim: %w", err)
	}
	if sub == "" {
		return nil, errors.New("claims: invalid subject claim: empty")
	}

	accessClaims := &AccessClaims{
		Subject:     sub,
		DisplayName: claimString(mapClaims, "name"),
		ProjectID:   claimString(mapClaims, "project_id"),
	}

	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		accessClaims.Expiry = exp.Time
	}
	if iat, err := mapClaims.GetIssuedAt(); err == nil && iat != nil {
		accessClaims.IssuedAt = iat.Time
	}

	return accessClaims, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	value, ok := claims[key].(string)
	if !ok {
		return ""
	}

	return strings.TrimSpace(value)
}
