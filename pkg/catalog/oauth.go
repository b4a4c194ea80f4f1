package catalog

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry inspects an OAuth client-credentials access token (a JWT, as
// gausium issues) and reports when it expires, so the adapter knows when
// to refresh rather than eagerly refreshing on every call. Parsing is
// unverified — the token was just minted by the vendor's own token
// endpoint over TLS, so signature verification here would only check our
// own issuance, not an attacker's.
func TokenExpiry(accessToken string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
