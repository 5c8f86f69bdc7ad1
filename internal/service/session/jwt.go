package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiryFromToken extracts the expiry from the credential's `exp` claim when
// the Ledger omits an explicit expiresAt. The signature is not verified here:
// verification is the Ledger's job, the client only needs the deadline for
// refresh scheduling.
func expiryFromToken(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
