package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestExpiryFromToken(t *testing.T) {
	exp := time.Now().Add(90 * time.Minute).Truncate(time.Second)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": exp.Unix(),
	})
	signed, err := tok.SignedString([]byte("any-key"))
	if err != nil {
		t.Fatal(err)
	}

	got, ok := expiryFromToken(signed)
	if !ok {
		t.Fatal("expiryFromToken() failed on a well-formed token")
	}
	if !got.Equal(exp) {
		t.Errorf("expiry = %v, want %v", got, exp)
	}
}

func TestExpiryFromTokenWithoutExpClaim(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"})
	signed, err := tok.SignedString([]byte("any-key"))
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := expiryFromToken(signed); ok {
		t.Error("expiryFromToken() reported an expiry for a token without one")
	}
}

func TestExpiryFromMalformedToken(t *testing.T) {
	if _, ok := expiryFromToken("not.a.token"); ok {
		t.Error("expiryFromToken() accepted garbage")
	}
}
