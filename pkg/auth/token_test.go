package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/visamarket-backend/pkg/config"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
)

var testJWT = config.JWTConfig{
	Secret:            "secret",
	Issuer:            "visamarket",
	ExpirationMinutes: 30,
}

func TestMintAndParseAgencyToken(t *testing.T) {
	now := time.Now().UTC()
	userID := uuid.New()
	agencyID := uuid.New()

	token, err := MintAccessToken(testJWT, now, AccessTokenPayload{
		UserID:   userID,
		Role:     enums.ActorRoleAgency,
		AgencyID: &agencyID,
	})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	claims, err := ParseAccessToken(testJWT, token)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.UserID != userID {
		t.Fatalf("expected user_id %s, got %s", userID, claims.UserID)
	}
	if claims.Role != enums.ActorRoleAgency {
		t.Fatalf("unexpected role %s", claims.Role)
	}
	if claims.AgencyID == nil || *claims.AgencyID != agencyID {
		t.Fatalf("agency id not preserved")
	}
	if claims.Issuer != testJWT.Issuer {
		t.Fatalf("expected issuer %s, got %s", testJWT.Issuer, claims.Issuer)
	}
	exp := now.Add(30 * time.Minute)
	if diff := claims.ExpiresAt.Sub(exp); diff >= time.Second || diff <= -time.Second {
		t.Fatalf("expected exp roughly %v, got %v", exp, claims.ExpiresAt.UTC())
	}
}

func TestParseAccessTokenInvalidSignature(t *testing.T) {
	token, err := MintAccessToken(testJWT, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.ActorRoleUser})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}
	if _, err := ParseAccessToken(testJWT, token+"x"); err == nil {
		t.Fatal("expected invalid signature error")
	}
}

func TestParseAccessTokenWrongIssuer(t *testing.T) {
	token, err := MintAccessToken(testJWT, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.ActorRoleAdmin})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}
	other := testJWT
	other.Issuer = "someone-else"
	if _, err := ParseAccessToken(other, token); err == nil {
		t.Fatal("expected issuer mismatch")
	}
}

func TestParseAccessTokenExpired(t *testing.T) {
	token, err := MintAccessToken(testJWT, time.Now().Add(-time.Hour), AccessTokenPayload{UserID: uuid.New(), Role: enums.ActorRoleUser})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}
	_, err = ParseAccessToken(testJWT, token)
	if err == nil || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expected expiration error, got %v", err)
	}
}

func TestMintRejectsBadRoles(t *testing.T) {
	cases := []AccessTokenPayload{
		{UserID: uuid.New(), Role: ""},
		{UserID: uuid.New(), Role: enums.ActorRoleSystem},
		{UserID: uuid.New(), Role: enums.ActorRoleAgency},
		{Role: enums.ActorRoleUser},
	}
	for _, payload := range cases {
		if _, err := MintAccessToken(testJWT, time.Now(), payload); err == nil {
			t.Fatalf("expected error for %+v", payload)
		}
	}
}
