package api

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/castleridge-io/clawdeck-sub003/domain"
)

func signHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(5 * time.Minute).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func testAuth(secret []byte) *Auth {
	return &Auth{
		Audience:   "api://missioncontrol",
		Issuer:     "https://issuer/",
		TestMode:   true,
		TestSecret: secret,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

func TestBearerTokenParsing(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{name: "valid", header: "Bearer aaa.bbb.ccc", want: "aaa.bbb.ccc"},
		{name: "padded", header: "  Bearer aaa.bbb.ccc  ", want: "aaa.bbb.ccc"},
		{name: "empty", header: "", wantErr: errMissingAuthorization},
		{name: "noScheme", header: "aaa.bbb.ccc", wantErr: errBadAuthorization},
		{name: "wrongSegments", header: "Bearer aaa.bbb", wantErr: errBadAuthorization},
		{name: "manyPeriods", header: "Bearer a.b.c.d.e", wantErr: errBadAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bearerToken(tt.header)
			if err != tt.wantErr {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIdentityFromBearerHuman(t *testing.T) {
	secret := []byte("test-secret")
	signed := signHS256(t, secret, jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://missioncontrol",
		"iss": "https://issuer/",
	})

	ident, err := testAuth(secret).IdentityFromBearer(signed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ident.Kind != domain.PrincipalHuman || ident.Subject != "user-123" || ident.OwnerID != "user-123" {
		t.Fatalf("unexpected identity %#v", ident)
	}
}

func TestIdentityFromBearerAgent(t *testing.T) {
	secret := []byte("test-secret")
	signed := signHS256(t, secret, jwt.MapClaims{
		"sub":   "agent-a",
		"kind":  "agent",
		"owner": "user-123",
	})

	ident, err := testAuth(secret).IdentityFromBearer(signed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ident.Kind != domain.PrincipalAgent || ident.Subject != "agent-a" || ident.OwnerID != "user-123" {
		t.Fatalf("unexpected identity %#v", ident)
	}
}

func TestIdentityFromBearerAgentWithoutOwner(t *testing.T) {
	secret := []byte("test-secret")
	signed := signHS256(t, secret, jwt.MapClaims{
		"sub":  "agent-a",
		"kind": "agent",
	})

	if _, err := testAuth(secret).IdentityFromBearer(signed); err == nil {
		t.Fatal("expected rejection of agent token without owner claim")
	}
}

func TestIdentityFromBearerExpired(t *testing.T) {
	secret := []byte("test-secret")
	signed := signHS256(t, secret, jwt.MapClaims{
		"sub": "user-123",
		"exp": time.Now().Add(-5 * time.Minute).Unix(),
	})

	if _, err := testAuth(secret).IdentityFromBearer(signed); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestIdentityFromBearerWrongAudience(t *testing.T) {
	secret := []byte("test-secret")
	signed := signHS256(t, secret, jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://other",
	})

	if _, err := testAuth(secret).IdentityFromBearer(signed); err == nil {
		t.Fatal("expected audience mismatch to be rejected")
	}
}
