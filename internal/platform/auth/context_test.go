package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, key []byte, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestParseOrgContextFromHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderOrgID, "org-1")
	req.Header.Set(HeaderUserID, "user-1")
	req.Header.Set(HeaderUserRoles, `["admin","clinician"]`)
	req.Header.Set(HeaderLocationIDs, `["loc-1"]`)

	oc := ParseOrgContext(req, nil)
	if oc.OrgID != "org-1" || oc.UserID != "user-1" {
		t.Errorf("identity lost: %+v", oc)
	}
	if !reflect.DeepEqual(oc.Roles, []string{"admin", "clinician"}) {
		t.Errorf("roles not parsed: %v", oc.Roles)
	}
	if !reflect.DeepEqual(oc.LocationIDs, []string{"loc-1"}) {
		t.Errorf("locations not parsed: %v", oc.LocationIDs)
	}
}

func TestParseOrgContextMalformedListHeadersFailClosed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderOrgID, "org-1")
	req.Header.Set(HeaderUserID, "user-1")
	req.Header.Set(HeaderUserRoles, `admin,clinician`)

	oc := ParseOrgContext(req, nil)
	if oc.Roles != nil {
		t.Errorf("malformed roles should yield empty list, got %v", oc.Roles)
	}
}

func TestParseOrgContextBearerTokenWins(t *testing.T) {
	key := []byte("test-signing-key")
	token := signToken(t, key, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "jwt-user",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		OrgID: "jwt-org",
		Roles: []string{"admin"},
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(HeaderOrgID, "header-org")
	req.Header.Set(HeaderUserID, "header-user")

	oc := ParseOrgContext(req, key)
	if oc.OrgID != "jwt-org" || oc.UserID != "jwt-user" {
		t.Errorf("token claims should win over headers: %+v", oc)
	}
}

func TestParseOrgContextInvalidTokenFallsBackToHeaders(t *testing.T) {
	key := []byte("test-signing-key")
	wrongKey := []byte("other-key")
	token := signToken(t, wrongKey, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "jwt-user"},
		OrgID:            "jwt-org",
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(HeaderOrgID, "header-org")
	req.Header.Set(HeaderUserID, "header-user")

	oc := ParseOrgContext(req, key)
	if oc.OrgID != "header-org" || oc.UserID != "header-user" {
		t.Errorf("invalid token should fall back to headers: %+v", oc)
	}
}

func TestParseOrgContextExpiredTokenRejected(t *testing.T) {
	key := []byte("test-signing-key")
	token := signToken(t, key, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "jwt-user",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		OrgID: "jwt-org",
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	oc := ParseOrgContext(req, key)
	if oc.OrgID != "" {
		t.Errorf("expired token accepted: %+v", oc)
	}
}

func TestParseOrgContextNoKeyIgnoresBearer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	req.Header.Set(HeaderOrgID, "org-1")
	req.Header.Set(HeaderUserID, "user-1")

	oc := ParseOrgContext(req, nil)
	if oc.OrgID != "org-1" {
		t.Errorf("headers should be used when no key is configured: %+v", oc)
	}
}

func TestOrgContextRoundTrip(t *testing.T) {
	oc := OrgContext{OrgID: "org-1", UserID: "user-1", Roles: []string{"admin"}}
	ctx := WithOrgContext(context.Background(), oc)

	got, ok := OrgFromContext(ctx)
	if !ok {
		t.Fatal("org context not found")
	}
	if !reflect.DeepEqual(got, oc) {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if _, ok := OrgFromContext(context.Background()); ok {
		t.Errorf("empty context should report absence")
	}
}
