package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/betwixt-labs/tempo/auth"
	"github.com/betwixt-labs/tempo/status"
	"github.com/golang-jwt/jwt/v4"
)

func sign(t *testing.T, secret []byte, claims auth.Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func TestJWTInterceptorAcceptsValidToken(t *testing.T) {
	secret := []byte("super-secret")
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{"admin", "operator"},
	}
	token := sign(t, secret, claims)

	ic := auth.NewJWTInterceptor(secret)
	ac, err := ic.Authenticate(context.Background(), "Bearer "+token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !ac.Authenticated() {
		t.Fatal("expected Authenticated() = true")
	}
	if got := ac.PeerIdentity(); got != "alice" {
		t.Fatalf("PeerIdentity = %q, want alice", got)
	}
	if roles := ac.Get("role"); len(roles) != 2 || roles[0] != "admin" || roles[1] != "operator" {
		t.Fatalf("role properties = %v, want [admin operator]", roles)
	}
}

func TestJWTInterceptorNoHeaderIsUnauthenticatedNotError(t *testing.T) {
	ic := auth.NewJWTInterceptor([]byte("secret"))
	ac, err := ic.Authenticate(context.Background(), "")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if ac.Authenticated() {
		t.Fatal("expected Authenticated() = false for missing header")
	}
}

func TestJWTInterceptorRejectsMalformedHeader(t *testing.T) {
	ic := auth.NewJWTInterceptor([]byte("secret"))
	_, err := ic.Authenticate(context.Background(), "Basic dXNlcjpwYXNz")
	if !status.Is(err, status.Unauthenticated) {
		t.Fatalf("err = %v, want UNAUTHENTICATED", err)
	}
}

func TestJWTInterceptorRejectsBadSignature(t *testing.T) {
	claims := auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "bob"}}
	token := sign(t, []byte("secret-a"), claims)

	ic := auth.NewJWTInterceptor([]byte("secret-b"))
	_, err := ic.Authenticate(context.Background(), "Bearer "+token)
	if !status.Is(err, status.Unauthenticated) {
		t.Fatalf("err = %v, want UNAUTHENTICATED", err)
	}
}

func TestJWTInterceptorRejectsNonHMACAlg(t *testing.T) {
	claims := auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "carol"}}
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	token, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	ic := auth.NewJWTInterceptor([]byte("secret"))
	_, err = ic.Authenticate(context.Background(), "Bearer "+token)
	if !status.Is(err, status.Unauthenticated) {
		t.Fatalf("err = %v, want UNAUTHENTICATED", err)
	}
}

func TestNoOpNeverAuthenticates(t *testing.T) {
	ac, err := auth.NoOp.Authenticate(context.Background(), "Bearer whatever")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if ac.Authenticated() {
		t.Fatal("NoOp interceptor must never authenticate")
	}
}

func TestContextOrdersKeysByFirstInsertion(t *testing.T) {
	ac := auth.NewContext()
	ac.Set("role", "admin")
	ac.Set("subject", "alice")
	ac.Set("role", "operator")

	if got := ac.Keys(); len(got) != 2 || got[0] != "role" || got[1] != "subject" {
		t.Fatalf("Keys() = %v, want [role subject]", got)
	}
}
