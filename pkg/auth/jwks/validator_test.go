package jwks

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/osvaldoandrade/reportq/pkg/auth"
)

type keyServer struct {
	key     *rsa.PrivateKey
	url     string
	fetches atomic.Int32
}

func newKeyServer(t *testing.T) *keyServer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	ks := &keyServer{key: key}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ks.fetches.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]any{{
				"kty": "RSA",
				"kid": "test-key-1",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString([]byte{0x01, 0x00, 0x01}),
			}},
		})
	}))
	t.Cleanup(srv.Close)
	ks.url = srv.URL
	return ks
}

func (ks *keyServer) validator(t *testing.T) auth.Validator {
	t.Helper()
	v, err := NewValidator(auth.Config{
		JwksURL:     ks.url,
		Issuer:      "test-issuer",
		Audience:    "reportq",
		ClockSkew:   time.Second,
		HTTPTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	return v
}

func (ks *keyServer) sign(t *testing.T, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(ks.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestJWKSValidator(t *testing.T) {
	ks := newKeyServer(t)
	v := ks.validator(t)
	now := time.Now().Unix()
	token := ks.sign(t, "test-key-1", jwt.MapClaims{
		"iss":    "test-issuer",
		"aud":    []string{"other", "reportq"},
		"sub":    "u-1",
		"exp":    now + 3600,
		"iat":    now,
		"email":  "u1@example.com",
		"scope":  "reportq:admin read",
		"groups": []string{"qa", "ops"},
	})

	claims, err := v.Validate(token)
	if err != nil {
		t.Fatalf("failed to validate token: %v", err)
	}
	if claims.Subject != "u-1" || claims.Email != "u1@example.com" || claims.Issuer != "test-issuer" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if len(claims.Audience) != 2 {
		t.Fatalf("expected two audiences, got %v", claims.Audience)
	}
	if !claims.HasScope(auth.ScopeAdmin) || !claims.HasGroup("ops") {
		t.Fatalf("unexpected scopes=%v groups=%v", claims.Scopes, claims.Groups)
	}

	if _, err := v.Validate(token); err != nil {
		t.Fatalf("second validate: %v", err)
	}
	if n := ks.fetches.Load(); n != 1 {
		t.Fatalf("expected cached key set, got %d fetches", n)
	}
}

func TestJWKSValidatorRejects(t *testing.T) {
	ks := newKeyServer(t)
	v := ks.validator(t)
	now := time.Now().Unix()
	base := func() jwt.MapClaims {
		return jwt.MapClaims{"iss": "test-issuer", "aud": "reportq", "sub": "u-1", "exp": now + 3600, "iat": now}
	}

	tests := []struct {
		name   string
		kid    string
		mutate func(jwt.MapClaims)
	}{
		{"wrong issuer", "test-key-1", func(c jwt.MapClaims) { c["iss"] = "wrong-issuer" }},
		{"wrong audience", "test-key-1", func(c jwt.MapClaims) { c["aud"] = "wrong-audience" }},
		{"expired", "test-key-1", func(c jwt.MapClaims) { c["exp"] = now - 3600 }},
		{"unknown kid", "other-key", func(jwt.MapClaims) {}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			if _, err := v.Validate(ks.sign(t, tt.kid, c)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestJWKSProviderRegistered(t *testing.T) {
	ks := newKeyServer(t)
	raw, _ := json.Marshal(map[string]any{"jwksUrl": ks.url, "issuer": "test-issuer", "audience": "reportq"})
	v, err := auth.NewValidator(auth.ProviderConfig{Type: "jwks", Config: raw})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	now := time.Now().Unix()
	token := ks.sign(t, "test-key-1", jwt.MapClaims{"iss": "test-issuer", "aud": "reportq", "sub": "u-2", "exp": now + 60})
	if claims, err := v.Validate(token); err != nil || claims.Subject != "u-2" {
		t.Fatalf("unexpected claims %+v err=%v", claims, err)
	}
	if _, err := NewValidatorFromJSON(json.RawMessage(`{"issuer":"x"}`)); err == nil {
		t.Fatal("expected error without jwksUrl")
	}
}
