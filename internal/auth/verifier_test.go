package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

// jwksServer serves a mutable key set the way an identity provider would.
type jwksServer struct {
	mu   sync.Mutex
	keys map[string]*rsa.PublicKey
	srv  *httptest.Server
}

func newJWKSServer(t *testing.T) *jwksServer {
	t.Helper()
	s := &jwksServer{keys: make(map[string]*rsa.PublicKey)}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		set := keySet{}
		for kid, pub := range s.keys {
			set.Keys = append(set.Keys, jwk{
				Kty: "RSA",
				Kid: kid,
				N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			})
		}
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *jwksServer) setKey(kid string, pub *rsa.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = map[string]*rsa.PublicKey{kid: pub}
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func validClaims(sub string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
}

func TestVerifyValidToken(t *testing.T) {
	key := generateKey(t)
	srv := newJWKSServer(t)
	srv.setKey("key-1", &key.PublicKey)

	v := NewVerifier(srv.srv.URL, "")
	sub, err := v.Verify(context.Background(), signToken(t, key, "key-1", validClaims("user_abc")))

	require.NoError(t, err)
	assert.Equal(t, "user_abc", sub)
}

func TestVerifyEmptyToken(t *testing.T) {
	v := NewVerifier("http://unused.invalid", "")
	_, err := v.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestVerifyExpiredToken(t *testing.T) {
	key := generateKey(t)
	srv := newJWKSServer(t)
	srv.setKey("key-1", &key.PublicKey)

	claims := jwt.MapClaims{
		"sub": "user_abc",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}
	v := NewVerifier(srv.srv.URL, "")
	_, err := v.Verify(context.Background(), signToken(t, key, "key-1", claims))

	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyRejectsHMAC(t *testing.T) {
	key := generateKey(t)
	srv := newJWKSServer(t)
	srv.setKey("key-1", &key.PublicKey)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("user_abc"))
	token.Header["kid"] = "key-1"
	signed, err := token.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	v := NewVerifier(srv.srv.URL, "")
	_, err = v.Verify(context.Background(), signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyWrongKey(t *testing.T) {
	trusted := generateKey(t)
	attacker := generateKey(t)
	srv := newJWKSServer(t)
	srv.setKey("key-1", &trusted.PublicKey)

	v := NewVerifier(srv.srv.URL, "")
	_, err := v.Verify(context.Background(), signToken(t, attacker, "key-1", validClaims("user_abc")))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyMissingSubject(t *testing.T) {
	key := generateKey(t)
	srv := newJWKSServer(t)
	srv.setKey("key-1", &key.PublicKey)

	claims := jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}
	v := NewVerifier(srv.srv.URL, "")
	_, err := v.Verify(context.Background(), signToken(t, key, "key-1", claims))

	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyIssuer(t *testing.T) {
	key := generateKey(t)
	srv := newJWKSServer(t)
	srv.setKey("key-1", &key.PublicKey)

	v := NewVerifier(srv.srv.URL, "https://id.example.com")

	claims := validClaims("user_abc")
	claims["iss"] = "https://id.example.com"
	sub, err := v.Verify(context.Background(), signToken(t, key, "key-1", claims))
	require.NoError(t, err)
	assert.Equal(t, "user_abc", sub)

	claims["iss"] = "https://evil.example.com"
	_, err = v.Verify(context.Background(), signToken(t, key, "key-1", claims))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRefreshesOnUnknownKid(t *testing.T) {
	oldKey := generateKey(t)
	newKey := generateKey(t)
	srv := newJWKSServer(t)
	srv.setKey("key-old", &oldKey.PublicKey)

	v := NewVerifier(srv.srv.URL, "")
	_, err := v.Verify(context.Background(), signToken(t, oldKey, "key-old", validClaims("u1")))
	require.NoError(t, err)

	// Provider rotates its keys; a token signed with the new key must
	// trigger a refetch even though the cache is fresh.
	srv.setKey("key-new", &newKey.PublicKey)
	sub, err := v.Verify(context.Background(), signToken(t, newKey, "key-new", validClaims("u2")))
	require.NoError(t, err)
	assert.Equal(t, "u2", sub)
}

func TestVerifyStaleKeysSurviveProviderOutage(t *testing.T) {
	key := generateKey(t)
	srv := newJWKSServer(t)
	srv.setKey("key-1", &key.PublicKey)

	v := NewVerifier(srv.srv.URL, "")
	_, err := v.Verify(context.Background(), signToken(t, key, "key-1", validClaims("u1")))
	require.NoError(t, err)

	srv.srv.Close()
	v.mu.Lock()
	v.fetched = time.Now().Add(-time.Hour)
	v.mu.Unlock()

	sub, err := v.Verify(context.Background(), signToken(t, key, "key-1", validClaims("u2")))
	require.NoError(t, err)
	assert.Equal(t, "u2", sub)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc.def.ghi", BearerToken("Bearer abc.def.ghi"))
	assert.Equal(t, "abc", BearerToken("Bearer abc "))
	assert.Equal(t, "", BearerToken(""))
	assert.Equal(t, "", BearerToken("Basic dXNlcjpwYXNz"))
	assert.Equal(t, "", BearerToken("bearer abc"))
}
