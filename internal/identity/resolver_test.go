package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlane/voxlane/internal/usage"
)

const testSecret = "identity-secret-that-is-at-least-32-ch!"

func signToken(t *testing.T, secret string, claims SessionClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func sessionClaims(userID uuid.UUID, tier string) SessionClaims {
	return SessionClaims{
		UserID: userID.String(),
		Tier:   tier,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestResolve_ValidToken(t *testing.T) {
	r := NewResolver(testSecret)
	userID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcriptions", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, sessionClaims(userID, "pro")))

	caller := r.Resolve(req)
	assert.False(t, caller.Anonymous())
	require.NotNil(t, caller.UserID)
	assert.Equal(t, userID, *caller.UserID)
	assert.Equal(t, usage.TierPro, caller.Tier)
	assert.Equal(t, "user:"+userID.String(), caller.Key())
}

func TestResolve_NoTokenIsAnonymous(t *testing.T) {
	r := NewResolver(testSecret)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcriptions", nil)
	req.RemoteAddr = "203.0.113.9:51234"
	req.Header.Set("User-Agent", "Mozilla/5.0")

	caller := r.Resolve(req)
	assert.True(t, caller.Anonymous())
	assert.Equal(t, usage.TierFree, caller.Tier)
	assert.Equal(t, "203.0.113.9", caller.IP)
	assert.NotEmpty(t, caller.Fingerprint)
	assert.Equal(t, "anon:203.0.113.9:"+caller.Fingerprint, caller.Key())
}

func TestResolve_BadSignatureIsAnonymous(t *testing.T) {
	r := NewResolver(testSecret)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcriptions", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "some-other-secret-32-characters!!", sessionClaims(uuid.New(), "pro")))

	caller := r.Resolve(req)
	assert.True(t, caller.Anonymous())
	assert.Equal(t, usage.TierFree, caller.Tier)
}

func TestResolve_ExpiredTokenIsAnonymous(t *testing.T) {
	r := NewResolver(testSecret)

	claims := sessionClaims(uuid.New(), "pro")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcriptions", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, claims))

	assert.True(t, r.Resolve(req).Anonymous())
}

func TestResolve_MalformedUserIDIsAnonymous(t *testing.T) {
	r := NewResolver(testSecret)

	claims := SessionClaims{
		UserID: "not-a-uuid",
		Tier:   "pro",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcriptions", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, claims))

	assert.True(t, r.Resolve(req).Anonymous())
}

func TestResolve_UnknownTierFallsBackToFree(t *testing.T) {
	r := NewResolver(testSecret)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcriptions", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, sessionClaims(uuid.New(), "platinum")))

	caller := r.Resolve(req)
	assert.False(t, caller.Anonymous())
	assert.Equal(t, usage.TierFree, caller.Tier)
}

func TestResolve_EmptySecretDisablesAuth(t *testing.T) {
	r := NewResolver("")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcriptions", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, sessionClaims(uuid.New(), "pro")))

	assert.True(t, r.Resolve(req).Anonymous())
}

func TestClientIP_ForwardedFor(t *testing.T) {
	r := NewResolver("")

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:443"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	assert.Equal(t, "203.0.113.7", r.Resolve(req).IP)

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "203.0.113.8")
	assert.Equal(t, "203.0.113.8", r.Resolve(req).IP)

	req.Header.Del("X-Real-IP")
	assert.Equal(t, "10.0.0.1", r.Resolve(req).IP)
}

func TestFingerprint_SameDeviceAcrossIPs(t *testing.T) {
	r := NewResolver("")

	reqA := httptest.NewRequest(http.MethodPost, "/", nil)
	reqA.RemoteAddr = "198.51.100.1:1000"
	reqA.Header.Set("User-Agent", "Mozilla/5.0")
	reqA.Header.Set("Accept-Language", "en-US")
	reqA.Header.Set("Accept-Encoding", "gzip")

	reqB := httptest.NewRequest(http.MethodPost, "/", nil)
	reqB.RemoteAddr = "198.51.100.2:2000"
	reqB.Header.Set("User-Agent", "Mozilla/5.0")
	reqB.Header.Set("Accept-Language", "en-US")
	reqB.Header.Set("Accept-Encoding", "gzip")

	a := r.Resolve(reqA)
	b := r.Resolve(reqB)
	assert.Equal(t, a.Fingerprint, b.Fingerprint)
	assert.NotEqual(t, a.Key(), b.Key())
}
