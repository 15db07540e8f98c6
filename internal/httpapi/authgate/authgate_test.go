package authgate

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{Secret: []byte("test-secret-key-value"), Issuer: "archflow"}
}

func TestIssueThenValidateTokenRoundTrips(t *testing.T) {
	cfg := testConfig()
	token, err := IssueToken("user-1", []string{"flows:run"}, time.Hour, cfg)
	require.NoError(t, err)

	claims, err := ValidateToken(token, cfg)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.True(t, claims.HasScope("flows:run"))
	assert.False(t, claims.HasScope("flows:stop"))
}

func TestWildcardScopeGrantsEverything(t *testing.T) {
	claims := Claims{Scopes: []string{"*"}}
	assert.True(t, claims.HasScope("anything:at:all"))
}

func TestValidateTokenRejectsWrongIssuer(t *testing.T) {
	cfg := testConfig()
	token, err := IssueToken("user-1", nil, time.Hour, cfg)
	require.NoError(t, err)

	other := cfg
	other.Issuer = "someone-else"
	_, err = ValidateToken(token, other)
	require.Error(t, err)
}

func TestValidateTokenRejectsExpiredToken(t *testing.T) {
	cfg := testConfig()
	token, err := IssueToken("user-1", nil, -time.Hour, cfg)
	require.NoError(t, err)

	_, err = ValidateToken(token, cfg)
	require.Error(t, err)
}

func TestValidateTokenRejectsEmptyString(t *testing.T) {
	_, err := ValidateToken("", testConfig())
	require.Error(t, err)
}

func TestMiddlewareRejectsMissingHeader(t *testing.T) {
	cfg := testConfig()
	handler := Middleware(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without a valid token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareAttachesClaimsForValidToken(t *testing.T) {
	cfg := testConfig()
	token, err := IssueToken("user-1", []string{"flows:run"}, time.Hour, cfg)
	require.NoError(t, err)

	var seen *Claims
	handler := Middleware(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "user-1", seen.Subject)
}
