package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "bloodlink/internal/common/errors"
	"bloodlink/internal/common/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func introspectionServer(t *testing.T, status int, info map[string]interface{}, calls *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		assert.Equal(t, "/realms/bloodlink/protocol/openid-connect/token/introspect", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "api", r.PostForm.Get("client_id"))
		assert.Equal(t, "access_token", r.PostForm.Get("token_type_hint"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(info)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, url string, cache redis.Cmdable) *KeycloakClient {
	return NewKeycloakClient(KeycloakConfig{
		BaseURL:      url + "/",
		Realm:        "bloodlink",
		ClientID:     "api",
		ClientSecret: "secret",
		Timeout:      time.Second,
		CacheTTL:     time.Minute,
	}, cache, logger.NewTestLogger(t))
}

func TestValidateToken_Active(t *testing.T) {
	calls := 0
	srv := introspectionServer(t, http.StatusOK, map[string]interface{}{
		"active":       true,
		"sub":          "user-1",
		"username":     "ada",
		"exp":          time.Now().Add(time.Hour).Unix(),
		"realm_access": map[string]interface{}{"roles": []string{"coordinator"}},
	}, &calls)

	p, err := newClient(t, srv.URL, nil).ValidateToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.UserID)
	assert.Contains(t, p.Roles, "coordinator")
	assert.NotContains(t, p.Roles, "admin")
}

func TestValidateToken_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		info     map[string]interface{}
		token    string
		wantCode apperrors.ErrorCode
	}{
		{name: "empty token", status: http.StatusOK, token: "", wantCode: apperrors.ErrCodeUnauthenticated},
		{name: "inactive", status: http.StatusOK, info: map[string]interface{}{"active": false}, token: "t", wantCode: apperrors.ErrCodeUnauthenticated},
		{name: "expired", status: http.StatusOK, info: map[string]interface{}{"active": true, "sub": "u", "exp": time.Now().Add(-time.Minute).Unix()}, token: "t", wantCode: apperrors.ErrCodeUnauthenticated},
		{name: "keycloak down", status: http.StatusBadGateway, token: "t", wantCode: apperrors.ErrCodeExternalService},
		{name: "bad client credentials", status: http.StatusUnauthorized, token: "t", wantCode: apperrors.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			srv := introspectionServer(t, tt.status, tt.info, &calls)
			_, err := newClient(t, srv.URL, nil).ValidateToken(context.Background(), tt.token)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tt.wantCode), "got %v", err)
		})
	}
}

func TestValidateToken_Cache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	calls := 0
	srv := introspectionServer(t, http.StatusOK, map[string]interface{}{
		"active": true,
		"sub":    "user-2",
		"exp":    time.Now().Add(30 * time.Second).Unix(),
	}, &calls)
	c := newClient(t, srv.URL, rdb)

	for i := 0; i < 3; i++ {
		p, err := c.ValidateToken(context.Background(), "tok")
		require.NoError(t, err)
		assert.Equal(t, "user-2", p.UserID)
	}
	assert.Equal(t, 1, calls)

	key := tokenCachePrefix + hashToken("tok")
	assert.True(t, mr.Exists(key))
	assert.LessOrEqual(t, mr.TTL(key), 30*time.Second, "ttl is capped by token expiry")
}
