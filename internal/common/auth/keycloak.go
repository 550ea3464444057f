// internal/common/auth/keycloak.go
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	apperrors "bloodlink/internal/common/errors"
	commonhttp "bloodlink/internal/common/http"
	"bloodlink/internal/common/logger"

	"github.com/redis/go-redis/v9"
)

const tokenCachePrefix = "token:"

// Principal is the authenticated caller behind a bearer token.
type Principal struct {
	UserID   string   `json:"userId"`
	Username string   `json:"username,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// TokenInfo holds the information returned by the token introspection endpoint.
type TokenInfo struct {
	Active      bool   `json:"active"`
	Scope       string `json:"scope,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	Username    string `json:"username,omitempty"`
	TokenType   string `json:"token_type,omitempty"`
	Exp         int64  `json:"exp,omitempty"`
	Sub         string `json:"sub,omitempty"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

type KeycloakConfig struct {
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	CacheTTL     time.Duration
}

// KeycloakClient validates access tokens against Keycloak's introspection
// endpoint. Active results are cached in redis until the token expires or
// CacheTTL passes, whichever is first.
type KeycloakClient struct {
	cfg    KeycloakConfig
	http   *commonhttp.Client
	cache  redis.Cmdable
	logger logger.Logger
	now    func() time.Time
}

// NewKeycloakClient creates a client. cache may be nil.
func NewKeycloakClient(cfg KeycloakConfig, cache redis.Cmdable, log logger.Logger) *KeycloakClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &KeycloakClient{
		cfg:    cfg,
		http:   commonhttp.NewClient(cfg.Timeout),
		cache:  cache,
		logger: logger.Component(log, "auth"),
		now:    time.Now,
	}
}

func (k *KeycloakClient) introspectURL() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token/introspect", k.cfg.BaseURL, k.cfg.Realm)
}

// ValidateToken checks if an access token is valid and active.
func (k *KeycloakClient) ValidateToken(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, apperrors.NewUnauthenticatedError("missing bearer token")
	}

	key := tokenCachePrefix + hashToken(token)
	if p := k.cached(ctx, key); p != nil {
		return p, nil
	}

	data := url.Values{}
	data.Set("token", token)
	data.Set("token_type_hint", "access_token")
	data.Set("client_id", k.cfg.ClientID)
	data.Set("client_secret", k.cfg.ClientSecret)

	var info TokenInfo
	if err := k.http.PostForm(ctx, k.introspectURL(), data, &info); err != nil {
		var statusErr *commonhttp.StatusError
		if errors.As(err, &statusErr) && !statusErr.Temporary() {
			return nil, apperrors.NewInternalError(fmt.Errorf("keycloak introspection rejected: %w", err))
		}
		return nil, apperrors.NewExternalServiceError("keycloak", err)
	}

	if !info.Active || info.Sub == "" {
		return nil, apperrors.NewUnauthenticatedError("token is expired, revoked or malformed")
	}
	if info.Exp > 0 && time.Unix(info.Exp, 0).Before(k.now()) {
		return nil, apperrors.NewUnauthenticatedError("token is expired")
	}

	p := &Principal{UserID: info.Sub, Username: info.Username, Roles: info.RealmAccess.Roles}
	k.store(ctx, key, p, info.Exp)
	return p, nil
}

func (k *KeycloakClient) cached(ctx context.Context, key string) *Principal {
	if k.cache == nil || k.cfg.CacheTTL <= 0 {
		return nil
	}
	raw, err := k.cache.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			k.logger.Warn("token cache read failed", map[string]interface{}{"error": err})
		}
		return nil
	}
	var p Principal
	if json.Unmarshal(raw, &p) != nil {
		return nil
	}
	return &p
}

func (k *KeycloakClient) store(ctx context.Context, key string, p *Principal, exp int64) {
	if k.cache == nil || k.cfg.CacheTTL <= 0 {
		return
	}
	ttl := k.cfg.CacheTTL
	if exp > 0 {
		if left := time.Unix(exp, 0).Sub(k.now()); left < ttl {
			ttl = left
		}
	}
	if ttl <= 0 {
		return
	}
	data, _ := json.Marshal(p)
	if err := k.cache.Set(ctx, key, data, ttl).Err(); err != nil {
		k.logger.Warn("token cache write failed", map[string]interface{}{"error": err})
	}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
