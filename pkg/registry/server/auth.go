package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"
)

// Role gates admin-only routes.
type Role string

const (
	RolePublisher Role = "publisher"
	RoleAdmin     Role = "admin"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// TokenResponse mirrors the OAuth2 token endpoint shape.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// identityContextKey stores the caller identity on the echo context.
const identityContextKey = "identity"

type issuedToken struct {
	identity  Identity
	expiresAt time.Time
}

// AuthService is a mock OAuth2 token service: tokens and API keys live
// in memory, no external identity provider is involved.
type AuthService struct {
	mu      sync.Mutex
	tokens  map[string]issuedToken
	apiKeys map[string]Identity
	ttl     time.Duration
	now     func() time.Time
}

// NewAuthService creates a token service with the given token TTL.
func NewAuthService(ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AuthService{
		tokens:  make(map[string]issuedToken),
		apiKeys: make(map[string]Identity),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetNowFunc overrides the clock. Tests only.
func (a *AuthService) SetNowFunc(now func() time.Time) { a.now = now }

// IssueToken mints a bearer token for username. Unknown roles default
// to publisher.
func (a *AuthService) IssueToken(username string, role Role) TokenResponse {
	if role != RoleAdmin {
		role = RolePublisher
	}

	token := uuid.NewString()
	a.mu.Lock()
	a.tokens[token] = issuedToken{
		identity:  Identity{UserID: username, Role: role},
		expiresAt: a.now().Add(a.ttl),
	}
	a.mu.Unlock()

	return TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(a.ttl.Seconds()),
	}
}

// CreateAPIKey mints a long-lived key bound to the identity.
func (a *AuthService) CreateAPIKey(identity Identity) string {
	raw := make([]byte, 24)
	_, _ = rand.Read(raw)
	key := "ohk_" + hex.EncodeToString(raw)

	a.mu.Lock()
	a.apiKeys[key] = identity
	a.mu.Unlock()
	return key
}

// Identify resolves a bearer credential to its identity. Expired
// tokens are evicted lazily.
func (a *AuthService) Identify(credential string) (Identity, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if identity, ok := a.apiKeys[credential]; ok {
		return identity, true
	}
	token, ok := a.tokens[credential]
	if !ok {
		return Identity{}, false
	}
	if !a.now().Before(token.expiresAt) {
		delete(a.tokens, credential)
		return Identity{}, false
	}
	return token.identity, true
}

// requireAuth authenticates the bearer credential and stores the
// identity on the context.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		header := c.Request().Header.Get("Authorization")
		credential, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || credential == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer credential")
		}
		identity, ok := s.auth.Identify(credential)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired credential")
		}
		c.Set(identityContextKey, identity)
		return next(c)
	}
}

// requireAdmin rejects non-admin callers. Must run after requireAuth.
func (s *Server) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		if identityFrom(c).Role != RoleAdmin {
			return echo.NewHTTPError(http.StatusForbidden, "admin role required")
		}
		return next(c)
	}
}

func identityFrom(c *echo.Context) Identity {
	if identity, ok := c.Get(identityContextKey).(Identity); ok {
		return identity
	}
	return Identity{}
}
