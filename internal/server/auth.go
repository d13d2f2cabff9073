package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	gateway "github.com/dynamoworks/gateway/internal"
	"github.com/dynamoworks/gateway/internal/apperror"
	"github.com/dynamoworks/gateway/internal/config"
)

const (
	authMethodAPIKey = "api_key"
	authMethodBearer = "bearer"
	authMethodMock   = "mock"

	mockDefaultEmail = "test@dynamo.works"
)

// groupRolePriority maps an identity group to a role, walked in fixed
// priority order: the first group present in the token's group list
// wins.
var groupRolePriority = []struct{ group, role string }{
	{"Admins", "admin"},
	{"Engineers", "engineer"},
	{"Power", "power_user"},
	{"Business", "business"},
}

// resolveGroupRole returns the highest-priority role among groups, or
// "" if none of groups matches a known group.
func resolveGroupRole(groups []string) string {
	set := make(map[string]bool, len(groups))
	for _, g := range groups {
		set[g] = true
	}
	for _, gr := range groupRolePriority {
		if set[gr.group] {
			return gr.role
		}
	}
	return ""
}

// authenticate resolves identity + role from one of: API key, signed
// bearer token, or mock headers, and stores a *gateway.RequestContext in
// the request's context for every later stage to read.
func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := &gateway.RequestContext{
			RequestID: gateway.RequestIDFromContext(r.Context()),
			StartTime: time.Now(),
			Role:      gateway.DefaultRole,
		}

		if err := s.populateIdentity(r, rc); err != nil {
			handleErr(w, r.Context(), err)
			return
		}

		ctx := gateway.ContextWithRequestContext(r.Context(), rc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) populateIdentity(r *http.Request, rc *gateway.RequestContext) error {
	token := bearerToken(r)

	switch {
	case strings.HasPrefix(token, gateway.APIKeyPrefix):
		return s.authenticateAPIKey(r.Context(), token, rc)
	case strings.HasPrefix(token, "eyJ"):
		return s.authenticateBearer(r.Context(), token, rc)
	case s.deps.AuthMode == config.AuthModeMock:
		s.authenticateMock(r, rc)
		return nil
	default:
		return apperror.AuthRequired()
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}

func (s *server) authenticateAPIKey(ctx context.Context, raw string, rc *gateway.RequestContext) error {
	key, err := s.deps.APIKeys.Lookup(ctx, raw)
	if err != nil {
		return err
	}
	rc.UserID = key.UserID
	rc.UserEmail = key.UserEmail
	rc.Role = key.Role
	rc.APIKeyID = key.ID
	rc.AuthMethod = authMethodAPIKey
	return nil
}

// bearerClaims is the shape this service requires out of a signed
// bearer token: userId via sub|id|email fallback, email, optional
// displayName, optional groups, optional embedded role.
type bearerClaims struct {
	Sub         string   `json:"sub"`
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	DisplayName string   `json:"displayName"`
	Groups      []string `json:"groups"`
	Role        string   `json:"role"`
	jwt.RegisteredClaims
}

func (s *server) authenticateBearer(ctx context.Context, raw string, rc *gateway.RequestContext) error {
	var claims bearerClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperror.InvalidToken("unexpected signing method")
		}
		return []byte(s.deps.JWTSecret), nil
	})
	if err != nil {
		return apperror.InvalidToken("invalid or expired token")
	}

	userID := claims.Sub
	if userID == "" {
		userID = claims.ID
	}
	if userID == "" {
		userID = claims.Email
	}
	if userID == "" {
		return apperror.InvalidToken("token carries no identifiable subject")
	}

	role := resolveGroupRole(claims.Groups)
	if role == "" {
		role = claims.Role
	}
	if role == "" {
		role = gateway.DefaultRole
	}

	rc.UserID = userID
	rc.UserEmail = claims.Email
	rc.DisplayName = claims.DisplayName
	rc.Role = role
	rc.AuthMethod = authMethodBearer

	s.upsertProfileAsync(ctx, gateway.UserProfile{
		UserID:         userID,
		Email:          claims.Email,
		DisplayName:    nonEmptyPtr(claims.DisplayName),
		Role:           role,
		IdentityGroups: claims.Groups,
		LastLogin:      time.Now().UTC(),
		FirstLogin:     time.Now().UTC(), // overwritten by ON CONFLICT preserving the original on repeat logins
	})
	return nil
}

func (s *server) upsertProfileAsync(ctx context.Context, p gateway.UserProfile) {
	if s.deps.Store == nil || !s.deps.Store.Configured() {
		return
	}
	s.deps.Worker.Track(ctx, "profile-upsert", 5*time.Second, func(taskCtx context.Context) {
		_ = s.deps.Store.UpsertProfile(taskCtx, p)
	})
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// authenticateMock reads X-Mock-User-Email/Role, falling back to
// X-User-Id/Email/Role, then to a fixed default identity. Test/dev only;
// only reachable when AUTH_MODE=mock (api_key and bearer tokens are
// still honored ahead of this path).
func (s *server) authenticateMock(r *http.Request, rc *gateway.RequestContext) {
	email := firstNonEmpty(r.Header.Get("X-Mock-User-Email"), r.Header.Get("X-User-Email"), mockDefaultEmail)
	role := firstNonEmpty(r.Header.Get("X-Mock-User-Role"), r.Header.Get("X-User-Role"), gateway.DefaultRole)
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		userID = localPart(email)
	}

	rc.UserID = userID
	rc.UserEmail = email
	rc.Role = role
	rc.AuthMethod = authMethodMock
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func localPart(email string) string {
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}
