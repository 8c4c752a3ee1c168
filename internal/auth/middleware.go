package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const identityKey = "identity"

type contextKey struct{}

// Resolver determines the identity behind a set of inbound headers.
// A nil identity with a nil error means the caller is not authenticated.
type Resolver interface {
	Resolve(ctx context.Context, h http.Header) (*Identity, error)
}

// ResolverFunc adapts a plain function to Resolver
type ResolverFunc func(ctx context.Context, h http.Header) (*Identity, error)

// Resolve implements Resolver
func (f ResolverFunc) Resolve(ctx context.Context, h http.Header) (*Identity, error) {
	return f(ctx, h)
}

// HeaderResolver trusts the forwarded x-user-* headers only
var HeaderResolver Resolver = ResolverFunc(func(_ context.Context, h http.Header) (*Identity, error) {
	return FromHeaders(h), nil
})

// WithIdentity stores an identity in the context
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored in ctx, or nil
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKey{}).(*Identity)
	return id
}

func setIdentity(c *gin.Context, id *Identity) {
	c.Set(identityKey, id)
	c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
}

// GetIdentity returns the identity resolved for this request
func GetIdentity(c *gin.Context) (*Identity, bool) {
	value, exists := c.Get(identityKey)
	if !exists {
		return nil, false
	}

	id, ok := value.(*Identity)
	return id, ok && id != nil
}

// Middleware resolves the caller's identity and stores it on the request.
// It never rejects; pair it with RequireAuth or RequireRole.
func Middleware(resolver Resolver, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := resolver.Resolve(c.Request.Context(), c.Request.Header)
		if err != nil {
			log.Warn().Err(err).Str("path", c.Request.URL.Path).Msg("Failed to resolve identity")
		}
		if id != nil {
			setIdentity(c, id)
		}
		c.Next()
	}
}

// RequireAuth rejects requests without an authenticated identity using the
// session_expired payload the UI redirects on
func RequireAuth(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok || !id.IsAuthenticated() {
			log.Debug().Str("path", c.Request.URL.Path).Msg("Unauthenticated request rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, SessionExpired(""))
			return
		}
		c.Next()
	}
}

// RequireRole ensures the authenticated user holds role. Must run after RequireAuth.
func RequireRole(role string, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, SessionExpired(""))
			return
		}

		if !id.HasRole(role) {
			log.Warn().Str("user_id", id.UserID).Str("role", role).Msg("Role check failed")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": fmt.Sprintf("Role '%s' required", role)})
			return
		}

		c.Next()
	}
}
