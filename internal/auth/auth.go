// Package auth resolves opaque session tokens into actors and exposes the
// request middleware. Session issuance lives in the identity service; this
// side only maps a presented token to the actor it was minted for.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"fieldops-portal/internal/faults"
	"fieldops-portal/internal/models"
)

// Resolver maps a session token to an actor.
type Resolver interface {
	Resolve(ctx context.Context, token string) (models.Actor, error)
}

// StaticResolver is a fixed token table, used in development and tests.
type StaticResolver map[string]models.Actor

func (r StaticResolver) Resolve(_ context.Context, token string) (models.Actor, error) {
	actor, ok := r[token]
	if !ok {
		return models.Actor{}, faults.Unauthorized("invalid session token")
	}
	return actor, nil
}

// ParseStaticTokens builds a StaticResolver from a JSON object mapping
// token to actor.
func ParseStaticTokens(raw string) (StaticResolver, error) {
	r := StaticResolver{}
	if raw == "" {
		return r, nil
	}
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("parse session tokens: %w", err)
	}
	return r, nil
}

type ctxKey struct{}

// WithActor attaches a resolved actor to the context.
func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

// ActorFrom returns the actor attached by the middleware.
func ActorFrom(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(ctxKey{}).(models.Actor)
	return actor, ok
}

// TokenFrom extracts the bearer token from a request.
func TokenFrom(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.Header.Get("X-Session-Token")
}

// Middleware resolves the session on every request and rejects requests
// without a valid token.
func Middleware(resolver Resolver, reject func(w http.ResponseWriter, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFrom(r)
			if token == "" {
				reject(w, faults.Unauthorized("missing session token"))
				return
			}
			actor, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				reject(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}
