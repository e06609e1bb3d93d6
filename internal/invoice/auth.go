package invoice

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// Auth configures how requests identify their actor.
// A JWT secret takes precedence over basic auth. With neither set the API is open.
type Auth struct {
	Basic     BasicAuth
	JWTSecret []byte
}

func (a Auth) enabled() bool {
	return len(a.JWTSecret) > 0 || a.Basic.Username != "" || a.Basic.Password != ""
}

type actorKey struct{}

// WithActor returns a context carrying the authenticated actor
func WithActor(ctx context.Context, actorID *string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFromContext returns the authenticated actor, or nil for anonymous requests
func ActorFromContext(ctx context.Context) *string {
	actor, _ := ctx.Value(actorKey{}).(*string)
	return actor
}

// authenticate resolves the request's actor
func (a Auth) authenticate(r *http.Request) (*string, error) {
	if !a.enabled() {
		return nil, nil
	}
	if len(a.JWTSecret) > 0 {
		return a.bearerActor(r)
	}
	return a.basicActor(r)
}

func (a Auth) bearerActor(r *http.Request) (*string, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, errors.New("missing bearer token")
	}

	token, err := jwt.Parse(strings.TrimPrefix(header, "Bearer "), func(t *jwt.Token) (any, error) {
		return a.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return nil, fmt.Errorf("reading subject: %w", err)
	}
	if sub == "" {
		return nil, errors.New("token has no subject")
	}
	return &sub, nil
}

func (a Auth) basicActor(r *http.Request) (*string, error) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return nil, errors.New("missing basic credentials")
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.Basic.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(a.Basic.Password)) == 1
	if !userOK || !passOK {
		return nil, errors.New("invalid credentials")
	}
	return &user, nil
}
