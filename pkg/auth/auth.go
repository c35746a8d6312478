// Package auth resolves the caller of an API request.
//
// Three credentials are accepted: a personal or query API key (either the
// api_key query parameter or "Authorization: Key <key>") and, when a
// signing secret is configured, "Authorization: Bearer <jwt>".
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"querydash/pkg/httputil"
	"querydash/pkg/store"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrTokensDisabled = errors.New("bearer tokens are not configured")
	errNoCredentials  = errors.New("no credentials")
)

// Principal is the authenticated caller. Exactly one of User and Query is
// set: a query API key authenticates as the query itself and may only read
// that query.
type Principal struct {
	OrgID int64
	User  *store.User
	Query *store.Query
}

// IsQueryKey reports whether the caller used a query API key
func (p *Principal) IsQueryKey() bool {
	return p.Query != nil
}

// UserID returns the id of the calling user, or 0 for query keys
func (p *Principal) UserID() int64 {
	if p.User == nil {
		return 0
	}
	return p.User.ID
}

type principalKey struct{}

// WithPrincipal stores p in ctx
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal set by the middleware, or nil
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// Claims are carried by bearer tokens
type Claims struct {
	jwt.RegisteredClaims
	OrgID int64 `json:"org"`
}

// Authenticator checks request credentials against the store
type Authenticator struct {
	store  *store.Store
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// New creates an Authenticator. An empty secret disables bearer tokens.
func New(s *store.Store, secret string, ttl time.Duration) *Authenticator {
	return &Authenticator{store: s, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// TokensEnabled reports whether bearer tokens can be issued and accepted
func (a *Authenticator) TokensEnabled() bool {
	return len(a.secret) > 0
}

// IssueToken signs a bearer token for the user
func (a *Authenticator) IssueToken(u *store.User) (string, time.Time, error) {
	if !a.TokensEnabled() {
		return "", time.Time{}, ErrTokensDisabled
	}
	now := a.now().UTC()
	expires := now.Add(a.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		OrgID: u.OrgID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// Authenticate resolves the principal of r
func (a *Authenticator) Authenticate(r *http.Request) (*Principal, error) {
	ctx := r.Context()
	scheme, credential := credentials(r)

	switch scheme {
	case "key":
		return a.fromAPIKey(ctx, credential)
	case "bearer":
		return a.fromToken(ctx, credential)
	default:
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, errNoCredentials)
	}
}

func credentials(r *http.Request) (scheme, credential string) {
	if key := r.URL.Query().Get("api_key"); key != "" {
		return "key", key
	}
	header := r.Header.Get("Authorization")
	prefix, value, ok := strings.Cut(header, " ")
	if !ok {
		return "", ""
	}
	value = strings.TrimSpace(value)
	switch strings.ToLower(prefix) {
	case "key":
		return "key", value
	case "bearer":
		return "bearer", value
	}
	return "", ""
}

func (a *Authenticator) fromAPIKey(ctx context.Context, key string) (*Principal, error) {
	u, err := a.store.GetUserByAPIKey(ctx, key)
	if err == nil {
		return &Principal{OrgID: u.OrgID, User: u}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	q, err := a.store.GetQueryByAPIKey(ctx, key)
	if err == nil && !q.IsArchived {
		return &Principal{OrgID: q.OrgID, Query: q}, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: invalid api key", ErrUnauthorized)
}

func (a *Authenticator) fromToken(ctx context.Context, token string) (*Principal, error) {
	if !a.TokensEnabled() {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, ErrTokensDisabled)
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid subject %q", ErrUnauthorized, claims.Subject)
	}
	u, err := a.store.GetUser(ctx, claims.OrgID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown user", ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if u.DisabledAt != nil {
		return nil, fmt.Errorf("%w: user disabled", ErrUnauthorized)
	}
	return &Principal{OrgID: u.OrgID, User: u}, nil
}

// Middleware rejects unauthenticated requests with 401 and stores the
// principal in the request context
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.Authenticate(r)
		if err != nil {
			if !errors.Is(err, ErrUnauthorized) {
				slog.Error("authentication failed", "error", err, "request_id", httputil.RequestIDFromContext(r.Context()))
				httputil.WriteError(w, http.StatusInternalServerError, "Internal error")
				return
			}
			slog.Debug("rejected request", "path", r.URL.Path, "error", err)
			httputil.WriteError(w, http.StatusUnauthorized, "Couldn't find resource. Please login and try again.")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}
