package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"querydash/pkg/store"
	"querydash/pkg/store/storetest"

	"github.com/golang-jwt/jwt/v5"
)

func TestAuthenticateAPIKey(t *testing.T) {
	f := storetest.New(t)
	q := f.CreateQuery(nil)
	a := New(f.Store, "", time.Hour)

	tests := []struct {
		name      string
		setup     func(r *http.Request)
		userID    int64
		queryKey  bool
		expectErr bool
	}{
		{
			name:   "api_key parameter",
			setup:  func(r *http.Request) { r.URL.RawQuery = "api_key=" + f.User.APIKey },
			userID: f.User.ID,
		},
		{
			name:   "Key header",
			setup:  func(r *http.Request) { r.Header.Set("Authorization", "Key "+f.User.APIKey) },
			userID: f.User.ID,
		},
		{
			name:     "query api key",
			setup:    func(r *http.Request) { r.URL.RawQuery = "api_key=" + q.APIKey },
			queryKey: true,
		},
		{
			name:      "unknown key",
			setup:     func(r *http.Request) { r.Header.Set("Authorization", "Key nope") },
			expectErr: true,
		},
		{
			name:      "no credentials",
			setup:     func(r *http.Request) {},
			expectErr: true,
		},
		{
			name:      "bearer without secret",
			setup:     func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") },
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/queries", nil)
			tt.setup(req)

			p, err := a.Authenticate(req)
			if tt.expectErr {
				if !errors.Is(err, ErrUnauthorized) {
					t.Fatalf("Expected ErrUnauthorized, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error: %v", err)
			}
			if p.IsQueryKey() != tt.queryKey {
				t.Errorf("Expected query key %v, got %v", tt.queryKey, p.IsQueryKey())
			}
			if p.UserID() != tt.userID {
				t.Errorf("Expected user %d, got %d", tt.userID, p.UserID())
			}
			if p.OrgID != f.Org.ID {
				t.Errorf("Expected org %d, got %d", f.Org.ID, p.OrgID)
			}
		})
	}
}

func TestArchivedQueryKeyRejected(t *testing.T) {
	f := storetest.New(t)
	q := f.CreateQuery(nil)
	if err := f.Store.ArchiveQuery(context.Background(), q, f.User.ID); err != nil {
		t.Fatalf("ArchiveQuery() error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/queries?api_key="+q.APIKey, nil)
	if _, err := New(f.Store, "", time.Hour).Authenticate(req); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	f := storetest.New(t)
	a := New(f.Store, "test-secret", time.Hour)

	token, expires, err := a.IssueToken(f.User)
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Errorf("Expected expiry in the future, got %s", expires)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	p, err := a.Authenticate(req)
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	if p.UserID() != f.User.ID || !p.User.HasPermission("create_query") {
		t.Errorf("Unexpected principal: %+v", p.User)
	}

	other := New(f.Store, "other-secret", time.Hour)
	if _, err := other.Authenticate(req); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Expected signature failure, got %v", err)
	}

	a.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := a.Authenticate(req); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Expected expired token to be rejected, got %v", err)
	}
}

func TestBearerTokenAlgorithm(t *testing.T) {
	f := storetest.New(t)
	a := New(f.Store, "test-secret", time.Hour)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		OrgID: f.Org.ID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("Failed to sign: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if _, err := a.Authenticate(req); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Expected HS512 token to be rejected, got %v", err)
	}
}

func TestIssueTokenDisabled(t *testing.T) {
	a := New(nil, "", time.Hour)
	if _, _, err := a.IssueToken(&store.User{ID: 1}); !errors.Is(err, ErrTokensDisabled) {
		t.Errorf("Expected ErrTokensDisabled, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	f := storetest.New(t)
	a := New(f.Store, "", time.Hour)

	var seen *Principal
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?api_key="+f.User.APIKey, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if seen == nil || seen.UserID() != f.User.ID {
		t.Errorf("Expected principal in context, got %+v", seen)
	}
}
