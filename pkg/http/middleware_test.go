package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/txn2/karaoke-live/pkg/audit"
	"github.com/txn2/karaoke-live/pkg/auth"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuthMiddleware(t *testing.T) {
	t.Run("extracts Bearer token", func(t *testing.T) {
		var got string
		handler := AuthMiddleware(false)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			got = auth.GetToken(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.Header.Set("Authorization", "Bearer test-token-123")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if got != "test-token-123" {
			t.Errorf("expected token 'test-token-123', got %q", got)
		}
	})

	t.Run("extracts X-API-Key header", func(t *testing.T) {
		var got string
		handler := AuthMiddleware(false)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			got = auth.GetToken(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.Header.Set("X-API-Key", "api-key-456")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if got != "api-key-456" {
			t.Errorf("expected token 'api-key-456', got %q", got)
		}
	})

	t.Run("prefers Bearer over X-API-Key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.Header.Set("Authorization", "Bearer bearer-token")
		req.Header.Set("X-API-Key", "api-key")

		if got := TokenFromRequest(req); got != "bearer-token" {
			t.Errorf("expected Bearer token to take precedence, got %q", got)
		}
	})

	t.Run("requires token", func(t *testing.T) {
		called := false
		handler := AuthMiddleware(true)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			called = true
		}))

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

		if called {
			t.Error("handler should not be called without a token")
		}
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rr.Code)
		}
		if rr.Header().Get("WWW-Authenticate") != "Bearer" {
			t.Errorf("expected WWW-Authenticate header, got %q", rr.Header().Get("WWW-Authenticate"))
		}
	})
}

type stubAuthenticator struct {
	user *auth.UserInfo
}

func (s stubAuthenticator) Authenticate(ctx context.Context) (*auth.UserInfo, error) {
	if s.user == nil || auth.GetToken(ctx) != "good" {
		return nil, errors.New("bad token")
	}
	return s.user, nil
}

func TestRequireRole(t *testing.T) {
	a := stubAuthenticator{user: &auth.UserInfo{UserID: "host", Roles: []string{auth.RoleTool}}}

	var actor string
	var user *auth.UserInfo
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		actor = audit.ActorFromContext(r.Context())
		user = auth.UserFromContext(r.Context())
	})

	tests := []struct {
		name   string
		token  string
		roles  []string
		status int
	}{
		{name: "no token", token: "", roles: []string{auth.RoleTool}, status: http.StatusUnauthorized},
		{name: "bad token", token: "bad", roles: []string{auth.RoleTool}, status: http.StatusUnauthorized},
		{name: "wrong role", token: "good", roles: []string{auth.RoleOperator}, status: http.StatusForbidden},
		{name: "allowed", token: "good", roles: []string{auth.RoleOperator, auth.RoleTool}, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actor, user = "", nil
			req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rr := httptest.NewRecorder()
			RequireRole(a, tt.roles...)(next).ServeHTTP(rr, req)

			if rr.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rr.Code)
			}
			if tt.status != http.StatusOK {
				if !strings.Contains(rr.Body.String(), `"error"`) {
					t.Errorf("expected error envelope, got %s", rr.Body.String())
				}
				return
			}
			if actor != "host" {
				t.Errorf("expected audit actor 'host', got %q", actor)
			}
			if user == nil || user.UserID != "host" {
				t.Errorf("expected user in context, got %+v", user)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if seen == "" || rr.Header().Get(RequestIDHeader) != seen {
		t.Errorf("expected generated id echoed in header, got %q / %q", seen, rr.Header().Get(RequestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(RequestIDHeader, "client-id")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "client-id" {
		t.Errorf("expected client id to be kept, got %q", seen)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "10.0.0.9:5555"
	if got := ClientIP(req); got != "10.0.0.9" {
		t.Errorf("expected remote host, got %q", got)
	}

	req.Header.Set(ForwardedForHeader, "203.0.113.7")
	if got := ClientIP(req); got != "10.0.0.9" {
		t.Errorf("forwarded header honoured without RealIP, got %q", got)
	}
}

func TestParseTrustedProxies(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.168.1.5 ", "", "::1"})
	if err != nil {
		t.Fatalf("ParseTrustedProxies() error = %v", err)
	}
	for ip, want := range map[string]bool{
		"10.2.3.4":        true,
		"::ffff:10.2.3.4": true,
		"192.168.1.5":     true,
		"192.168.1.6":     false,
		"::1":             true,
		"203.0.113.7":     false,
		"not-an-ip":       false,
	} {
		if got := proxies.Trusts(ip); got != want {
			t.Errorf("Trusts(%q) = %v, want %v", ip, got, want)
		}
	}

	for _, bad := range []string{"10.0.0.0/33", "example.com"} {
		if _, err := ParseTrustedProxies([]string{bad}); err == nil {
			t.Errorf("ParseTrustedProxies(%q) expected error", bad)
		}
	}
}

func TestRealIP(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("ParseTrustedProxies() error = %v", err)
	}

	tests := []struct {
		name   string
		remote string
		fwd    []string
		want   string
	}{
		{name: "untrusted peer spoofing forwarded header", remote: "198.51.100.4:4000", fwd: []string{"203.0.113.7"}, want: "198.51.100.4"},
		{name: "trusted proxy", remote: "10.0.0.2:4000", fwd: []string{"203.0.113.7"}, want: "203.0.113.7"},
		{name: "client spoof behind trusted proxy", remote: "10.0.0.2:4000", fwd: []string{"1.1.1.1, 203.0.113.7"}, want: "203.0.113.7"},
		{name: "chained proxies", remote: "10.0.0.2:4000", fwd: []string{"203.0.113.7", "10.0.0.3"}, want: "203.0.113.7"},
		{name: "trusted proxy without header", remote: "10.0.0.2:4000", want: "10.0.0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			handler := RealIP(proxies)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = ClientIP(r)
			}))
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.RemoteAddr = tt.remote
			for _, v := range tt.fwd {
				req.Header.Add(ForwardedForHeader, v)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRealIP_NoTrustedProxiesIgnoresHeader(t *testing.T) {
	var got string
	handler := RealIP(nil)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = ClientIP(r)
	}))
	for i := range 20 {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.RemoteAddr = "198.51.100.4:4000"
		req.Header.Set(ForwardedForHeader, fmt.Sprintf("203.0.113.%d", i))
		handler.ServeHTTP(httptest.NewRecorder(), req)
		if got != "198.51.100.4" {
			t.Fatalf("request %d resolved to %q, want the remote peer", i, got)
		}
	}
}

func TestRecover(t *testing.T) {
	handler := Recover(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
}

func TestChain(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}), mw("a"), mw("b"), Logging(discardLogger()))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if strings.Join(order, ",") != "a,b" {
		t.Errorf("expected a,b got %v", order)
	}
}
