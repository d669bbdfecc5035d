package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgellow/signin-gate/internal/auth"
	"github.com/dgellow/signin-gate/internal/config"
	"github.com/dgellow/signin-gate/internal/cookie"
	"github.com/dgellow/signin-gate/internal/crypto"
	"github.com/dgellow/signin-gate/internal/idp"
	jsonwriter "github.com/dgellow/signin-gate/internal/json"
	"github.com/dgellow/signin-gate/internal/session"
	"github.com/dgellow/signin-gate/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCallbackPath = "/signin-oauth"

type testGate struct {
	handler  http.Handler
	provider *httptest.Server
	sessions *session.Manager
	store    *storage.MemoryStateStore
	tokenHit atomic.Int32
}

// newProviderStub serves /token and /user the way GitHub does
func newProviderStub(t *testing.T, g *testGate) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		g.tokenHit.Add(1)
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("code") != "abc123" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"secret provider detail"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok1","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":42,"name":"Ada","html_url":"https://github.com/ada"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestGate(t *testing.T, errorPath string) *testGate {
	t.Helper()
	g := &testGate{}
	g.provider = newProviderStub(t, g)

	paths := config.ServerConfig{
		BaseURL:      "https://gate.example.com",
		LoginPath:    "/auth/login",
		LogoutPath:   "/auth/logout",
		CallbackPath: testCallbackPath,
		ErrorPath:    errorPath,
	}

	provider, err := idp.NewProvider(config.ProviderConfig{
		Name:                  "test",
		ClientID:              "client-id",
		ClientSecret:          config.Secret("client-secret"),
		AuthorizationEndpoint: g.provider.URL + "/authorize",
		TokenEndpoint:         g.provider.URL + "/token",
		UserInfoEndpoint:      g.provider.URL + "/user",
		Scopes:                []string{"read:user"},
		Timeout:               5 * time.Second,
		Claims:                config.ClaimsConfig{Subject: "id", DisplayName: "name", ProfileURL: "html_url"},
	}, paths.BaseURL+testCallbackPath, g.provider.Client())
	require.NoError(t, err)

	keys, err := crypto.NewKeyring([][]byte{[]byte("handler-test-secret-0123456789abcdef")})
	require.NoError(t, err)
	g.sessions, err = session.NewManager(session.Config{CookieName: "session", MaxAge: time.Hour}, keys)
	require.NoError(t, err)

	g.store = storage.NewMemoryStateStore(10 * time.Minute)
	orch := auth.NewOrchestrator(g.store, provider.Exchange, provider.UserInfo, provider.Claims, g.sessions)
	handlers := NewAuthHandlers(orch, g.sessions, paths, 10*time.Minute)

	identity := NewIdentityMiddleware(orch)
	mux := http.NewServeMux()
	mux.HandleFunc(paths.LoginPath, handlers.LoginHandler)
	mux.HandleFunc(paths.CallbackPath, handlers.CallbackHandler)
	mux.HandleFunc(paths.LogoutPath, handlers.LogoutHandler)
	mux.Handle("/me", ChainMiddleware(http.HandlerFunc(handlers.MeHandler), identity))
	mux.Handle("/", ChainMiddleware(http.HandlerFunc(handlers.HomeHandler), NewRequireLoginMiddleware(paths.LoginPath), identity))
	g.handler = mux
	return g
}

func (g *testGate) do(method, target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	g.handler.ServeHTTP(rec, req)
	return rec
}

// login runs the login endpoint and returns the issued state and its binding cookie
func (g *testGate) login(t *testing.T, returnURL string) (string, *http.Cookie) {
	t.Helper()
	rec := g.do(http.MethodGet, "/auth/login?returnUrl="+url.QueryEscape(returnURL))
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	binding := findBinding(t, rec, state)
	require.NotNil(t, binding)
	return state, &http.Cookie{Name: binding.Name, Value: binding.Value}
}

func findBinding(t *testing.T, rec *httptest.ResponseRecorder, state string) *http.Cookie {
	t.Helper()
	name, ok := cookie.StateCookieName(state)
	require.True(t, ok)
	return findCookie(rec, name)
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) jsonwriter.ErrorResponse {
	t.Helper()
	var body jsonwriter.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestLoginHandler(t *testing.T) {
	g := newTestGate(t, "")

	rec := g.do(http.MethodGet, "/auth/login?returnUrl=%2Fdashboard")
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, g.provider.URL+"/authorize", location.Scheme+"://"+location.Host+location.Path)

	q := location.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "https://gate.example.com/signin-oauth", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "read:user", q.Get("scope"))
	assert.NotEmpty(t, q.Get("state"))

	binding := findBinding(t, rec, q.Get("state"))
	require.NotNil(t, binding)
	assert.Equal(t, q.Get("state"), binding.Value)
	assert.Equal(t, testCallbackPath, binding.Path)
	assert.True(t, binding.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, binding.SameSite)
	assert.Equal(t, 600, binding.MaxAge)

	assert.Equal(t, 1, g.store.Len())
}

func TestLoginHandler_MethodNotAllowed(t *testing.T) {
	g := newTestGate(t, "")

	rec := g.do(http.MethodPost, "/auth/login")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Zero(t, g.store.Len())
}

func TestCallbackHandler_Success(t *testing.T) {
	g := newTestGate(t, "")
	state, binding := g.login(t, "/dashboard")

	rec := g.do(http.MethodGet, testCallbackPath+"?code=abc123&state="+url.QueryEscape(state), binding)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))

	sessionCookie := findCookie(rec, "session")
	require.NotNil(t, sessionCookie)
	assert.True(t, sessionCookie.HttpOnly)
	assert.True(t, sessionCookie.Secure)
	assert.Equal(t, "/", sessionCookie.Path)
	assert.Equal(t, 3600, sessionCookie.MaxAge)

	cleared := findBinding(t, rec, state)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)

	identity, err := g.sessions.Validate(sessionCookie.Value)
	require.NoError(t, err)
	assert.Equal(t, idp.Identity{Subject: "42", DisplayName: "Ada", ProfileURL: "https://github.com/ada"}, identity)

	me := g.do(http.MethodGet, "/me", &http.Cookie{Name: "session", Value: sessionCookie.Value})
	require.Equal(t, http.StatusOK, me.Code)
	assert.JSONEq(t, `{"sub":"42","name":"Ada","profile":"https://github.com/ada"}`, me.Body.String())
}

func TestCallbackHandler_Replay(t *testing.T) {
	g := newTestGate(t, "")
	state, binding := g.login(t, "/")
	target := testCallbackPath + "?code=abc123&state=" + url.QueryEscape(state)

	first := g.do(http.MethodGet, target, binding)
	require.Equal(t, http.StatusFound, first.Code)

	second := g.do(http.MethodGet, target, binding)
	assert.Equal(t, http.StatusBadRequest, second.Code)
	assert.Equal(t, "invalid_state", decodeError(t, second).Error)
	assert.Nil(t, findCookie(second, "session"))
	assert.Equal(t, int32(1), g.tokenHit.Load())
}

func TestCallbackHandler_ParallelLogins(t *testing.T) {
	g := newTestGate(t, "")
	firstState, firstBinding := g.login(t, "/first")
	secondState, secondBinding := g.login(t, "/second")
	require.NotEqual(t, firstBinding.Name, secondBinding.Name)

	// The browser sends every binding cookie; the older tab finishes last
	rec := g.do(http.MethodGet, testCallbackPath+"?code=abc123&state="+url.QueryEscape(secondState), firstBinding, secondBinding)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/second", rec.Header().Get("Location"))

	rec = g.do(http.MethodGet, testCallbackPath+"?code=abc123&state="+url.QueryEscape(firstState), firstBinding)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/first", rec.Header().Get("Location"))
	assert.Equal(t, int32(2), g.tokenHit.Load())
}

func TestCallbackHandler_Binding(t *testing.T) {
	t.Run("missing cookie", func(t *testing.T) {
		g := newTestGate(t, "")
		state, _ := g.login(t, "/")

		rec := g.do(http.MethodGet, testCallbackPath+"?code=abc123&state="+url.QueryEscape(state))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_state", decodeError(t, rec).Error)
		assert.Nil(t, findCookie(rec, "session"))
		assert.Zero(t, g.tokenHit.Load())

		// An unbound callback does not burn the state for its real owner
		assert.Equal(t, 1, g.store.Len())
	})

	t.Run("other login's cookie", func(t *testing.T) {
		g := newTestGate(t, "")
		state, _ := g.login(t, "/")
		_, otherBinding := g.login(t, "/")

		rec := g.do(http.MethodGet, testCallbackPath+"?code=abc123&state="+url.QueryEscape(state), otherBinding)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, g.tokenHit.Load())
	})

	t.Run("forged cookie value", func(t *testing.T) {
		g := newTestGate(t, "")
		state, binding := g.login(t, "/")
		forged := &http.Cookie{Name: binding.Name, Value: binding.Value[:len(binding.Value)-1] + "x"}

		rec := g.do(http.MethodGet, testCallbackPath+"?code=abc123&state="+url.QueryEscape(state), forged)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, g.tokenHit.Load())
		assert.Equal(t, 1, g.store.Len())
	})

	t.Run("missing state", func(t *testing.T) {
		g := newTestGate(t, "")
		_, binding := g.login(t, "/")

		rec := g.do(http.MethodGet, testCallbackPath+"?code=abc123", binding)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCallbackHandler_Failures(t *testing.T) {
	tests := []struct {
		name       string
		query      func(state string) string
		wantStatus int
		wantKind   string
	}{
		{
			name:       "provider denied",
			query:      func(state string) string { return "error=access_denied&state=" + url.QueryEscape(state) },
			wantStatus: http.StatusForbidden,
			wantKind:   "provider_denied",
		},
		{
			name:       "provider denied without state",
			query:      func(string) string { return "error=access_denied" },
			wantStatus: http.StatusForbidden,
			wantKind:   "provider_denied",
		},
		{
			name:       "code rejected",
			query:      func(state string) string { return "code=wrong&state=" + url.QueryEscape(state) },
			wantStatus: http.StatusBadGateway,
			wantKind:   "token_exchange_failed",
		},
		{
			name:       "missing code",
			query:      func(state string) string { return "state=" + url.QueryEscape(state) },
			wantStatus: http.StatusBadGateway,
			wantKind:   "token_exchange_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGate(t, "")
			state, binding := g.login(t, "/")

			rec := g.do(http.MethodGet, testCallbackPath+"?"+tt.query(state), binding)
			assert.Equal(t, tt.wantStatus, rec.Code)

			body := decodeError(t, rec)
			assert.Equal(t, tt.wantKind, body.Error)
			assert.NotEmpty(t, body.Message)
			assert.NotContains(t, rec.Body.String(), "secret provider detail")
			assert.NotContains(t, rec.Body.String(), "invalid_grant")
			assert.Nil(t, findCookie(rec, "session"))
		})
	}
}

func TestCallbackHandler_ErrorPathRedirect(t *testing.T) {
	g := newTestGate(t, "/auth/error")
	state, binding := g.login(t, "/")

	rec := g.do(http.MethodGet, testCallbackPath+"?error=access_denied&state="+url.QueryEscape(state), binding)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/error?error=provider_denied", rec.Header().Get("Location"))
	assert.Nil(t, findCookie(rec, "session"))

	// The denied state is gone
	assert.Zero(t, g.store.Len())
}

func TestLogoutHandler(t *testing.T) {
	g := newTestGate(t, "")

	value, err := g.sessions.Issue(idp.Identity{Subject: "42"})
	require.NoError(t, err)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			rec := g.do(method, "/auth/logout", &http.Cookie{Name: "session", Value: value})
			require.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, "/auth/login", rec.Header().Get("Location"))

			cleared := findCookie(rec, "session")
			require.NotNil(t, cleared)
			assert.Equal(t, -1, cleared.MaxAge)
			assert.Empty(t, cleared.Value)
		})
	}

	t.Run("without session", func(t *testing.T) {
		rec := g.do(http.MethodPost, "/auth/logout")
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.NotNil(t, findCookie(rec, "session"))
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := g.do(http.MethodDelete, "/auth/logout")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestMeHandler_Unauthenticated(t *testing.T) {
	g := newTestGate(t, "")

	tests := []struct {
		name    string
		cookies []*http.Cookie
	}{
		{name: "no cookie"},
		{name: "garbage cookie", cookies: []*http.Cookie{{Name: "session", Value: "not-a-token"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := g.do(http.MethodGet, "/me", tt.cookies...)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "invalid_session", decodeError(t, rec).Error)
		})
	}
}

func TestHomeHandler(t *testing.T) {
	g := newTestGate(t, "")

	t.Run("anonymous is sent to login", func(t *testing.T) {
		rec := g.do(http.MethodGet, "/?tab=1")
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/auth/login?returnUrl=%2F%3Ftab%3D1", rec.Header().Get("Location"))
	})

	t.Run("signed in", func(t *testing.T) {
		value, err := g.sessions.Issue(idp.Identity{Subject: "42", DisplayName: "Ada"})
		require.NoError(t, err)

		rec := g.do(http.MethodGet, "/", &http.Cookie{Name: "session", Value: value})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), `"sub":"42"`))
	})

	t.Run("unknown path", func(t *testing.T) {
		value, err := g.sessions.Issue(idp.Identity{Subject: "42"})
		require.NoError(t, err)

		rec := g.do(http.MethodGet, "/nope", &http.Cookie{Name: "session", Value: value})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestErrorPageHandler(t *testing.T) {
	h := NewAuthHandlers(nil, nil, config.ServerConfig{}, time.Minute)

	tests := []struct {
		query      string
		wantStatus int
		wantKind   string
	}{
		{query: "error=invalid_state", wantStatus: http.StatusBadRequest, wantKind: "invalid_state"},
		{query: "error=provider_denied", wantStatus: http.StatusForbidden, wantKind: "provider_denied"},
		{query: "error=%3Cscript%3E", wantStatus: http.StatusInternalServerError, wantKind: "session_issue_failed"},
		{query: "", wantStatus: http.StatusInternalServerError, wantKind: "session_issue_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ErrorPageHandler(rec, httptest.NewRequest(http.MethodGet, "/auth/error?"+tt.query, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantKind, decodeError(t, rec).Error)
			assert.NotContains(t, rec.Body.String(), "script")
		})
	}
}

func TestFailureStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, failureStatus(auth.KindInvalidState))
	assert.Equal(t, http.StatusForbidden, failureStatus(auth.KindProviderDenied))
	assert.Equal(t, http.StatusBadGateway, failureStatus(auth.KindProfileFetchFailed))
	assert.Equal(t, http.StatusBadGateway, failureStatus(auth.KindMissingRequiredClaim))
	assert.Equal(t, http.StatusInternalServerError, failureStatus(auth.KindSessionIssueFailed))
	assert.Equal(t, http.StatusServiceUnavailable, failureStatus(auth.KindStateStoreFailed))
}
