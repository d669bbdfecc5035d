package internal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dgellow/signin-gate/internal/config"
	"github.com/dgellow/signin-gate/internal/cookie"
	"github.com/dgellow/signin-gate/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProviderStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok1","token_type":"bearer"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":42,"name":"Ada","html_url":"https://github.com/ada"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(providerURL string) config.Config {
	cfg := config.Config{
		Server: config.ServerConfig{
			BaseURL:   "https://gate.example.com",
			ErrorPath: "/auth/error",
		},
		Provider: config.ProviderConfig{
			Name:                  "github",
			ClientID:              "client-id",
			ClientSecret:          config.Secret("client-secret"),
			AuthorizationEndpoint: providerURL + "/login/oauth/authorize",
			TokenEndpoint:         providerURL + "/login/oauth/access_token",
			UserInfoEndpoint:      providerURL + "/user",
		},
		Session: config.SessionConfig{
			SigningKeys: []config.Secret{config.Secret(strings.Repeat("k", 32))},
		},
		State: config.StateConfig{Store: config.StateStoreMemory},
	}
	config.ApplyDefaults(&cfg)
	return cfg
}

func cookieNamed(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestBuildHTTPHandler_LoginFlow(t *testing.T) {
	provider := newProviderStub(t)
	cfg := testConfig(provider.URL)
	states := storage.NewMemoryStateStore(cfg.State.TTL)

	handler, err := buildHTTPHandler(cfg, states, provider.Client())
	require.NoError(t, err)

	// Anonymous visit goes to login
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/login?returnUrl=%2Freports", rec.Header().Get("Location"))

	// Login redirects to the provider
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/login?returnUrl=%2Freports", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "https://gate.example.com/signin-oauth", location.Query().Get("redirect_uri"))
	assert.Equal(t, "read:user", location.Query().Get("scope"))
	state := location.Query().Get("state")
	bindingName, ok := cookie.StateCookieName(state)
	require.True(t, ok)
	binding := cookieNamed(rec.Result().Cookies(), bindingName)
	require.NotNil(t, binding)

	// Callback establishes the session
	req := httptest.NewRequest(http.MethodGet, "/signin-oauth?code=abc123&state="+url.QueryEscape(state), nil)
	req.AddCookie(&http.Cookie{Name: binding.Name, Value: binding.Value})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/reports", rec.Header().Get("Location"))
	sessionCookie := cookieNamed(rec.Result().Cookies(), "session")
	require.NotNil(t, sessionCookie)

	// The session identifies the user
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: sessionCookie.Value})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sub":"42","name":"Ada","profile":"https://github.com/ada"}`, rec.Body.String())
}

func TestBuildHTTPHandler_ErrorPath(t *testing.T) {
	provider := newProviderStub(t)
	cfg := testConfig(provider.URL)

	handler, err := buildHTTPHandler(cfg, storage.NewMemoryStateStore(cfg.State.TTL), provider.Client())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/signin-oauth?error=access_denied", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/error?error=provider_denied", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/error?error=provider_denied", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "provider_denied")
}

func TestBuildHTTPHandler_Health(t *testing.T) {
	provider := newProviderStub(t)
	cfg := testConfig(provider.URL)

	handler, err := buildHTTPHandler(cfg, storage.NewMemoryStateStore(cfg.State.TTL), provider.Client())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildHTTPHandler_HealthPingsRedis(t *testing.T) {
	provider := newProviderStub(t)
	cfg := testConfig(provider.URL)
	mr := miniredis.RunT(t)

	states, err := storage.NewRedisStateStore(context.Background(), storage.RedisConfig{Addr: mr.Addr()}, cfg.State.TTL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = states.Close() })

	handler, err := buildHTTPHandler(cfg, states, provider.Client())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	mr.SetError("LOADING Redis is loading the dataset in memory")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable","stateStore":"unreachable"}`, rec.Body.String())
}

func TestBuildHTTPHandler_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "no signing keys",
			mutate:  func(c *config.Config) { c.Session.SigningKeys = nil },
			wantErr: "signing keyring",
		},
		{
			name:    "missing client secret",
			mutate:  func(c *config.Config) { c.Provider.ClientSecret = "" },
			wantErr: "identity provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("https://idp.example.com")
			tt.mutate(&cfg)

			_, err := buildHTTPHandler(cfg, storage.NewMemoryStateStore(time.Minute), http.DefaultClient)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSetupStateStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		store, err := setupStateStore(ctx, config.StateConfig{Store: config.StateStoreMemory, TTL: time.Minute})
		require.NoError(t, err)
		assert.IsType(t, &storage.MemoryStateStore{}, store)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		store, err := setupStateStore(ctx, config.StateConfig{
			Store: config.StateStoreRedis,
			TTL:   time.Minute,
			Redis: &config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "test:"},
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		assert.IsType(t, &storage.RedisStateStore{}, store)

		state, err := store.Issue(ctx, "/")
		require.NoError(t, err)
		req, err := store.Consume(ctx, state)
		require.NoError(t, err)
		assert.Equal(t, "/", req.ReturnURL)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := setupStateStore(ctx, config.StateConfig{Store: "etcd", TTL: time.Minute})
		assert.Error(t, err)
	})
}

func TestSigninGate_RunStopsOnCancel(t *testing.T) {
	provider := newProviderStub(t)
	cfg := testConfig(provider.URL)
	cfg.Server.Addr = "127.0.0.1:0"

	gate, err := NewSigninGate(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, gate.cleanup)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gate.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("gate did not shut down")
	}
}
