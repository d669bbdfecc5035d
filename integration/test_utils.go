package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	gateBinary  = "../cmd/signin-gate/signin-gate"
	gateAddr    = "localhost:8080"
	gateURL     = "http://" + gateAddr
	fakeIdPPort = "9090"
	fakeIdPURL  = "http://localhost:" + fakeIdPPort

	testSigningKey = "integration-signing-key-0123456789abcdef"
	testAuthCode   = "test-auth-code"
	testAccessTok  = "test-access-token"
)

// FakeIdPServer provides a fake OAuth identity provider for testing. Its
// authorize endpoint approves immediately unless deny=1 is in the query.
type FakeIdPServer struct {
	server *http.Server
	port   string
}

// NewFakeIdPServer creates a new fake identity provider
func NewFakeIdPServer(port string) *FakeIdPServer {
	mux := http.NewServeMux()

	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		redirectURI := r.URL.Query().Get("redirect_uri")
		state := r.URL.Query().Get("state")
		if r.URL.Query().Get("deny") == "1" {
			http.Redirect(w, r, fmt.Sprintf("%s?error=access_denied&state=%s", redirectURI, state), http.StatusFound)
			return
		}
		http.Redirect(w, r, fmt.Sprintf("%s?code=%s&state=%s", redirectURI, testAuthCode, state), http.StatusFound)
	})

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}

		if r.FormValue("code") != testAuthCode || r.FormValue("client_secret") != "test-client-secret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":             "invalid_grant",
				"error_description": "Invalid authorization code",
			})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": testAccessTok,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})

	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testAccessTok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":       42,
			"name":     "Ada",
			"html_url": "https://idp.example.com/ada",
		})
	})

	server := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	return &FakeIdPServer{
		server: server,
		port:   port,
	}
}

// Start starts the fake identity provider
func (m *FakeIdPServer) Start() error {
	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			panic(err)
		}
	}()

	time.Sleep(100 * time.Millisecond)
	return nil
}

// Stop stops the fake identity provider
func (m *FakeIdPServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.server.Shutdown(ctx)
}

// trace logs a message if TRACE is set
func trace(t *testing.T, format string, args ...any) {
	if os.Getenv("TRACE") == "1" {
		t.Logf("TRACE: "+format, args...)
	}
}

// writeGateConfig writes a config pointing at the fake identity provider
func writeGateConfig(t *testing.T, mutate func(cfg map[string]any)) string {
	t.Helper()
	cfg := map[string]any{
		"version": "v1",
		"server": map[string]any{
			"baseURL": gateURL,
			"addr":    gateAddr,
		},
		"provider": map[string]any{
			"name":                  "fake",
			"clientId":              "test-client-id",
			"clientSecret":          map[string]string{"$env": "TEST_CLIENT_SECRET"},
			"authorizationEndpoint": fakeIdPURL + "/authorize",
			"tokenEndpoint":         fakeIdPURL + "/token",
			"userInfoEndpoint":      fakeIdPURL + "/userinfo",
			"scopes":                []string{"profile"},
			"claims": map[string]any{
				"subject":     "id",
				"displayName": "name",
				"profileUrl":  "html_url",
			},
		},
		"session": map[string]any{
			"signingKeys": []any{map[string]string{"$env": "TEST_SIGNING_KEY"}},
			"maxAge":      "1h",
		},
		"state": map[string]any{
			"store": "memory",
			"ttl":   "5m",
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

// startSigninGate starts the signin-gate binary with the given config
func startSigninGate(t *testing.T, configPath string, extraEnv ...string) {
	t.Helper()
	cmd := exec.Command(gateBinary, "-config", configPath, "-env-file", filepath.Join(t.TempDir(), "none.env"))

	cmd.Env = append(os.Environ(),
		"TEST_CLIENT_SECRET=test-client-secret",
		"TEST_SIGNING_KEY="+testSigningKey,
		// Cookies without Secure so the jar sends them over plain HTTP
		"SIGNIN_GATE_ENV=development",
	)
	cmd.Env = append(cmd.Env, extraEnv...)

	if logFile := os.Getenv("GATE_LOG_FILE"); logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			cmd.Stderr = f
			cmd.Stdout = f
			t.Cleanup(func() { f.Close() })
		}
	}

	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start signin-gate: %v", err)
	}

	t.Cleanup(func() {
		stopSigninGate(cmd)
	})

	waitForSigninGate(t)
}

// stopSigninGate stops the signin-gate server gracefully
func stopSigninGate(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}

	if err := cmd.Process.Signal(syscall.SIGINT); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
}

// waitForSigninGate waits for the server to be ready
func waitForSigninGate(t *testing.T) {
	t.Helper()
	for range 20 {
		resp, err := http.Get(gateURL + "/health")
		if err == nil && resp.StatusCode == 200 {
			resp.Body.Close()
			return
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatal("signin-gate failed to become ready after 5 seconds")
}

// newBrowser returns a client that keeps cookies and follows redirects like a browser
func newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
	}
}

// newNoRedirectClient returns a client that stops at the first redirect
func newNoRedirectClient(jar http.CookieJar) *http.Client {
	return &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// sessionCookie returns the session cookie the jar holds for the gate
func sessionCookie(t *testing.T, client *http.Client) *http.Cookie {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, gateURL+"/", nil)
	require.NoError(t, err)
	for _, c := range client.Jar.Cookies(req.URL) {
		if c.Name == "session" {
			return c
		}
	}
	return nil
}
