package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/dgellow/signin-gate/internal/crypto"
	"github.com/dgellow/signin-gate/internal/log"
)

// SupportedVersion is the config format version understood by Load
const SupportedVersion = "v1"

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if version != SupportedVersion {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// The custom UnmarshalJSON methods resolve env vars immediately
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	ApplyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// secretPaths lists the values that must come from the environment
var secretPaths = [][]string{
	{"provider", "clientSecret"},
	{"state", "redis", "password"},
}

// validateRawConfig rejects secrets written inline in the config file
func validateRawConfig(rawConfig map[string]any) error {
	for _, path := range secretPaths {
		value, found := lookupRaw(rawConfig, path)
		if !found {
			continue
		}
		if err := requireEnvRef(strings.Join(path, "."), value); err != nil {
			return err
		}
	}

	if keys, found := lookupRaw(rawConfig, []string{"session", "signingKeys"}); found {
		list, ok := keys.([]any)
		if !ok {
			return fmt.Errorf("session.signingKeys must be an array")
		}
		for i, key := range list {
			if err := requireEnvRef(fmt.Sprintf("session.signingKeys[%d]", i), key); err != nil {
				return err
			}
		}
	}
	return nil
}

func lookupRaw(m map[string]any, path []string) (any, bool) {
	var current any = m
	for _, key := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func requireEnvRef(name string, value any) error {
	if _, isString := value.(string); isString {
		return fmt.Errorf("%s must use environment variable reference for security", name)
	}
	refMap, isMap := value.(map[string]any)
	if !isMap {
		return fmt.Errorf("%s must use {\"$env\": \"VAR_NAME\"} format", name)
	}
	if _, hasEnv := refMap["$env"]; !hasEnv {
		return fmt.Errorf("%s must use {\"$env\": \"VAR_NAME\"} format", name)
	}
	return nil
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validateProviderConfig(&config.Provider); err != nil {
		return fmt.Errorf("provider config: %w", err)
	}
	if err := validateSessionConfig(&config.Session); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := validateStateConfig(&config.State); err != nil {
		return fmt.Errorf("state config: %w", err)
	}
	return nil
}

func validateServerConfig(s *ServerConfig) error {
	if s.BaseURL == "" {
		return fmt.Errorf("baseURL is required")
	}
	if err := validateAbsoluteURL("baseURL", s.BaseURL); err != nil {
		return err
	}
	if strings.HasPrefix(s.BaseURL, "http://") {
		log.LogWarnWithFields("config", "baseURL is not HTTPS; session cookies require TLS outside development", map[string]any{
			"baseURL": s.BaseURL,
		})
	}
	if s.Addr == "" {
		return fmt.Errorf("addr is required")
	}

	paths := []struct {
		name  string
		value string
	}{
		{"loginPath", s.LoginPath},
		{"logoutPath", s.LogoutPath},
		{"callbackPath", s.CallbackPath},
		{"errorPath", s.ErrorPath},
	}
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		if p.name == "errorPath" && p.value == "" {
			continue
		}
		if !strings.HasPrefix(p.value, "/") {
			return fmt.Errorf("%s must start with '/' (got %q)", p.name, p.value)
		}
		if strings.ContainsAny(p.value, "{}?# \t") {
			return fmt.Errorf("%s must be a plain path (got %q)", p.name, p.value)
		}
		if route, reserved := reservedPaths[p.value]; reserved {
			return fmt.Errorf("%s %q is served by the %s route", p.name, p.value, route)
		}
		if other, dup := seen[p.value]; dup {
			return fmt.Errorf("%s and %s must differ (both %q)", other, p.name, p.value)
		}
		seen[p.value] = p.name
	}
	return nil
}

// reservedPaths are registered on every gate regardless of config
var reservedPaths = map[string]string{
	"/":       "home",
	"/me":     "identity",
	"/health": "health",
}

func validateProviderConfig(p *ProviderConfig) error {
	if p.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	if p.ClientSecret == "" {
		return fmt.Errorf("clientSecret is required")
	}
	endpoints := []struct {
		name  string
		value string
	}{
		{"authorizationEndpoint", p.AuthorizationEndpoint},
		{"tokenEndpoint", p.TokenEndpoint},
		{"userInfoEndpoint", p.UserInfoEndpoint},
	}
	for _, e := range endpoints {
		if e.value == "" {
			return fmt.Errorf("%s is required", e.name)
		}
		if err := validateAbsoluteURL(e.name, e.value); err != nil {
			return err
		}
	}
	if p.Claims.Subject == "" {
		return fmt.Errorf("claims.subject is required")
	}
	if p.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	return nil
}

func validateSessionConfig(s *SessionConfig) error {
	if len(s.SigningKeys) == 0 {
		return fmt.Errorf("at least one signing key is required")
	}
	for i, key := range s.SigningKeys {
		if len(key) < crypto.MinSecretLength {
			return fmt.Errorf("signingKeys[%d] must be at least %d characters (got %d). Generate with: openssl rand -base64 32", i, crypto.MinSecretLength, len(key))
		}
	}
	if s.MaxAge <= 0 {
		return fmt.Errorf("maxAge must be positive")
	}
	switch strings.ToLower(s.SameSite) {
	case "lax":
	case "strict":
		return fmt.Errorf("sameSite 'strict' is not supported: the cookie is set on the redirect back from the provider and would not be sent on the next request")
	default:
		return fmt.Errorf("sameSite must be 'lax' (got %q)", s.SameSite)
	}
	return nil
}

func validateStateConfig(s *StateConfig) error {
	if s.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	if s.CleanupInterval < 0 {
		return fmt.Errorf("cleanupInterval cannot be negative")
	}
	if s.CleanupInterval > s.TTL {
		log.LogWarn("State cleanup interval is greater than state TTL")
	}

	switch s.Store {
	case StateStoreMemory:
	case StateStoreRedis:
		if s.Redis == nil || s.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when using redis store")
		}
	case StateStoreFirestore:
		if s.Firestore == nil || s.Firestore.Project == "" {
			return fmt.Errorf("firestore.project is required when using firestore store")
		}
	default:
		return fmt.Errorf("unknown store %q (memory, redis or firestore)", s.Store)
	}
	return nil
}

func validateAbsoluteURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL (got %q)", name, raw)
	}
	return nil
}
