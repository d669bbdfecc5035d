package config

import (
	"encoding/json"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// StateStoreKind selects the backend holding pending authorization requests
type StateStoreKind string

const (
	StateStoreMemory    StateStoreKind = "memory"
	StateStoreRedis     StateStoreKind = "redis"
	StateStoreFirestore StateStoreKind = "firestore"
)

// ServerConfig is the HTTP surface of the gate
type ServerConfig struct {
	BaseURL      string `json:"baseURL"`
	Addr         string `json:"addr"`
	LoginPath    string `json:"loginPath"`
	LogoutPath   string `json:"logoutPath"`
	CallbackPath string `json:"callbackPath"`
	// ErrorPath, when set, receives failed callbacks as ?error=<kind>.
	// Otherwise failures are answered with a JSON error body.
	ErrorPath string `json:"errorPath,omitempty"`
}

// ClaimsConfig names the user-info fields (gjson paths) mapped to claims
type ClaimsConfig struct {
	Subject     string `json:"subject"`
	DisplayName string `json:"displayName,omitempty"`
	ProfileURL  string `json:"profileUrl,omitempty"`
}

// ProviderConfig describes the external identity provider
type ProviderConfig struct {
	Name                  string        `json:"name"`
	ClientID              string        `json:"clientId"`
	ClientSecret          Secret        `json:"clientSecret"`
	AuthorizationEndpoint string        `json:"authorizationEndpoint"`
	TokenEndpoint         string        `json:"tokenEndpoint"`
	UserInfoEndpoint      string        `json:"userInfoEndpoint"`
	Scopes                []string      `json:"scopes"`
	Timeout               time.Duration `json:"timeout"`
	Claims                ClaimsConfig  `json:"claims"`
}

// SessionConfig configures the signed session cookie
type SessionConfig struct {
	CookieName string `json:"cookieName"`
	// SigningKeys holds the cookie signing secrets. The first one signs,
	// all of them verify.
	SigningKeys []Secret      `json:"signingKeys"`
	MaxAge      time.Duration `json:"maxAge"`
	SameSite    string        `json:"sameSite"` // only "lax"
}

// RedisConfig configures the Redis state store
type RedisConfig struct {
	Addr      string `json:"addr"`
	Username  string `json:"username,omitempty"`
	Password  Secret `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"keyPrefix,omitempty"`
}

// FirestoreConfig configures the Firestore state store
type FirestoreConfig struct {
	Project    string `json:"project"`
	Database   string `json:"database,omitempty"`
	Collection string `json:"collection,omitempty"`
}

// StateConfig configures pending authorization request storage
type StateConfig struct {
	Store           StateStoreKind   `json:"store"`
	TTL             time.Duration    `json:"ttl"`
	CleanupInterval time.Duration    `json:"cleanupInterval"`
	Redis           *RedisConfig     `json:"redis,omitempty"`
	Firestore       *FirestoreConfig `json:"firestore,omitempty"`
}

// Config represents the config structure with resolved values
type Config struct {
	Server   ServerConfig   `json:"server"`
	Provider ProviderConfig `json:"provider"`
	Session  SessionConfig  `json:"session"`
	State    StateConfig    `json:"state"`
}
