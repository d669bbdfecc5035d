package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ParseConfigValue parses a JSON value that is either a plain string or an
// {"$env": "VAR_NAME"} reference resolved immediately.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}

func parseField(name string, raw json.RawMessage) (string, error) {
	if raw == nil {
		return "", nil
	}
	value, err := ParseConfigValue(raw)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", name, err)
	}
	return value, nil
}

func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", name, err)
	}
	return d, nil
}

// UnmarshalJSON implements custom unmarshaling for ServerConfig
func (s *ServerConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		BaseURL      json.RawMessage `json:"baseURL"`
		Addr         json.RawMessage `json:"addr"`
		LoginPath    string          `json:"loginPath"`
		LogoutPath   string          `json:"logoutPath"`
		CallbackPath string          `json:"callbackPath"`
		ErrorPath    string          `json:"errorPath"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.LoginPath = raw.LoginPath
	s.LogoutPath = raw.LogoutPath
	s.CallbackPath = raw.CallbackPath
	s.ErrorPath = raw.ErrorPath

	var err error
	if s.BaseURL, err = parseField("baseURL", raw.BaseURL); err != nil {
		return err
	}
	if s.Addr, err = parseField("addr", raw.Addr); err != nil {
		return err
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for ProviderConfig
func (p *ProviderConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name                  string          `json:"name"`
		ClientID              json.RawMessage `json:"clientId"`
		ClientSecret          json.RawMessage `json:"clientSecret"`
		AuthorizationEndpoint string          `json:"authorizationEndpoint"`
		TokenEndpoint         string          `json:"tokenEndpoint"`
		UserInfoEndpoint      string          `json:"userInfoEndpoint"`
		Scopes                []string        `json:"scopes"`
		Timeout               string          `json:"timeout"`
		Claims                ClaimsConfig    `json:"claims"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p.Name = raw.Name
	p.AuthorizationEndpoint = raw.AuthorizationEndpoint
	p.TokenEndpoint = raw.TokenEndpoint
	p.UserInfoEndpoint = raw.UserInfoEndpoint
	p.Scopes = raw.Scopes
	p.Claims = raw.Claims

	var err error
	if p.ClientID, err = parseField("clientId", raw.ClientID); err != nil {
		return err
	}
	secret, err := parseField("clientSecret", raw.ClientSecret)
	if err != nil {
		return err
	}
	p.ClientSecret = Secret(secret)

	if p.Timeout, err = parseDuration("timeout", raw.Timeout); err != nil {
		return err
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for SessionConfig
func (s *SessionConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		CookieName  string            `json:"cookieName"`
		SigningKeys []json.RawMessage `json:"signingKeys"`
		MaxAge      string            `json:"maxAge"`
		SameSite    string            `json:"sameSite"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.CookieName = raw.CookieName
	s.SameSite = raw.SameSite

	s.SigningKeys = make([]Secret, 0, len(raw.SigningKeys))
	for i, item := range raw.SigningKeys {
		value, err := parseField(fmt.Sprintf("signingKeys[%d]", i), item)
		if err != nil {
			return err
		}
		s.SigningKeys = append(s.SigningKeys, Secret(value))
	}

	var err error
	if s.MaxAge, err = parseDuration("maxAge", raw.MaxAge); err != nil {
		return err
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for RedisConfig
func (r *RedisConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Addr      json.RawMessage `json:"addr"`
		Username  string          `json:"username"`
		Password  json.RawMessage `json:"password"`
		DB        int             `json:"db"`
		KeyPrefix string          `json:"keyPrefix"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.Username = raw.Username
	r.DB = raw.DB
	r.KeyPrefix = raw.KeyPrefix

	var err error
	if r.Addr, err = parseField("addr", raw.Addr); err != nil {
		return err
	}
	password, err := parseField("password", raw.Password)
	if err != nil {
		return err
	}
	r.Password = Secret(password)
	return nil
}

// UnmarshalJSON implements custom unmarshaling for StateConfig
func (s *StateConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Store           StateStoreKind   `json:"store"`
		TTL             string           `json:"ttl"`
		CleanupInterval string           `json:"cleanupInterval"`
		Redis           *RedisConfig     `json:"redis"`
		Firestore       *FirestoreConfig `json:"firestore"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Store = raw.Store
	s.Redis = raw.Redis
	s.Firestore = raw.Firestore

	var err error
	if s.TTL, err = parseDuration("ttl", raw.TTL); err != nil {
		return err
	}
	if s.CleanupInterval, err = parseDuration("cleanupInterval", raw.CleanupInterval); err != nil {
		return err
	}
	return nil
}
