package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) String() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, message string) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: message})
}

func (v *ValidationResult) addWarning(path, message string) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: message})
}

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	result := &ValidationResult{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", fmt.Sprintf("invalid JSON: %v", err))
		return result, nil
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.addError("version", fmt.Sprintf("version field is required. Hint: Add \"version\": %q", SupportedVersion))
	} else if version != SupportedVersion {
		result.addError("version", fmt.Sprintf("unsupported version '%s' - use '%s'", version, SupportedVersion))
	}

	validateServerStructure(rawConfig, result)
	validateProviderStructure(rawConfig, result)
	validateSessionStructure(rawConfig, result)
	validateStateStructure(rawConfig, result)

	return result, nil
}

func validateServerStructure(rawConfig map[string]any, result *ValidationResult) {
	server, ok := rawConfig["server"].(map[string]any)
	if !ok {
		result.addError("server", "server field is required and must be an object")
		return
	}
	if _, ok := server["baseURL"]; !ok {
		result.addError("server.baseURL", "baseURL is required. Example: \"https://app.example.com\"")
	}
	seen := make(map[string]string)
	for _, key := range []string{"loginPath", "logoutPath", "callbackPath", "errorPath"} {
		raw, present := server[key]
		if !present {
			continue
		}
		p, isString := raw.(string)
		if !isString || !strings.HasPrefix(p, "/") {
			result.addError("server."+key, fmt.Sprintf("%s must be a path starting with '/'", key))
			continue
		}
		if route, reserved := reservedPaths[p]; reserved {
			result.addError("server."+key, fmt.Sprintf("'%s' is already served by the %s route", p, route))
			continue
		}
		if other, dup := seen[p]; dup {
			result.addError("server."+key, fmt.Sprintf("'%s' is already used by %s", p, other))
			continue
		}
		seen[p] = key
	}
}

func validateProviderStructure(rawConfig map[string]any, result *ValidationResult) {
	provider, ok := rawConfig["provider"].(map[string]any)
	if !ok {
		result.addError("provider", "provider field is required and must be an object")
		return
	}

	if _, ok := provider["clientId"]; !ok {
		result.addError("provider.clientId", "clientId is required")
	}
	if secret, ok := provider["clientSecret"]; !ok {
		result.addError("provider.clientSecret", "clientSecret is required. Use {\"$env\": \"OAUTH_CLIENT_SECRET\"}")
	} else if verr := validateEnvVarReference(secret, "clientSecret", "provider.clientSecret"); verr != nil {
		result.Errors = append(result.Errors, *verr)
	}

	name, _ := provider["name"].(string)
	if name == "github" {
		return
	}
	for _, key := range []string{"authorizationEndpoint", "tokenEndpoint", "userInfoEndpoint"} {
		if _, ok := provider[key]; !ok {
			result.addError("provider."+key, fmt.Sprintf("%s is required unless provider name is 'github'", key))
		}
	}
}

func validateSessionStructure(rawConfig map[string]any, result *ValidationResult) {
	session, ok := rawConfig["session"].(map[string]any)
	if !ok {
		result.addError("session", "session field is required and must be an object")
		return
	}

	keys, ok := session["signingKeys"].([]any)
	if !ok || len(keys) == 0 {
		result.addError("session.signingKeys", "at least one signing key is required. Hint: Must be at least 32 bytes long for HMAC-SHA256")
	} else {
		for i, key := range keys {
			path := fmt.Sprintf("session.signingKeys[%d]", i)
			if verr := validateEnvVarReference(key, "signing key", path); verr != nil {
				result.Errors = append(result.Errors, *verr)
			}
		}
	}

	if sameSite, ok := session["sameSite"].(string); ok {
		switch strings.ToLower(sameSite) {
		case "lax":
		case "none":
			result.addError("session.sameSite", "sameSite 'none' is not allowed for the session cookie - use 'lax'")
		case "strict":
			result.addError("session.sameSite", "sameSite 'strict' drops the session on the redirect back from the provider - use 'lax'")
		default:
			result.addError("session.sameSite", fmt.Sprintf("unknown sameSite '%s' - use 'lax'", sameSite))
		}
	}
}

func validateStateStructure(rawConfig map[string]any, result *ValidationResult) {
	state, ok := rawConfig["state"].(map[string]any)
	if !ok {
		return
	}

	store, _ := state["store"].(string)
	switch StateStoreKind(store) {
	case "", StateStoreMemory:
	case StateStoreRedis:
		redis, ok := state["redis"].(map[string]any)
		if !ok {
			result.addError("state.redis", "redis configuration is required when store is 'redis'")
			return
		}
		if _, ok := redis["addr"]; !ok {
			result.addError("state.redis.addr", "addr is required. Example: \"localhost:6379\"")
		}
		if password, ok := redis["password"]; ok {
			if verr := validateEnvVarReference(password, "password", "state.redis.password"); verr != nil {
				result.Errors = append(result.Errors, *verr)
			}
		}
	case StateStoreFirestore:
		fs, ok := state["firestore"].(map[string]any)
		if !ok {
			result.addError("state.firestore", "firestore configuration is required when store is 'firestore'")
			return
		}
		if _, ok := fs["project"]; !ok {
			result.addError("state.firestore.project", "project is required for firestore store")
		}
	default:
		result.addError("state.store", fmt.Sprintf("unknown store '%s' - options: memory, redis, firestore", store))
	}
}

// validateEnvVarReference requires value to be an {"$env": "NAME"} reference
func validateEnvVarReference(value any, fieldName, path string) *ValidationError {
	if _, isString := value.(string); isString {
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must use environment variable reference for security. Use {\"$env\": \"VAR_NAME\"}", fieldName),
		}
	}
	ref, isMap := value.(map[string]any)
	if !isMap {
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must be an {\"$env\": \"VAR_NAME\"} reference", fieldName),
		}
	}
	if _, hasEnv := ref["$env"].(string); !hasEnv {
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must be an {\"$env\": \"VAR_NAME\"} reference", fieldName),
		}
	}
	return nil
}

var bashStyleRegex = regexp.MustCompile(`\$\{?[A-Z_][A-Z0-9_]*\}?`)

func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.addWarning(path, fmt.Sprintf("found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", match, varName))
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
