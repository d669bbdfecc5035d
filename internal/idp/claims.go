package idp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrMissingRequiredClaim is returned when the subject cannot be resolved
var ErrMissingRequiredClaim = errors.New("missing required claim")

// ClaimPaths are gjson paths into the raw profile, e.g. "id" or "owner.login"
type ClaimPaths struct {
	Subject     string
	DisplayName string
	ProfileURL  string
}

// ClaimsMapper turns a raw profile into an Identity. It does no I/O.
type ClaimsMapper struct {
	paths ClaimPaths
}

// NewClaimsMapper creates a mapper; the subject path is required
func NewClaimsMapper(paths ClaimPaths) (*ClaimsMapper, error) {
	if paths.Subject == "" {
		return nil, fmt.Errorf("subject claim path is required")
	}
	return &ClaimsMapper{paths: paths}, nil
}

// Map extracts the identity. An absent, empty, null or non-scalar subject is
// an error; optional claims that cannot be read are left empty.
func (m *ClaimsMapper) Map(profile RawProfile) (Identity, error) {
	if !gjson.ValidBytes(profile) {
		return Identity{}, fmt.Errorf("%w: %s (profile is not valid JSON)", ErrMissingRequiredClaim, m.paths.Subject)
	}

	subject, ok := scalar(gjson.GetBytes(profile, m.paths.Subject))
	if !ok || strings.TrimSpace(subject) == "" {
		return Identity{}, fmt.Errorf("%w: %s", ErrMissingRequiredClaim, m.paths.Subject)
	}

	return Identity{
		Subject:     subject,
		DisplayName: m.optional(profile, m.paths.DisplayName),
		ProfileURL:  m.optional(profile, m.paths.ProfileURL),
	}, nil
}

func (m *ClaimsMapper) optional(profile RawProfile, path string) string {
	if path == "" {
		return ""
	}
	value, _ := scalar(gjson.GetBytes(profile, path))
	return value
}

// scalar renders strings, numbers and booleans. Numbers keep their JSON digits
// so large integer ids survive; exponent forms are expanded.
func scalar(r gjson.Result) (string, bool) {
	switch r.Type {
	case gjson.String:
		return r.Str, true
	case gjson.Number:
		if strings.ContainsAny(r.Raw, "eE") {
			return strconv.FormatFloat(r.Num, 'f', -1, 64), true
		}
		return r.Raw, true
	case gjson.True, gjson.False:
		return strconv.FormatBool(r.Type == gjson.True), true
	default:
		return "", false
	}
}
