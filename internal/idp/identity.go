package idp

// Identity is the set of claims resolved for a signed-in user.
// Subject is always non-empty once produced by a ClaimsMapper.
type Identity struct {
	Subject     string `json:"sub"`
	DisplayName string `json:"name,omitempty"`
	ProfileURL  string `json:"profile,omitempty"`
}
