package sessions

// PrincipalType classifies an identity claim attached to the session subject.
type PrincipalType string

const (
	// PrincipalTypeUsername marks the principal carrying the user's login name.
	// PrincipalName prefers principals of this type.
	PrincipalTypeUsername PrincipalType = "username"
	// PrincipalTypeEmail marks an e-mail address claim.
	PrincipalTypeEmail PrincipalType = "email"
	// PrincipalTypeExternal marks an identity asserted by an external provider.
	PrincipalTypeExternal PrincipalType = "external"
)

// Principal is an identity claim associated with the authenticated subject.
type Principal struct {
	Type PrincipalType `json:"type"`
	Name string        `json:"name"`
}

// UsernamePrincipal returns a username-typed principal.
func UsernamePrincipal(name string) Principal {
	return Principal{Type: PrincipalTypeUsername, Name: name}
}

func (p Principal) String() string { return p.Name }
