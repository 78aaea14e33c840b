package sessions

import "time"

// Well known authentication method identifiers. Handlers may register any
// other identifier; these only cover the methods shipped with the provider.
const (
	AuthnMethodPassword        = "urn:oasis:names:tc:SAML:2.0:ac:classes:PasswordProtectedTransport"
	AuthnMethodRemoteUser      = "urn:oasis:names:tc:SAML:2.0:ac:classes:unspecified"
	AuthnMethodPreviousSession = "urn:oasis:names:tc:SAML:2.0:ac:classes:PreviousSession"
)

// AuthenticationMethodInformation records one completed authentication of the
// session subject.
type AuthenticationMethodInformation struct {
	// Method identifies the authentication method, e.g. a SAML authentication
	// context class reference. Unique within a session.
	Method string
	// AuthenticationInstant is when the subject completed the method.
	AuthenticationInstant time.Time
	// Lifetime bounds how long the authentication may be reused for SSO.
	// Zero means it lasts as long as the session.
	Lifetime time.Duration
}

// NewAuthenticationMethod returns a record for method completed at instant.
func NewAuthenticationMethod(method string, instant time.Time, lifetime time.Duration) *AuthenticationMethodInformation {
	return &AuthenticationMethodInformation{
		Method:                method,
		AuthenticationInstant: instant.UTC(),
		Lifetime:              lifetime,
	}
}

// ExpiresAt reports when the authentication stops being reusable. The zero
// time means never.
func (a *AuthenticationMethodInformation) ExpiresAt() time.Time {
	if a.Lifetime <= 0 {
		return time.Time{}
	}
	return a.AuthenticationInstant.Add(a.Lifetime)
}

// Expired reports whether the authentication can no longer be reused at now.
func (a *AuthenticationMethodInformation) Expired(now time.Time) bool {
	exp := a.ExpiresAt()
	return !exp.IsZero() && !now.Before(exp)
}
