package sessions

import "time"

// ServiceInformation records that the session subject was logged into a
// relying service.
type ServiceInformation struct {
	// EntityID identifies the relying service. It is the record's identity.
	EntityID string
	// LoginInstant is when the subject was logged into the service.
	LoginInstant time.Time
	// AuthenticationMethod is the method used for this login. It references
	// a record owned by the session's method map and may be nil.
	AuthenticationMethod *AuthenticationMethodInformation
}

// NewServiceInformation returns a login record for entityID.
func NewServiceInformation(entityID string, loginInstant time.Time, method *AuthenticationMethodInformation) *ServiceInformation {
	return &ServiceInformation{
		EntityID:             entityID,
		LoginInstant:         loginInstant.UTC(),
		AuthenticationMethod: method,
	}
}

// Equal reports whether both records describe the same relying service,
// regardless of login instant or method.
func (si *ServiceInformation) Equal(other *ServiceInformation) bool {
	if si == nil || other == nil {
		return si == other
	}
	return si.EntityID == other.EntityID
}
