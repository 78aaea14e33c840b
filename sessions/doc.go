// Package sessions defines the identity provider's session entity. A session
// represents one authenticated user's ongoing interaction with the provider:
// the subject's principals, a secret bound to the session, the authentication
// methods the user has completed and the relying services the user has been
// logged into since.
//
// Layers & Roles
//
//	Authentication handler -> establishes identity, asks the manager for a session
//	sessionmanager         -> creation, lookup with lazy expiry, destruction, events
//	storage                -> partitioned expiring persistence of encoded sessions
//	Session object         -> per-session view shared by request handling code
//
// # Concurrency
//
// A *Session is a long lived shared object. All accessors and mutators are
// safe for concurrent use; readers observe whole records only. Record values
// (AuthenticationMethodInformation, ServiceInformation) are treated as
// immutable once registered: replace a record instead of editing it.
//
// # Persistence
//
// Marshal and Unmarshal convert a session to and from the JSON document
// persisted by storage backends. Mutations made to a session obtained from an
// out-of-process backend only become durable once written back through
// sessionmanager.Manager.SaveSession.
package sessions
