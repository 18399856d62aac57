package domain

// Identity is an authenticated user as resolved by an external identity
// provider. This module never verifies credentials itself.
type Identity struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
}

// OptionalIdentity is either a resolved Identity or a guest.
type OptionalIdentity struct {
	identity Identity
	present  bool
}

// Guest is the absent identity.
func Guest() OptionalIdentity {
	return OptionalIdentity{}
}

// Authenticated wraps a resolved identity. An empty ID yields a guest.
func Authenticated(id Identity) OptionalIdentity {
	if id.ID == "" {
		return OptionalIdentity{}
	}
	return OptionalIdentity{identity: id, present: true}
}

// Get returns the identity and whether one is present.
func (o OptionalIdentity) Get() (Identity, bool) {
	return o.identity, o.present
}

// IsGuest reports whether no identity is present.
func (o OptionalIdentity) IsGuest() bool {
	return !o.present
}

// ID returns the identity id, or "" for guests.
func (o OptionalIdentity) ID() string {
	return o.identity.ID
}
