package domain

import "time"

// LinkStatus is the persisted lifecycle state of a Link.
type LinkStatus string

const (
	LinkActive  LinkStatus = "active"
	LinkExpired LinkStatus = "expired"
)

// DefaultDisplayName replaces an empty display name on creation.
const DefaultDisplayName = "Anonymous"

// Link is a drop box with two independent access tokens.
type Link struct {
	// ID is the internal identity, shown to authenticated owners.
	ID string `json:"id"`

	// PublicToken lets anyone submit messages.
	PublicToken string `json:"public_token"`

	// PrivateToken lets the holder read and delete messages.
	PrivateToken string `json:"private_token"`

	// OwnerID is empty for guest-created links.
	OwnerID string `json:"owner_id,omitempty"`

	DisplayName string     `json:"display_name"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Status      LinkStatus `json:"status"`
}

// IsGuest reports whether the link was created without an identity.
func (l Link) IsGuest() bool {
	return l.OwnerID == ""
}

// ExpiredAt reports whether the link is dead at now, either because the
// sweeper already flipped it or because its lifetime has run out.
func (l Link) ExpiredAt(now time.Time) bool {
	return l.Status == LinkExpired || !now.Before(l.ExpiresAt)
}

// EffectiveStatus is the status a reader at now should see.
func (l Link) EffectiveStatus(now time.Time) LinkStatus {
	if l.ExpiredAt(now) {
		return LinkExpired
	}
	return LinkActive
}
