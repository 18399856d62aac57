package storage

import (
	"context"
	"errors"
	"time"

	"saytruth/internal/domain"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a token or id is already taken.
	ErrDuplicate = errors.New("duplicate key")
	// ErrLinkInactive is returned when a write targets a link that is no
	// longer active.
	ErrLinkInactive = errors.New("link is not active")
)

// LinkStore persists links and their token indexes.
type LinkStore interface {
	// CreateLink stores a new link. It fails with ErrDuplicate if the id or
	// either token is already in use.
	CreateLink(ctx context.Context, link domain.Link) error

	GetLink(ctx context.Context, id string) (domain.Link, error)
	GetLinkByPublicToken(ctx context.Context, token string) (domain.Link, error)
	GetLinkByPrivateToken(ctx context.Context, token string) (domain.Link, error)

	// ListLinksByOwner returns every stored link of ownerID, newest first.
	ListLinksByOwner(ctx context.Context, ownerID string) ([]domain.Link, error)

	// DeleteLink removes the link and all of its messages.
	DeleteLink(ctx context.Context, id string) error

	// ExpireDue flips at most limit active links whose expiry is at or
	// before now to expired, in one transaction, and returns their ids.
	ExpireDue(ctx context.Context, now time.Time, limit int) ([]string, error)

	// PurgeExpired hard-deletes at most limit expired links whose expiry is
	// at or before cutoff and returns their ids.
	PurgeExpired(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// MessageStore persists link messages.
type MessageStore interface {
	// AddMessage stores msg under its link. The link is re-read in the same
	// transaction; ErrNotFound or ErrLinkInactive means nothing was written.
	AddMessage(ctx context.Context, msg domain.Message) error

	// ListMessages returns the link's messages in insertion order. A
	// non-empty status filters to that status.
	ListMessages(ctx context.Context, linkID string, status domain.MessageStatus) ([]domain.Message, error)

	GetMessage(ctx context.Context, linkID, messageID string) (domain.Message, error)
	SetMessageStatus(ctx context.Context, linkID, messageID string, status domain.MessageStatus) error
	DeleteMessage(ctx context.Context, linkID, messageID string) error
}

// DirectStore persists user-to-user messages.
type DirectStore interface {
	AddDirect(ctx context.Context, msg domain.DirectMessage) error

	// ListDirect returns the recipient's messages in insertion order. A
	// non-empty status filters to that status.
	ListDirect(ctx context.Context, recipientID string, status domain.MessageStatus) ([]domain.DirectMessage, error)

	GetDirect(ctx context.Context, id string) (domain.DirectMessage, error)

	// SetDirectStatus changes the status of one of recipientID's messages.
	SetDirectStatus(ctx context.Context, recipientID, id string, status domain.MessageStatus) error

	DeleteDirect(ctx context.Context, id string) error

	// DeleteDirectSection removes every message of recipientID with status.
	DeleteDirectSection(ctx context.Context, recipientID string, status domain.MessageStatus) (int, error)
}

// Directory maps handles to identities.
type Directory interface {
	RegisterIdentity(ctx context.Context, id domain.Identity) error
	LookupHandle(ctx context.Context, handle string) (domain.Identity, error)
}

// Repository is everything the services need from one consistent store.
// This allows us to swap storage implementations without changing the
// services that use it.
type Repository interface {
	LinkStore
	MessageStore
	DirectStore
	Directory

	// Close gracefully shuts down the repository connection.
	Close() error
}
