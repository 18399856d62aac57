package domain

import (
	"fmt"
	"time"
)

// MessageStatus is the lifecycle state of a message.
type MessageStatus string

const (
	MessageInbox  MessageStatus = "inbox"
	MessagePublic MessageStatus = "public"
	// MessageFavorite is a direct message the recipient kept aside.
	MessageFavorite MessageStatus = "favorite"
	// MessageDeleted names the terminal state. Deletion is a hard delete,
	// so no stored record ever carries it.
	MessageDeleted MessageStatus = "deleted"
)

// Sections lists the statuses a recipient can sort direct messages into.
func Sections() []MessageStatus {
	return []MessageStatus{MessageInbox, MessagePublic, MessageFavorite}
}

// ParseSection validates s as a direct message section.
func ParseSection(s string) (MessageStatus, error) {
	for _, section := range Sections() {
		if string(section) == s {
			return section, nil
		}
	}
	return "", NewValidationError(ReasonInvalidSection, fmt.Sprintf("unknown section %q", s))
}

// MaxContentLength is the plaintext limit in characters, checked before
// encryption.
const MaxContentLength = 5000

// Message is an anonymous submission to a Link. Ciphertext is what the
// store holds; Content is only populated on the way out to the owner.
type Message struct {
	ID         string        `json:"id"`
	LinkID     string        `json:"link_id"`
	Ciphertext []byte        `json:"ciphertext"`
	Content    string        `json:"-"`
	CreatedAt  time.Time     `json:"created_at"`
	Status     MessageStatus `json:"status"`
}

// DirectMessage is a user-to-user message. Unlike link messages it has no
// expiry; it lives until the recipient deletes it.
type DirectMessage struct {
	ID          string        `json:"id"`
	RecipientID string        `json:"recipient_id"`
	SenderID    string        `json:"sender_id,omitempty"`
	Ciphertext  []byte        `json:"ciphertext"`
	Content     string        `json:"-"`
	CreatedAt   time.Time     `json:"created_at"`
	Status      MessageStatus `json:"status"`
}
