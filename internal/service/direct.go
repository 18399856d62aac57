package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"saytruth/internal/domain"
	"saytruth/internal/ratelimit"
	"saytruth/internal/storage"
)

// DirectPage is one page of a recipient's direct messages in one section.
type DirectPage struct {
	Section  domain.MessageStatus
	Messages []domain.DirectMessage
	Offset   int
	Limit    int
	Total    int
	HasMore  bool
}

// DirectSections pages every section with the same offset and limit.
type DirectSections struct {
	Inbox    DirectPage
	Public   DirectPage
	Favorite DirectPage
}

// SendDirect delivers one message to the identity registered under
// recipientHandle. The sender may be a guest.
func (m *Messages) SendDirect(ctx context.Context, sender domain.OptionalIdentity, recipientHandle, content, actor string) (domain.DirectMessage, error) {
	recipient, err := m.store.LookupHandle(ctx, recipientHandle)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.DirectMessage{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.DirectMessage{}, fmt.Errorf("lookup recipient: %w", err)
	}
	if err := m.gate.validate(content); err != nil {
		return domain.DirectMessage{}, err
	}
	if err := m.gate.admit(ctx, actor, ratelimit.KindDirect); err != nil {
		return domain.DirectMessage{}, err
	}

	msg := domain.DirectMessage{
		ID:          m.ids.NewID(),
		RecipientID: recipient.ID,
		SenderID:    sender.ID(),
		CreatedAt:   m.clock.Now(),
		Status:      domain.MessageInbox,
	}
	msg.Ciphertext, err = m.gate.seal(content, directBinding(recipient.ID, msg.ID))
	if err != nil {
		return domain.DirectMessage{}, err
	}
	if err := m.store.AddDirect(ctx, msg); err != nil {
		return domain.DirectMessage{}, fmt.Errorf("store direct message: %w", err)
	}

	m.metrics.MessageStored(KindDirectMessage)
	m.log.WithFields(logrus.Fields{
		"message_id":   msg.ID,
		"recipient_id": recipient.ID,
		"anonymous":    sender.IsGuest(),
	}).Debug("Direct message sent")
	return msg, nil
}

// ListDirect returns all of recipient's direct messages, decrypted, oldest
// first.
func (m *Messages) ListDirect(ctx context.Context, recipient domain.Identity) ([]domain.DirectMessage, error) {
	msgs, err := m.store.ListDirect(ctx, recipient.ID, "")
	if err != nil {
		return nil, fmt.Errorf("list direct messages: %w", err)
	}
	if msgs == nil {
		msgs = []domain.DirectMessage{}
	}
	if err := m.decryptDirect(recipient, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListDirectPage returns one page of the given section, oldest first.
// Only the returned page is decrypted.
func (m *Messages) ListDirectPage(ctx context.Context, recipient domain.Identity, section domain.MessageStatus, offset, limit int) (DirectPage, error) {
	if _, err := domain.ParseSection(string(section)); err != nil {
		return DirectPage{}, err
	}
	offset, limit = normalizePage(offset, limit)

	msgs, err := m.store.ListDirect(ctx, recipient.ID, section)
	if err != nil {
		return DirectPage{}, fmt.Errorf("list %s direct messages: %w", section, err)
	}
	start, end := pageWindow(offset, limit, len(msgs))
	window := msgs[start:end]
	if window == nil {
		window = []domain.DirectMessage{}
	}
	if err := m.decryptDirect(recipient, window); err != nil {
		return DirectPage{}, err
	}

	return DirectPage{
		Section:  section,
		Messages: window,
		Offset:   offset,
		Limit:    limit,
		Total:    len(msgs),
		HasMore:  end < len(msgs),
	}, nil
}

// ListDirectSections pages the inbox, public and favorite sections.
func (m *Messages) ListDirectSections(ctx context.Context, recipient domain.Identity, offset, limit int) (DirectSections, error) {
	var out DirectSections
	for _, s := range []struct {
		section domain.MessageStatus
		page    *DirectPage
	}{
		{domain.MessageInbox, &out.Inbox},
		{domain.MessagePublic, &out.Public},
		{domain.MessageFavorite, &out.Favorite},
	} {
		page, err := m.ListDirectPage(ctx, recipient, s.section, offset, limit)
		if err != nil {
			return DirectSections{}, err
		}
		*s.page = page
	}
	return out, nil
}

func (m *Messages) decryptDirect(recipient domain.Identity, msgs []domain.DirectMessage) error {
	for i := range msgs {
		plain, err := m.gate.open(msgs[i].Ciphertext, directBinding(recipient.ID, msgs[i].ID))
		if err != nil {
			return fmt.Errorf("direct message %s: %w", msgs[i].ID, err)
		}
		msgs[i].Content = plain
	}
	return nil
}

// MoveDirect files one of recipient's direct messages under section.
// Moving to the current section is a no-op.
func (m *Messages) MoveDirect(ctx context.Context, recipient domain.Identity, messageID string, section domain.MessageStatus) error {
	if _, err := domain.ParseSection(string(section)); err != nil {
		return err
	}
	if err := m.ownDirect(ctx, recipient, messageID); err != nil {
		return err
	}

	err := m.store.SetDirectStatus(ctx, recipient.ID, messageID, section)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update direct message status: %w", err)
	}
	m.log.WithFields(logrus.Fields{
		"message_id": messageID,
		"status":     section,
	}).Info("Direct message moved")
	return nil
}

// DeleteDirect removes one of recipient's direct messages.
func (m *Messages) DeleteDirect(ctx context.Context, recipient domain.Identity, messageID string) error {
	if err := m.ownDirect(ctx, recipient, messageID); err != nil {
		return err
	}

	err := m.store.DeleteDirect(ctx, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete direct message: %w", err)
	}
	return nil
}

// ClearDirectSection hard-deletes every message recipient has in section
// and returns how many were removed.
func (m *Messages) ClearDirectSection(ctx context.Context, recipient domain.Identity, section domain.MessageStatus) (int, error) {
	if _, err := domain.ParseSection(string(section)); err != nil {
		return 0, err
	}
	n, err := m.store.DeleteDirectSection(ctx, recipient.ID, section)
	if err != nil {
		return n, fmt.Errorf("clear %s: %w", section, err)
	}
	return n, nil
}

// ownDirect returns ErrNotFound for an unknown message and ErrForbidden
// for another identity's message.
func (m *Messages) ownDirect(ctx context.Context, recipient domain.Identity, messageID string) error {
	msg, err := m.store.GetDirect(ctx, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load direct message: %w", err)
	}
	if msg.RecipientID != recipient.ID {
		return domain.ErrForbidden
	}
	return nil
}
