package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"saytruth/internal/cipher"
	"saytruth/internal/clock"
	"saytruth/internal/domain"
	"saytruth/internal/idgen"
	"saytruth/internal/ratelimit"
	"saytruth/internal/storage"
)

// Page bounds for ListPage.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// MessageStore is the part of the repository the message service needs.
type MessageStore interface {
	storage.MessageStore
	storage.DirectStore
	storage.Directory
}

// Inbox is an owner's view of a link: the link itself and its inbox
// messages, decrypted, in insertion order.
type Inbox struct {
	Link     domain.Link
	Messages []domain.Message
}

// Page is one slice of an Inbox.
type Page struct {
	Inbox
	Offset  int
	Limit   int
	Total   int
	HasMore bool
}

// Messages handles submissions to links and direct messages.
type Messages struct {
	registry *Registry
	store    MessageStore
	ids      idgen.Generator
	clock    clock.Clock
	gate     *gate
	metrics  Recorder
	log      logrus.FieldLogger
}

// NewMessages creates the message service. Links are resolved through
// registry so liveness rules live in one place.
func NewMessages(registry *Registry, store MessageStore, c *cipher.Cipher, ids idgen.Generator, clk clock.Clock, policy Policy, logger logrus.FieldLogger, opts ...Option) *Messages {
	o := applyOptions(opts)
	log := logger.WithField("component", "messages")
	return &Messages{
		registry: registry,
		store:    store,
		ids:      ids,
		clock:    clk,
		gate: &gate{
			cipher:  c,
			limiter: o.limiter,
			maxLen:  policy.withDefaults().MaxContentLength,
			metrics: o.metrics,
			log:     log,
		},
		metrics: o.metrics,
		log:     log,
	}
}

// Submit stores an anonymous message on the link behind publicToken.
func (m *Messages) Submit(ctx context.Context, publicToken, content, actor string) (domain.Message, error) {
	link, err := m.registry.ResolveByPublicToken(ctx, publicToken)
	if err != nil {
		return domain.Message{}, err
	}
	if err := m.gate.validate(content); err != nil {
		return domain.Message{}, err
	}
	if err := m.gate.admit(ctx, actor, ratelimit.KindSubmit); err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		ID:        m.ids.NewID(),
		LinkID:    link.ID,
		CreatedAt: m.clock.Now(),
		Status:    domain.MessageInbox,
	}
	log := m.log.WithFields(logrus.Fields{
		"link_id":    link.ID,
		"message_id": msg.ID,
	})

	msg.Ciphertext, err = m.gate.seal(content, linkBinding(link.ID, msg.ID))
	if err != nil {
		return domain.Message{}, err
	}

	err = m.store.AddMessage(ctx, msg)
	switch {
	case errors.Is(err, storage.ErrLinkInactive):
		return domain.Message{}, domain.ErrExpired
	case errors.Is(err, storage.ErrNotFound):
		return domain.Message{}, domain.ErrNotFound
	case err != nil:
		return domain.Message{}, fmt.Errorf("store message: %w", err)
	}

	m.metrics.MessageStored(KindLinkMessage)
	log.Debug("Message submitted")
	return msg, nil
}

// List returns the inbox behind privateToken.
func (m *Messages) List(ctx context.Context, privateToken string) (Inbox, error) {
	link, msgs, err := m.inbox(ctx, privateToken)
	if err != nil {
		return Inbox{}, err
	}
	if err := m.decrypt(msgs); err != nil {
		return Inbox{}, err
	}
	return Inbox{Link: link, Messages: msgs}, nil
}

// ListPage returns limit inbox messages starting at offset. A limit of
// zero or less selects DefaultPageSize; larger than MaxPageSize is capped.
func (m *Messages) ListPage(ctx context.Context, privateToken string, offset, limit int) (Page, error) {
	offset, limit = normalizePage(offset, limit)
	link, msgs, err := m.inbox(ctx, privateToken)
	if err != nil {
		return Page{}, err
	}
	start, end := pageWindow(offset, limit, len(msgs))
	window := msgs[start:end]
	if err := m.decrypt(window); err != nil {
		return Page{}, err
	}

	return Page{
		Inbox:   Inbox{Link: link, Messages: window},
		Offset:  offset,
		Limit:   limit,
		Total:   len(msgs),
		HasMore: end < len(msgs),
	}, nil
}

// normalizePage applies the page size defaults and bounds.
func normalizePage(offset, limit int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return offset, limit
}

func pageWindow(offset, limit, total int) (start, end int) {
	start = min(offset, total)
	return start, min(start+limit, total)
}

func (m *Messages) inbox(ctx context.Context, privateToken string) (domain.Link, []domain.Message, error) {
	link, err := m.registry.ResolveByPrivateToken(ctx, privateToken)
	if err != nil {
		return domain.Link{}, nil, err
	}
	msgs, err := m.store.ListMessages(ctx, link.ID, domain.MessageInbox)
	if err != nil {
		return domain.Link{}, nil, fmt.Errorf("list messages: %w", err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return link, msgs, nil
}

func (m *Messages) decrypt(msgs []domain.Message) error {
	for i := range msgs {
		plain, err := m.gate.open(msgs[i].Ciphertext, linkBinding(msgs[i].LinkID, msgs[i].ID))
		if err != nil {
			return fmt.Errorf("message %s: %w", msgs[i].ID, err)
		}
		msgs[i].Content = plain
	}
	return nil
}

// Promote publishes an inbox message. Nothing reads public messages yet;
// the transition only takes the message out of the inbox view.
func (m *Messages) Promote(ctx context.Context, privateToken, messageID string) error {
	return m.transition(ctx, privateToken, messageID, domain.MessageInbox, domain.MessagePublic)
}

// Demote returns a public message to the inbox.
func (m *Messages) Demote(ctx context.Context, privateToken, messageID string) error {
	return m.transition(ctx, privateToken, messageID, domain.MessagePublic, domain.MessageInbox)
}

func (m *Messages) transition(ctx context.Context, privateToken, messageID string, from, to domain.MessageStatus) error {
	link, err := m.registry.ResolveByPrivateToken(ctx, privateToken)
	if err != nil {
		return err
	}
	msg, err := m.store.GetMessage(ctx, link.ID, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if msg.Status == to {
		return nil
	}
	if msg.Status != from {
		return domain.ErrNotFound
	}

	err = m.store.SetMessageStatus(ctx, link.ID, messageID, to)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	m.log.WithFields(logrus.Fields{
		"link_id":    link.ID,
		"message_id": messageID,
		"status":     to,
	}).Info("Message status changed")
	return nil
}

// Delete hard-deletes a message. A second call for the same id returns
// ErrNotFound.
func (m *Messages) Delete(ctx context.Context, privateToken, messageID string) error {
	link, err := m.registry.ResolveByPrivateToken(ctx, privateToken)
	if err != nil {
		return err
	}
	err = m.store.DeleteMessage(ctx, link.ID, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// RegisterIdentity records a handle in the directory so the identity can
// receive direct messages.
func (m *Messages) RegisterIdentity(ctx context.Context, id domain.Identity) error {
	err := m.store.RegisterIdentity(ctx, id)
	if errors.Is(err, storage.ErrDuplicate) {
		return domain.NewValidationError(domain.ReasonHandleTaken, fmt.Sprintf("handle %q is taken", id.Handle))
	}
	return err
}
