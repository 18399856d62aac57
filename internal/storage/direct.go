package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"saytruth/internal/domain"
)

// AddDirect stores a direct message for its recipient.
func (r *BadgerRepository) AddDirect(ctx context.Context, msg domain.DirectMessage) error {
	seq, err := r.msgSeq.Next()
	if err != nil {
		return fmt.Errorf("failed to allocate message sequence: %w", err)
	}
	key := directKey(msg.RecipientID, seq)

	err = r.update(ctx, func(txn *badger.Txn) error {
		if err := setJSON(txn, key, msg); err != nil {
			return err
		}
		return txn.Set(directIndexKey(msg.ID), key)
	})
	if err != nil {
		r.log.WithError(err).WithField("recipient_id", msg.RecipientID).Error("Failed to save direct message")
		return fmt.Errorf("failed to save direct message: %w", err)
	}
	return nil
}

// ListDirect returns a recipient's direct messages in insertion order. A
// non-empty status filters to that status.
func (r *BadgerRepository) ListDirect(ctx context.Context, recipientID string, status domain.MessageStatus) ([]domain.DirectMessage, error) {
	var msgs []domain.DirectMessage
	err := r.view(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := directPrefix(recipientID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m domain.DirectMessage
			if err := decodeItem(it.Item(), &m); err != nil {
				return err
			}
			if m.RecipientID != recipientID {
				continue
			}
			if status != "" && m.Status != status {
				continue
			}
			msgs = append(msgs, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get direct messages for %s: %w", recipientID, err)
	}
	return msgs, nil
}

// GetDirect reads a direct message by id.
func (r *BadgerRepository) GetDirect(ctx context.Context, id string) (domain.DirectMessage, error) {
	var m domain.DirectMessage
	err := r.view(ctx, func(txn *badger.Txn) error {
		key, err := getString(txn, directIndexKey(id))
		if err != nil {
			return err
		}
		return getJSON(txn, []byte(key), &m)
	})
	return m, err
}

// SetDirectStatus moves a direct message of recipientID to status. The
// message is re-read in the same transaction; ErrNotFound means it is gone
// or belongs to someone else.
func (r *BadgerRepository) SetDirectStatus(ctx context.Context, recipientID, id string, status domain.MessageStatus) error {
	return r.update(ctx, func(txn *badger.Txn) error {
		key, err := getString(txn, directIndexKey(id))
		if err != nil {
			return err
		}
		var m domain.DirectMessage
		if err := getJSON(txn, []byte(key), &m); err != nil {
			return err
		}
		if m.RecipientID != recipientID {
			return ErrNotFound
		}
		if m.Status == status {
			return nil
		}
		m.Status = status
		return setJSON(txn, []byte(key), m)
	})
}

// DeleteDirect hard-deletes a direct message.
func (r *BadgerRepository) DeleteDirect(ctx context.Context, id string) error {
	err := r.update(ctx, func(txn *badger.Txn) error {
		key, err := getString(txn, directIndexKey(id))
		if err != nil {
			return err
		}
		if err := txn.Delete([]byte(key)); err != nil {
			return err
		}
		return txn.Delete(directIndexKey(id))
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to delete direct message %s: %w", id, err)
	}
	return err
}

// directDeleteBatch bounds how many messages one section-delete
// transaction removes.
const directDeleteBatch = 1000

// DeleteDirectSection hard-deletes every direct message of recipientID
// with status and returns how many were removed. Each batch is its own
// transaction; on failure the count covers the committed batches.
func (r *BadgerRepository) DeleteDirectSection(ctx context.Context, recipientID string, status domain.MessageStatus) (int, error) {
	log := r.log.WithFields(logrus.Fields{
		"recipient_id": recipientID,
		"status":       status,
	})

	total := 0
	for {
		n := 0
		err := r.update(ctx, func(txn *badger.Txn) error {
			n = 0
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()

			var keys [][]byte
			var ids []string
			prefix := directPrefix(recipientID)
			for it.Seek(prefix); it.ValidForPrefix(prefix) && len(ids) < directDeleteBatch; it.Next() {
				var m domain.DirectMessage
				if err := decodeItem(it.Item(), &m); err != nil {
					return err
				}
				if m.RecipientID != recipientID || m.Status != status {
					continue
				}
				keys = append(keys, it.Item().KeyCopy(nil))
				ids = append(ids, m.ID)
			}
			for i, key := range keys {
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(directIndexKey(ids[i])); err != nil {
					return err
				}
			}
			n = len(ids)
			return nil
		})
		if err != nil {
			log.WithError(err).WithField("deleted", total).Error("Failed to delete direct message section")
			return total, fmt.Errorf("failed to delete %s direct messages: %w", status, err)
		}
		total += n
		if n < directDeleteBatch {
			break
		}
	}

	log.WithField("deleted", total).Info("Direct message section deleted")
	return total, nil
}

// RegisterIdentity records id under its handle. A previous handle of the
// same identity is released.
func (r *BadgerRepository) RegisterIdentity(ctx context.Context, id domain.Identity) error {
	if id.ID == "" || strings.TrimSpace(id.Handle) == "" {
		return fmt.Errorf("identity needs an id and a handle")
	}
	log := r.log.WithFields(logrus.Fields{
		"identity_id": id.ID,
		"handle":      id.Handle,
	})

	err := r.update(ctx, func(txn *badger.Txn) error {
		var current domain.Identity
		err := getJSON(txn, handleKey(id.Handle), &current)
		switch {
		case err == nil && current.ID != id.ID:
			return ErrDuplicate
		case err != nil && !errors.Is(err, ErrNotFound):
			return err
		}

		previous, err := getString(txn, identityKey(id.ID))
		if err == nil && !strings.EqualFold(previous, id.Handle) {
			if err := txn.Delete(handleKey(previous)); err != nil {
				return err
			}
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		if err := setJSON(txn, handleKey(id.Handle), id); err != nil {
			return err
		}
		return txn.Set(identityKey(id.ID), []byte(id.Handle))
	})
	if errors.Is(err, ErrDuplicate) {
		log.Warn("Handle already registered to another identity")
		return err
	}
	if err != nil {
		log.WithError(err).Error("Failed to register identity")
		return fmt.Errorf("failed to register identity: %w", err)
	}
	return nil
}

// LookupHandle resolves a handle, case-insensitively.
func (r *BadgerRepository) LookupHandle(ctx context.Context, handle string) (domain.Identity, error) {
	var id domain.Identity
	err := r.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, handleKey(strings.TrimPrefix(handle, "@")), &id)
	})
	return id, err
}
