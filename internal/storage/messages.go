package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"saytruth/internal/domain"
)

// AddMessage stores a message under its link. The sequence number taken
// here fixes the message's position in ListMessages.
func (r *BadgerRepository) AddMessage(ctx context.Context, msg domain.Message) error {
	log := r.log.WithFields(logrus.Fields{
		"link_id":    msg.LinkID,
		"message_id": msg.ID,
	})

	seq, err := r.msgSeq.Next()
	if err != nil {
		return fmt.Errorf("failed to allocate message sequence: %w", err)
	}
	key := messageKey(msg.LinkID, seq)

	err = r.update(ctx, func(txn *badger.Txn) error {
		var link domain.Link
		if err := getJSON(txn, linkKey(msg.LinkID), &link); err != nil {
			return err
		}
		if link.ExpiredAt(msg.CreatedAt) {
			return ErrLinkInactive
		}
		if err := setJSON(txn, key, msg); err != nil {
			return err
		}
		return txn.Set(messageIndexKey(msg.LinkID, msg.ID), key)
	})
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrLinkInactive) {
		return err
	}
	if err != nil {
		log.WithError(err).Error("Failed to save message to BadgerDB")
		return fmt.Errorf("failed to save message: %w", err)
	}

	log.Debug("Message saved successfully")
	return nil
}

// ListMessages retrieves a link's messages in insertion order.
func (r *BadgerRepository) ListMessages(ctx context.Context, linkID string, status domain.MessageStatus) ([]domain.Message, error) {
	var msgs []domain.Message
	err := r.view(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := messagePrefix(linkID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m domain.Message
			if err := decodeItem(it.Item(), &m); err != nil {
				return err
			}
			if status != "" && m.Status != status {
				continue
			}
			msgs = append(msgs, m)
		}
		return nil
	})
	if err != nil {
		r.log.WithError(err).WithField("link_id", linkID).Error("Failed to retrieve messages from BadgerDB")
		return nil, fmt.Errorf("failed to get messages for link %s: %w", linkID, err)
	}
	return msgs, nil
}

// GetMessage reads one message of a link.
func (r *BadgerRepository) GetMessage(ctx context.Context, linkID, messageID string) (domain.Message, error) {
	var m domain.Message
	err := r.view(ctx, func(txn *badger.Txn) error {
		key, err := getString(txn, messageIndexKey(linkID, messageID))
		if err != nil {
			return err
		}
		return getJSON(txn, []byte(key), &m)
	})
	return m, err
}

// SetMessageStatus changes a message's status in place.
func (r *BadgerRepository) SetMessageStatus(ctx context.Context, linkID, messageID string, status domain.MessageStatus) error {
	return r.update(ctx, func(txn *badger.Txn) error {
		key, err := getString(txn, messageIndexKey(linkID, messageID))
		if err != nil {
			return err
		}
		var m domain.Message
		if err := getJSON(txn, []byte(key), &m); err != nil {
			return err
		}
		if m.Status == status {
			return nil
		}
		m.Status = status
		return setJSON(txn, []byte(key), m)
	})
}

// DeleteMessage hard-deletes one message of a link.
func (r *BadgerRepository) DeleteMessage(ctx context.Context, linkID, messageID string) error {
	log := r.log.WithFields(logrus.Fields{
		"link_id":    linkID,
		"message_id": messageID,
	})

	err := r.update(ctx, func(txn *badger.Txn) error {
		idx := messageIndexKey(linkID, messageID)
		key, err := getString(txn, idx)
		if err != nil {
			return err
		}
		if err := txn.Delete([]byte(key)); err != nil {
			return err
		}
		return txn.Delete(idx)
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		log.WithError(err).Error("Failed to delete message from BadgerDB")
		return fmt.Errorf("failed to delete message %s: %w", messageID, err)
	}

	log.Info("Message deleted successfully")
	return nil
}

func decodeItem(item *badger.Item, v interface{}) error {
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return fmt.Errorf("failed to unmarshal data for key %s: %w", string(item.Key()), err)
		}
		return nil
	})
}
