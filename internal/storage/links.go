package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"saytruth/internal/domain"
)

// CreateLink stores a new link together with its token, owner and expiry
// indexes in one transaction.
func (r *BadgerRepository) CreateLink(ctx context.Context, link domain.Link) error {
	log := r.log.WithFields(logrus.Fields{
		"link_id": link.ID,
		"guest":   link.IsGuest(),
	})

	err := r.update(ctx, func(txn *badger.Txn) error {
		for _, key := range [][]byte{linkKey(link.ID), publicTokenKey(link.PublicToken), privateTokenKey(link.PrivateToken)} {
			taken, err := exists(txn, key)
			if err != nil {
				return err
			}
			if taken {
				return ErrDuplicate
			}
		}

		if err := setJSON(txn, linkKey(link.ID), link); err != nil {
			return err
		}
		if err := txn.Set(publicTokenKey(link.PublicToken), []byte(link.ID)); err != nil {
			return err
		}
		if err := txn.Set(privateTokenKey(link.PrivateToken), []byte(link.ID)); err != nil {
			return err
		}
		if !link.IsGuest() {
			if err := txn.Set(ownerLinkKey(link.OwnerID, link.ID), nil); err != nil {
				return err
			}
		}
		return txn.Set(expiryIndexKey(link), nil)
	})
	if errors.Is(err, ErrDuplicate) {
		log.Warn("Link id or token already taken")
		return err
	}
	if err != nil {
		log.WithError(err).Error("Failed to save link to BadgerDB")
		return fmt.Errorf("failed to save link: %w", err)
	}

	log.Info("Link saved successfully")
	return nil
}

// GetLink reads a link by id.
func (r *BadgerRepository) GetLink(ctx context.Context, id string) (domain.Link, error) {
	var link domain.Link
	err := r.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, linkKey(id), &link)
	})
	return link, err
}

// GetLinkByPublicToken follows the public token index.
func (r *BadgerRepository) GetLinkByPublicToken(ctx context.Context, token string) (domain.Link, error) {
	return r.getLinkByToken(ctx, publicTokenKey(token))
}

// GetLinkByPrivateToken follows the private token index.
func (r *BadgerRepository) GetLinkByPrivateToken(ctx context.Context, token string) (domain.Link, error) {
	return r.getLinkByToken(ctx, privateTokenKey(token))
}

func (r *BadgerRepository) getLinkByToken(ctx context.Context, key []byte) (domain.Link, error) {
	var link domain.Link
	err := r.view(ctx, func(txn *badger.Txn) error {
		id, err := getString(txn, key)
		if err != nil {
			return err
		}
		return getJSON(txn, linkKey(id), &link)
	})
	return link, err
}

// ListLinksByOwner retrieves all links for a specific owner.
func (r *BadgerRepository) ListLinksByOwner(ctx context.Context, ownerID string) ([]domain.Link, error) {
	log := r.log.WithField("owner_id", ownerID)

	var links []domain.Link
	err := r.view(ctx, func(txn *badger.Txn) error {
		prefix := ownerPrefix(ownerID)
		for _, key := range prefixKeys(txn, prefix) {
			var link domain.Link
			id := string(key[len(prefix):])
			if err := getJSON(txn, linkKey(id), &link); err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			if link.OwnerID != ownerID {
				continue
			}
			links = append(links, link)
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Error("Failed to retrieve links from BadgerDB")
		return nil, fmt.Errorf("failed to get links for owner %s: %w", ownerID, err)
	}

	// Sort links by creation time (newest first) before returning
	sort.SliceStable(links, func(i, j int) bool {
		return links[i].CreatedAt.After(links[j].CreatedAt)
	})

	log.WithField("link_count", len(links)).Debug("Links retrieved successfully")
	return links, nil
}

// DeleteLink removes a link, its indexes and every message under it.
func (r *BadgerRepository) DeleteLink(ctx context.Context, id string) error {
	log := r.log.WithField("link_id", id)

	err := r.update(ctx, func(txn *badger.Txn) error {
		return deleteLinkTxn(txn, id)
	})
	if errors.Is(err, badger.ErrTxnTooBig) {
		// Too many messages for one transaction: drop the link record first
		// so it is unreachable, then the message ranges.
		log.Warn("Link too large for a single transaction, deleting in stages")
		err = r.update(ctx, func(txn *badger.Txn) error {
			return deleteLinkRecordTxn(txn, id)
		})
		if err == nil {
			err = r.db.DropPrefix(messagePrefix(id), messageIndexPrefix(id))
		}
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		log.WithError(err).Error("Failed to delete link from BadgerDB")
		return fmt.Errorf("failed to delete link %s: %w", id, err)
	}

	log.Info("Link deleted successfully")
	return nil
}

func deleteLinkTxn(txn *badger.Txn, id string) error {
	if err := deleteLinkRecordTxn(txn, id); err != nil {
		return err
	}
	for _, prefix := range [][]byte{messagePrefix(id), messageIndexPrefix(id)} {
		for _, key := range prefixKeys(txn, prefix) {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
	}
	return nil
}

func deleteLinkRecordTxn(txn *badger.Txn, id string) error {
	var link domain.Link
	if err := getJSON(txn, linkKey(id), &link); err != nil {
		return err
	}

	keys := [][]byte{
		linkKey(id),
		publicTokenKey(link.PublicToken),
		privateTokenKey(link.PrivateToken),
		expiryIndexKey(link),
	}
	if !link.IsGuest() {
		keys = append(keys, ownerLinkKey(link.OwnerID, id))
	}
	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// ExpireDue flips due active links to expired. The link record is re-read
// inside the transaction so a link that was deleted or already expired is
// skipped, and Badger's conflict detection makes the flip a compare-and-set
// against concurrent writers.
func (r *BadgerRepository) ExpireDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var expired []string
	err := r.update(ctx, func(txn *badger.Txn) error {
		expired = expired[:0]
		due, err := dueKeys(txn, activePrefix, now, limit)
		if err != nil {
			return err
		}

		for _, d := range due {
			var link domain.Link
			err := getJSON(txn, linkKey(d.id), &link)
			if errors.Is(err, ErrNotFound) {
				// Stale index entry.
				if err := txn.Delete(d.key); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}
			if link.Status != domain.LinkActive {
				continue
			}

			link.Status = domain.LinkExpired
			if err := setJSON(txn, linkKey(link.ID), link); err != nil {
				return err
			}
			if err := txn.Delete(d.key); err != nil {
				return err
			}
			if err := txn.Set(expiryIndexKey(link), nil); err != nil {
				return err
			}
			expired = append(expired, link.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to expire links: %w", err)
	}
	return expired, nil
}

// PurgeExpired hard-deletes links that have been expired since cutoff.
// Each link is removed in its own transaction; a failure stops the batch
// and returns what was already purged.
func (r *BadgerRepository) PurgeExpired(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	var due []dueKey
	err := r.view(ctx, func(txn *badger.Txn) error {
		var err error
		due, err = dueKeys(txn, expiredPrefix, cutoff, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan expired links: %w", err)
	}

	var purged []string
	for _, d := range due {
		err := r.DeleteLink(ctx, d.id)
		if errors.Is(err, ErrNotFound) {
			// Only the index survived; drop it.
			err = r.update(ctx, func(txn *badger.Txn) error { return txn.Delete(d.key) })
		}
		if err != nil {
			return purged, fmt.Errorf("failed to purge link %s: %w", d.id, err)
		}
		purged = append(purged, d.id)
	}
	return purged, nil
}

type dueKey struct {
	key []byte
	id  string
}

// dueKeys walks an expiry index in order and stops at the first entry
// later than until.
func dueKeys(txn *badger.Txn, prefix string, until time.Time, limit int) ([]dueKey, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	cutoff := until.UnixNano()
	var due []dueKey
	for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
		if limit > 0 && len(due) >= limit {
			break
		}
		key := it.Item().KeyCopy(nil)
		nanos, id, err := parseExpiryKey(prefix, key)
		if err != nil {
			return nil, err
		}
		if nanos > cutoff {
			break
		}
		due = append(due, dueKey{key: key, id: id})
	}
	return due, nil
}

func expiryIndexKey(link domain.Link) []byte {
	prefix := activePrefix
	if link.Status == domain.LinkExpired {
		prefix = expiredPrefix
	}
	return expiryKey(prefix, link.ExpiresAt.UnixNano(), link.ID)
}
