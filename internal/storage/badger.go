package storage

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// maxConflictRetries bounds how often a transaction is retried after
// losing a write conflict.
const maxConflictRetries = 5

// BadgerRepository implements the Repository interface using BadgerDB.
type BadgerRepository struct {
	db     *badger.DB
	msgSeq *badger.Sequence
	log    logrus.FieldLogger
}

// Options customise how the database is opened.
type Options struct {
	// InMemory keeps all data in memory; dbPath is ignored.
	InMemory bool
}

// NewBadgerRepository creates and initializes a new BadgerDB repository.
// It opens the database at the specified path.
func NewBadgerRepository(dbPath string, logger logrus.FieldLogger, options ...Options) (*BadgerRepository, error) {
	var opt Options
	if len(options) > 0 {
		opt = options[0]
	}

	opts := badger.DefaultOptions(dbPath)
	if opt.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = &badgerLogger{logger.WithField("component", "badgerdb")}

	db, err := badger.Open(opts)
	if err != nil {
		logger.WithError(err).Error("Failed to open BadgerDB")
		return nil, fmt.Errorf("failed to open badger db at %s: %w", dbPath, err)
	}

	seq, err := db.GetSequence([]byte(keyMessageSeq), 256)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to lease message sequence: %w", err)
	}
	logger.WithField("path", dbPath).Info("BadgerDB opened successfully")

	return &BadgerRepository{
		db:     db,
		msgSeq: seq,
		log:    logger.WithField("component", "repository"),
	}, nil
}

// Close closes the BadgerDB database connection.
func (r *BadgerRepository) Close() error {
	r.log.Info("Closing BadgerDB...")
	if err := r.msgSeq.Release(); err != nil {
		r.log.WithError(err).Warn("Failed to release message sequence")
	}
	if err := r.db.Close(); err != nil {
		r.log.WithError(err).Error("Error closing BadgerDB")
		return err
	}
	r.log.Info("BadgerDB closed.")
	return nil
}

// CollectGarbage runs one value-log GC pass. Badger needs this
// periodically to reclaim space left by deletes and overwritten counters.
func (r *BadgerRepository) CollectGarbage() error {
	err := r.db.RunValueLogGC(0.7)
	if err == nil || errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return fmt.Errorf("value log gc: %w", err)
}

// --- Keys ---

const (
	keyMessageSeq = "seq:msg"
)

func linkKey(id string) []byte { return []byte("link:" + id) }
func publicTokenKey(tok string) []byte { return []byte("token:pub:" + tok) }
func privateTokenKey(tok string) []byte { return []byte("token:priv:" + tok) }

// segment hex-encodes an externally supplied id for use inside a key.
// The encoding never contains ':', so one id's prefix can never match a
// longer id that happens to start with it.
func segment(id string) string { return hex.EncodeToString([]byte(id)) }

// ownerLinkKey format: owner:{hex(ownerID)}:link:{linkID}
func ownerLinkKey(owner, id string) []byte {
	return []byte("owner:" + segment(owner) + ":link:" + id)
}
func ownerPrefix(owner string) []byte { return []byte("owner:" + segment(owner) + ":link:") }

// Expiry indexes sort by zero-padded unix nanoseconds so a prefix scan
// visits links in expiry order.
const (
	activePrefix  = "active:"
	expiredPrefix = "expired:"
)

func expiryKey(prefix string, nanos int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefix, nanos, id))
}

func parseExpiryKey(prefix string, key []byte) (nanos int64, id string, err error) {
	rest := strings.TrimPrefix(string(key), prefix)
	ts, id, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, "", fmt.Errorf("malformed index key %q", key)
	}
	nanos, err = strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed index key %q: %w", key, err)
	}
	return nanos, id, nil
}

// messageKey format: msg:{linkID}:{seq}
func messageKey(linkID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("msg:%s:%020d", linkID, seq))
}
func messagePrefix(linkID string) []byte { return []byte("msg:" + linkID + ":") }

// messageIndexKey maps a message id to its message key: msgidx:{linkID}:{id}
func messageIndexKey(linkID, id string) []byte { return []byte("msgidx:" + linkID + ":" + id) }
func messageIndexPrefix(linkID string) []byte { return []byte("msgidx:" + linkID + ":") }

// directKey format: dm:{hex(recipientID)}:{seq}
func directKey(recipient string, seq uint64) []byte {
	return []byte(fmt.Sprintf("dm:%s:%020d", segment(recipient), seq))
}
func directPrefix(recipient string) []byte { return []byte("dm:" + segment(recipient) + ":") }
func directIndexKey(id string) []byte { return []byte("dmidx:" + id) }

func handleKey(handle string) []byte { return []byte("handle:" + strings.ToLower(handle)) }
func identityKey(id string) []byte { return []byte("identity:" + segment(id)) }
func rateKey(key string) []byte { return []byte("rate:" + key) }

// --- Transactions ---

// update runs fn in a read-write transaction, retrying on write conflicts.
// A context cancelled before commit aborts the transaction so nothing is
// written.
func (r *BadgerRepository) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	return r.updateN(ctx, maxConflictRetries, fn)
}

func (r *BadgerRepository) updateN(ctx context.Context, attempts int, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = r.db.Update(func(txn *badger.Txn) error {
			if err := fn(txn); err != nil {
				return err
			}
			return ctx.Err()
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		r.log.WithField("attempt", attempt+1).Debug("Transaction conflict, retrying")
	}
	return err
}

func (r *BadgerRepository) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.View(fn)
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return fmt.Errorf("failed to unmarshal value for key %s: %w", string(key), err)
		}
		return nil
	})
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", string(key), err)
	}
	return txn.Set(key, b)
}

func getString(txn *badger.Txn, key []byte) (string, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// prefixKeys returns copies of every key under prefix, in order.
func prefixKeys(txn *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// --- BadgerDB Internal Logger ---

// badgerLogger adapts logrus.FieldLogger to Badger's logger interface.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Errorf(f, v...)
}
func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warningf(f, v...)
}
func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Infof(f, v...)
}
func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
