package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saytruth/internal/domain"
)

// setupTestDB creates a temporary BadgerDB instance for testing.
// It returns the repository instance and a cleanup function.
func setupTestDB(t *testing.T) (*BadgerRepository, func()) {
	t.Helper()

	// t.TempDir() automatically handles cleanup after the test completes.
	tempDir := t.TempDir()

	testLogger := logrus.New()
	testLogger.SetOutput(os.Stderr)        // Send logs to stderr during tests
	testLogger.SetLevel(logrus.ErrorLevel) // Only show errors by default

	repo, err := NewBadgerRepository(tempDir, testLogger)
	require.NoError(t, err, "Failed to create test BadgerDB repository")

	cleanup := func() {
		err := repo.Close()
		assert.NoError(t, err, "Failed to close test BadgerDB repository")
	}

	return repo, cleanup
}

var baseTime = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func testLink(id, owner string, createdAt time.Time, ttl time.Duration) domain.Link {
	return domain.Link{
		ID:           id,
		PublicToken:  "pub-" + id,
		PrivateToken: "priv-" + id,
		OwnerID:      owner,
		DisplayName:  "Link " + id,
		CreatedAt:    createdAt,
		ExpiresAt:    createdAt.Add(ttl),
		Status:       domain.LinkActive,
	}
}

func testMessage(linkID, id string, at time.Time) domain.Message {
	return domain.Message{
		ID:         id,
		LinkID:     linkID,
		Ciphertext: []byte("sealed-" + id),
		CreatedAt:  at,
		Status:     domain.MessageInbox,
	}
}

// TestBadgerRepository_CreateAndResolveLinks tests saving links and reading
// them back through every index.
func TestBadgerRepository_CreateAndResolveLinks(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	link := testLink("l1", "", baseTime, 6*time.Hour)
	require.NoError(t, repo.CreateLink(ctx, link), "Failed to save link")

	byID, err := repo.GetLink(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, link.DisplayName, byID.DisplayName)
	assert.True(t, link.ExpiresAt.Equal(byID.ExpiresAt))

	byPub, err := repo.GetLinkByPublicToken(ctx, "pub-l1")
	require.NoError(t, err)
	assert.Equal(t, "l1", byPub.ID)

	byPriv, err := repo.GetLinkByPrivateToken(ctx, "priv-l1")
	require.NoError(t, err)
	assert.Equal(t, "l1", byPriv.ID)

	_, err = repo.GetLinkByPublicToken(ctx, "priv-l1")
	assert.ErrorIs(t, err, ErrNotFound, "a private token must not resolve as a public one")
	_, err = repo.GetLink(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerRepository_CreateLinkRejectsDuplicates(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.CreateLink(ctx, testLink("l1", "", baseTime, time.Hour)))

	dupToken := testLink("l2", "", baseTime, time.Hour)
	dupToken.PublicToken = "pub-l1"
	assert.ErrorIs(t, repo.CreateLink(ctx, dupToken), ErrDuplicate)

	crossToken := testLink("l3", "", baseTime, time.Hour)
	crossToken.PrivateToken = "priv-l1"
	assert.ErrorIs(t, repo.CreateLink(ctx, crossToken), ErrDuplicate)

	assert.ErrorIs(t, repo.CreateLink(ctx, testLink("l1", "", baseTime, time.Hour)), ErrDuplicate)

	_, err := repo.GetLink(ctx, "l2")
	assert.ErrorIs(t, err, ErrNotFound, "a rejected link must leave nothing behind")
}

// TestBadgerRepository_ListLinksByOwner tests owner listing and order.
func TestBadgerRepository_ListLinksByOwner(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	older := testLink("a", "user-1", baseTime.Add(-time.Hour), 24*time.Hour)
	newer := testLink("b", "user-1", baseTime, 24*time.Hour)
	other := testLink("c", "user-2", baseTime, 24*time.Hour)
	guest := testLink("d", "", baseTime, 6*time.Hour)
	for _, l := range []domain.Link{older, newer, other, guest} {
		require.NoError(t, repo.CreateLink(ctx, l))
	}

	links, err := repo.ListLinksByOwner(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "b", links[0].ID, "newest first")
	assert.Equal(t, "a", links[1].ID)

	none, err := repo.ListLinksByOwner(ctx, "nobody")
	require.NoError(t, err, "Getting links for non-existent owner should not error")
	assert.Empty(t, none)
}

// TestBadgerRepository_MessagesInInsertionOrder tests message listing.
func TestBadgerRepository_MessagesInInsertionOrder(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.CreateLink(ctx, testLink("l1", "", baseTime, time.Hour)))
	require.NoError(t, repo.CreateLink(ctx, testLink("l2", "", baseTime, time.Hour)))

	for i := 0; i < 12; i++ {
		require.NoError(t, repo.AddMessage(ctx, testMessage("l1", fmt.Sprintf("m%02d", i), baseTime)))
	}
	require.NoError(t, repo.AddMessage(ctx, testMessage("l2", "other", baseTime)))

	msgs, err := repo.ListMessages(ctx, "l1", "")
	require.NoError(t, err)
	require.Len(t, msgs, 12)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("m%02d", i), m.ID)
		assert.Equal(t, []byte("sealed-"+m.ID), m.Ciphertext)
	}

	require.NoError(t, repo.SetMessageStatus(ctx, "l1", "m03", domain.MessagePublic))
	inbox, err := repo.ListMessages(ctx, "l1", domain.MessageInbox)
	require.NoError(t, err)
	assert.Len(t, inbox, 11)

	got, err := repo.GetMessage(ctx, "l1", "m03")
	require.NoError(t, err)
	assert.Equal(t, domain.MessagePublic, got.Status)

	_, err = repo.GetMessage(ctx, "l2", "m03")
	assert.ErrorIs(t, err, ErrNotFound, "messages are scoped to their link")
}

func TestBadgerRepository_AddMessageChecksLink(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	assert.ErrorIs(t, repo.AddMessage(ctx, testMessage("ghost", "m1", baseTime)), ErrNotFound)

	require.NoError(t, repo.CreateLink(ctx, testLink("l1", "", baseTime, time.Hour)))
	late := testMessage("l1", "m1", baseTime.Add(time.Hour))
	assert.ErrorIs(t, repo.AddMessage(ctx, late), ErrLinkInactive)

	msgs, err := repo.ListMessages(ctx, "l1", "")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestBadgerRepository_CancelledContextWritesNothing(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	require.NoError(t, repo.CreateLink(context.Background(), testLink("l1", "", baseTime, time.Hour)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, repo.AddMessage(ctx, testMessage("l1", "m1", baseTime)), context.Canceled)

	msgs, err := repo.ListMessages(context.Background(), "l1", "")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

// TestBadgerRepository_DeleteMessage tests deleting messages.
func TestBadgerRepository_DeleteMessage(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.CreateLink(ctx, testLink("l1", "", baseTime, time.Hour)))
	require.NoError(t, repo.AddMessage(ctx, testMessage("l1", "keep", baseTime)))
	require.NoError(t, repo.AddMessage(ctx, testMessage("l1", "drop", baseTime)))

	require.NoError(t, repo.DeleteMessage(ctx, "l1", "drop"))
	assert.ErrorIs(t, repo.DeleteMessage(ctx, "l1", "drop"), ErrNotFound, "Deleting twice reports not found")

	msgs, err := repo.ListMessages(ctx, "l1", "")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "keep", msgs[0].ID)
}

// TestBadgerRepository_DeleteLinkCascades tests the link cascade.
func TestBadgerRepository_DeleteLinkCascades(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.CreateLink(ctx, testLink("l1", "user-1", baseTime, time.Hour)))
	require.NoError(t, repo.CreateLink(ctx, testLink("l2", "user-1", baseTime, time.Hour)))
	require.NoError(t, repo.AddMessage(ctx, testMessage("l1", "m1", baseTime)))
	require.NoError(t, repo.AddMessage(ctx, testMessage("l2", "m2", baseTime)))

	require.NoError(t, repo.DeleteLink(ctx, "l1"))
	assert.ErrorIs(t, repo.DeleteLink(ctx, "l1"), ErrNotFound)

	_, err := repo.GetLinkByPublicToken(ctx, "pub-l1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetMessage(ctx, "l1", "m1")
	assert.ErrorIs(t, err, ErrNotFound)
	msgs, err := repo.ListMessages(ctx, "l1", "")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	links, err := repo.ListLinksByOwner(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "l2", links[0].ID)

	remaining, err := repo.ListMessages(ctx, "l2", "")
	require.NoError(t, err)
	assert.Len(t, remaining, 1, "other links keep their messages")
}

func TestBadgerRepository_ExpireDueAndPurge(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.CreateLink(ctx, testLink("soon", "", baseTime, time.Hour)))
	require.NoError(t, repo.CreateLink(ctx, testLink("sooner", "", baseTime, 30*time.Minute)))
	require.NoError(t, repo.CreateLink(ctx, testLink("later", "", baseTime, 48*time.Hour)))
	require.NoError(t, repo.AddMessage(ctx, testMessage("soon", "m1", baseTime)))

	now := baseTime.Add(2 * time.Hour)
	first, err := repo.ExpireDue(ctx, now, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"sooner"}, first, "expiry order, bounded by the batch size")

	rest, err := repo.ExpireDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"soon"}, rest)

	again, err := repo.ExpireDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "expired links are not flipped twice")

	link, err := repo.GetLink(ctx, "soon")
	require.NoError(t, err)
	assert.Equal(t, domain.LinkExpired, link.Status)
	live, err := repo.GetLink(ctx, "later")
	require.NoError(t, err)
	assert.Equal(t, domain.LinkActive, live.Status)

	purged, err := repo.PurgeExpired(ctx, baseTime.Add(45*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"sooner"}, purged, "only links expired before the cutoff")

	purged, err = repo.PurgeExpired(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"soon"}, purged)
	_, err = repo.GetMessage(ctx, "soon", "m1")
	assert.ErrorIs(t, err, ErrNotFound, "purge cascades to messages")
}

func testDirect(recipient, id string, status domain.MessageStatus) domain.DirectMessage {
	return domain.DirectMessage{
		ID:          id,
		RecipientID: recipient,
		Ciphertext:  []byte("sealed-" + id),
		CreatedAt:   baseTime,
		Status:      status,
	}
}

func TestBadgerRepository_DirectMessages(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	for _, id := range []string{"d1", "d2", "d3"} {
		require.NoError(t, repo.AddDirect(ctx, testDirect("user-1", id, domain.MessageInbox)))
	}

	msgs, err := repo.ListDirect(ctx, "user-1", "")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "d1", msgs[0].ID)
	assert.Equal(t, "d3", msgs[2].ID)

	got, err := repo.GetDirect(ctx, "d2")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.RecipientID)

	require.NoError(t, repo.SetDirectStatus(ctx, "user-1", "d2", domain.MessageFavorite))
	require.NoError(t, repo.SetDirectStatus(ctx, "user-1", "d2", domain.MessageFavorite), "same status is a no-op")
	assert.ErrorIs(t, repo.SetDirectStatus(ctx, "user-2", "d2", domain.MessagePublic), ErrNotFound)
	assert.ErrorIs(t, repo.SetDirectStatus(ctx, "user-1", "missing", domain.MessagePublic), ErrNotFound)

	favorites, err := repo.ListDirect(ctx, "user-1", domain.MessageFavorite)
	require.NoError(t, err)
	require.Len(t, favorites, 1)
	assert.Equal(t, "d2", favorites[0].ID)

	require.NoError(t, repo.DeleteDirect(ctx, "d2"))
	assert.ErrorIs(t, repo.DeleteDirect(ctx, "d2"), ErrNotFound)
}

func TestBadgerRepository_DeleteDirectSection(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		status := domain.MessageInbox
		if i%2 == 1 {
			status = domain.MessagePublic
		}
		require.NoError(t, repo.AddDirect(ctx, testDirect("user-1", fmt.Sprintf("d%d", i), status)))
	}
	require.NoError(t, repo.AddDirect(ctx, testDirect("user-2", "other", domain.MessageInbox)))

	n, err := repo.DeleteDirectSection(ctx, "user-1", domain.MessageInbox)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	left, err := repo.ListDirect(ctx, "user-1", "")
	require.NoError(t, err)
	require.Len(t, left, 2)
	for _, m := range left {
		assert.Equal(t, domain.MessagePublic, m.Status)
	}
	_, err = repo.GetDirect(ctx, "d0")
	assert.ErrorIs(t, err, ErrNotFound, "the id index goes with the message")

	others, err := repo.ListDirect(ctx, "user-2", "")
	require.NoError(t, err)
	assert.Len(t, others, 1, "other recipients are untouched")

	n, err = repo.DeleteDirectSection(ctx, "user-1", domain.MessageFavorite)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// Identity ids are free text, so one id may be a prefix of another
// followed by the key separator.
func TestBadgerRepository_SeparatorInIdentityIDs(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.AddDirect(ctx, testDirect("alice:x", "secret", domain.MessageInbox)))
	require.NoError(t, repo.AddDirect(ctx, testDirect("alice", "mine", domain.MessageInbox)))

	msgs, err := repo.ListDirect(ctx, "alice", "")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "mine", msgs[0].ID)

	n, err := repo.DeleteDirectSection(ctx, "alice", domain.MessageInbox)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = repo.GetDirect(ctx, "secret")
	assert.NoError(t, err, "a section delete never crosses recipients")

	require.NoError(t, repo.CreateLink(ctx, testLink("l1", "bob:link:l2", baseTime, time.Hour)))
	require.NoError(t, repo.CreateLink(ctx, testLink("l2", "bob", baseTime, time.Hour)))
	links, err := repo.ListLinksByOwner(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "l2", links[0].ID)
}

func TestBadgerRepository_Directory(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.RegisterIdentity(ctx, domain.Identity{ID: "u1", Handle: "Ama"}))
	id, err := repo.LookupHandle(ctx, "@ama")
	require.NoError(t, err)
	assert.Equal(t, "u1", id.ID)

	assert.ErrorIs(t, repo.RegisterIdentity(ctx, domain.Identity{ID: "u2", Handle: "ama"}), ErrDuplicate)

	// Renaming releases the old handle.
	require.NoError(t, repo.RegisterIdentity(ctx, domain.Identity{ID: "u1", Handle: "kofi"}))
	_, err = repo.LookupHandle(ctx, "ama")
	assert.ErrorIs(t, err, ErrNotFound)
	id, err = repo.LookupHandle(ctx, "kofi")
	require.NoError(t, err)
	assert.Equal(t, "u1", id.ID)
}

func TestBadgerRepository_TakeIsAtomic(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	start := baseTime.Truncate(time.Minute)
	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Take(ctx, "submit:abc", start, time.Minute, 5)
			if err == nil && ok {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(5), allowed)

	ok, err := repo.Take(ctx, "submit:abc", start.Add(time.Minute), time.Minute, 5)
	require.NoError(t, err)
	assert.True(t, ok, "a new window resets the counter")
}

func TestNewBadgerRepository_InMemory(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	repo, err := NewBadgerRepository("", logger, Options{InMemory: true})
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.CreateLink(context.Background(), testLink("mem", "", baseTime, time.Hour)))
	assert.NoError(t, repo.CollectGarbage(), "GC in memory mode is a no-op")
}
