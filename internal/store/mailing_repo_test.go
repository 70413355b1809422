package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/bulkpost/internal/mailing"
)

func newTestMailingRepo(t *testing.T) *MailingRepository {
	t.Helper()
	_, client := setupTestRedis(t)
	return NewMailingRepository(client, DefaultKeys())
}

func TestMailingRepositoryCreate(t *testing.T) {
	repo := newTestMailingRepo(t)
	ctx := context.Background()

	m, err := repo.Create(ctx, mailing.Mailing{
		Name:    "march issue",
		Subject: "hello",
		HTML:    "<p>hi</p>",
		State:   mailing.StateRunning, // must be forced back to NEW
	}, []mailing.Receiver{
		{Email: "a@example.com"},
		{Email: "b@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.ID)
	assert.Equal(t, mailing.StateNew, m.State)
	assert.Zero(t, m.SentCount)
	assert.False(t, m.CreationDate.IsZero())

	count, err := repo.GetReceiverCount(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	second, err := repo.Create(ctx, mailing.Mailing{Name: "april issue"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.ID)
}

func TestMailingRepositoryGetByIDMissing(t *testing.T) {
	repo := newTestMailingRepo(t)

	m, err := repo.GetByID(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestMailingRepositoryGetAll(t *testing.T) {
	repo := newTestMailingRepo(t)
	ctx := context.Background()

	for _, name := range []string{"one", "two", "three"} {
		_, err := repo.Create(ctx, mailing.Mailing{Name: name}, nil)
		require.NoError(t, err)
	}

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(1), all[0].ID)
	assert.Equal(t, "one", all[0].Name)
	assert.Equal(t, int64(3), all[2].ID)
}

func TestMailingRepositoryGetByListID(t *testing.T) {
	repo := newTestMailingRepo(t)
	ctx := context.Background()

	m, err := repo.Create(ctx, mailing.Mailing{Name: "one"}, nil)
	require.NoError(t, err)
	_, err = repo.UpdateInTransaction(ctx, m.ID, func(mm *mailing.Mailing) {
		mm.ListID = "list-1_2018-3-5"
	})
	require.NoError(t, err)

	found, err := repo.GetByListID(ctx, "list-1_2018-3-5")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, m.ID, found.ID)

	missing, err := repo.GetByListID(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMailingRepositoryReceiverRanges(t *testing.T) {
	repo := newTestMailingRepo(t)
	ctx := context.Background()

	m, err := repo.Create(ctx, mailing.Mailing{Name: "m"}, []mailing.Receiver{
		{Email: "a@example.com"},
		{Email: "b@example.com"},
		{Email: "c@example.com"},
	})
	require.NoError(t, err)

	all, err := repo.GetReceivers(ctx, m.ID, 0, -1)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a@example.com", all[0].Email)

	// Inclusive bounds.
	middle, err := repo.GetReceivers(ctx, m.ID, 1, 2)
	require.NoError(t, err)
	require.Len(t, middle, 2)
	assert.Equal(t, "b@example.com", middle[0].Email)

	tail, err := repo.GetReceivers(ctx, m.ID, 2, -1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "c@example.com", tail[0].Email)

	empty, err := repo.GetReceivers(ctx, m.ID, 5, -1)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMailingRepositoryAddRemoveReceiver(t *testing.T) {
	repo := newTestMailingRepo(t)
	ctx := context.Background()

	m, err := repo.Create(ctx, mailing.Mailing{Name: "m"}, []mailing.Receiver{
		{Email: "a@example.com"},
	})
	require.NoError(t, err)

	rcv := mailing.Receiver{Email: "b@example.com", Code: "code-b"}
	require.NoError(t, repo.AddReceiver(ctx, m.ID, rcv))

	removed, err := repo.RemoveReceiver(ctx, m.ID, rcv)
	require.NoError(t, err)
	assert.True(t, removed)

	// Same email, different code: serialized forms differ, no match.
	removed, err = repo.RemoveReceiver(ctx, m.ID, mailing.Receiver{Email: "a@example.com", Code: "x"})
	require.NoError(t, err)
	assert.False(t, removed)

	count, err := repo.GetReceiverCount(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMailingRepositorySetReceivers(t *testing.T) {
	repo := newTestMailingRepo(t)
	ctx := context.Background()

	m, err := repo.Create(ctx, mailing.Mailing{Name: "m"}, []mailing.Receiver{
		{Email: "a@example.com"},
		{Email: "b@example.com"},
	})
	require.NoError(t, err)

	require.NoError(t, repo.SetReceivers(ctx, m.ID, []mailing.Receiver{
		{Email: "c@example.com"},
	}))
	got, err := repo.GetReceivers(ctx, m.ID, 0, -1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c@example.com", got[0].Email)
}

func TestMailingRepositoryUpdate(t *testing.T) {
	repo := newTestMailingRepo(t)
	ctx := context.Background()

	ok, err := repo.Update(ctx, &mailing.Mailing{ID: 42, Name: "ghost"})
	require.NoError(t, err)
	assert.False(t, ok, "updating a missing mailing must be a no-op")

	m, err := repo.Create(ctx, mailing.Mailing{Name: "m"}, nil)
	require.NoError(t, err)

	m.Name = "renamed"
	ok, err = repo.Update(ctx, m)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
}

func TestMailingRepositoryUpdateInTransaction(t *testing.T) {
	repo := newTestMailingRepo(t)
	ctx := context.Background()

	m, err := repo.Create(ctx, mailing.Mailing{Name: "m"}, nil)
	require.NoError(t, err)

	updated, err := repo.UpdateInTransaction(ctx, m.ID, func(mm *mailing.Mailing) {
		mm.SentCount++
	})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, int64(1), updated.SentCount)
	assert.Equal(t, m.ID, updated.ID)

	missing, err := repo.UpdateInTransaction(ctx, 99, func(mm *mailing.Mailing) {
		t.Fatal("mutator must not run for a missing mailing")
	})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMailingRepositoryRemove(t *testing.T) {
	repo := newTestMailingRepo(t)
	ctx := context.Background()

	m, err := repo.Create(ctx, mailing.Mailing{Name: "m"}, []mailing.Receiver{
		{Email: "a@example.com"},
	})
	require.NoError(t, err)

	removed, err := repo.Remove(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	got, err := repo.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	count, err := repo.GetReceiverCount(ctx, m.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	removed, err = repo.Remove(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, removed)
}
