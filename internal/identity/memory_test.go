package identity

import (
	"context"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/fuomag9/dynamics-sync-lite/internal/errors"
	"github.com/fuomag9/dynamics-sync-lite/internal/oauth"
)

func TestMemoryStore_RecordLoginAndLink(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	email := gofakeit.Email()

	require.NoError(t, store.RecordLogin(ctx, oauth.Profile{Email: "  " + email + " ", DisplayName: "First"}))
	require.NoError(t, store.RecordLogin(ctx, oauth.Profile{Email: email, DisplayName: "Second"}))

	row, err := store.FindByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.ID)
	assert.Equal(t, "Second", row.DisplayName)
	assert.Nil(t, row.ContactID)
	require.NotNil(t, row.LastLoginAt)

	matched, err := store.LinkContact(ctx, email, "c-1")
	require.NoError(t, err)
	assert.True(t, matched)

	row, err = store.FindByEmail(ctx, email)
	require.NoError(t, err)
	require.NotNil(t, row.ContactID)
	assert.Equal(t, "c-1", *row.ContactID)
	assert.NotNil(t, row.LastSyncedAt)
}

func TestMemoryStore_LinkUnknownEmail(t *testing.T) {
	store := NewMemoryStore()

	matched, err := store.LinkContact(context.Background(), "nobody@x.com", "c-1")
	require.NoError(t, err)
	assert.False(t, matched)

	_, err = store.FindByEmail(context.Background(), "nobody@x.com")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "a@x.com", NormalizeEmail(" A@X.com "))
}

func TestProfileLinker(t *testing.T) {
	store := NewMemoryStore()
	linker := ProfileLinker{Store: store}

	assert.NoError(t, linker.LinkContact(context.Background(), "nobody@x.com", "c-1"))
}

func TestMemoryStore_LinkWithoutContactID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.RecordLogin(ctx, oauth.Profile{Email: "a@x.com"}))

	matched, err := store.LinkContact(ctx, "a@x.com", "")
	require.NoError(t, err)
	assert.True(t, matched)

	row, err := store.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Nil(t, row.ContactID)
	assert.NotNil(t, row.LastSyncedAt)
}
