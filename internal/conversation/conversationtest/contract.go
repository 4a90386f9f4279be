// Package conversationtest holds the behaviour every conversation.Store
// backend must share.
package conversationtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/conversation"
	"chatrelay/internal/core"
)

// RunStoreContract exercises create, read, ordering, update and delete
// against store. The store must be empty.
func RunStoreContract(t *testing.T, store conversation.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older := &conversation.Session{
		ID:         "conv-older",
		Title:      conversation.DefaultTitle,
		TitleState: conversation.TitleDefault,
		Messages:   []core.Message{},
		CreatedAt:  base,
		UpdatedAt:  base,
	}
	newer := &conversation.Session{
		ID:         "conv-newer",
		Title:      "Renamed",
		TitleState: conversation.TitleRenamed,
		Messages: []core.Message{
			{ID: "m1", Role: core.RoleUser, Content: "你好", CreatedAt: base.Add(time.Minute)},
			{ID: "m2", Role: core.RoleAssistant, Content: "partial", Error: "upstream went away", CreatedAt: base.Add(time.Minute)},
		},
		CreatedAt: base.Add(time.Hour),
		UpdatedAt: base.Add(time.Hour),
	}

	require.NoError(t, store.Create(ctx, older))
	require.NoError(t, store.Create(ctx, newer))

	got, err := store.Get(ctx, newer.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, conversation.TitleRenamed, got.TitleState)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "你好", got.Messages[0].Content)
	assert.Equal(t, "upstream went away", got.Messages[1].Error)
	assert.True(t, newer.CreatedAt.Equal(got.CreatedAt))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)

	older.Messages = append(older.Messages, core.Message{ID: "m3", Role: core.RoleUser, Content: "hello"})
	older.UpdatedAt = base.Add(2 * time.Hour)
	require.NoError(t, store.Update(ctx, older))
	got, err = store.Get(ctx, older.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Content)

	missing := &conversation.Session{ID: "conv-missing", CreatedAt: base, UpdatedAt: base}
	assert.ErrorIs(t, store.Update(ctx, missing), conversation.ErrNotFound)

	require.NoError(t, store.Delete(ctx, newer.ID))
	_, err = store.Get(ctx, newer.ID)
	assert.ErrorIs(t, err, conversation.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, newer.ID), conversation.ErrNotFound)

	list, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, older.ID, list[0].ID)
}
