package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"detect-features/internal/domain/entity"
)

func TestMemoryChatRepository_GetCreates(t *testing.T) {
	repo := NewMemoryChatRepository()
	ctx := context.Background()

	chat, err := repo.Get(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, int64(42), chat.ID)
	require.Equal(t, entity.ChatIdle, chat.State)

	chats, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 1)
}

func TestMemoryChatRepository_SaveAndList(t *testing.T) {
	repo := NewMemoryChatRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &entity.Chat{ID: 2, State: entity.ChatWatching}))
	require.NoError(t, repo.Save(ctx, &entity.Chat{ID: 1, State: entity.ChatIdle}))

	chats, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	require.Equal(t, int64(1), chats[0].ID)
	require.Equal(t, entity.ChatWatching, chats[1].State)
}

func TestMemoryChatRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryChatRepository()
	ctx := context.Background()

	chat, err := repo.Get(ctx, 5)
	require.NoError(t, err)
	chat.SetState(entity.ChatWatching)

	stored, err := repo.Get(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, entity.ChatIdle, stored.State)
}
