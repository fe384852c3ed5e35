package entity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewChat_DefaultState(t *testing.T) {
	c := NewChat(10)
	require.Equal(t, ChatIdle, c.State)
	require.Equal(t, int64(10), c.ID)
	require.False(t, c.Watching())

	c.SetState(ChatWatching)
	require.True(t, c.Watching())
}
