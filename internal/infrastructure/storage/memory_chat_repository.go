package storage

import (
	"context"
	"sort"
	"sync"

	"detect-features/internal/domain/entity"
	"detect-features/internal/domain/port"
)

// MemoryChatRepository in-memory хранилище чатов
type MemoryChatRepository struct {
	mu    sync.RWMutex
	chats map[int64]*entity.Chat
}

// NewMemoryChatRepository создаёт новое in-memory хранилище
func NewMemoryChatRepository() *MemoryChatRepository {
	return &MemoryChatRepository{
		chats: make(map[int64]*entity.Chat),
	}
}

// Get возвращает копию чата по ID, создаёт новый если не найден
func (r *MemoryChatRepository) Get(ctx context.Context, chatID int64) (*entity.Chat, error) {
	r.mu.RLock()
	chat, exists := r.chats[chatID]
	r.mu.RUnlock()

	if exists {
		c := *chat
		return &c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Чат мог появиться, пока мы ждали блокировку.
	if chat, exists := r.chats[chatID]; exists {
		c := *chat
		return &c, nil
	}

	newChat := entity.NewChat(chatID)
	r.chats[chatID] = newChat

	c := *newChat
	return &c, nil
}

// Save сохраняет состояние чата
func (r *MemoryChatRepository) Save(ctx context.Context, chat *entity.Chat) error {
	c := *chat

	r.mu.Lock()
	r.chats[chat.ID] = &c
	r.mu.Unlock()

	return nil
}

// List возвращает копии всех чатов, отсортированные по ID
func (r *MemoryChatRepository) List(ctx context.Context) ([]*entity.Chat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chats := make([]*entity.Chat, 0, len(r.chats))
	for _, chat := range r.chats {
		c := *chat
		chats = append(chats, &c)
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].ID < chats[j].ID })

	return chats, nil
}

// Проверка реализации интерфейса
var _ port.ChatRepository = (*MemoryChatRepository)(nil)
