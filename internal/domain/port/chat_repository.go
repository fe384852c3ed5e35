package port

import (
	"context"

	"detect-features/internal/domain/entity"
)

// ChatRepository интерфейс хранилища чатов
type ChatRepository interface {
	// Get возвращает чат по ID, создаёт новый если не найден
	Get(ctx context.Context, chatID int64) (*entity.Chat, error)

	// Save сохраняет состояние чата
	Save(ctx context.Context, chat *entity.Chat) error

	// List возвращает все известные чаты
	List(ctx context.Context) ([]*entity.Chat, error)
}
