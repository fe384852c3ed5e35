package app

import (
	"context"

	"detect-features/internal/domain/entity"
	"detect-features/internal/domain/port"
)

type ChatService struct {
	repo port.ChatRepository
}

func NewChatService(repo port.ChatRepository) *ChatService {
	return &ChatService{repo: repo}
}

func (s *ChatService) Get(ctx context.Context, chatID int64) (*entity.Chat, error) {
	return s.repo.Get(ctx, chatID)
}

func (s *ChatService) SetState(ctx context.Context, chatID int64, state entity.ChatState) (*entity.Chat, error) {
	chat, err := s.repo.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}

	chat.SetState(state)
	if err := s.repo.Save(ctx, chat); err != nil {
		return nil, err
	}

	return chat, nil
}

// Watch подписывает чат на кадры с разметкой от других источников.
func (s *ChatService) Watch(ctx context.Context, chatID int64) (*entity.Chat, error) {
	return s.SetState(ctx, chatID, entity.ChatWatching)
}

func (s *ChatService) Unwatch(ctx context.Context, chatID int64) (*entity.Chat, error) {
	return s.SetState(ctx, chatID, entity.ChatIdle)
}

// Watchers возвращает чаты, подписанные на поток.
func (s *ChatService) Watchers(ctx context.Context) ([]*entity.Chat, error) {
	chats, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	watching := chats[:0]
	for _, chat := range chats {
		if chat.Watching() {
			watching = append(watching, chat)
		}
	}
	return watching, nil
}
