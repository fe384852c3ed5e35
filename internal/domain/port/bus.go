package port

import (
	"context"

	"detect-features/internal/domain/entity"
)

// ImageHandler вызывается для каждого сообщения подписки
type ImageHandler func(ctx context.Context, img *entity.Image)

// ImageBus транспорт сообщений с изображениями
type ImageBus interface {
	// Subscribe подписывается на топик; depth задаёт размер очереди подписчика
	Subscribe(topic string, depth int, handler ImageHandler) (Subscription, error)

	// Advertise регистрирует издателя в топике
	Advertise(topic string, depth int) (Publisher, error)
}

// Publisher публикует сообщения в один топик
type Publisher interface {
	Topic() string
	Publish(ctx context.Context, img *entity.Image) error
	Close() error
}

// Subscription активная подписка на топик
type Subscription interface {
	Topic() string

	// Done закрывается, когда подписка перестала получать сообщения:
	// после Close или при потере соединения с транспортом.
	Done() <-chan struct{}
	Close() error
}
