package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"detect-features/internal/domain/entity"
	"detect-features/internal/domain/port"
)

// DefaultDepth размер очереди подписчика по умолчанию.
const DefaultDepth = 10

// ErrClosed публикация или подписка после закрытия.
var ErrClosed = errors.New("bus is closed")

// TopicInfo описание топика для интроспекции.
type TopicInfo struct {
	Name        string `json:"name"`
	Publishers  int    `json:"publishers"`
	Subscribers int    `json:"subscribers"`
}

type memoryTopic struct {
	publishers  map[string]*memoryPublisher
	subscribers map[string]*memorySubscription
}

// MemoryBus in-process транспорт: топики, издатели и подписчики в одной памяти.
// Одно и то же сообщение передаётся всем подписчикам, обработчики не должны его менять.
type MemoryBus struct {
	mu     sync.RWMutex
	topics map[string]*memoryTopic
	closed bool
	logger *zap.SugaredLogger
}

// NewMemoryBus создаёт пустой транспорт
func NewMemoryBus(logger *zap.SugaredLogger) *MemoryBus {
	return &MemoryBus{
		topics: make(map[string]*memoryTopic),
		logger: logger,
	}
}

func (b *MemoryBus) topic(name string) *memoryTopic {
	t, ok := b.topics[name]
	if !ok {
		t = &memoryTopic{
			publishers:  make(map[string]*memoryPublisher),
			subscribers: make(map[string]*memorySubscription),
		}
		b.topics[name] = t
	}
	return t
}

// Subscribe создаёт подписку с очередью на depth сообщений.
// Обработчики одной подписки выполняются последовательно в порядке доставки.
func (b *MemoryBus) Subscribe(topic string, depth int, handler port.ImageHandler) (port.Subscription, error) {
	if topic == "" {
		return nil, errors.New("empty topic name")
	}
	if handler == nil {
		return nil, errors.New("nil handler")
	}
	if depth <= 0 {
		depth = DefaultDepth
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &memorySubscription{
		id:      uuid.NewString(),
		bus:     b,
		topic:   topic,
		depth:   depth,
		handler: handler,
		notify:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	b.topic(topic).subscribers[sub.id] = sub
	b.mu.Unlock()

	go sub.run()

	b.logger.Debugw("subscribed", "topic", topic, "depth", depth, "subscription", sub.id)
	return sub, nil
}

// Advertise регистрирует издателя в топике
func (b *MemoryBus) Advertise(topic string, depth int) (port.Publisher, error) {
	if topic == "" {
		return nil, errors.New("empty topic name")
	}

	pub := &memoryPublisher{
		id:    uuid.NewString(),
		bus:   b,
		topic: topic,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	b.topic(topic).publishers[pub.id] = pub

	b.logger.Debugw("advertised", "topic", topic, "publisher", pub.id)
	return pub, nil
}

// Topics возвращает топики с числом издателей и подписчиков, отсортированные по имени
func (b *MemoryBus) Topics() []TopicInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	infos := make([]TopicInfo, 0, len(b.topics))
	for name, t := range b.topics {
		if len(t.publishers) == 0 && len(t.subscribers) == 0 {
			continue
		}
		infos = append(infos, TopicInfo{
			Name:        name,
			Publishers:  len(t.publishers),
			Subscribers: len(t.subscribers),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return infos
}

// TopicInfo возвращает описание одного топика
func (b *MemoryBus) TopicInfo(name string) TopicInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	info := TopicInfo{Name: name}
	if t, ok := b.topics[name]; ok {
		info.Publishers = len(t.publishers)
		info.Subscribers = len(t.subscribers)
	}
	return info
}

// Close закрывает все подписки; дальнейшие вызовы возвращают ErrClosed
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	topics := b.topics
	b.topics = make(map[string]*memoryTopic)
	b.mu.Unlock()

	for _, t := range topics {
		for _, sub := range t.subscribers {
			sub.stop()
		}
		for _, pub := range t.publishers {
			pub.markClosed()
		}
	}

	return nil
}

func (b *MemoryBus) publish(topic string, img *entity.Image) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	var subs []*memorySubscription
	if t, ok := b.topics[topic]; ok {
		subs = make([]*memorySubscription, 0, len(t.subscribers))
		for _, sub := range t.subscribers {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(img)
	}

	return nil
}

func (b *MemoryBus) removeSubscription(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.topics[sub.topic]; ok {
		delete(t.subscribers, sub.id)
	}
}

func (b *MemoryBus) removePublisher(pub *memoryPublisher) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.topics[pub.topic]; ok {
		delete(t.publishers, pub.id)
	}
}

type memoryPublisher struct {
	id    string
	bus   *MemoryBus
	topic string

	mu     sync.RWMutex
	closed bool
}

func (p *memoryPublisher) Topic() string {
	return p.topic
}

func (p *memoryPublisher) Publish(ctx context.Context, img *entity.Image) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if img == nil {
		return errors.New("nil image")
	}

	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return fmt.Errorf("publish to %s: %w", p.topic, ErrClosed)
	}

	return p.bus.publish(p.topic, img)
}

func (p *memoryPublisher) Close() error {
	p.markClosed()
	p.bus.removePublisher(p)
	return nil
}

func (p *memoryPublisher) markClosed() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

type memorySubscription struct {
	id      string
	bus     *MemoryBus
	topic   string
	depth   int
	handler port.ImageHandler

	mu      sync.Mutex
	queue   []*entity.Image
	dropped uint64

	notify   chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

func (s *memorySubscription) Topic() string {
	return s.topic
}

func (s *memorySubscription) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Close отменяет подписку. Уже выполняющийся обработчик доработает до конца.
func (s *memorySubscription) Close() error {
	s.bus.removeSubscription(s)
	s.stop()
	return nil
}

func (s *memorySubscription) stop() {
	s.stopOnce.Do(s.cancel)
}

// deliver кладёт сообщение в очередь; при переполнении выбрасывается самое старое.
func (s *memorySubscription) deliver(img *entity.Image) {
	s.mu.Lock()
	if len(s.queue) >= s.depth {
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.dropped++
		s.bus.logger.Debugw("queue overflow, dropping oldest message",
			"topic", s.topic, "subscription", s.id, "dropped", s.dropped)
	}
	s.queue = append(s.queue, img)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memorySubscription) next() *entity.Image {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil
	}
	img := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return img
}

func (s *memorySubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.notify:
		}

		for img := s.next(); img != nil; img = s.next() {
			if s.ctx.Err() != nil {
				return
			}
			s.handler(s.ctx, img)
		}
	}
}

// Проверка реализации интерфейса
var _ port.ImageBus = (*MemoryBus)(nil)
