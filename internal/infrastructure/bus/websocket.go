package bus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"detect-features/internal/domain/entity"
	"detect-features/internal/domain/port"
	"detect-features/internal/infrastructure/wire"
)

// Пути WebSocket-эндпоинтов хаба.
const (
	PublishPath   = "/ws/publish"
	SubscribePath = "/ws/subscribe"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Разрешаем подключения с любых origin
	},
}

// Hub открывает топики MemoryBus по WebSocket: кадры идут бинарными сообщениями в формате wire.
type Hub struct {
	bus    *MemoryBus
	logger *zap.SugaredLogger
}

// NewHub создаёт хаб поверх локального транспорта
func NewHub(bus *MemoryBus, logger *zap.SugaredLogger) *Hub {
	return &Hub{bus: bus, logger: logger}
}

// Register добавляет эндпоинты хаба в роутер
func (h *Hub) Register(r *mux.Router) {
	r.HandleFunc(PublishPath, h.ServePublish).Methods(http.MethodGet)
	r.HandleFunc(SubscribePath, h.ServeSubscribe).Methods(http.MethodGet)
}

func topicParams(r *http.Request) (string, int, error) {
	q := r.URL.Query()
	topic := q.Get("topic")
	if topic == "" {
		return "", 0, errors.New("topic is required")
	}

	depth := DefaultDepth
	if raw := q.Get("depth"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return "", 0, fmt.Errorf("invalid depth %q", raw)
		}
		depth = v
	}

	return topic, depth, nil
}

// ServePublish принимает кадры от клиента и публикует их в топик
func (h *Hub) ServePublish(w http.ResponseWriter, r *http.Request) {
	topic, depth, err := topicParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade error", "error", err)
		return
	}
	defer conn.Close()

	pub, err := h.bus.Advertise(topic, depth)
	if err != nil {
		h.logger.Errorw("advertise failed", "topic", topic, "error", err)
		return
	}
	defer pub.Close()

	connID := uuid.NewString()
	h.logger.Infow("remote publisher connected", "topic", topic, "conn", connID, "remote", r.RemoteAddr)
	defer h.logger.Infow("remote publisher disconnected", "topic", topic, "conn", connID)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		img, err := wire.Unmarshal(data)
		if err != nil {
			h.logger.Warnw("malformed frame", "topic", topic, "conn", connID, "error", err)
			continue
		}
		if err := pub.Publish(r.Context(), img); err != nil {
			h.logger.Warnw("publish failed", "topic", topic, "conn", connID, "error", err)
			return
		}
	}
}

// ServeSubscribe отправляет клиенту все кадры топика
func (h *Hub) ServeSubscribe(w http.ResponseWriter, r *http.Request) {
	topic, depth, err := topicParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade error", "error", err)
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	broken := make(chan struct{})
	var once sync.Once

	// Пишет в соединение только горутина подписки.
	sub, err := h.bus.Subscribe(topic, depth, func(ctx context.Context, img *entity.Image) {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, wire.Marshal(img)); err != nil {
			once.Do(func() { close(broken) })
		}
	})
	if err != nil {
		h.logger.Errorw("subscribe failed", "topic", topic, "error", err)
		return
	}
	defer sub.Close()

	h.logger.Infow("remote subscriber connected", "topic", topic, "conn", connID, "remote", r.RemoteAddr)
	defer h.logger.Infow("remote subscriber disconnected", "topic", topic, "conn", connID)

	// Читаем, чтобы обрабатывать close и ping от клиента.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-closed:
	case <-broken:
	case <-sub.Done():
	case <-r.Context().Done():
	}
}

// RemoteBus транспорт, подключённый к Hub другого процесса.
type RemoteBus struct {
	baseURL *url.URL
	dialer  *websocket.Dialer
	logger  *zap.SugaredLogger
}

// NewRemoteBus создаёт клиента хаба; hubURL вида ws://host:port
func NewRemoteBus(hubURL string, logger *zap.SugaredLogger) (*RemoteBus, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return nil, fmt.Errorf("parse hub url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported hub url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	return &RemoteBus{
		baseURL: u,
		dialer:  websocket.DefaultDialer,
		logger:  logger,
	}, nil
}

func (b *RemoteBus) endpoint(path, topic string, depth int) string {
	u := *b.baseURL
	u.Path += path
	q := url.Values{}
	q.Set("topic", topic)
	if depth > 0 {
		q.Set("depth", strconv.Itoa(depth))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Subscribe подключается к хабу и вызывает handler для каждого кадра по порядку
func (b *RemoteBus) Subscribe(topic string, depth int, handler port.ImageHandler) (port.Subscription, error) {
	if handler == nil {
		return nil, errors.New("nil handler")
	}

	conn, _, err := b.dialer.Dial(b.endpoint(SubscribePath, topic, depth), nil)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &remoteSubscription{topic: topic, conn: conn, ctx: ctx, cancel: cancel}

	go func() {
		defer cancel()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					b.logger.Errorw("lost connection to hub, subscription stopped", "topic", topic, "error", err)
				}
				return
			}
			if msgType != websocket.BinaryMessage {
				continue
			}

			img, err := wire.Unmarshal(data)
			if err != nil {
				b.logger.Warnw("malformed frame", "topic", topic, "error", err)
				continue
			}
			handler(ctx, img)
		}
	}()

	return sub, nil
}

// Advertise открывает соединение для публикации в топик
func (b *RemoteBus) Advertise(topic string, depth int) (port.Publisher, error) {
	conn, _, err := b.dialer.Dial(b.endpoint(PublishPath, topic, depth), nil)
	if err != nil {
		return nil, fmt.Errorf("advertise %s: %w", topic, err)
	}

	pub := &remotePublisher{topic: topic, conn: conn}

	// Читаем управляющие сообщения, иначе close от сервера не будет обработан.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	return pub, nil
}

type remoteSubscription struct {
	topic  string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (s *remoteSubscription) Topic() string {
	return s.topic
}

func (s *remoteSubscription) Done() <-chan struct{} {
	return s.ctx.Done()
}

func (s *remoteSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.conn.Close()
	})
	return err
}

type remotePublisher struct {
	topic  string
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (p *remotePublisher) Topic() string {
	return p.topic
}

func (p *remotePublisher) Publish(ctx context.Context, img *entity.Image) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if img == nil {
		return errors.New("nil image")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("publish to %s: %w", p.topic, ErrClosed)
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	p.conn.SetWriteDeadline(deadline)

	if err := p.conn.WriteMessage(websocket.BinaryMessage, wire.Marshal(img)); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}

func (p *remotePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return p.conn.Close()
}

// Проверка реализации интерфейса
var _ port.ImageBus = (*RemoteBus)(nil)
