package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	app "detect-features/internal/application"
	"detect-features/internal/domain/entity"
	"detect-features/internal/domain/port"
	"detect-features/internal/infrastructure/imageio"
)

const (
	msgStart = `👋 Привет! Я показываю особые точки на фотографиях.

📸 Отправьте мне фото, и я верну его с отмеченными точками.

📋 Команды:
/watch — получать кадры с камеры
/stop — перестать получать кадры
/help — справка`

	msgHelp = `ℹ️ Как пользоваться ботом:

1️⃣ Отправьте фото
2️⃣ Бот найдёт на нём особые точки
3️⃣ Вы получите фото, где у каждой точки нарисован круг её размера и направление

📋 Команды:
/watch — получать кадры с камеры
/stop — перестать получать кадры`

	msgWatching        = "🎥 Буду присылать кадры с камеры. /stop — чтобы остановить."
	msgStopped         = "⏹ Больше не присылаю кадры с камеры."
	msgSendPhoto       = "📸 Пожалуйста, отправьте фото."
	msgUnknownCommand  = "❓ Неизвестная команда. Используйте /help для справки."
	msgProcessing      = "⏳ Обрабатываю изображение..."
	msgProcessingError = "⚠️ Не удалось обработать изображение. Попробуйте другое фото."
	msgAnnotated       = "✅ Особые точки отмечены."
)

// frameIDPrefix отмечает кадры, пришедшие из Telegram: telegram/<chat>/<message>.
const frameIDPrefix = "telegram/"

// FrameID формирует frame_id для фото из чата
func FrameID(chatID int64, messageID int) string {
	return fmt.Sprintf("%s%d/%d", frameIDPrefix, chatID, messageID)
}

// ParseFrameID возвращает чат, из которого пришёл кадр
func ParseFrameID(frameID string) (int64, bool) {
	rest, ok := strings.CutPrefix(frameID, frameIDPrefix)
	if !ok {
		return 0, false
	}
	chat, _, _ := strings.Cut(rest, "/")
	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return 0, false
	}
	return chatID, true
}

// sender отправляет сообщения в Telegram
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Config настройки бота
type Config struct {
	Token         string
	InputTopic    string
	OutputTopic   string
	QueueSize     int
	WatchInterval time.Duration // не чаще одного кадра с камеры за интервал на чат
}

// Bot публикует присланные фото в топик кадров и возвращает кадры с разметкой
type Bot struct {
	api    *tgbotapi.BotAPI
	out    sender
	client *http.Client
	cfg    Config
	chats  *app.ChatService
	bus    port.ImageBus
	logger *zap.SugaredLogger

	input port.Publisher
	seq   atomic.Uint32

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

// NewBot создаёт нового бота
func NewBot(cfg Config, chats *app.ChatService, bus port.ImageBus, logger *zap.SugaredLogger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}

	logger.Infof("Authorized on account %s", api.Self.UserName)

	b := newBot(api, cfg, chats, bus, logger)
	b.api = api
	return b, nil
}

func newBot(out sender, cfg Config, chats *app.ChatService, bus port.ImageBus, logger *zap.SugaredLogger) *Bot {
	return &Bot{
		out:      out,
		client:   &http.Client{Timeout: 30 * time.Second},
		cfg:      cfg,
		chats:    chats,
		bus:      bus,
		logger:   logger,
		limiters: make(map[int64]*rate.Limiter),
	}
}

// Run запускает основной цикл обработки сообщений
func (b *Bot) Run(ctx context.Context) error {
	if b.api == nil {
		return errors.New("telegram api is not configured")
	}

	input, err := b.bus.Advertise(b.cfg.InputTopic, b.cfg.QueueSize)
	if err != nil {
		return fmt.Errorf("advertise %s: %w", b.cfg.InputTopic, err)
	}
	defer input.Close()
	b.input = input

	sub, err := b.bus.Subscribe(b.cfg.OutputTopic, b.cfg.QueueSize, b.handleAnnotated)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.cfg.OutputTopic, err)
	}
	defer sub.Close()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

// handleMessage обрабатывает входящее сообщение
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	// Обработка команд
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	// Обработка фото
	if len(msg.Photo) > 0 {
		b.handlePhoto(ctx, msg)
		return
	}

	// Текстовое сообщение (не команда)
	b.sendMessage(msg.Chat.ID, msgSendPhoto)
}

// handleCommand обрабатывает команды бота
func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		if _, err := b.chats.Get(ctx, msg.Chat.ID); err != nil {
			b.logger.Errorw("failed to get chat", "chat", msg.Chat.ID, "error", err)
		}
		b.sendMessage(msg.Chat.ID, msgStart)

	case "help":
		b.sendMessage(msg.Chat.ID, msgHelp)

	case "watch":
		if _, err := b.chats.Watch(ctx, msg.Chat.ID); err != nil {
			b.logger.Errorw("failed to update chat", "chat", msg.Chat.ID, "error", err)
			return
		}
		b.sendMessage(msg.Chat.ID, msgWatching)

	case "stop":
		if _, err := b.chats.Unwatch(ctx, msg.Chat.ID); err != nil {
			b.logger.Errorw("failed to update chat", "chat", msg.Chat.ID, "error", err)
			return
		}
		b.sendMessage(msg.Chat.ID, msgStopped)

	default:
		b.sendMessage(msg.Chat.ID, msgUnknownCommand)
	}
}

// handlePhoto скачивает фото и публикует его в топик кадров
func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message) {
	// Получаем файл с максимальным разрешением
	photo := msg.Photo[len(msg.Photo)-1]

	imageData, err := b.downloadFile(ctx, photo.FileID)
	if err != nil {
		b.logger.Errorw("failed to download photo", "chat", msg.Chat.ID, "error", err)
		b.sendMessage(msg.Chat.ID, msgProcessingError)
		return
	}

	header := entity.Header{
		Seq:     b.seq.Inc(),
		Stamp:   msg.Time(),
		FrameID: FrameID(msg.Chat.ID, msg.MessageID),
	}
	if err := b.publishPhoto(ctx, imageData, header); err != nil {
		b.logger.Errorw("failed to publish photo", "chat", msg.Chat.ID, "error", err)
		b.sendMessage(msg.Chat.ID, msgProcessingError)
		return
	}

	b.sendMessage(msg.Chat.ID, msgProcessing)
}

func (b *Bot) publishPhoto(ctx context.Context, data []byte, header entity.Header) error {
	if b.input == nil {
		return errors.New("input topic is not advertised")
	}

	img, err := imageio.Decode(data, header)
	if err != nil {
		return err
	}
	b.logger.Debugw("received photo", "bytes", len(data), "width", img.Width, "height", img.Height, "frame_id", header.FrameID)

	return b.input.Publish(ctx, img)
}

// handleAnnotated возвращает фото с разметкой в исходный чат.
// Кадры других источников уходят подписанным чатам с ограничением частоты.
func (b *Bot) handleAnnotated(ctx context.Context, img *entity.Image) {
	if chatID, ok := ParseFrameID(img.Header.FrameID); ok {
		b.sendImage(chatID, img, msgAnnotated)
		return
	}

	watchers, err := b.chats.Watchers(ctx)
	if err != nil {
		b.logger.Errorw("failed to list watchers", "error", err)
		return
	}

	var data []byte
	for _, chat := range watchers {
		if !b.allow(chat.ID) {
			continue
		}
		if data == nil {
			if data, err = imageio.JPEG(img); err != nil {
				b.logger.Errorw("failed to encode frame", "error", err)
				return
			}
		}
		b.sendPhoto(chat.ID, data, img.Header.FrameID)
	}
}

// allow ограничивает частоту кадров для одного чата
func (b *Bot) allow(chatID int64) bool {
	if b.cfg.WatchInterval <= 0 {
		return true
	}

	b.mu.Lock()
	limiter, ok := b.limiters[chatID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(b.cfg.WatchInterval), 1)
		b.limiters[chatID] = limiter
	}
	b.mu.Unlock()

	return limiter.Allow()
}

func (b *Bot) sendImage(chatID int64, img *entity.Image, caption string) {
	data, err := imageio.JPEG(img)
	if err != nil {
		b.logger.Errorw("failed to encode image", "chat", chatID, "error", err)
		b.sendMessage(chatID, msgProcessingError)
		return
	}
	b.sendPhoto(chatID, data, caption)
}

func (b *Bot) sendPhoto(chatID int64, data []byte, caption string) {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "keypoints.jpg", Bytes: data})
	photo.Caption = caption
	if _, err := b.out.Send(photo); err != nil {
		b.logger.Errorw("failed to send photo", "chat", chatID, "error", err)
	}
}

// downloadFile скачивает файл из Telegram
func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(b.api.Token), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return data, nil
}

// sendMessage отправляет текстовое сообщение
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.out.Send(msg); err != nil {
		b.logger.Errorw("failed to send message", "chat", chatID, "error", err)
	}
}
