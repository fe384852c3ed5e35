package container

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"detect-features/config"
	telegram "detect-features/internal/api"
	app "detect-features/internal/application"
	"detect-features/internal/domain/port"
	"detect-features/internal/infrastructure/bus"
	"detect-features/internal/infrastructure/camera"
	"detect-features/internal/infrastructure/storage"
	"detect-features/internal/infrastructure/vision"
	"detect-features/internal/server"
)

// Container собирает узел и его окружение по конфигурации.
type Container struct {
	Bus         port.ImageBus
	Local       *bus.MemoryBus // nil для удалённого транспорта
	Node        *app.FeatureNode
	ChatService *app.ChatService
	Bot         *telegram.Bot  // nil без TELEGRAM_TOKEN
	Camera      *camera.Source // nil, если камера не задана
	Server      *server.Server // nil при пустом HTTPAddr

	cameraPub port.Publisher
	logger    *zap.SugaredLogger
}

func New(cfg *config.Config, logger *zap.SugaredLogger) (*Container, error) {
	c := &Container{logger: logger}

	var hub *bus.Hub
	var topics server.TopicLister
	switch cfg.Transport {
	case config.TransportRemote:
		remote, err := bus.NewRemoteBus(cfg.HubURL, logger.Named("bus"))
		if err != nil {
			return nil, err
		}
		c.Bus = remote
	default:
		c.Local = bus.NewMemoryBus(logger.Named("bus"))
		c.Bus = c.Local
		hub = bus.NewHub(c.Local, logger.Named("hub"))
		topics = c.Local
	}

	factory := vision.NewFactory(cfg.ORBFeatures)
	c.Node = app.NewFeatureNode(app.NodeConfig{
		DetectorType: cfg.DetectorType,
		InputTopic:   cfg.InputTopic,
		OutputTopic:  cfg.OutputTopic,
		QueueSize:    cfg.QueueSize,
	}, c.Bus, factory, logger.Named("features"))

	c.ChatService = app.NewChatService(storage.NewMemoryChatRepository())

	if cfg.TelegramToken != "" {
		bot, err := telegram.NewBot(telegram.Config{
			Token:         cfg.TelegramToken,
			InputTopic:    cfg.InputTopic,
			OutputTopic:   cfg.OutputTopic,
			QueueSize:     cfg.QueueSize,
			WatchInterval: cfg.WatchInterval,
		}, c.ChatService, c.Bus, logger.Named("telegram"))
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("create telegram bot: %w", err), c.Close())
		}
		c.Bot = bot
	}

	if cfg.CameraDevice >= 0 {
		pub, err := c.Bus.Advertise(cfg.InputTopic, cfg.QueueSize)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("advertise camera topic: %w", err), c.Close())
		}
		c.cameraPub = pub
		c.Camera = camera.NewSource(cfg.CameraDevice, cfg.CameraFPS, cfg.CameraFrameID, pub, logger.Named("camera"))
	}

	if cfg.HTTPAddr != "" {
		c.Server = server.New(server.Options{
			Addr:   cfg.HTTPAddr,
			Node:   c.Node,
			Bus:    c.Bus,
			Topics: topics,
			Hub:    hub,
			Logger: logger.Named("http"),
		})
	}

	return c, nil
}

// Run запускает узел и все настроенные компоненты и ждёт отмены контекста.
// Ошибка любого компонента останавливает остальные.
func (c *Container) Run(ctx context.Context) error {
	if err := c.Node.Start(ctx); err != nil {
		return fmt.Errorf("start node: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
				cancel()
			}
		}()
	}

	if c.Server != nil {
		run("http", c.Server.Run)
	}
	if c.Bot != nil {
		run("telegram", c.Bot.Run)
	}
	if c.Camera != nil {
		run("camera", c.Camera.Run)
	}

	<-ctx.Done()
	wg.Wait()
	return errs
}

// Close останавливает узел и освобождает транспорт.
func (c *Container) Close() error {
	var err error
	if c.Node != nil {
		err = multierr.Append(err, c.Node.Stop())
	}
	if c.cameraPub != nil {
		err = multierr.Append(err, c.cameraPub.Close())
	}
	if c.Local != nil {
		err = multierr.Append(err, c.Local.Close())
	}
	return err
}
