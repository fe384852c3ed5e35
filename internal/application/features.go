package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"detect-features/internal/domain/entity"
	"detect-features/internal/domain/port"
)

// Топики и размер очереди по умолчанию.
const (
	DefaultInputTopic  = "/image_raw"
	DefaultOutputTopic = "/image_annotated"
	DefaultQueueSize   = 10
)

// NodeConfig параметры узла; фиксируются при запуске.
type NodeConfig struct {
	DetectorType string
	InputTopic   string
	OutputTopic  string
	QueueSize    int
}

// FeatureNode подписывается на кадры, находит особые точки и публикует кадр с разметкой.
type FeatureNode struct {
	cfg     NodeConfig
	bus     port.ImageBus
	factory port.DetectorFactory
	logger  *zap.SugaredLogger

	mu       sync.RWMutex
	started  bool
	detector port.KeypointDetector
	sub      port.Subscription
	pub      port.Publisher

	// Обработчики, которые ещё держат детектор.
	inflight sync.WaitGroup

	received  atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewFeatureNode создаёт узел. Пустые поля конфигурации получают значения по умолчанию.
func NewFeatureNode(cfg NodeConfig, bus port.ImageBus, factory port.DetectorFactory, logger *zap.SugaredLogger) *FeatureNode {
	if cfg.DetectorType == "" {
		cfg.DetectorType = entity.DefaultDetector.String()
	}
	if cfg.InputTopic == "" {
		cfg.InputTopic = DefaultInputTopic
	}
	if cfg.OutputTopic == "" {
		cfg.OutputTopic = DefaultOutputTopic
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	return &FeatureNode{
		cfg:     cfg,
		bus:     bus,
		factory: factory,
		logger:  logger,
	}
}

// Start выбирает детектор и подключается к топикам.
// Если детектор выбрать не удалось, ошибка пишется в лог, а узел остаётся неактивным
// без подписки и издателя; Start в этом случае возвращает nil.
func (n *FeatureNode) Start(_ context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.started {
		return errors.New("node is already started")
	}
	n.started = true

	detectorType, err := entity.ParseDetectorType(n.cfg.DetectorType)
	if err != nil {
		n.logger.Errorf("Unknown detector type: %s", n.cfg.DetectorType)
		return nil
	}

	detector, err := n.factory.NewDetector(detectorType)
	if err != nil {
		n.logger.Errorw("failed to create detector", "detector", detectorType, "error", err)
		return nil
	}

	// Издателя создаём до подписки, чтобы первый же кадр было куда отправить.
	pub, err := n.bus.Advertise(n.cfg.OutputTopic, n.cfg.QueueSize)
	if err != nil {
		return multierr.Combine(fmt.Errorf("advertise %s: %w", n.cfg.OutputTopic, err), detector.Close())
	}

	// Обработчики вызываются транспортом асинхронно и ждут снятия блокировки.
	sub, err := n.bus.Subscribe(n.cfg.InputTopic, n.cfg.QueueSize, n.HandleImage)
	if err != nil {
		return multierr.Combine(fmt.Errorf("subscribe %s: %w", n.cfg.InputTopic, err), pub.Close(), detector.Close())
	}
	n.detector = detector
	n.pub = pub
	n.sub = sub

	n.logger.Infow("node started",
		"detector", detector.Name(),
		"input", n.cfg.InputTopic,
		"output", n.cfg.OutputTopic,
		"queue_size", n.cfg.QueueSize,
	)
	return nil
}

// HandleImage обрабатывает один кадр: детекция, отрисовка, публикация.
// Ошибка преобразования пишется в лог, кадр пропускается.
func (n *FeatureNode) HandleImage(ctx context.Context, img *entity.Image) {
	n.received.Inc()

	n.mu.RLock()
	detector, pub := n.detector, n.pub
	if detector != nil && pub != nil {
		n.inflight.Add(1)
	}
	n.mu.RUnlock()

	if detector == nil || pub == nil {
		n.dropped.Inc()
		return
	}
	defer n.inflight.Done()

	detection, err := detector.Detect(ctx, img)
	if errors.Is(err, entity.ErrConversion) {
		n.drop(img, "image conversion failed", err)
		return
	}
	if err != nil {
		n.drop(img, "keypoint detection failed", err)
		return
	}
	n.logger.Infof("Detected %d %s features", detection.Count(), detector.Name())

	annotated, err := detector.Annotate(ctx, img, detection.KeyPoints)
	if err != nil {
		n.drop(img, "failed to draw keypoints", err)
		return
	}
	annotated.Header = img.Header

	if err := pub.Publish(ctx, annotated); err != nil {
		n.drop(img, "failed to publish annotated image", err)
		return
	}
	n.published.Inc()
}

func (n *FeatureNode) drop(img *entity.Image, msg string, err error) {
	n.dropped.Inc()

	fields := []interface{}{"error", err}
	if img != nil {
		fields = append(fields, "frame_id", img.Header.FrameID, "seq", img.Header.Seq)
	}
	n.logger.Errorw(msg, fields...)
}

// Stop отписывается от топиков, дожидается начатых обработчиков и освобождает детектор.
func (n *FeatureNode) Stop() error {
	n.mu.Lock()
	sub, pub, detector := n.sub, n.pub, n.detector
	n.sub, n.pub, n.detector = nil, nil, nil
	n.mu.Unlock()

	var err error
	if sub != nil {
		err = multierr.Append(err, sub.Close())
	}
	n.inflight.Wait()
	if pub != nil {
		err = multierr.Append(err, pub.Close())
	}
	if detector != nil {
		err = multierr.Append(err, detector.Close())
	}
	return err
}

// Active сообщает, подключён ли узел к топикам и получает ли кадры.
func (n *FeatureNode) Active() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.sub == nil || n.pub == nil {
		return false
	}
	select {
	case <-n.sub.Done():
		return false
	default:
		return true
	}
}

// DetectorName возвращает имя детектора из конфигурации.
func (n *FeatureNode) DetectorName() string {
	return n.cfg.DetectorType
}

// Config возвращает итоговую конфигурацию узла.
func (n *FeatureNode) Config() NodeConfig {
	return n.cfg
}

// Stats возвращает счётчики сообщений.
func (n *FeatureNode) Stats() entity.NodeStats {
	return entity.NodeStats{
		Received:  n.received.Load(),
		Published: n.published.Load(),
		Dropped:   n.dropped.Load(),
	}
}
