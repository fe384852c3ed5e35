package app

import (
	"context"
	"errors"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"detect-features/internal/domain/entity"
	"detect-features/internal/domain/port"
	"detect-features/internal/infrastructure/bus"
	"detect-features/internal/infrastructure/imageio"
)

// fakeDetector находит одну точку в центре кадра и закрашивает её зелёным.
type fakeDetector struct {
	name string

	// Если заданы, Detect сообщает о входе в entered и ждёт release.
	entered chan struct{}
	release chan struct{}

	mu             sync.Mutex
	closed         bool
	usedAfterClose bool
}

func (d *fakeDetector) use() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.usedAfterClose = true
	}
}

func (d *fakeDetector) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *fakeDetector) Name() string { return d.name }

func (d *fakeDetector) Detect(ctx context.Context, img *entity.Image) (*entity.Detection, error) {
	if d.entered != nil {
		d.entered <- struct{}{}
		<-d.release
	}
	d.use()
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return &entity.Detection{
		Detector:    d.name,
		ImageWidth:  int(img.Width),
		ImageHeight: int(img.Height),
		KeyPoints:   []entity.KeyPoint{{X: float64(img.Width / 2), Y: float64(img.Height / 2), Size: 3}},
	}, nil
}

func (d *fakeDetector) Annotate(ctx context.Context, img *entity.Image, keyPoints []entity.KeyPoint) (*entity.Image, error) {
	d.use()
	nrgba, err := imageio.ToNRGBA(img)
	if err != nil {
		return nil, err
	}
	for _, kp := range keyPoints {
		nrgba.Set(int(kp.X), int(kp.Y), color.NRGBA{G: 255, A: 255})
	}
	return imageio.FromImage(nrgba, entity.Header{}), nil
}

func (d *fakeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

type fakeFactory struct {
	err       error
	entered   chan struct{}
	release   chan struct{}
	detectors []*fakeDetector
}

func (f *fakeFactory) NewDetector(t entity.DetectorType) (port.KeypointDetector, error) {
	if f.err != nil {
		return nil, f.err
	}
	d := &fakeDetector{name: t.String(), entered: f.entered, release: f.release}
	f.detectors = append(f.detectors, d)
	return d, nil
}

func newObservedLogger() (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core).Sugar(), logs
}

func grayImage(seq uint32, w, h int) *entity.Image {
	data := make([]byte, w*h)
	for i := range data {
		data[i] = 100
	}
	return &entity.Image{
		Header:   entity.Header{Seq: seq, Stamp: time.Unix(1700000000, int64(seq)), FrameID: "camera"},
		Height:   uint32(h),
		Width:    uint32(w),
		Encoding: entity.EncodingMono8,
		Step:     uint32(w),
		Data:     data,
	}
}

func collect(t *testing.T, b *bus.MemoryBus, topic string) <-chan *entity.Image {
	t.Helper()
	out := make(chan *entity.Image, 10)
	_, err := b.Subscribe(topic, 10, func(ctx context.Context, img *entity.Image) {
		out <- img
	})
	require.NoError(t, err)
	return out
}

func receive(t *testing.T, ch <-chan *entity.Image) *entity.Image {
	t.Helper()
	select {
	case img := <-ch:
		return img
	case <-time.After(2 * time.Second):
		t.Fatal("annotated image was not published")
		return nil
	}
}

func TestFeatureNode_SupportedDetectors(t *testing.T) {
	names := []string{"ORB", "SIFT", "BRISK", "AKAZE", "MSER", "FAST", "Agast", "GFTT"}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			logger, logs := newObservedLogger()
			b := bus.NewMemoryBus(logger)
			defer b.Close()

			node := NewFeatureNode(NodeConfig{DetectorType: name}, b, &fakeFactory{}, logger)
			require.NoError(t, node.Start(context.Background()))
			defer node.Stop()

			require.True(t, node.Active())
			require.Equal(t, 1, b.TopicInfo(DefaultInputTopic).Subscribers)
			require.Equal(t, 1, b.TopicInfo(DefaultOutputTopic).Publishers)
			require.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
		})
	}
}

func TestFeatureNode_UnknownDetectorStaysInert(t *testing.T) {
	logger, logs := newObservedLogger()
	b := bus.NewMemoryBus(logger)
	defer b.Close()

	factory := &fakeFactory{}
	node := NewFeatureNode(NodeConfig{DetectorType: "SURF"}, b, factory, logger)
	require.NoError(t, node.Start(context.Background()))

	require.False(t, node.Active())
	require.Empty(t, b.Topics())
	require.Empty(t, factory.detectors)

	errs := logs.FilterLevelExact(zapcore.ErrorLevel)
	require.Equal(t, 1, errs.Len())
	require.Equal(t, "Unknown detector type: SURF", errs.All()[0].Message)

	// Кадры неактивному узлу ни к чему не приводят.
	node.HandleImage(context.Background(), grayImage(1, 4, 4))
	require.Equal(t, uint64(0), node.Stats().Published)
	require.NoError(t, node.Stop())
}

func TestFeatureNode_FactoryErrorStaysInert(t *testing.T) {
	logger, logs := newObservedLogger()
	b := bus.NewMemoryBus(logger)
	defer b.Close()

	node := NewFeatureNode(NodeConfig{DetectorType: "ORB"}, b, &fakeFactory{err: errors.New("no opencv")}, logger)
	require.NoError(t, node.Start(context.Background()))

	require.False(t, node.Active())
	require.Empty(t, b.Topics())
	require.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestFeatureNode_PublishesAnnotatedImage(t *testing.T) {
	logger, logs := newObservedLogger()
	b := bus.NewMemoryBus(logger)
	defer b.Close()

	node := NewFeatureNode(NodeConfig{DetectorType: "FAST"}, b, &fakeFactory{}, logger)
	require.NoError(t, node.Start(context.Background()))
	defer node.Stop()

	out := collect(t, b, DefaultOutputTopic)
	pub, err := b.Advertise(DefaultInputTopic, 10)
	require.NoError(t, err)

	in := grayImage(5, 8, 6)
	require.NoError(t, pub.Publish(context.Background(), in))

	got := receive(t, out)
	require.Equal(t, in.Header, got.Header)
	require.Equal(t, in.Width, got.Width)
	require.Equal(t, in.Height, got.Height)
	require.Equal(t, entity.EncodingBGR8, got.Encoding)

	// Маркер стоит в точке, которую вернул детектор.
	i := (3*8 + 4) * 3
	require.Equal(t, []byte{0, 255, 0}, got.Data[i:i+3])
	require.Equal(t, []byte{100, 100, 100}, got.Data[0:3])

	require.Equal(t, 1, logs.FilterMessage("Detected 1 FAST features").Len())
	require.Equal(t, entity.NodeStats{Received: 1, Published: 1}, node.Stats())
}

func TestFeatureNode_DropsMalformedImage(t *testing.T) {
	logger, logs := newObservedLogger()
	b := bus.NewMemoryBus(logger)
	defer b.Close()

	node := NewFeatureNode(NodeConfig{DetectorType: "ORB"}, b, &fakeFactory{}, logger)
	require.NoError(t, node.Start(context.Background()))
	defer node.Stop()

	out := collect(t, b, DefaultOutputTopic)
	pub, err := b.Advertise(DefaultInputTopic, 10)
	require.NoError(t, err)

	bad := grayImage(1, 8, 8)
	bad.Data = bad.Data[:10]
	require.NoError(t, pub.Publish(context.Background(), bad))
	require.NoError(t, pub.Publish(context.Background(), grayImage(2, 8, 8)))

	got := receive(t, out)
	require.Equal(t, uint32(2), got.Header.Seq)

	errs := logs.FilterLevelExact(zapcore.ErrorLevel)
	require.Equal(t, 1, errs.Len())
	require.Equal(t, "image conversion failed", errs.All()[0].Message)
	require.Equal(t, entity.NodeStats{Received: 2, Published: 1, Dropped: 1}, node.Stats())

	select {
	case extra := <-out:
		t.Fatalf("unexpected output for seq %d", extra.Header.Seq)
	default:
	}
}

func TestFeatureNode_StartTwice(t *testing.T) {
	logger, _ := newObservedLogger()
	b := bus.NewMemoryBus(logger)
	defer b.Close()

	node := NewFeatureNode(NodeConfig{}, b, &fakeFactory{}, logger)
	require.NoError(t, node.Start(context.Background()))
	require.Error(t, node.Start(context.Background()))
	require.Equal(t, "ORB", node.DetectorName())
	require.NoError(t, node.Stop())
}

func TestFeatureNode_StopReleasesResources(t *testing.T) {
	logger, _ := newObservedLogger()
	b := bus.NewMemoryBus(logger)
	defer b.Close()

	factory := &fakeFactory{}
	node := NewFeatureNode(NodeConfig{DetectorType: "GFTT", InputTopic: "/in", OutputTopic: "/out", QueueSize: 3}, b, factory, logger)
	require.NoError(t, node.Start(context.Background()))
	require.Equal(t, 1, b.TopicInfo("/in").Subscribers)

	require.NoError(t, node.Stop())
	require.False(t, node.Active())
	require.Empty(t, b.Topics())
	require.Len(t, factory.detectors, 1)
	require.True(t, factory.detectors[0].isClosed())
}

func TestFeatureNode_StopWaitsForRunningHandler(t *testing.T) {
	logger, _ := newObservedLogger()
	b := bus.NewMemoryBus(logger)
	defer b.Close()

	factory := &fakeFactory{entered: make(chan struct{}, 1), release: make(chan struct{})}
	node := NewFeatureNode(NodeConfig{DetectorType: "ORB"}, b, factory, logger)
	require.NoError(t, node.Start(context.Background()))

	pub, err := b.Advertise(DefaultInputTopic, 10)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), grayImage(1, 8, 8)))

	select {
	case <-factory.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("detector was not called")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- node.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a frame is still being processed")
	case <-time.After(100 * time.Millisecond):
	}
	detector := factory.detectors[0]
	require.False(t, detector.isClosed())

	close(factory.release)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	require.True(t, detector.isClosed())

	detector.mu.Lock()
	defer detector.mu.Unlock()
	require.False(t, detector.usedAfterClose)
}

func TestFeatureNode_InactiveAfterTransportCloses(t *testing.T) {
	logger, _ := newObservedLogger()
	b := bus.NewMemoryBus(logger)

	node := NewFeatureNode(NodeConfig{DetectorType: "ORB"}, b, &fakeFactory{}, logger)
	require.NoError(t, node.Start(context.Background()))
	require.True(t, node.Active())

	require.NoError(t, b.Close())
	require.False(t, node.Active())
	require.NoError(t, node.Stop())
}
