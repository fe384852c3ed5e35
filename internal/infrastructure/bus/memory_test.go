package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"detect-features/internal/domain/entity"
)

func testImage(seq uint32) *entity.Image {
	return entity.NewBGR8(entity.Header{Seq: seq, FrameID: "test"}, 1, 1, []byte{1, 2, 3})
}

func TestMemoryBus_DeliversInOrder(t *testing.T) {
	b := NewMemoryBus(zap.NewNop().Sugar())
	defer b.Close()

	received := make(chan uint32, 10)
	_, err := b.Subscribe("/image_raw", 10, func(ctx context.Context, img *entity.Image) {
		received <- img.Header.Seq
	})
	require.NoError(t, err)

	pub, err := b.Advertise("/image_raw", 10)
	require.NoError(t, err)

	ctx := context.Background()
	for i := uint32(1); i <= 3; i++ {
		require.NoError(t, pub.Publish(ctx, testImage(i)))
	}

	for want := uint32(1); want <= 3; want++ {
		select {
		case got := <-received:
			require.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("message %d was not delivered", want)
		}
	}
}

func TestMemoryBus_FanOut(t *testing.T) {
	b := NewMemoryBus(zap.NewNop().Sugar())
	defer b.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		_, err := b.Subscribe("/topic", 1, func(ctx context.Context, img *entity.Image) {
			wg.Done()
		})
		require.NoError(t, err)
	}

	pub, err := b.Advertise("/topic", 1)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), testImage(1)))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not every subscriber received the message")
	}
}

func TestMemoryBus_KeepLastDropsOldest(t *testing.T) {
	b := NewMemoryBus(zap.NewNop().Sugar())
	defer b.Close()

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	received := make(chan uint32, 10)
	_, err := b.Subscribe("/topic", 2, func(ctx context.Context, img *entity.Image) {
		if img.Header.Seq == 1 {
			started <- struct{}{}
			<-block
		}
		received <- img.Header.Seq
	})
	require.NoError(t, err)

	pub, err := b.Advertise("/topic", 2)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, testImage(1)))
	<-started

	// Обработчик занят первым сообщением, в очередь помещаются только два последних.
	for i := uint32(2); i <= 5; i++ {
		require.NoError(t, pub.Publish(ctx, testImage(i)))
	}
	close(block)

	var got []uint32
	timeout := time.After(time.Second)
	for len(got) < 3 {
		select {
		case seq := <-received:
			got = append(got, seq)
		case <-timeout:
			t.Fatalf("got only %v", got)
		}
	}
	require.Equal(t, []uint32{1, 4, 5}, got)
}

func TestMemoryBus_TopicsAndClose(t *testing.T) {
	b := NewMemoryBus(zap.NewNop().Sugar())

	sub, err := b.Subscribe("/image_raw", 10, func(context.Context, *entity.Image) {})
	require.NoError(t, err)
	pub, err := b.Advertise("/image_annotated", 10)
	require.NoError(t, err)

	require.Equal(t, []TopicInfo{
		{Name: "/image_annotated", Publishers: 1},
		{Name: "/image_raw", Subscribers: 1},
	}, b.Topics())

	require.NoError(t, sub.Close())
	require.Equal(t, TopicInfo{Name: "/image_raw"}, b.TopicInfo("/image_raw"))

	require.NoError(t, b.Close())
	require.ErrorIs(t, pub.Publish(context.Background(), testImage(1)), ErrClosed)

	_, err = b.Subscribe("/image_raw", 10, func(context.Context, *entity.Image) {})
	require.ErrorIs(t, err, ErrClosed)
}

func TestMemoryBus_RejectsInvalidArguments(t *testing.T) {
	b := NewMemoryBus(zap.NewNop().Sugar())
	defer b.Close()

	_, err := b.Subscribe("", 10, func(context.Context, *entity.Image) {})
	require.Error(t, err)

	_, err = b.Subscribe("/topic", 10, nil)
	require.Error(t, err)

	_, err = b.Advertise("", 10)
	require.Error(t, err)

	pub, err := b.Advertise("/topic", 10)
	require.NoError(t, err)
	require.Error(t, pub.Publish(context.Background(), nil))
}

func TestMemoryBus_SubscriptionDone(t *testing.T) {
	b := NewMemoryBus(zap.NewNop().Sugar())

	first, err := b.Subscribe("/a", 1, func(context.Context, *entity.Image) {})
	require.NoError(t, err)
	second, err := b.Subscribe("/b", 1, func(context.Context, *entity.Image) {})
	require.NoError(t, err)

	require.NoError(t, first.Close())
	select {
	case <-first.Done():
	default:
		t.Fatal("closed subscription is not done")
	}

	select {
	case <-second.Done():
		t.Fatal("open subscription is done")
	default:
	}

	require.NoError(t, b.Close())
	select {
	case <-second.Done():
	default:
		t.Fatal("subscription is not done after the bus is closed")
	}
}
