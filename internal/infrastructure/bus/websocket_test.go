package bus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"detect-features/internal/domain/entity"
)

func newTestHub(t *testing.T) (*MemoryBus, *httptest.Server) {
	t.Helper()
	logger := zap.NewNop().Sugar()
	local := NewMemoryBus(logger)

	r := mux.NewRouter()
	NewHub(local, logger).Register(r)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		srv.Close()
		local.Close()
	})
	return local, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRemoteBus_PublishThroughHub(t *testing.T) {
	local, srv := newTestHub(t)

	received := make(chan *entity.Image, 1)
	_, err := local.Subscribe("/image_raw", 10, func(ctx context.Context, img *entity.Image) {
		received <- img
	})
	require.NoError(t, err)

	remote, err := NewRemoteBus(wsURL(srv), zap.NewNop().Sugar())
	require.NoError(t, err)

	pub, err := remote.Advertise("/image_raw", 10)
	require.NoError(t, err)
	defer pub.Close()

	require.Eventually(t, func() bool {
		return local.TopicInfo("/image_raw").Publishers == 1
	}, 2*time.Second, 10*time.Millisecond)

	sent := entity.NewBGR8(entity.Header{Seq: 9, Stamp: time.Unix(100, 0), FrameID: "remote"}, 1, 1, []byte{1, 2, 3})
	require.NoError(t, pub.Publish(context.Background(), sent))

	select {
	case got := <-received:
		require.Equal(t, sent.Header.Seq, got.Header.Seq)
		require.Equal(t, sent.Header.FrameID, got.Header.FrameID)
		require.Equal(t, sent.Data, got.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("frame did not reach the hub")
	}
}

func TestRemoteBus_SubscribeThroughHub(t *testing.T) {
	local, srv := newTestHub(t)

	remote, err := NewRemoteBus(srv.URL, zap.NewNop().Sugar())
	require.NoError(t, err)

	received := make(chan *entity.Image, 1)
	sub, err := remote.Subscribe("/image_annotated", 10, func(ctx context.Context, img *entity.Image) {
		received <- img
	})
	require.NoError(t, err)
	require.Equal(t, "/image_annotated", sub.Topic())

	require.Eventually(t, func() bool {
		return local.TopicInfo("/image_annotated").Subscribers == 1
	}, 2*time.Second, 10*time.Millisecond)

	pub, err := local.Advertise("/image_annotated", 10)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), entity.NewBGR8(entity.Header{Seq: 3}, 1, 1, []byte{4, 5, 6})))

	select {
	case got := <-received:
		require.Equal(t, uint32(3), got.Header.Seq)
		require.Equal(t, []byte{4, 5, 6}, got.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("frame did not reach the remote subscriber")
	}

	require.NoError(t, sub.Close())
	require.Eventually(t, func() bool {
		return local.TopicInfo("/image_annotated").Subscribers == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRemoteBus_SubscriptionDoneWhenHubGoesAway(t *testing.T) {
	local, srv := newTestHub(t)

	remote, err := NewRemoteBus(srv.URL, zap.NewNop().Sugar())
	require.NoError(t, err)

	sub, err := remote.Subscribe("/image_annotated", 10, func(context.Context, *entity.Image) {})
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool {
		return local.TopicInfo("/image_annotated").Subscribers == 1
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case <-sub.Done():
		t.Fatal("subscription is done while the hub is up")
	default:
	}

	require.NoError(t, local.Close())

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not notice the closed connection")
	}
}

func TestHub_RequiresTopic(t *testing.T) {
	_, srv := newTestHub(t)

	resp, err := http.Get(srv.URL + SubscribePath)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNewRemoteBus_Schemes(t *testing.T) {
	logger := zap.NewNop().Sugar()

	b, err := NewRemoteBus("https://hub.local:8443/", logger)
	require.NoError(t, err)
	require.Equal(t, "wss://hub.local:8443/ws/subscribe?depth=10&topic=%2Fimage_raw", b.endpoint(SubscribePath, "/image_raw", 10))

	_, err = NewRemoteBus("ftp://hub.local", logger)
	require.Error(t, err)
}
