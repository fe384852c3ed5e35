package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"detect-features/internal/domain/entity"
	"detect-features/internal/domain/port"
	"detect-features/internal/infrastructure/bus"
	"detect-features/internal/infrastructure/imageio"
)

const (
	HealthPath = "/api/health"
	TopicsPath = "/api/topics"
	StreamPath = "/api/stream"

	streamBoundary = "frame"
)

// NodeStatus состояние узла для /api/health
type NodeStatus interface {
	DetectorName() string
	Active() bool
	Stats() entity.NodeStats
}

// TopicLister перечисляет топики локального транспорта
type TopicLister interface {
	Topics() []bus.TopicInfo
}

type Options struct {
	Addr   string
	Node   NodeStatus
	Bus    port.ImageBus
	Topics TopicLister // nil, если транспорт удалённый
	Hub    *bus.Hub    // nil, если транспорт удалённый
	Logger *zap.SugaredLogger
}

// Server HTTP-интерфейс узла: состояние, топики, MJPEG-поток и WebSocket-хаб.
type Server struct {
	opts    Options
	router  *mux.Router
	http    *http.Server
	started time.Time
}

type healthResponse struct {
	Status   string           `json:"status"`
	Uptime   string           `json:"uptime"`
	Detector string           `json:"detector"`
	Active   bool             `json:"active"`
	Stats    entity.NodeStats `json:"stats"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func New(opts Options) *Server {
	s := &Server{
		opts:    opts,
		router:  mux.NewRouter(),
		started: time.Now(),
	}

	s.router.HandleFunc(HealthPath, s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc(TopicsPath, s.handleTopics).Methods(http.MethodGet)
	s.router.HandleFunc(StreamPath, s.handleStream).Methods(http.MethodGet)
	if opts.Hub != nil {
		opts.Hub.Register(s.router)
	}

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler возвращает роутер (для тестов и встраивания)
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run слушает адрес до отмены контекста, затем останавливает сервер.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Infof("HTTP server listening on %s", s.opts.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Truncate(time.Second).String(),
	}
	if s.opts.Node != nil {
		resp.Detector = s.opts.Node.DetectorName()
		resp.Active = s.opts.Node.Active()
		resp.Stats = s.opts.Node.Stats()
		if !resp.Active {
			resp.Status = "inactive"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTopics(w http.ResponseWriter, _ *http.Request) {
	topics := []bus.TopicInfo{}
	if s.opts.Topics != nil {
		topics = append(topics, s.opts.Topics.Topics()...)
	}
	writeJSON(w, http.StatusOK, topics)
}

// handleStream отдаёт кадры топика как MJPEG. Медленный клиент получает только последний кадр.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: "topic is required"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Code: "stream_error", Message: "streaming is not supported"})
		return
	}

	frames := make(chan *entity.Image, 1)
	sub, err := s.opts.Bus.Subscribe(topic, 1, func(_ context.Context, img *entity.Image) {
		select {
		case frames <- img:
		default:
		}
	})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Code: "subscribe_error", Message: err.Error()})
		return
	}
	defer sub.Close()

	s.opts.Logger.Debugw("stream client connected", "topic", topic, "remote", r.RemoteAddr)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+streamBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.opts.Logger.Debugw("stream client disconnected", "topic", topic, "remote", r.RemoteAddr)
			return
		case img := <-frames:
			data, err := imageio.JPEG(img)
			if err != nil {
				s.opts.Logger.Warnw("failed to encode stream frame", "topic", topic, "error", err)
				continue
			}

			fmt.Fprintf(w, "--%s\r\n", streamBoundary)
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data))
			if _, err := w.Write(data); err != nil {
				return
			}
			fmt.Fprintf(w, "\r\n")
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
