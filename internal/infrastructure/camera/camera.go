// Package camera публикует кадры с камеры в топик с исходными изображениями.
package camera

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"detect-features/internal/domain/entity"
	"detect-features/internal/domain/port"
)

// Настройки камеры по умолчанию
const (
	DefaultFPS    = 15
	DefaultWidth  = 640
	DefaultHeight = 480
)

// ErrCameraNotOpen камера не открыта или уже закрыта.
var ErrCameraNotOpen = errors.New("camera is not open")

// Source читает кадры с устройства и публикует их.
type Source struct {
	deviceID  int
	fps       int
	frameID   string
	publisher port.Publisher
	logger    *zap.SugaredLogger

	seq uint32
	now func() time.Time
}

// NewSource создаёт источник кадров для устройства deviceID.
func NewSource(deviceID, fps int, frameID string, publisher port.Publisher, logger *zap.SugaredLogger) *Source {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Source{
		deviceID:  deviceID,
		fps:       fps,
		frameID:   frameID,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// nextHeader возвращает заголовок следующего кадра.
func (s *Source) nextHeader() entity.Header {
	s.seq++
	return entity.Header{
		Seq:     s.seq,
		Stamp:   s.now(),
		FrameID: s.frameID,
	}
}

func (s *Source) interval() time.Duration {
	return time.Second / time.Duration(s.fps)
}
