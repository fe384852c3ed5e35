//go:build gocv
// +build gocv

package camera

import (
	"context"
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"detect-features/internal/infrastructure/vision"
)

// Run открывает устройство и публикует кадры, пока не отменён ctx.
func (s *Source) Run(ctx context.Context) error {
	capture, err := gocv.OpenVideoCapture(s.deviceID)
	if err != nil {
		return fmt.Errorf("open camera %d: %w", s.deviceID, err)
	}
	defer capture.Close()

	capture.Set(gocv.VideoCaptureFrameWidth, DefaultWidth)
	capture.Set(gocv.VideoCaptureFrameHeight, DefaultHeight)
	capture.Set(gocv.VideoCaptureFPS, float64(s.fps))

	s.logger.Infow("camera opened", "device", s.deviceID, "fps", s.fps, "topic", s.publisher.Topic())

	frame := gocv.NewMat()
	defer frame.Close()

	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if ok := capture.Read(&frame); !ok {
			return fmt.Errorf("read frame: %w", ErrCameraNotOpen)
		}
		if frame.Empty() {
			s.logger.Debugw("captured frame is empty", "device", s.deviceID)
			continue
		}

		img, err := vision.MatToImage(frame, s.nextHeader())
		if err != nil {
			s.logger.Warnw("failed to convert frame", "error", err)
			continue
		}
		if err := s.publisher.Publish(ctx, img); err != nil {
			s.logger.Warnw("failed to publish frame", "error", err)
		}
	}
}
