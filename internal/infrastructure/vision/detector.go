//go:build gocv
// +build gocv

package vision

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"sync"

	"gocv.io/x/gocv"

	"detect-features/internal/domain/entity"
	"detect-features/internal/domain/port"
)

// ErrDetectorClosed детектор уже освобождён.
var ErrDetectorClosed = errors.New("detector is closed")

// feature2D общий интерфейс детекторов gocv.
type feature2D interface {
	Detect(src gocv.Mat) []gocv.KeyPoint
	Close() error
}

// GoCVDetector обёртка над детектором OpenCV.
type GoCVDetector struct {
	name  entity.DetectorType
	color color.RGBA

	// Экземпляры cv::Feature2D не рассчитаны на параллельные вызовы.
	mu       sync.Mutex
	detector feature2D
	closed   bool
}

// NewDetector создаёт детектор нужного вида.
func (f *Factory) NewDetector(t entity.DetectorType) (port.KeypointDetector, error) {
	d, err := newFeature2D(t, f.ORBFeatures)
	if err != nil {
		return nil, err
	}
	return &GoCVDetector{name: t, color: f.Color, detector: d}, nil
}

func newFeature2D(t entity.DetectorType, orbFeatures int) (feature2D, error) {
	switch t {
	case entity.DetectorORB:
		d := gocv.NewORBWithParams(orbFeatures, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20)
		return &d, nil
	case entity.DetectorSIFT:
		d := gocv.NewSIFT()
		return &d, nil
	case entity.DetectorBRISK:
		d := gocv.NewBRISK()
		return &d, nil
	case entity.DetectorAKAZE:
		d := gocv.NewAKAZE()
		return &d, nil
	case entity.DetectorMSER:
		d := gocv.NewMSER()
		return &d, nil
	case entity.DetectorFAST:
		d := gocv.NewFastFeatureDetector()
		return &d, nil
	case entity.DetectorAgast:
		d := gocv.NewAgastFeatureDetector()
		return &d, nil
	case entity.DetectorGFTT:
		d := gocv.NewGFTTDetector()
		return &d, nil
	case entity.DetectorBlob:
		d := gocv.NewSimpleBlobDetector()
		return &d, nil
	default:
		return nil, fmt.Errorf("%w: %q", entity.ErrUnknownDetector, t)
	}
}

// Name возвращает имя алгоритма.
func (d *GoCVDetector) Name() string {
	return d.name.String()
}

// Detect запускает детектор на изображении.
func (d *GoCVDetector) Detect(_ context.Context, img *entity.Image) (*entity.Detection, error) {
	mat, err := ImageToMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDetectorClosed
	}
	kps := d.detector.Detect(mat)
	d.mu.Unlock()

	keyPoints := make([]entity.KeyPoint, 0, len(kps))
	for _, kp := range kps {
		keyPoints = append(keyPoints, entity.KeyPoint{
			X:        kp.X,
			Y:        kp.Y,
			Size:     kp.Size,
			Angle:    kp.Angle,
			Response: kp.Response,
			Octave:   kp.Octave,
			ClassID:  kp.ClassID,
		})
	}

	return &entity.Detection{
		Detector:    d.Name(),
		ImageWidth:  mat.Cols(),
		ImageHeight: mat.Rows(),
		KeyPoints:   keyPoints,
	}, nil
}

// Annotate рисует точки с размером и ориентацией и возвращает новое изображение bgr8.
func (d *GoCVDetector) Annotate(_ context.Context, img *entity.Image, keyPoints []entity.KeyPoint) (*entity.Image, error) {
	mat, err := ImageToMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	kps := make([]gocv.KeyPoint, 0, len(keyPoints))
	for _, kp := range keyPoints {
		kps = append(kps, gocv.KeyPoint{
			X:        kp.X,
			Y:        kp.Y,
			Size:     kp.Size,
			Angle:    kp.Angle,
			Response: kp.Response,
			Octave:   kp.Octave,
			ClassID:  kp.ClassID,
		})
	}

	annotated := gocv.NewMat()
	defer annotated.Close()
	gocv.DrawKeyPoints(mat, kps, &annotated, d.color, gocv.DrawRichKeyPoints)

	return MatToImage(annotated, img.Header)
}

// Close освобождает детектор OpenCV.
func (d *GoCVDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.detector.Close()
}

// Проверка реализации интерфейса
var _ port.KeypointDetector = (*GoCVDetector)(nil)
