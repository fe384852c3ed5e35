package port

import (
	"context"

	"detect-features/internal/domain/entity"
)

// KeypointDetector интерфейс детектора особых точек
type KeypointDetector interface {
	// Name возвращает имя алгоритма
	Name() string

	// Detect находит особые точки на изображении
	Detect(ctx context.Context, img *entity.Image) (*entity.Detection, error)

	// Annotate рисует точки на копии изображения и возвращает её в bgr8
	Annotate(ctx context.Context, img *entity.Image, keyPoints []entity.KeyPoint) (*entity.Image, error)

	// Close освобождает ресурсы библиотеки
	Close() error
}

// DetectorFactory создаёт детектор по его виду
type DetectorFactory interface {
	NewDetector(t entity.DetectorType) (KeypointDetector, error)
}
