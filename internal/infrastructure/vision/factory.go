package vision

import (
	"image/color"

	"detect-features/internal/domain/port"
)

// DefaultORBFeatures максимум точек ORB; у OpenCV по умолчанию 500, нам нужно больше.
const DefaultORBFeatures = 5000

// Factory создаёт детекторы OpenCV по имени алгоритма.
type Factory struct {
	ORBFeatures int        // максимум точек для ORB
	Color       color.RGBA // цвет маркеров
}

// NewFactory создаёт фабрику с настройками по умолчанию.
func NewFactory(orbFeatures int) *Factory {
	if orbFeatures <= 0 {
		orbFeatures = DefaultORBFeatures
	}
	return &Factory{
		ORBFeatures: orbFeatures,
		Color:       color.RGBA{G: 255, A: 255},
	}
}

// Проверка реализации интерфейса
var _ port.DetectorFactory = (*Factory)(nil)
