//go:build !gocv
// +build !gocv

package vision

import (
	"errors"

	"detect-features/internal/domain/entity"
	"detect-features/internal/domain/port"
)

// ErrNoOpenCV сборка без тега gocv.
var ErrNoOpenCV = errors.New("gocv build tag is not enabled")

// NewDetector возвращает ошибку, если сборка без тега gocv.
func (f *Factory) NewDetector(entity.DetectorType) (port.KeypointDetector, error) {
	return nil, ErrNoOpenCV
}
