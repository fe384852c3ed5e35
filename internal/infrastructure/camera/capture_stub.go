//go:build !gocv
// +build !gocv

package camera

import (
	"context"
	"errors"
)

// Run возвращает ошибку, если сборка без тега gocv.
func (s *Source) Run(context.Context) error {
	return errors.New("gocv build tag is not enabled")
}
